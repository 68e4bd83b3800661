// Command web-blast submits FASTA queries to NCBI web BLAST, or to a BLAST
// AMI with -ami, and prints the tabular results.
package main

import (
	"os"

	"github.com/blastgcp/blastq/internal/cli"
)

func main() {
	app := cli.WebBlast
	app.Stdin = os.Stdin
	app.Main()
}
