// Command blast-gcp submits FASTA queries to a BLAST-GCP gateway and prints
// the tabular results.
package main

import (
	"os"

	"github.com/blastgcp/blastq/internal/cli"
)

func main() {
	app := cli.BlastGCP
	app.Stdin = os.Stdin
	app.Main()
}
