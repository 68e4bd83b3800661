package docker

import (
	"fmt"
	"strings"

	"github.com/blastgcp/blastq/internal/domain"
	"github.com/blastgcp/blastq/internal/fasta"
	"github.com/blastgcp/blastq/internal/tabular"
)

// containerDBDir is where the BLAST databases are mounted inside the container.
const containerDBDir = "/blast/blastdb"

var programs = map[string]bool{
	"blastn": true, "blastp": true, "blastx": true, "tblastn": true, "tblastx": true,
}

// searchScript feeds the query on stdin. All user input travels in the
// environment, never in the script text.
const searchScript = `printf '%s' "$BLAST_QUERY" | "$BLAST_PROGRAM" -db "$BLAST_DB" -outfmt "$BLAST_OUTFMT"`

// buildCommand returns the container command and environment for job.
func buildCommand(job domain.SearchJob) (cmd []string, env []string, err error) {
	program := job.Program
	if program == "" {
		program = "blastn"
	}
	if !programs[program] {
		return nil, nil, fmt.Errorf("unsupported program %q", job.Program)
	}
	if strings.ContainsAny(job.Database, "/ \t\n") || job.Database == "" {
		return nil, nil, fmt.Errorf("invalid database name %q", job.Database)
	}

	q := domain.Query{ID: job.QueryID, Sequence: job.Sequence}
	if q.ID == "" {
		q.ID = job.ID
	}
	env = []string{
		"BLASTDB=" + containerDBDir,
		"BLAST_PROGRAM=" + program,
		"BLAST_DB=" + job.Database,
		"BLAST_OUTFMT=" + tabular.OutFmt,
		"BLAST_QUERY=" + fasta.Format(q),
	}
	return []string{"sh", "-c", searchScript}, env, nil
}

// classify turns a finished container into a JobResult.
func classify(exitCode int64, stdout, stderr string) domain.JobResult {
	if exitCode != 0 {
		var msgs []string
		for _, line := range strings.Split(stderr, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				msgs = append(msgs, line)
			}
		}
		if len(msgs) == 0 {
			msgs = []string{fmt.Sprintf("search exited with status %d", exitCode)}
		}
		return domain.Failure(msgs...)
	}

	rows, err := tabular.Parse(strings.NewReader(stdout))
	if err != nil {
		return domain.Failure("unreadable search output: " + err.Error())
	}
	return domain.Success(rows)
}
