package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blastgcp/blastq/internal/domain"
	"github.com/blastgcp/blastq/internal/tabular"
)

func TestWriteBatchInterleaves(t *testing.T) {
	row := domain.Row{QueryAcc: "q1", SubjectAcc: "s1", PercentIdentity: 99.5, Length: 10,
		QueryStart: 1, QueryEnd: 10, SubjectStart: 5, SubjectEnd: 14, EValue: 1e-5, BitScore: 20.1}

	b := domain.Batch{
		{Query: domain.Query{ID: "q1"}, Result: domain.Success([]domain.Row{row})},
		{Query: domain.Query{ID: "q2"}, Result: domain.Failure("Database nr not found")},
		{Query: domain.Query{ID: "q3"}, Result: domain.Success(nil)},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteBatch(&buf, b))

	want := tabular.Header + "\n" +
		"q1\ts1\t99.500\t10\t0\t0\t1\t10\t5\t14\t1e-05\t20.1\n" +
		FailedBanner + "\n" +
		"Error message: Database nr not found\n" +
		tabular.Header + "\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteResultErrorsTakePrecedence(t *testing.T) {
	var buf bytes.Buffer
	res := domain.JobResult{Rows: []domain.Row{{QueryAcc: "q"}}, Errors: []string{"a", "b"}}
	require.NoError(t, WriteResult(&buf, res))
	assert.Equal(t, FailedBanner+"\nError message: a\nError message: b\n", buf.String())
}
