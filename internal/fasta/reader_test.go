package fasta

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blastgcp/blastq/internal/domain"
)

func TestReadRecords(t *testing.T) {
	in := ">seq1 first query\nacgt\nACGT\n\n>seq2\r\nNNNN RYKM\n;comment\n>seq3\nMKV*\n"
	qs, err := Read(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, []domain.Query{
		{ID: "seq1 first query", Sequence: "ACGTACGT"},
		{ID: "seq2", Sequence: "NNNNRYKM"},
		{ID: "seq3", Sequence: "MKV*"},
	}, qs)
}

func TestReadEmptyInput(t *testing.T) {
	qs, err := Read(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, qs)
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "data before header", in: "ACGT\n>x\nA\n", want: "before first header"},
		{name: "empty record", in: ">x\n>y\nACGT\n", want: "has no sequence"},
		{name: "empty last record", in: ">x\nACGT\n>y\n", want: "has no sequence"},
		{name: "bad residue", in: ">x\nAC1T\n", want: "invalid residue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadFileGzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "q.fa.gz")

	fh, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(fh)
	_, err = gz.Write([]byte(">q1\nACGT\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, fh.Close())

	qs, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, "ACGT", qs[0].Sequence)
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "absent.fa"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, ">q1 desc\nACGT\n", Format(domain.Query{ID: "q1 desc", Sequence: "ACGT"}))
}
