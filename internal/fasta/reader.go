// Package fasta reads query sequences from FASTA input.
package fasta

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/blastgcp/blastq/internal/domain"
)

// residues accepted in a sequence line: IUPAC nucleotide and amino acid
// codes, stop and gap.
const residues = "ABCDEFGHIJKLMNOPQRSTUVWXYZ*-"

// Open returns a reader for path. "-" means standard input and a ".gz" suffix
// is decompressed transparently.
func Open(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".gz") {
		gr, err := gzip.NewReader(fh)
		if err != nil {
			fh.Close()
			return nil, err
		}
		return struct {
			io.Reader
			io.Closer
		}{Reader: gr, Closer: fh}, nil
	}
	return fh, nil
}

// ReadFile opens path, consumes it entirely and closes it.
func ReadFile(path string) ([]domain.Query, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, fmt.Errorf("open query file: %w", err)
	}
	defer rc.Close()

	qs, err := Read(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return qs, nil
}

// Read parses every record in r.
func Read(r io.Reader) ([]domain.Query, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var (
		out     []domain.Query
		id      string
		seq     strings.Builder
		inRec   bool
		lineNum int
	)

	flush := func() error {
		if !inRec {
			return nil
		}
		if seq.Len() == 0 {
			return fmt.Errorf("record %q has no sequence", id)
		}
		out = append(out, domain.Query{ID: id, Sequence: seq.String()})
		seq.Reset()
		return nil
	}

	for sc.Scan() {
		lineNum++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if line[0] == '>' {
			if err := flush(); err != nil {
				return nil, err
			}
			id = strings.TrimSpace(line[1:])
			inRec = true
			continue
		}
		if line[0] == ';' { // legacy comment line
			continue
		}
		if !inRec {
			return nil, fmt.Errorf("line %d: sequence data before first header", lineNum)
		}
		for _, c := range strings.ToUpper(line) {
			if c == ' ' || c == '\t' {
				continue
			}
			if !strings.ContainsRune(residues, c) {
				return nil, fmt.Errorf("line %d: invalid residue %q in record %q", lineNum, c, id)
			}
			seq.WriteRune(c)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

// Format renders q as a single FASTA record.
func Format(q domain.Query) string {
	return ">" + q.ID + "\n" + q.Sequence + "\n"
}
