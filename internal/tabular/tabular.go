// Package tabular reads and writes BLAST tabular (outfmt 6) reports.
package tabular

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/blastgcp/blastq/internal/domain"
)

// OutFmt is the blastn -outfmt argument that produces rows Parse accepts.
var OutFmt = "6 " + strings.Join(domain.Fields, " ")

// Header is the TSV header line written before each table.
var Header = strings.Join(domain.Fields, "\t")

// Parse reads tabular rows from r. Blank lines and '#' comment lines are
// skipped.
func Parse(r io.Reader) ([]domain.Row, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	rows := []domain.Row{}
	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		row, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// ParseLine converts one tab-separated line into a Row.
func ParseLine(line string) (domain.Row, error) {
	cols := strings.Split(line, "\t")
	if len(cols) != len(domain.Fields) {
		cols = strings.Fields(line)
	}
	if len(cols) != len(domain.Fields) {
		return domain.Row{}, fmt.Errorf("expected %d columns, got %d", len(domain.Fields), len(cols))
	}

	p := parser{cols: cols}
	row := domain.Row{
		QueryAcc:        strings.TrimSpace(cols[0]),
		SubjectAcc:      strings.TrimSpace(cols[1]),
		PercentIdentity: p.atof(2),
		Length:          p.atoi(3),
		Mismatches:      p.atoi(4),
		GapOpens:        p.atoi(5),
		QueryStart:      p.atoi(6),
		QueryEnd:        p.atoi(7),
		SubjectStart:    p.atoi(8),
		SubjectEnd:      p.atoi(9),
		EValue:          p.atof(10),
		BitScore:        p.atof(11),
	}
	if p.err != nil {
		return domain.Row{}, p.err
	}
	return row, nil
}

type parser struct {
	cols []string
	err  error
}

func (p *parser) atoi(i int) int {
	if p.err != nil {
		return 0
	}
	v, err := strconv.Atoi(strings.TrimSpace(p.cols[i]))
	if err != nil {
		p.err = fmt.Errorf("column %s: %w", domain.Fields[i], err)
	}
	return v
}

func (p *parser) atof(i int) float64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(p.cols[i]), 64)
	if err != nil {
		p.err = fmt.Errorf("column %s: %w", domain.Fields[i], err)
	}
	return v
}

// Write emits Header followed by one line per row.
func Write(w io.Writer, rows []domain.Row) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, Header); err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := fmt.Fprintln(bw, FormatRow(r)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// FormatRow renders r as one tab-separated line, without newline.
func FormatRow(r domain.Row) string {
	return strings.Join([]string{
		r.QueryAcc,
		r.SubjectAcc,
		strconv.FormatFloat(r.PercentIdentity, 'f', 3, 64),
		strconv.Itoa(r.Length),
		strconv.Itoa(r.Mismatches),
		strconv.Itoa(r.GapOpens),
		strconv.Itoa(r.QueryStart),
		strconv.Itoa(r.QueryEnd),
		strconv.Itoa(r.SubjectStart),
		strconv.Itoa(r.SubjectEnd),
		strconv.FormatFloat(r.EValue, 'g', -1, 64),
		strconv.FormatFloat(r.BitScore, 'g', -1, 64),
	}, "\t")
}
