// Package fasta reads protein FASTA files submitted to the pipeline.
package fasta

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Record is one sequence in a FASTA file.
type Record struct {
	ID          string
	Description string
	Sequence    string
}

var ErrEmpty = errors.New("fasta: no sequences found")

// Parse reads all records from r. Lines before the first header are
// rejected; blank lines are skipped; sequences are upper-cased.
func Parse(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var (
		records []Record
		current *Record
		seq     strings.Builder
	)

	flush := func() {
		if current != nil {
			current.Sequence = seq.String()
			records = append(records, *current)
			seq.Reset()
		}
	}

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			flush()
			header := strings.TrimSpace(line[1:])
			id, desc := header, ""
			if i := strings.IndexAny(header, " \t"); i >= 0 {
				id, desc = header[:i], strings.TrimSpace(header[i+1:])
			}
			current = &Record{ID: id, Description: desc}
			continue
		}
		if current == nil {
			return nil, fmt.Errorf("fasta: sequence data before header at line %d", lineNo)
		}
		seq.WriteString(strings.ToUpper(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("fasta: read error: %w", err)
	}
	flush()

	if len(records) == 0 {
		return nil, ErrEmpty
	}
	return records, nil
}

// Count returns the number of sequences without keeping them in memory.
func Count(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	n := 0
	for scanner.Scan() {
		if strings.HasPrefix(strings.TrimSpace(scanner.Text()), ">") {
			n++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("fasta: read error: %w", err)
	}
	return n, nil
}
