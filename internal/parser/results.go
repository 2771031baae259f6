package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"htr/internal/domain"
)

var (
	// ErrNoResults is returned when the results file does not exist
	ErrNoResults = errors.New("results file not found")
	// ErrMalformedResults is returned alongside the readable records when
	// some <test-run> records could not be decoded
	ErrMalformedResults = errors.New("malformed results file")
)

var runTag = []byte("<test-run")

// ResultsParser parses the XML results file
type ResultsParser struct{}

// NewResultsParser creates a new ResultsParser
func NewResultsParser() *ResultsParser {
	return &ResultsParser{}
}

// Parse decodes every <test-run> element in the file, in file order.
// The file is a stream of top-level elements, one per batch. Records that
// cannot be decoded are skipped; the readable ones are returned together
// with an error wrapping ErrMalformedResults.
func (p *ResultsParser) Parse(path string) ([]domain.TestRunRecord, error) {
	return p.parse(path, "")
}

func (p *ResultsParser) parse(path, runID string) ([]domain.TestRunRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoResults
		}
		return nil, fmt.Errorf("open results file: %w", err)
	}
	return p.decode(data, runID)
}

// decode splits the stream at each <test-run start tag and decodes the
// records one by one. With runID set, records of other runs are not decoded.
func (p *ResultsParser) decode(data []byte, runID string) ([]domain.TestRunRecord, error) {
	var (
		runs    []domain.TestRunRecord
		skipped int
		lastErr error
	)
	idAttr := []byte(`id="` + runID + `"`)
	for _, chunk := range splitRecords(data) {
		if runID != "" && !bytes.Contains(chunk, idAttr) {
			continue
		}
		var run domain.TestRunRecord
		if err := xml.NewDecoder(bytes.NewReader(chunk)).Decode(&run); err != nil {
			skipped++
			lastErr = err
			continue
		}
		runs = append(runs, run)
	}
	if skipped > 0 {
		return runs, fmt.Errorf("%w: %d record(s) skipped: %v", ErrMalformedResults, skipped, lastErr)
	}
	return runs, nil
}

// splitRecords returns the byte ranges starting at each <test-run tag
func splitRecords(data []byte) [][]byte {
	var chunks [][]byte
	start := nextRecord(data, 0)
	for start >= 0 {
		next := nextRecord(data, start+len(runTag))
		if next < 0 {
			chunks = append(chunks, data[start:])
			break
		}
		chunks = append(chunks, data[start:next])
		start = next
	}
	return chunks
}

// nextRecord finds the next <test-run tag at or after from, ignoring
// longer element names such as <test-runs
func nextRecord(data []byte, from int) int {
	for from < len(data) {
		i := bytes.Index(data[from:], runTag)
		if i < 0 {
			return -1
		}
		at := from + i
		end := at + len(runTag)
		if end == len(data) || isTagBoundary(data[end]) {
			return at
		}
		from = end
	}
	return -1
}

func isTagBoundary(b byte) bool {
	return b == ' ' || b == '>' || b == '/' || b == '\t' || b == '\n' || b == '\r'
}

// Outcomes returns the results recorded by run runID for the given tests.
// When a test appears more than once the last record wins. Malformed records
// of run runID are reported with ErrMalformedResults next to the readable outcomes.
func (p *ResultsParser) Outcomes(path, runID string, testIDs []string) (map[string]domain.TestResult, error) {
	runs, err := p.parse(path, runID)
	if err != nil && !errors.Is(err, ErrMalformedResults) {
		return nil, err
	}

	wanted := make(map[string]bool, len(testIDs))
	for _, id := range testIDs {
		wanted[id] = true
	}

	out := make(map[string]domain.TestResult)
	for _, run := range runs {
		if runID != "" && run.ID != runID {
			continue
		}
		for _, c := range run.Cases {
			if !wanted[c.ID] {
				continue
			}
			res := domain.TestResult{
				TestID:   c.ID,
				Status:   c.Result,
				Duration: time.Duration(c.Duration * float64(time.Second)),
			}
			if c.Failure != nil {
				res.Message = c.Failure.Message
				res.StackTrace = c.Failure.StackTrace
			}
			out[c.ID] = res
		}
	}
	return out, err
}

// ParseFailures extracts the failures from a set of runs
func (p *ResultsParser) ParseFailures(runs []domain.TestRunRecord) []domain.TestFailure {
	var failures []domain.TestFailure
	for _, run := range runs {
		for _, c := range run.Cases {
			if !c.Result.IsFailed() {
				continue
			}
			f := domain.TestFailure{
				TestID:    c.ID,
				TestName:  c.Name,
				Fixture:   c.Fixture,
				Assembly:  c.Assembly,
				ModelPath: run.Model,
				Status:    c.Result.String(),
			}
			if c.Failure != nil {
				f.Message = strings.TrimSpace(c.Failure.Message)
				f.StackTrace = splitStackTrace(c.Failure.StackTrace)
			}
			failures = append(failures, f)
		}
	}
	return failures
}

// ParseTestCounts buckets the outcomes of a set of runs
func (p *ResultsParser) ParseTestCounts(runs []domain.TestRunRecord) domain.RunCounts {
	var counts domain.RunCounts
	for _, run := range runs {
		for _, c := range run.Cases {
			counts.Add(c.Result)
		}
	}
	return counts
}

func splitStackTrace(trace string) []string {
	var lines []string
	for _, line := range strings.Split(trace, "\n") {
		if line = strings.TrimRight(line, "\r "); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
