package jobs

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ParseManifest reads one job per line as "input output from to".
// Blank lines and lines starting with '#' are skipped.
func ParseManifest(r io.Reader) ([]*ConvertJob, error) {
	var out []*ConvertJob
	err := ScanManifest(r, func(job *ConvertJob) error {
		out = append(out, job)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ScanManifest calls fn for each job as its line is read, so a manifest can be
// streamed. It stops at the first malformed line or error returned by fn.
func ScanManifest(r io.Reader, fn func(job *ConvertJob) error) error {
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 4 {
			return fmt.Errorf("manifest line %d: want \"input output from to\", got %d fields", line, len(fields))
		}
		job := &ConvertJob{
			InputURI:  fields[0],
			OutputURI: fields[1],
			From:      fields[2],
			To:        fields[3],
		}
		if err := fn(job); err != nil {
			return fmt.Errorf("manifest line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading manifest: %w", err)
	}
	return nil
}
