// Package sweep reads a sweep id from the log written by "wandb sweep".
package sweep

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	agentMarker = "wandb agent"
	runMarker   = "Run sweep agent with:"
)

// ErrNotFound is returned when the log has no agent line.
var ErrNotFound = errors.New("no sweep id found (expected a line like 'wandb: Run sweep agent with: wandb agent owner/project/id')")

// ParseID scans r for the line wandb prints after creating a sweep:
//
//	wandb: Run sweep agent with: wandb agent owner/project/sweep_id
//
// and returns the text after the last "wandb agent". A line carrying the
// "Run sweep agent with:" marker wins; otherwise the first bare
// "wandb agent <id>" line is used.
func ParseID(r io.Reader) (string, error) {
	var fallback string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		id, ok := agentID(line)
		if !ok {
			continue
		}
		if strings.Contains(line, runMarker) {
			return id, nil
		}
		if fallback == "" {
			fallback = id
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("reading sweep log: %w", err)
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", ErrNotFound
}

// ReadID opens path and parses it with ParseID.
func ReadID(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening sweep log: %w", err)
	}
	defer f.Close()

	id, err := ParseID(f)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return id, nil
}

func agentID(line string) (string, bool) {
	i := strings.LastIndex(line, agentMarker)
	if i < 0 {
		return "", false
	}
	fields := strings.Fields(line[i+len(agentMarker):])
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}
