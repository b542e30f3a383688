package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const maxStdinBytes = 10 * 1024 * 1024

var stdinReader io.Reader = os.Stdin

func readStdinWithLimit(limit int64) (string, error) {
	if limit <= 0 {
		return "", fmt.Errorf("invalid stdin limit: %d", limit)
	}

	b, err := io.ReadAll(io.LimitReader(stdinReader, limit+1))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}

	if int64(len(b)) > limit {
		return "", fmt.Errorf("stdin exceeds %d bytes", limit)
	}

	return string(b), nil
}

// readInput returns the file contents, or stdin for "-".
func readInput(path string) ([]byte, error) {
	if strings.TrimSpace(path) == "-" {
		s, err := readStdinWithLimit(maxStdinBytes)
		return []byte(s), err
	}

	b, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return b, nil
}
