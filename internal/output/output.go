// Package output renders command results as JSON on stdout and failures as
// JSON on stderr, and maps failures to process exit codes.
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	ExitCodeOK       = 0
	ExitCodeError    = 1
	ExitCodeAuth     = 2
	ExitCodeNotFound = 3
	ExitCodePolicy   = 4
)

// ExitCodeErr carries the exit code a failure should produce.
type ExitCodeErr struct {
	Code    int
	CodeStr string
	Err     error
}

func (e *ExitCodeErr) Error() string {
	return e.Err.Error()
}

func (e *ExitCodeErr) Unwrap() error {
	return e.Err
}

// NewError creates an ExitCodeErr with the given code and error.
func NewError(code int, err error) *ExitCodeErr {
	return &ExitCodeErr{Code: code, Err: err}
}

// ExitCode walks the error chain and returns the exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitCodeOK
	}

	var e *ExitCodeErr
	if errors.As(err, &e) {
		return e.Code
	}

	return ExitCodeError
}

// WriteJSON writes val as indented JSON to w with HTML escaping disabled.
func WriteJSON(w io.Writer, val any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")

	return enc.Encode(val)
}

// WriteResult writes val to stdout.
func WriteResult(val any) error {
	return WriteJSON(os.Stdout, val)
}

type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteError writes {"error","code"} to stderr and returns an ExitCodeErr
// to be returned from Run.
func WriteError(code int, codeStr, msg string) error {
	_ = WriteJSON(os.Stderr, errorPayload{Error: msg, Code: codeStr})

	return &ExitCodeErr{Code: code, CodeStr: codeStr, Err: errors.New(msg)}
}

// Errorf is WriteError with formatting.
func Errorf(code int, codeStr, format string, args ...any) error {
	return WriteError(code, codeStr, fmt.Sprintf(format, args...))
}
