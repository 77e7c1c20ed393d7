// Package errext contains extensions for normal Go errors that are used by
// the CLI to pick exit codes and print user hints.
package errext

import (
	"errors"

	"github.com/liuxd6825/k6browser/errext/exitcodes"
)

// HasHint is a wrapper around an error with an attached user hint. These hints
// can be used to give extra human-readable information about the error,
// including suggestions on how the error can be fixed.
type HasHint interface {
	error
	Hint() string
}

// WithHint attaches a hint to err. A nil err stays nil. If err already had a
// hint, the result reads "new hint (old hint)".
func WithHint(err error, hint string) error {
	if err == nil {
		return nil
	}
	return withHint{err, hint}
}

type withHint struct {
	error
	hint string
}

func (wh withHint) Unwrap() error { return wh.error }

func (wh withHint) Hint() string {
	hint := wh.hint
	var oldhint HasHint
	if errors.As(wh.error, &oldhint) {
		hint = hint + " (" + oldhint.Hint() + ")"
	}
	return hint
}

// HasExitCode is a wrapper around an error with an attached exit code.
type HasExitCode interface {
	error
	ExitCode() exitcodes.ExitCode
}

// WithExitCodeIfNone attaches exitCode to err unless err, or an error it
// wraps, already carries one. A nil err stays nil.
func WithExitCodeIfNone(err error, exitCode exitcodes.ExitCode) error {
	if err == nil {
		return nil
	}
	var ecerr HasExitCode
	if errors.As(err, &ecerr) {
		return err
	}
	return withExitCode{err, exitCode}
}

type withExitCode struct {
	error
	exitCode exitcodes.ExitCode
}

func (wh withExitCode) Unwrap() error { return wh.error }

func (wh withExitCode) ExitCode() exitcodes.ExitCode { return wh.exitCode }

var (
	_ HasHint     = withHint{}
	_ HasExitCode = withExitCode{}
)

// Format formats err as a message and a map of log fields. Hints and exit
// codes found in the chain are added as fields.
func Format(err error) (string, map[string]any) {
	if err == nil {
		return "", nil
	}

	fields := make(map[string]any)
	var herr HasHint
	if errors.As(err, &herr) {
		fields["hint"] = herr.Hint()
	}
	var ecerr HasExitCode
	if errors.As(err, &ecerr) {
		fields["exit_code"] = int(ecerr.ExitCode())
	}

	return err.Error(), fields
}
