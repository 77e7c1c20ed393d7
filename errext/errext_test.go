package errext

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/k6browser/errext/exitcodes"
)

func TestWithHint(t *testing.T) {
	t.Parallel()

	assert.NoError(t, WithHint(nil, "nothing"))

	base := errors.New("connecting to browser")
	err := WithHint(base, "is the browser running?")
	err = WithHint(fmt.Errorf("inspect: %w", err), "check --ws-url")

	var herr HasHint
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "check --ws-url (is the browser running?)", herr.Hint())
	assert.ErrorIs(t, err, base)
}

func TestWithExitCodeIfNone(t *testing.T) {
	t.Parallel()

	assert.NoError(t, WithExitCodeIfNone(nil, exitcodes.GenericEngine))

	err := WithExitCodeIfNone(errors.New("expected 2 got 1"), exitcodes.AssertionFailed)
	err = WithExitCodeIfNone(fmt.Errorf("inspect: %w", err), exitcodes.GenericEngine)

	var ecerr HasExitCode
	require.ErrorAs(t, err, &ecerr)
	assert.Equal(t, exitcodes.AssertionFailed, ecerr.ExitCode())
}

func TestFormat(t *testing.T) {
	t.Parallel()

	msg, fields := Format(nil)
	assert.Empty(t, msg)
	assert.Nil(t, fields)

	err := WithExitCodeIfNone(WithHint(errors.New("boom"), "retry"), exitcodes.InvalidConfig)
	msg, fields = Format(err)
	assert.Equal(t, "boom", msg)
	assert.Equal(t, map[string]any{"hint": "retry", "exit_code": 104}, fields)
}
