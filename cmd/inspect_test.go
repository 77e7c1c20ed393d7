package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/k6browser/errext/exitcodes"
	"github.com/liuxd6825/k6browser/tests/fakebrowser"
	"github.com/liuxd6825/k6browser/tests/ws"
)

const (
	inspectURL  = "https://the-internet.test/list"
	inspectHTML = `<html><body>
		<ul><li>one</li><li>two</li></ul>
		<p id="out">idle</p>
		<p id="late" hidden data-show-after="50ms">here</p>
	</body></html>`
)

// newFakeBrowserURL serves a fake browser over WebSocket and returns its URL.
func newFakeBrowserURL(t *testing.T) string {
	t.Helper()

	fake := fakebrowser.New()
	t.Cleanup(func() { _ = fake.Close() })
	fake.Route(inspectURL, inspectHTML)
	server := ws.NewServer(t, ws.WithBrowserHandler("/browser", fake))
	return server.WSURL("/browser")
}

func TestInspect(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		args     []string
		exitCode exitcodes.ExitCode
		stdout   []string
		errLog   string
	}{
		{
			name:   "count",
			args:   []string{"--selector", "li", "--expect-count", "2"},
			stdout: []string{"li: 2", `[0] "one"`, `[1] "two"`, "✓ expectation met"},
		},
		{
			name:   "text_waits",
			args:   []string{"--selector", "#late", "--expect-text", "here"},
			stdout: []string{"#late: 1", `[0] "here"`},
		},
		{
			name:     "text_mismatch",
			args:     []string{"--selector", "#out", "--expect-text", "done", "--timeout", "200ms"},
			exitCode: exitcodes.AssertionFailed,
			stdout:   []string{"#out: 1", `✗ expect("#out") toHaveText failed: expected "done", got "idle"`},
			errLog:   "toHaveText failed",
		},
		{
			name:     "count_mismatch",
			args:     []string{"--selector", "li", "--expect-count", "3", "--timeout", "200ms"},
			exitCode: exitcodes.AssertionFailed,
			stdout:   []string{"li: 2"},
			errLog:   "toHaveCount failed",
		},
		{
			name:     "strict",
			args:     []string{"--selector", "li", "--expect-text", "one", "--timeout", "200ms"},
			exitCode: exitcodes.GenericEngine,
			errLog:   "strict mode violation",
		},
		{
			name:     "invalid_selector",
			args:     []string{"--selector", "li["},
			exitCode: exitcodes.GenericEngine,
			errLog:   "invalid selector",
		},
		{
			name:     "invalid_option",
			args:     []string{"--selector", "li", "--dialog-default", "ignore"},
			exitCode: exitcodes.InvalidConfig,
			errLog:   "dialog default",
		},
		{
			name:     "bad_trace_endpoint",
			args:     []string{"--selector", "li", "--trace-endpoint", "ftp://127.0.0.1:4318"},
			exitCode: exitcodes.InvalidConfig,
			errLog:   "invalid URL scheme",
		},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ts := newGlobalTestState(t)
			ts.expectedExitCode = int(tc.exitCode)
			ts.CmdArgs = append([]string{
				"k6browser", "inspect", "--ws-url", newFakeBrowserURL(t), "--url", inspectURL, "--poll-interval", "10ms",
			}, tc.args...)
			newRootCommand(ts.GlobalState).execute()

			for _, s := range tc.stdout {
				assert.Contains(t, ts.stdOut.String(), s)
			}
			if tc.errLog != "" {
				assert.Contains(t, ts.errorLog(), tc.errLog)
			}
		})
	}
}

func TestInspectNavigationFailed(t *testing.T) {
	t.Parallel()

	ts := newGlobalTestState(t)
	ts.expectedExitCode = int(exitcodes.NavigationFailed)
	ts.CmdArgs = []string{
		"k6browser", "inspect", "--ws-url", newFakeBrowserURL(t),
		"--url", "https://nowhere.test/", "--selector", "li",
	}
	newRootCommand(ts.GlobalState).execute()

	assert.Contains(t, ts.errorLog(), `navigating to "https://nowhere.test/"`)
	assert.Empty(t, ts.stdOut.String())
}

func TestInspectBrowserUnreachable(t *testing.T) {
	t.Parallel()

	ts := newGlobalTestState(t)
	ts.expectedExitCode = int(exitcodes.BrowserUnreachable)
	ts.CmdArgs = []string{
		"k6browser", "inspect", "--ws-url", "ws://127.0.0.1:1/browser", "--url", inspectURL, "--selector", "li",
	}
	newRootCommand(ts.GlobalState).execute()

	assert.Contains(t, ts.errorLog(), "connecting to browser WS URL")
	last := ts.loggerHook.LastEntry()
	require.NotNil(t, last)
	assert.Contains(t, last.Data["hint"], "make sure the browser is running")
}

func TestInspectConfigSources(t *testing.T) {
	t.Parallel()

	t.Run("no_browser", func(t *testing.T) {
		t.Parallel()

		ts := newGlobalTestState(t)
		ts.expectedExitCode = int(exitcodes.InvalidConfig)
		ts.CmdArgs = []string{"k6browser", "inspect", "--url", inspectURL, "--selector", "li"}
		newRootCommand(ts.GlobalState).execute()

		assert.Contains(t, ts.errorLog(), "no browser to connect to")
	})
	t.Run("env", func(t *testing.T) {
		t.Parallel()

		ts := newGlobalTestState(t)
		ts.Env["K6BROWSER_WS_URL"] = " , " + newFakeBrowserURL(t)
		ts.CmdArgs = []string{"k6browser", "inspect", "--url", inspectURL, "--selector", "li"}
		newRootCommand(ts.GlobalState).execute()

		assert.Contains(t, ts.stdOut.String(), "li: 2")
	})
	t.Run("config_file", func(t *testing.T) {
		t.Parallel()

		ts := newGlobalTestState(t)
		ts.expectedExitCode = int(exitcodes.AssertionFailed)
		config := "wsURL: " + newFakeBrowserURL(t) + "\ntimeout: 150ms\npollInterval: 10ms\n"
		require.NoError(t, afero.WriteFile(ts.FS, "/test/config.yaml", []byte(config), 0o644))
		ts.CmdArgs = []string{
			"k6browser", "inspect", "--config", "/test/config.yaml",
			"--url", inspectURL, "--selector", "#out", "--expect-text", "done",
		}
		newRootCommand(ts.GlobalState).execute()

		assert.Contains(t, ts.errorLog(), "after 150ms")
	})
	t.Run("bad_config_file", func(t *testing.T) {
		t.Parallel()

		ts := newGlobalTestState(t)
		ts.expectedExitCode = int(exitcodes.InvalidConfig)
		require.NoError(t, afero.WriteFile(ts.FS, "/test/config.yaml", []byte("timeout: [1"), 0o644))
		ts.CmdArgs = []string{
			"k6browser", "inspect", "--config", "/test/config.yaml", "--url", inspectURL, "--selector", "li",
		}
		newRootCommand(ts.GlobalState).execute()

		assert.Contains(t, ts.errorLog(), `config file "/test/config.yaml"`)
	})
}

func TestScreenshot(t *testing.T) {
	t.Parallel()

	ts := newGlobalTestState(t)
	ts.CmdArgs = []string{
		"k6browser", "screenshot", "--ws-url", newFakeBrowserURL(t), "--url", inspectURL, "--out", "/test/shots/list.png",
	}
	newRootCommand(ts.GlobalState).execute()

	data, err := afero.ReadFile(ts.FS, "/test/shots/list.png")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
	assert.Contains(t, ts.stdOut.String(), "/test/shots/list.png")
}
