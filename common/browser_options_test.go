package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/k6browser/env"
	"github.com/liuxd6825/k6browser/lib/types"
)

func TestBrowserOptionsDefaults(t *testing.T) {
	t.Parallel()

	opts := NewBrowserOptions()
	require.NoError(t, opts.Validate())
	assert.Equal(t, DefaultTimeout, opts.timeout())
	assert.Equal(t, DefaultPollInterval, opts.pollInterval())
	assert.Equal(t, int(DefaultStablePolls), opts.stablePolls())
	assert.Equal(t, DefaultStableTolerance, opts.stableTolerance())
	assert.Equal(t, DefaultDialogGracePeriod, opts.dialogGracePeriod())
	assert.Equal(t, DialogActionDismiss, opts.dialogDefault())
	assert.False(t, opts.Timeout.Valid)
}

func TestBrowserOptionsFromEnv(t *testing.T) {
	t.Parallel()

	for name, tt := range map[string]struct {
		env    map[string]string
		assert func(testing.TB, BrowserOptions)
		err    string
	}{
		"empty": {
			env: map[string]string{},
			assert: func(tb testing.TB, o BrowserOptions) {
				tb.Helper()
				assert.False(tb, o.WSURL.Valid)
				assert.False(tb, o.Timeout.Valid)
			},
		},
		"all": {
			env: map[string]string{
				env.WebSocketURL:                "ws://127.0.0.1:9222/browser",
				"K6BROWSER_TIMEOUT":             "5s",
				"K6BROWSER_POLL_INTERVAL":       "50",
				"K6BROWSER_STABLE_POLLS":        "3",
				"K6BROWSER_STABLE_TOLERANCE":    "0.5",
				"K6BROWSER_DIALOG_GRACE":        "2s",
				"K6BROWSER_DIALOG_DEFAULT":      "accept",
				"K6BROWSER_DEBUG":               "true",
				"K6BROWSER_LOG_CATEGORY_FILTER": "Page:.*",
			},
			assert: func(tb testing.TB, o BrowserOptions) {
				tb.Helper()
				assert.Equal(tb, null.StringFrom("ws://127.0.0.1:9222/browser"), o.WSURL)
				assert.Equal(tb, 5*time.Second, o.timeout())
				assert.Equal(tb, 50*time.Millisecond, o.pollInterval())
				assert.Equal(tb, 3, o.stablePolls())
				assert.InDelta(tb, 0.5, o.stableTolerance(), 0.0001)
				assert.Equal(tb, 2*time.Second, o.dialogGracePeriod())
				assert.Equal(tb, DialogActionAccept, o.dialogDefault())
				assert.True(tb, o.Debug.Bool)
				assert.Equal(tb, "Page:.*", o.LogCategoryFilter.String)
			},
		},
		"bad_duration": {
			env: map[string]string{"K6BROWSER_TIMEOUT": "soon"},
			err: "reading browser options from environment",
		},
	} {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			opts, err := BrowserOptionsFromEnv(env.ConstLookup(tt.env))
			if tt.err != "" {
				require.ErrorContains(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			tt.assert(t, opts)
		})
	}
}

func TestBrowserOptionsYAML(t *testing.T) {
	t.Parallel()

	opts, err := ParseBrowserOptionsYAML([]byte(`
wsURL: ws://localhost:9222
timeout: 10s
stablePolls: 4
dialogDefault: accept
`))
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:9222", opts.WSURL.String)
	assert.Equal(t, 10*time.Second, opts.timeout())
	assert.Equal(t, 4, opts.stablePolls())
	assert.Equal(t, DialogActionAccept, opts.dialogDefault())
	assert.False(t, opts.PollInterval.Valid)
	assert.False(t, opts.Debug.Valid)

	_, err = ParseBrowserOptionsYAML([]byte("timeout: [1"))
	require.Error(t, err)
}

func TestBrowserOptionsApply(t *testing.T) {
	t.Parallel()

	fromEnv := BrowserOptions{
		Timeout:       types.NullDurationFrom(5 * time.Second),
		DialogDefault: null.StringFrom(DialogActionAccept),
	}
	fromFile := BrowserOptions{
		Timeout:     types.NullDurationFrom(10 * time.Second),
		StablePolls: null.IntFrom(3),
	}
	fromFlags := BrowserOptions{
		WSURL: null.StringFrom("ws://flag"),
	}

	got := NewBrowserOptions().Apply(fromEnv).Apply(fromFile).Apply(fromFlags)
	assert.Equal(t, 10*time.Second, got.timeout())
	assert.Equal(t, 3, got.stablePolls())
	assert.Equal(t, DialogActionAccept, got.dialogDefault())
	assert.Equal(t, "ws://flag", got.WSURL.String)
	assert.Equal(t, DefaultPollInterval, got.pollInterval())
}

func TestBrowserOptionsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts BrowserOptions
		err  string
	}{
		{name: "negative_timeout", opts: BrowserOptions{Timeout: types.NullDurationFrom(-time.Second)}, err: "timeout"},
		{name: "zero_poll", opts: BrowserOptions{PollInterval: types.NullDurationFrom(0)}, err: "poll interval"},
		{name: "zero_stable_polls", opts: BrowserOptions{StablePolls: null.IntFrom(0)}, err: "stable polls"},
		{name: "negative_tolerance", opts: BrowserOptions{StableTolerance: null.FloatFrom(-1)}, err: "tolerance"},
		{name: "bad_dialog_default", opts: BrowserOptions{DialogDefault: null.StringFrom("ignore")}, err: "dialog default"},
		{name: "ok", opts: BrowserOptions{DialogDefault: null.StringFrom(DialogActionAccept)}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.opts.Validate()
			if tt.err == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, errInvalidOption)
			assert.ErrorContains(t, err, tt.err)
		})
	}
}
