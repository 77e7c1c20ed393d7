package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/k6browser/cmd/state"
	"github.com/liuxd6825/k6browser/common"
	"github.com/liuxd6825/k6browser/env"
	"github.com/liuxd6825/k6browser/errext"
	"github.com/liuxd6825/k6browser/errext/exitcodes"
	"github.com/liuxd6825/k6browser/log"
	"github.com/liuxd6825/k6browser/storage"
	"github.com/liuxd6825/k6browser/trace"
)

const traceShutdownTimeout = 5 * time.Second

func browserOptionsFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.String("ws-url", "", "websocket URL of the browser to drive")
	flags.Duration("timeout", common.DefaultTimeout, "default timeout of every wait")
	flags.Duration("poll-interval", common.DefaultPollInterval, "how often auto-wait checks the page")
	flags.Int64("stable-polls", common.DefaultStablePolls, "equal bounding boxes in a row before an element is stable")
	flags.String("dialog-default", common.DefaultDialogAction, "action taken on unhandled dialogs: dismiss or accept")
	return flags
}

func browserOptionsFromFlags(flags *pflag.FlagSet) common.BrowserOptions {
	return common.BrowserOptions{
		WSURL:         getNullString(flags, "ws-url"),
		Timeout:       getNullDuration(flags, "timeout"),
		PollInterval:  getNullDuration(flags, "poll-interval"),
		StablePolls:   getNullInt64(flags, "stable-polls"),
		DialogDefault: getNullString(flags, "dialog-default"),
	}
}

// readDiskConfig reads the YAML config file. A missing file is not an error.
func readDiskConfig(gs *state.GlobalState) (common.BrowserOptions, error) {
	data, err := afero.ReadFile(gs.FS, gs.Flags.ConfigFilePath)
	if errors.Is(err, fs.ErrNotExist) {
		return common.BrowserOptions{}, nil
	} else if err != nil {
		return common.BrowserOptions{}, fmt.Errorf("reading config file %q: %w", gs.Flags.ConfigFilePath, err)
	}
	opts, err := common.ParseBrowserOptionsYAML(data)
	if err != nil {
		return common.BrowserOptions{}, fmt.Errorf("config file %q: %w", gs.Flags.ConfigFilePath, err)
	}
	return opts, nil
}

// getConsolidatedOptions merges, in increasing priority, the defaults, the
// environment, the config file and the flags of the command.
func getConsolidatedOptions(
	gs *state.GlobalState, flags *pflag.FlagSet, traceEndpoint string,
) (common.BrowserOptions, error) {
	envOpts, err := common.BrowserOptionsFromEnv(env.ConstLookup(gs.Env))
	if err != nil {
		return common.BrowserOptions{}, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	fileOpts, err := readDiskConfig(gs)
	if err != nil {
		return common.BrowserOptions{}, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}

	opts := common.NewBrowserOptions().
		Apply(envOpts).
		Apply(fileOpts).
		Apply(browserOptionsFromFlags(flags))
	if traceEndpoint != "" {
		opts.TraceEndpoint = null.StringFrom(traceEndpoint)
	}
	if gs.Flags.Verbose {
		opts.Debug = null.BoolFrom(true)
	}

	if err := opts.Validate(); err != nil {
		return common.BrowserOptions{}, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	// The URL may be a comma separated list, only the first one is dialed.
	urls, ok := env.BrowserWSURLs(env.ConstLookup(map[string]string{env.WebSocketURL: opts.WSURL.String}))
	if !ok {
		err := errext.WithHint(errors.New("no browser to connect to"),
			"pass --ws-url or set "+env.WebSocketURL)
		return common.BrowserOptions{}, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	opts.WSURL = null.StringFrom(urls[0])
	return opts, nil
}

// connectBrowser dials the browser described by opts. The returned function
// closes it and flushes any exported spans.
func connectBrowser(gs *state.GlobalState, opts common.BrowserOptions) (*common.Browser, func(), error) {
	var filter *regexp.Regexp
	if opts.LogCategoryFilter.Valid {
		var err error
		if filter, err = regexp.Compile(opts.LogCategoryFilter.String); err != nil {
			err = fmt.Errorf("compiling log category filter: %w", err)
			return nil, nil, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
		}
	}
	logger := log.New(gs.Logger, opts.Debug.Bool, filter)

	provider := trace.NewNoopProvider()
	if opts.TraceEndpoint.Valid && opts.TraceEndpoint.String != "" {
		var err error
		provider, err = trace.NewOTLPProvider(gs.Ctx, opts.TraceEndpoint.String, nil)
		if err != nil {
			return nil, nil, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
		}
	}
	shutdownTracing := func() {
		ctx, cancel := context.WithTimeout(context.Background(), traceShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			gs.Logger.WithError(err).Warn("Flushing trace spans failed")
		}
	}

	b, err := common.Connect(gs.Ctx, opts.WSURL.String, opts, logger,
		common.WithTracer(trace.NewTracer(provider, map[string]string{"cli": gs.BinaryName})),
		common.WithFilePersister(storage.NewLocalFilePersister(gs.FS)),
	)
	if err != nil {
		shutdownTracing()
		err = errext.WithHint(err, "make sure the browser is running and listening on "+opts.WSURL.String)
		return nil, nil, errext.WithExitCodeIfNone(err, exitcodes.BrowserUnreachable)
	}

	return b, func() {
		if err := b.Close(); err != nil {
			gs.Logger.WithError(err).Warn("Closing the browser failed")
		}
		shutdownTracing()
		gs.Logger.WithFields(logrus.Fields{"wsurl": opts.WSURL.String}).Debug("Browser closed")
	}, nil
}
