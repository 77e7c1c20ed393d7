// Package cmd implements the k6browser command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/liuxd6825/k6browser/cmd/state"
	"github.com/liuxd6825/k6browser/errext"
	"github.com/liuxd6825/k6browser/errext/exitcodes"
	"github.com/liuxd6825/k6browser/lib/consts"
	"github.com/liuxd6825/k6browser/log"
)

const waitLoggerCloseTimeout = time.Second * 5

// ExecuteWithGlobalState runs the root command with an existing GlobalState.
// It is called by main.main().
func ExecuteWithGlobalState(gs *state.GlobalState) {
	newRootCommand(gs).execute()
}

// rootCommand keeps all fields needed for the main/root command.
type rootCommand struct {
	globalState *state.GlobalState

	cmd           *cobra.Command
	stopLoggersCh chan struct{}
	loggersWg     sync.WaitGroup
	traceEndpoint string
}

func newRootCommand(gs *state.GlobalState) *rootCommand {
	c := &rootCommand{
		globalState:   gs,
		stopLoggersCh: make(chan struct{}),
		traceEndpoint: gs.Env["K6BROWSER_TRACE_ENDPOINT"],
	}
	rootCmd := &cobra.Command{
		Use:               gs.BinaryName,
		Short:             "Drive a browser and check what it shows",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.persistentPreRunE,
		Version:           consts.FullVersion(),
	}
	rootCmd.SetVersionTemplate(
		`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "v%s\n" .Version}}`,
	)

	rootCmd.PersistentFlags().AddFlagSet(c.persistentFlagSet())
	rootCmd.SetArgs(gs.CmdArgs[1:])
	rootCmd.SetOut(gs.Stdout)
	rootCmd.SetErr(gs.Stderr)
	rootCmd.SetIn(gs.Stdin)

	subCommands := []func(*rootCommand) *cobra.Command{
		getCmdInspect, getCmdScreenshot, getCmdVersion,
	}
	for _, sc := range subCommands {
		rootCmd.AddCommand(sc(c))
	}

	c.cmd = rootCmd
	return c
}

func (c *rootCommand) persistentPreRunE(_ *cobra.Command, _ []string) error {
	if err := c.setupLoggers(c.stopLoggersCh); err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	c.globalState.Logger.Debugf("k6browser version: v%s", consts.FullVersion())
	return nil
}

func (c *rootCommand) execute() {
	ctx, cancel := context.WithCancel(c.globalState.Ctx)
	c.globalState.Ctx = ctx

	exitCode := -1
	defer func() {
		cancel()
		c.stopLoggers()
		c.globalState.OSExit(exitCode)
	}()

	defer func() {
		if r := recover(); r != nil {
			exitCode = int(exitcodes.GenericEngine)
			c.globalState.Logger.Error(fmt.Errorf("unexpected k6browser panic: %s\n%s", r, debug.Stack()))
		}
	}()

	err := c.cmd.Execute()
	if err == nil {
		exitCode = 0
		return
	}

	var ecerr errext.HasExitCode
	if errors.As(err, &ecerr) {
		exitCode = int(ecerr.ExitCode())
	}

	errText, fields := errext.Format(err)
	c.globalState.Logger.WithFields(fields).Error(errText)
}

func (c *rootCommand) stopLoggers() {
	done := make(chan struct{})
	go func() {
		c.loggersWg.Wait()
		close(done)
	}()
	close(c.stopLoggersCh)
	select {
	case <-done:
	case <-time.After(waitLoggerCloseTimeout):
		c.globalState.FallbackLogger.Errorf("The logger didn't stop in %s", waitLoggerCloseTimeout)
	}
}

func (c *rootCommand) persistentFlagSet() *pflag.FlagSet {
	gs := c.globalState
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)

	// gs.Flags is both the destination and the value, since the env vars may
	// already have set it. DefValue keeps the help output honest.
	flags.StringVar(&gs.Flags.LogOutput, "log-output", gs.Flags.LogOutput,
		"change the output for logs, possible values are: "+
			"'stderr', 'stdout', 'none', 'file[=./path.fileformat]'")
	flags.Lookup("log-output").DefValue = gs.DefaultFlags.LogOutput

	flags.StringVar(&gs.Flags.LogFormat, "log-format", gs.Flags.LogFormat, "log output format")
	flags.Lookup("log-format").DefValue = gs.DefaultFlags.LogFormat

	flags.StringVarP(&gs.Flags.ConfigFilePath, "config", "c", gs.Flags.ConfigFilePath, "YAML config file")
	flags.Lookup("config").DefValue = gs.DefaultFlags.ConfigFilePath
	must(cobra.MarkFlagFilename(flags, "config"))

	flags.BoolVar(&gs.Flags.NoColor, "no-color", gs.Flags.NoColor, "disable colored output")
	flags.Lookup("no-color").DefValue = strconv.FormatBool(gs.DefaultFlags.NoColor)

	flags.BoolVarP(&gs.Flags.Verbose, "verbose", "v", gs.DefaultFlags.Verbose, "enable verbose logging")

	flags.StringVar(&c.traceEndpoint, "trace-endpoint", c.traceEndpoint,
		"export API call spans over OTLP/HTTP to this URL")
	flags.Lookup("trace-endpoint").DefValue = ""

	return flags
}

// RawFormatter does nothing with the message, it just prints it.
type RawFormatter struct{}

// Format renders a single log entry.
func (f RawFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return append([]byte(entry.Message), '\n'), nil
}

func (c *rootCommand) setupLoggers(stop <-chan struct{}) error {
	gs := c.globalState
	if gs.Flags.Verbose {
		gs.Logger.SetLevel(logrus.DebugLevel)
	}

	loggerForceColors := false
	hookCtx, cancel := context.WithCancel(context.Background())
	switch line := gs.Flags.LogOutput; {
	case line == "stderr":
		loggerForceColors = !gs.Flags.NoColor && gs.Stderr.IsTTY
		gs.Logger.SetOutput(gs.Stderr)
	case line == "stdout":
		loggerForceColors = !gs.Flags.NoColor && gs.Stdout.IsTTY
		gs.Logger.SetOutput(gs.Stdout)
	case line == "none":
		gs.Logger.SetOutput(io.Discard)
	case strings.HasPrefix(line, "file"):
		done := make(chan struct{})
		hook, err := log.FileHookFromConfigLine(hookCtx, gs.FS, gs.Getwd, gs.FallbackLogger, line, done)
		if err != nil {
			cancel()
			return err
		}
		c.loggersWg.Add(1)
		go func() {
			<-done
			c.loggersWg.Done()
		}()
		gs.Logger.AddHook(hook)
		gs.Logger.SetOutput(io.Discard)
	default:
		cancel()
		return fmt.Errorf("unsupported log output '%s'", line)
	}

	switch gs.Flags.LogFormat {
	case "raw":
		gs.Logger.SetFormatter(&RawFormatter{})
		gs.Logger.Debug("Logger format: RAW")
	case "json":
		gs.Logger.SetFormatter(&logrus.JSONFormatter{})
		gs.Logger.Debug("Logger format: JSON")
	default:
		gs.Logger.SetFormatter(&logrus.TextFormatter{
			ForceColors: loggerForceColors, DisableColors: gs.Flags.NoColor,
		})
		gs.Logger.Debug("Logger format: TEXT")
	}

	// The Go runtime sometimes logs through the standard logger directly.
	w := gs.Logger.Writer()
	stdlog.SetOutput(w)
	c.loggersWg.Add(1)
	go func() {
		<-stop
		cancel()
		_ = w.Close()
		c.loggersWg.Done()
	}()
	return nil
}
