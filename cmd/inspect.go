package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/liuxd6825/k6browser/cmd/state"
	"github.com/liuxd6825/k6browser/common"
	"github.com/liuxd6825/k6browser/errext"
	"github.com/liuxd6825/k6browser/errext/exitcodes"
)

type cmdInspect struct {
	root *rootCommand

	url         string
	selector    string
	expectText  string
	expectCount int
}

func getCmdInspect(root *rootCommand) *cobra.Command {
	c := &cmdInspect{root: root}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Open a page and check an element on it",
		Long: `Open a page, resolve a selector on it and print the number of matching
elements and their text. With --expect-text or --expect-count the command
waits for the expectation and exits with a non-zero code when it fails.`,
		Example: `
  # Count the rows of a table
  k6browser inspect --ws-url ws://127.0.0.1:9222 --url https://example.test --selector "table tr"

  # Wait for the flash message
  k6browser inspect --url https://example.test/login --selector "#flash" --expect-text "You logged in!"`[1:],
		Args: cobra.NoArgs,
		RunE: c.run,
	}

	flags := cmd.Flags()
	flags.AddFlagSet(browserOptionsFlagSet())
	flags.StringVar(&c.url, "url", "", "URL of the page to open")
	flags.StringVar(&c.selector, "selector", "", "selector of the element to check")
	flags.StringVar(&c.expectText, "expect-text", "", "expected text of the element")
	flags.IntVar(&c.expectCount, "expect-count", 0, "expected number of matching elements")
	must(cmd.MarkFlagRequired("url"))
	must(cmd.MarkFlagRequired("selector"))

	return cmd
}

func (c *cmdInspect) run(cmd *cobra.Command, _ []string) error {
	gs := c.root.globalState
	opts, err := getConsolidatedOptions(gs, cmd.Flags(), c.root.traceEndpoint)
	if err != nil {
		return err
	}
	b, closeBrowser, err := connectBrowser(gs, opts)
	if err != nil {
		return err
	}
	defer closeBrowser()

	ctx := gs.Ctx
	p, err := openPage(ctx, b, c.url)
	if err != nil {
		return err
	}

	loc := p.Locator(c.selector)
	var checks []error
	if cmd.Flags().Changed("expect-count") {
		checks = append(checks, common.Expect(loc).ToHaveCount(ctx, c.expectCount, nil))
	}
	if cmd.Flags().Changed("expect-text") {
		checks = append(checks, common.Expect(loc).ToHaveText(ctx, c.expectText, nil))
	}

	texts, err := loc.AllTextContents(ctx)
	if err != nil {
		return withEngineExitCode(fmt.Errorf("reading %q: %w", c.selector, err))
	}
	printInspection(gs, c.selector, texts, checks)

	if err := errors.Join(checks...); err != nil {
		return withEngineExitCode(err)
	}
	return nil
}

// openPage opens url in a new page of b.
func openPage(ctx context.Context, b *common.Browser, url string) (*common.Page, error) {
	p, err := b.NewPage(ctx)
	if err != nil {
		return nil, withEngineExitCode(err)
	}
	resp, err := p.Goto(ctx, url, nil)
	if err != nil {
		return nil, withEngineExitCode(err)
	}
	if resp != nil && resp.Status() >= 400 {
		err := &common.NavigationError{URL: url, Reason: fmt.Sprintf("status %d", resp.Status()), Status: resp.Status()}
		return nil, withEngineExitCode(err)
	}
	return p, nil
}

func printInspection(gs *state.GlobalState, selector string, texts []string, checks []error) {
	noColor := gs.Flags.NoColor || !gs.Stdout.IsTTY
	paint := func(c *color.Color) *color.Color {
		if noColor {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
		return c
	}
	bold := paint(color.New(color.Bold))
	green := paint(color.New(color.FgGreen))
	red := paint(color.New(color.FgRed))

	var out io.Writer = gs.Stdout
	_, _ = fmt.Fprintf(out, "%s %d\n", bold.Sprintf("%s:", selector), len(texts))
	for i, text := range texts {
		_, _ = fmt.Fprintf(out, "  [%d] %q\n", i, text)
	}
	for _, err := range checks {
		if err == nil {
			_, _ = fmt.Fprintln(out, green.Sprint("✓ expectation met"))
			continue
		}
		_, _ = fmt.Fprintln(out, red.Sprint("✗ "+err.Error()))
	}
}

// withEngineExitCode attaches the exit code matching the kind of err.
func withEngineExitCode(err error) error {
	var (
		assertion  *common.AssertionError
		navigation *common.NavigationError
	)
	switch {
	case errors.As(err, &assertion):
		return errext.WithExitCodeIfNone(err, exitcodes.AssertionFailed)
	case errors.As(err, &navigation):
		return errext.WithExitCodeIfNone(err, exitcodes.NavigationFailed)
	case errors.Is(err, common.ErrConnectionClosed):
		return errext.WithExitCodeIfNone(err, exitcodes.BrowserUnreachable)
	case errors.Is(err, common.ErrTimedOut):
		return errext.WithExitCodeIfNone(err, exitcodes.GenericTimeout)
	default:
		return errext.WithExitCodeIfNone(err, exitcodes.GenericEngine)
	}
}
