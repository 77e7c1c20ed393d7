package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liuxd6825/k6browser/common"
)

type cmdScreenshot struct {
	root *rootCommand

	url      string
	out      string
	fullPage bool
}

func getCmdScreenshot(root *rootCommand) *cobra.Command {
	c := &cmdScreenshot{root: root}

	cmd := &cobra.Command{
		Use:   "screenshot",
		Short: "Save a screenshot of a page",
		Long:  `Open a page, wait for it to load and save a screenshot of it.`,
		Example: `
  k6browser screenshot --ws-url ws://127.0.0.1:9222 --url https://example.test --out example.png`[1:],
		Args: cobra.NoArgs,
		RunE: c.run,
	}

	flags := cmd.Flags()
	flags.AddFlagSet(browserOptionsFlagSet())
	flags.StringVar(&c.url, "url", "", "URL of the page to open")
	flags.StringVarP(&c.out, "out", "o", "screenshot.png", "file the screenshot is written to")
	flags.BoolVar(&c.fullPage, "full-page", false, "capture the whole scrollable page")
	must(cmd.MarkFlagRequired("url"))
	must(cobra.MarkFlagFilename(flags, "out", "png"))

	return cmd
}

func (c *cmdScreenshot) run(cmd *cobra.Command, _ []string) error {
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

	p, err := openPage(gs.Ctx, b, c.url)
	if err != nil {
		return err
	}
	data, err := p.Screenshot(gs.Ctx, &common.PageScreenshotOptions{Path: c.out, FullPage: c.fullPage})
	if err != nil {
		return withEngineExitCode(fmt.Errorf("taking screenshot of %q: %w", c.url, err))
	}

	_, err = fmt.Fprintf(gs.Stdout, "saved %d bytes to %s\n", len(data), c.out)
	return err
}
