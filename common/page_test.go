package common

import (
	"bytes"
	"context"
	"image/png"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/k6browser/storage"
	"github.com/liuxd6825/k6browser/tests/fakebrowser"
)

const dialogsHTML = `<html><body>
<h3>JavaScript Alerts</h3>
<ul>
  <li><button id="alert" data-action="alert" data-message="I am a JS Alert"
              data-accept-text="You successfully clicked an alert">Click for JS Alert</button></li>
  <li><button id="confirm" data-action="confirm" data-message="I am a JS Confirm"
              data-accept-text="You clicked: Ok" data-dismiss-text="You clicked: Cancel">Click for JS Confirm</button></li>
  <li><button id="prompt" data-action="prompt" data-message="I am a JS prompt" data-default="default answer"
              data-accept-text="You entered: %s" data-dismiss-text="You entered: %s">Click for JS Prompt</button></li>
</ul>
<p id="result"></p>
</body></html>`

func resultText(tb testing.TB, p *Page) string {
	tb.Helper()

	text, err := p.Locator("#result").TextContent(context.Background(), nil)
	require.NoError(tb, err)
	return text
}

// currentText reads the result without failing, for polling conditions.
func currentText(p *Page) string {
	text, _ := p.Locator("#result").TextContent(context.Background(), &TimeoutOptions{Timeout: shortTimeout})
	return text
}

func clickTrigger(p *Page, selector string) func(context.Context) error {
	return func(ctx context.Context) error {
		return p.Locator(selector).Click(ctx, nil)
	}
}

func TestPageDialogs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		button     string
		typ        string
		message    string
		accept     bool
		promptText string
		want       string
	}{
		{
			name: "alert", button: "#alert", typ: "alert", message: "I am a JS Alert",
			accept: true, want: "You successfully clicked an alert",
		},
		{
			name: "confirm_accept", button: "#confirm", typ: "confirm", message: "I am a JS Confirm",
			accept: true, want: "You clicked: Ok",
		},
		{
			name: "confirm_dismiss", button: "#confirm", typ: "confirm", message: "I am a JS Confirm",
			want: "You clicked: Cancel",
		},
		{
			name: "prompt_accept", button: "#prompt", typ: "prompt", message: "I am a JS prompt",
			accept: true, promptText: "hello", want: "You entered: hello",
		},
		{
			name: "prompt_dismiss", button: "#prompt", typ: "prompt", message: "I am a JS prompt",
			want: "You entered: null",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, _ := newTestPage(t, dialogsHTML)
			ctx := context.Background()

			d, err := p.WaitForDialog(ctx, nil, clickTrigger(p, tt.button))
			require.NoError(t, err)
			assert.Equal(t, tt.typ, d.Type())
			assert.Equal(t, tt.message, d.Message())
			assert.Same(t, p, d.Page())

			if tt.accept {
				require.NoError(t, d.Accept(ctx, tt.promptText))
			} else {
				require.NoError(t, d.Dismiss(ctx))
			}
			assert.Equal(t, tt.want, resultText(t, p))

			require.ErrorIs(t, d.Accept(ctx, ""), ErrDialogHandled)
			require.ErrorIs(t, d.Dismiss(ctx), ErrDialogHandled)
		})
	}
}

func TestPageDialogDefaultValue(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(t, dialogsHTML)
	ctx := context.Background()

	d, err := p.WaitForDialog(ctx, nil, clickTrigger(p, "#prompt"))
	require.NoError(t, err)
	assert.Equal(t, "default answer", d.DefaultValue())
	require.NoError(t, d.Accept(ctx, d.DefaultValue()))
	assert.Equal(t, "You entered: default answer", resultText(t, p))
}

func TestPageDialogListener(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(t, dialogsHTML)
	ctx := context.Background()

	messages := make(chan string, 1)
	remove := p.OnDialog(func(d *Dialog) {
		messages <- d.Message()
		_ = d.Accept(ctx, "")
	})
	defer remove()

	require.NoError(t, p.Locator("#confirm").Click(ctx, nil))
	assert.Equal(t, "I am a JS Confirm", <-messages)
	assert.Eventually(t, func() bool {
		return currentText(p) == "You clicked: Ok"
	}, testTimeout, testPoll)
}

func TestPageDialogBlocksActions(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(t, dialogsHTML)
	ctx := context.Background()

	d, err := p.WaitForDialog(ctx, nil, clickTrigger(p, "#confirm"))
	require.NoError(t, err)

	err = p.Locator("#alert").Click(ctx, &ClickOptions{Timeout: shortTimeout})
	var te *TimeoutError
	require.ErrorAs(t, err, &te, "the open dialog blocks input")

	require.NoError(t, d.Dismiss(ctx))
	require.NoError(t, p.Locator("#prompt").Click(ctx, nil))
}

func TestPageDialogDefaultAction(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	p, _ := newTestPage(t, dialogsHTML, WithClock(mock))
	ctx := context.Background()

	require.NoError(t, p.Locator("#confirm").Click(ctx, nil))
	assert.Empty(t, resultText(t, p), "the dialog is pending until the grace period elapsed")

	// The dialog opening is dispatched asynchronously, keep moving the clock
	// until its grace timer is in place and fired.
	require.Eventually(t, func() bool {
		mock.Add(DefaultDialogGracePeriod)
		return currentText(p) == "You clicked: Cancel"
	}, testTimeout, testPoll)
}

func TestPagePopup(t *testing.T) {
	t.Parallel()

	p, fake := newTestPage(t, `<div class="example">
		<h3>Opening a new window</h3>
		<a href="/windows/new" target="_blank">Click Here</a>
		<button id="js" data-action="popup" data-href="/windows/new?js=1">Open with script</button>
		</div>`)
	fake.Route(testURL+"windows/new", `<div class="example"><h3>New Window</h3></div>`)
	fake.Route(testURL+"windows/new?js=1", `<div class="example"><h3>Scripted Window</h3></div>`)
	ctx := context.Background()

	popup, err := p.WaitForPopup(ctx, nil, clickTrigger(p, "text=Click Here"))
	require.NoError(t, err)
	assert.Equal(t, testURL+"windows/new", popup.URL(), "a popup is handed out once it committed its URL")
	assert.Same(t, p, popup.Opener())
	assert.Same(t, p.Context(), popup.Context())

	text, err := popup.Locator("h3").TextContent(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "New Window", text)
	assert.Len(t, p.Context().Pages(), 2)

	popup, err = p.Context().WaitForPage(ctx, nil, clickTrigger(p, "#js"))
	require.NoError(t, err)
	text, err = popup.Locator("h3").TextContent(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "Scripted Window", text)

	require.NoError(t, popup.Close(ctx))
	assert.True(t, popup.IsClosed())
	assert.Len(t, p.Context().Pages(), 2)
}

func TestPageDownload(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	p, _ := newTestPage(t, `<div class="example">
		<h3>File Downloader</h3>
		<a href="/download/some-file.txt" download data-content="hello file">some-file.txt</a>
		<button id="report" data-action="download" data-href="/report" data-filename="report.csv"
		        data-content="a,b">Report</button>
		</div>`, WithFilePersister(storage.NewLocalFilePersister(fs)))
	ctx := context.Background()

	dl, err := p.WaitForDownload(ctx, nil, clickTrigger(p, "text=some-file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "some-file.txt", dl.SuggestedFilename())
	assert.Equal(t, testURL+"download/some-file.txt", dl.URL())
	assert.Same(t, p, dl.Page())

	require.ErrorIs(t, dl.SaveAs(ctx, ""), storage.ErrEmptyPath)
	require.NoError(t, dl.SaveAs(ctx, "/downloads/some-file.txt"))
	data, err := afero.ReadFile(fs, "/downloads/some-file.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello file", string(data))

	dl, err = p.WaitForDownload(ctx, &WaitForEventOptions{
		Predicate: func(v any) bool { return v.(*Download).SuggestedFilename() == "report.csv" },
	}, clickTrigger(p, "#report"))
	require.NoError(t, err)
	require.NoError(t, dl.Wait(ctx))
	require.NoError(t, dl.SaveAs(ctx, "/downloads/report.csv"))
	data, err = afero.ReadFile(fs, "/downloads/report.csv")
	require.NoError(t, err)
	assert.Equal(t, "a,b", string(data))
}

func TestPageDownloadCanceledOnClose(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(t, `<a href="/big.bin" download>big</a>`)
	ctx := context.Background()

	dl, err := p.WaitForDownload(ctx, nil, clickTrigger(p, "a"))
	require.NoError(t, err)
	require.NoError(t, p.Close(ctx))

	err = dl.Wait(ctx)
	if err != nil {
		// The page may close before the download completed.
		assert.ErrorIs(t, err, errDownloadCanceled)
	}
}

func TestPageWaitForEventTimeout(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(t, `<p>nothing opens here</p>`)

	_, err := p.WaitForPopup(context.Background(), &WaitForEventOptions{Timeout: shortTimeout}, nil)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, Condition(EventKindPopup), te.Condition)
}

func TestPageScreenshot(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	p, _ := newTestPage(t, `<h1>Welcome</h1>`, WithFilePersister(storage.NewLocalFilePersister(fs)))
	ctx := context.Background()

	buf, err := p.Screenshot(ctx, &PageScreenshotOptions{Path: "/shots/welcome.png"})
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, 48, img.Bounds().Dy())

	saved, err := afero.ReadFile(fs, "/shots/welcome.png")
	require.NoError(t, err)
	assert.Equal(t, buf, saved)

	buf, err = p.Screenshot(ctx, &PageScreenshotOptions{FullPage: true})
	require.NoError(t, err)
	img, err = png.Decode(bytes.NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, 96, img.Bounds().Dy())
}

func TestPageGoto(t *testing.T) {
	t.Parallel()

	t.Run("unresolved_host", func(t *testing.T) {
		t.Parallel()

		b, _ := newTestBrowser(t)
		p, err := b.DefaultContext().NewPage(context.Background())
		require.NoError(t, err)

		_, err = p.Goto(context.Background(), "https://unrouted.test/", nil)
		var nerr *NavigationError
		require.ErrorAs(t, err, &nerr)
		assert.Equal(t, "https://unrouted.test/", nerr.URL)
		assert.Equal(t, "net::ERR_NAME_NOT_RESOLVED", nerr.Reason)
	})
	t.Run("status", func(t *testing.T) {
		t.Parallel()

		b, fake := newTestBrowser(t)
		fake.RouteWith(testURL+"status_codes/404", fakebrowser.Route{HTML: "<p>This page returned a 404 status code.</p>", Status: 404})
		p, err := b.DefaultContext().NewPage(context.Background())
		require.NoError(t, err)

		resp, err := p.Goto(context.Background(), testURL+"status_codes/404", nil)
		require.NoError(t, err)
		assert.Equal(t, 404, resp.Status())
		assert.False(t, resp.OK())
		assert.Equal(t, testURL+"status_codes/404", resp.URL())
		assert.Same(t, p.MainFrame(), resp.Frame())
	})
	t.Run("wait_until", func(t *testing.T) {
		t.Parallel()

		b, fake := newTestBrowser(t)
		fake.RouteWith(testURL+"slow", fakebrowser.Route{HTML: "<p>slow</p>", LoadDelay: 300 * time.Millisecond})
		p, err := b.DefaultContext().NewPage(context.Background())
		require.NoError(t, err)
		ctx := context.Background()

		start := time.Now()
		resp, err := p.Goto(ctx, testURL+"slow", &GotoOptions{WaitUntil: LifecycleEventDOMContentLoad})
		require.NoError(t, err)
		assert.True(t, resp.OK())
		assert.Less(t, time.Since(start), 300*time.Millisecond)

		require.NoError(t, p.WaitForLoadState(ctx, LifecycleEventNetworkIdle, nil))
		assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	})
	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		b, fake := newTestBrowser(t)
		fake.RouteWith(testURL+"slow", fakebrowser.Route{HTML: "<p>slow</p>", LoadDelay: time.Second})
		p, err := b.DefaultContext().NewPage(context.Background())
		require.NoError(t, err)

		_, err = p.Goto(context.Background(), testURL+"slow", &GotoOptions{Timeout: shortTimeout})
		var (
			nerr *NavigationError
			te   *TimeoutError
		)
		require.ErrorAs(t, err, &nerr)
		require.ErrorAs(t, err, &te)
		assert.Equal(t, Condition("load"), te.Condition)

		err = p.WaitForLoadState(context.Background(), LifecycleEventLoad, &WaitForLoadStateOptions{Timeout: 50 * time.Millisecond})
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "waiting for load state", te.Operation)
	})
}

func TestPageClose(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(t, dialogsHTML)
	ctx := context.Background()

	waitErr := make(chan error, 1)
	go func() {
		_, err := p.WaitForDialog(ctx, nil, nil)
		waitErr <- err
	}()

	closed := make(chan struct{})
	p.On(EventKindClose, func(any) { close(closed) })

	require.NoError(t, p.Close(ctx))
	assert.True(t, p.IsClosed())
	assert.Empty(t, p.Context().Pages())
	require.NoError(t, p.Close(ctx), "closing twice is a no-op")

	select {
	case err := <-waitErr:
		require.ErrorIs(t, err, ErrTargetClosed)
	case <-time.After(testTimeout):
		t.Fatal("pending wait was not released")
	}
	select {
	case <-closed:
	case <-time.After(testTimeout):
		t.Fatal("close listener was not called")
	}

	_, err := p.Screenshot(ctx, nil)
	require.ErrorIs(t, err, ErrTargetClosed)
}
