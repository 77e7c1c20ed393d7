package common

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/k6browser/lib/types"
	"github.com/liuxd6825/k6browser/log"
	"github.com/liuxd6825/k6browser/protocol"
	"github.com/liuxd6825/k6browser/tests/fakebrowser"
)

const checkboxesHTML = `<html><body>
<form id="checkboxes">
  <input type="checkbox"> checkbox 1<br>
  <input type="checkbox" checked> checkbox 2
</form>
</body></html>`

func TestLocatorCheckboxes(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(t, checkboxesHTML)
	ctx := context.Background()
	boxes := p.Locator("#checkboxes input")

	count, err := boxes.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	checked, err := boxes.First().IsChecked(ctx, nil)
	require.NoError(t, err)
	assert.False(t, checked)

	require.NoError(t, boxes.First().Check(ctx, nil))
	checked, err = boxes.First().IsChecked(ctx, nil)
	require.NoError(t, err)
	assert.True(t, checked)

	require.NoError(t, boxes.Last().Uncheck(ctx, nil))
	checked, err = boxes.Nth(1).IsChecked(ctx, nil)
	require.NoError(t, err)
	assert.False(t, checked)

	// Checking an already checked box is a no-op.
	require.NoError(t, boxes.First().Check(ctx, nil))
	checked, err = boxes.First().IsChecked(ctx, nil)
	require.NoError(t, err)
	assert.True(t, checked)
}

func TestLocatorStrictMode(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(t, checkboxesHTML)

	start := time.Now()
	err := p.Locator("#checkboxes input").Check(context.Background(), nil)
	elapsed := time.Since(start)

	var strict *StrictModeViolationError
	require.ErrorAs(t, err, &strict)
	assert.Equal(t, 2, strict.Count)
	assert.Equal(t, "#checkboxes input", strict.Selector)
	assert.Less(t, elapsed, testTimeout/2, "strict mode violations must not be retried")

	_, err = p.Locator("#checkboxes input").TextContent(context.Background(), nil)
	require.ErrorAs(t, err, &strict)

	_, err = p.Locator("#checkboxes input").IsVisible(context.Background())
	require.ErrorAs(t, err, &strict)
}

func TestLocatorCountDoesNotWait(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(t, `<div id="finish" data-attach-after="500ms">Hello World!</div>`)

	start := time.Now()
	count, err := p.Locator("#finish").Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	texts, err := p.Locator(".missing").AllTextContents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, texts)
}

const lazyHTML = `<html><body>
<div id="start"><button>Start</button></div>
<div id="finish" data-attach-after="150ms"><h4>Hello World!</h4></div>
</body></html>`

func TestLocatorAutoWait(t *testing.T) {
	t.Parallel()

	t.Run("default_timeout", func(t *testing.T) {
		t.Parallel()

		p, _ := newTestPage(t, lazyHTML)
		text, err := p.Locator("#finish h4").TextContent(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, "Hello World!", text)
	})
	t.Run("per_call_timeout_overrides_default", func(t *testing.T) {
		t.Parallel()

		p, _ := newTestPage(t, lazyHTML)

		start := time.Now()
		_, err := p.Locator("#finish h4").TextContent(context.Background(), &TimeoutOptions{Timeout: 50 * time.Millisecond})
		elapsed := time.Since(start)

		var te *TimeoutError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, ConditionExists, te.Condition)
		assert.Equal(t, "0 elements", te.LastValue)
		assert.Equal(t, "50ms", te.Timeout)
		assert.Less(t, elapsed, time.Second)
	})
	t.Run("page_default_timeout", func(t *testing.T) {
		t.Parallel()

		p, _ := newTestPage(t, lazyHTML)
		p.SetDefaultTimeout(50 * time.Millisecond)

		err := p.Locator("#finish h4").Click(context.Background(), nil)
		var te *TimeoutError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "50ms", te.Timeout)
	})
	t.Run("enabled_later", func(t *testing.T) {
		t.Parallel()

		p, _ := newTestPage(t, `
			<button id="b" disabled data-enable-after="100ms"
			        data-action="text" data-target="#result" data-text="clicked">Go</button>
			<p id="result"></p>`)
		ctx := context.Background()

		require.NoError(t, p.Locator("#b").Click(ctx, nil))
		text, err := p.Locator("#result").TextContent(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "clicked", text)
	})
	t.Run("disabled_reports_condition", func(t *testing.T) {
		t.Parallel()

		p, _ := newTestPage(t, `<button id="b" disabled>Go</button>`)
		err := p.Locator("#b").Click(context.Background(), &ClickOptions{Timeout: shortTimeout})

		var te *TimeoutError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, ConditionEnabled, te.Condition)
		assert.Equal(t, "disabled", te.LastValue)
	})
	t.Run("shown_later", func(t *testing.T) {
		t.Parallel()

		p, _ := newTestPage(t, `<div id="finish" hidden data-show-after="100ms">Hello World!</div>`)
		ctx := context.Background()

		visible, err := p.Locator("#finish").IsVisible(ctx)
		require.NoError(t, err)
		assert.False(t, visible)

		require.NoError(t, p.Locator("#finish").WaitFor(ctx, nil))
		visible, err = p.Locator("#finish").IsVisible(ctx)
		require.NoError(t, err)
		assert.True(t, visible)
	})
}

func TestLocatorCoveredElement(t *testing.T) {
	t.Parallel()

	const covered = `
		<button id="target" data-action="text" data-target="#result" data-text="clicked">Click</button>
		<div id="overlay" data-covers="#target" %s></div>
		<p id="result"></p>`

	t.Run("times_out", func(t *testing.T) {
		t.Parallel()

		p, _ := newTestPage(t, fmt.Sprintf(covered, ""))
		err := p.Locator("#target").Click(context.Background(), &ClickOptions{Timeout: shortTimeout})

		var te *TimeoutError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, ConditionReceivesEvents, te.Condition)
		assert.Contains(t, te.LastValue, "intercepts pointer events")
	})
	t.Run("force", func(t *testing.T) {
		t.Parallel()

		p, _ := newTestPage(t, fmt.Sprintf(covered, ""))
		ctx := context.Background()

		require.NoError(t, p.Locator("#target").Click(ctx, &ClickOptions{Force: true}))
		text, err := p.Locator("#result").TextContent(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "clicked", text)
	})
	t.Run("overlay_goes_away", func(t *testing.T) {
		t.Parallel()

		p, _ := newTestPage(t, fmt.Sprintf(covered, `data-remove-after="100ms"`))
		ctx := context.Background()

		require.NoError(t, p.Locator("#target").Click(ctx, nil))
		text, err := p.Locator("#result").TextContent(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "clicked", text)
	})
}

func TestLocatorWaitsForStableBox(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(t, `
		<button id="moving" data-animate="3" data-action="text" data-target="#result" data-text="done">Move</button>
		<p id="result"></p>`)
	ctx := context.Background()

	require.NoError(t, p.Locator("#moving").Click(ctx, nil))
	text, err := p.Locator("#result").TextContent(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", text)

	box, err := p.Locator("#moving").BoundingBox(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, box)
	assert.Zero(t, box.X, "animation is over")
}

func TestLocatorFillInFrame(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(t, `<html><body>
		<h3>An iFrame containing the TinyMCE WYSIWYG Editor</h3>
		<iframe id="mce_0_ifr" srcdoc="<body id='tinymce' contenteditable='true'><p>Your content goes here.</p></body>"></iframe>
		</body></html>`)
	ctx := context.Background()

	editor := p.FrameLocator("#mce_0_ifr").Locator("#tinymce")
	text, err := editor.TextContent(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "Your content goes here.", text)

	require.NoError(t, editor.Clear(ctx, nil))
	require.NoError(t, editor.Fill(ctx, "Hello from the engine", nil))

	text, err = p.Locator("#mce_0_ifr").ContentFrame().Locator("#tinymce").TextContent(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello from the engine", text)

	assert.Len(t, p.Frames(), 2)
	// The frame contents are not part of the parent document.
	count, err := p.Locator("#tinymce").Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLocatorFill(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(t, `
		<form id="login">
		  <input id="username" name="username">
		  <input id="password" type="password" readonly>
		  <div id="flash">Not an input</div>
		</form>`)
	ctx := context.Background()

	require.NoError(t, p.Locator("#username").Fill(ctx, "tomsmith", nil))
	v, err := p.Locator("#username").InputValue(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "tomsmith", v)

	err = p.Locator("#password").Fill(ctx, "secret", &ActionOptions{Timeout: shortTimeout})
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ConditionEditable, te.Condition)

	_, err = p.Locator("#flash").InputValue(ctx, nil)
	require.ErrorIs(t, err, errNotInput)
}

func TestLocatorSelectOption(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(t, `
		<select id="dropdown">
		  <option value="" disabled selected>Please select an option</option>
		  <option value="1">Option 1</option>
		  <option value="2">Option 2</option>
		</select>`)
	ctx := context.Background()
	dropdown := p.Locator("#dropdown")

	selected, err := dropdown.SelectOption(ctx, []string{"2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, selected)
	v, err := dropdown.InputValue(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	selected, err = dropdown.SelectOption(ctx, []string{"Option 1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, selected)

	selected, err = dropdown.SelectOption(ctx, []string{"Option 3"}, nil)
	require.NoError(t, err)
	assert.Empty(t, selected)
}

func TestLocatorAddRemoveElements(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(t, `
		<div class="example">
		  <h3>Add/Remove Elements</h3>
		  <button data-action="append" data-target="#elements"
		          data-html="<button class='added-manually' data-action='remove'>Delete</button>">Add Element</button>
		  <div id="elements"></div>
		</div>`)
	ctx := context.Background()

	add := p.GetByRole("button", &GetByRoleOptions{Name: "Add Element", Exact: true})
	for i := 0; i < 3; i++ {
		require.NoError(t, add.Click(ctx, nil))
	}
	deletes := p.Locator(".added-manually")
	count, err := deletes.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	all, err := deletes.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.NoError(t, all[2].Click(ctx, nil))

	require.NoError(t, deletes.First().Click(ctx, nil))
	count, err = deletes.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, p.GetByText("Delete", true).Click(ctx, nil))
	require.NoError(t, deletes.WaitFor(ctx, &WaitForOptions{State: StateDetached}))
	count, err = deletes.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLocatorQueries(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(t, `
		<ul id="menu">
		  <li><a href="#one" data-testid="one">Item 1</a></li>
		  <li><a href="#two">Item 2</a></li>
		  <li><a href="#three" hidden>Item 3</a></li>
		</ul>
		<input type="checkbox" aria-label="Remember me" checked>`)
	ctx := context.Background()

	texts, err := p.Locator("#menu li").AllTextContents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Item 1", "Item 2", "Item 3"}, texts)

	text, err := p.Locator("#menu li").Filter(FilterOptions{HasText: "item 2"}).TextContent(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "Item 2", text)

	text, err = p.Locator("#menu li").Last().TextContent(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "Item 3", text)

	href, ok, err := p.GetByTestID("one").GetAttribute(ctx, "href", nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "#one", href)

	_, ok, err = p.GetByTestID("one").GetAttribute(ctx, "target", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	// Hidden elements have no role.
	count, err := p.GetByRole("link", nil).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	checked := true
	count, err = p.GetByRole("checkbox", &GetByRoleOptions{Name: "remember", Checked: &checked}).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = p.Locator("#menu").GetByText(`/^Item \d$/`, false).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	hidden, err := p.GetByText("Item 3", true).IsHidden(ctx)
	require.NoError(t, err)
	assert.True(t, hidden)
}

func TestLocatorInvalidSelector(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(t, `<p>text</p>`)

	start := time.Now()
	err := p.Locator("p >> nth=first").Click(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidSelector)
	assert.Less(t, time.Since(start), testTimeout/2)

	_, err = p.Locator("div[").Count(context.Background())
	require.ErrorIs(t, err, ErrInvalidSelector)
}

func TestLocatorResolvesAfterNavigation(t *testing.T) {
	t.Parallel()

	p, fake := newTestPage(t, `<h3>First</h3><a href="/second">Next</a>`)
	fake.Route(testURL+"second", `<h3>Second</h3>`)
	ctx := context.Background()

	heading := p.Locator("h3")
	text, err := heading.TextContent(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "First", text)

	require.NoError(t, p.GetByRole("link", &GetByRoleOptions{Name: "Next"}).Click(ctx, nil))
	require.NoError(t, p.WaitForLoadState(ctx, LifecycleEventLoad, nil))

	require.Eventually(t, func() bool {
		text, err := heading.TextContent(ctx, nil)
		return err == nil && text == "Second"
	}, testTimeout, testPoll)
	assert.Equal(t, testURL+"second", p.URL())
}

func TestLocatorOnClosedPage(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(t, `<button>Go</button>`)
	require.NoError(t, p.Close(context.Background()))

	err := p.Locator("button").Click(context.Background(), nil)
	require.ErrorIs(t, err, ErrTargetClosed)
	_, err = p.Locator("button").Count(context.Background())
	require.ErrorIs(t, err, ErrTargetClosed)
}

// hookTransport runs hook once, right before the first command of method
// is forwarded.
type hookTransport struct {
	Transport
	method protocol.MethodType
	once   sync.Once
	hook   func()
}

func (t *hookTransport) Execute(ctx context.Context, method protocol.MethodType, params, res any) error {
	if method == t.method && t.hook != nil {
		t.once.Do(t.hook)
	}
	return t.Transport.Execute(ctx, method, params, res)
}

// newHookedPage is newTestPage over a hookTransport for method. The hook is
// set by the caller once the page is loaded.
func newHookedPage(t *testing.T, body string, method protocol.MethodType) (*Page, *fakebrowser.Browser, *hookTransport) {
	t.Helper()

	fake := fakebrowser.New()
	fake.Route(testURL, body)
	tr := &hookTransport{Transport: fake, method: method}

	opts := NewBrowserOptions()
	opts.PollInterval = types.NullDurationFrom(testPoll)
	opts.Timeout = types.NullDurationFrom(testTimeout)
	b, err := NewBrowser(context.Background(), tr, opts, log.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	p, err := b.DefaultContext().NewPage(context.Background())
	require.NoError(t, err)
	_, err = p.Goto(context.Background(), testURL, nil)
	require.NoError(t, err)

	return p, fake, tr
}

func TestLocatorActionFrameDetached(t *testing.T) {
	t.Parallel()

	p, fake, tr := newHookedPage(t,
		`<iframe id="child" srcdoc="<button>Go</button>"></iframe>`, protocol.CommandDOMHitTest)
	ctx := context.Background()

	button := p.FrameLocator("#child").Locator("button")
	text, err := button.TextContent(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, "Go", text)

	var child *Frame
	for _, f := range p.Frames() {
		if f != p.MainFrame() {
			child = f
		}
	}
	require.NotNil(t, child)
	// The frame goes away after the button resolved and passed its first
	// checks, but before the click is sent.
	tr.hook = func() { p.frameManager.frameDetached(child.ID()) }

	start := time.Now()
	err = button.Click(ctx, &ClickOptions{Timeout: testTimeout})
	var derr *DetachedElementError
	require.ErrorAs(t, err, &derr)
	assert.Less(t, time.Since(start), testTimeout/2, "a detached element is not retried")
	assert.True(t, child.IsDetached())
	assert.Zero(t, fake.Calls(protocol.CommandInputClick))
}

func TestLocatorNoStaleSuccess(t *testing.T) {
	t.Parallel()

	const (
		nextURL = "https://the-internet.test/next"
		oldPage = `<button id="b" data-action="text" data-target="#r" data-text="old">Go</button><p id="r"></p>`
	)
	tests := []struct {
		name     string
		next     string
		timeout  time.Duration
		wantText string
		clicks   int
	}{
		{
			name:     "replaced_by_enabled",
			next:     `<button id="b" data-action="text" data-target="#r" data-text="new">Go</button><p id="r"></p>`,
			timeout:  testTimeout,
			wantText: "new",
			clicks:   1,
		},
		{
			name:    "replaced_by_disabled",
			next:    `<button id="b" disabled data-action="text" data-target="#r" data-text="new">Go</button><p id="r"></p>`,
			timeout: 300 * time.Millisecond,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, fake, tr := newHookedPage(t, oldPage, protocol.CommandDOMHitTest)
			fake.Route(nextURL, tt.next)
			ctx := context.Background()
			// The old button passed its checks when the document is replaced.
			tr.hook = func() {
				_, err := p.Goto(ctx, nextURL, nil)
				assert.NoError(t, err)
			}

			err := p.Locator("#b").Click(ctx, &ClickOptions{Timeout: tt.timeout})
			assert.Equal(t, tt.clicks, fake.Calls(protocol.CommandInputClick))
			assert.Equal(t, nextURL, p.URL())
			if tt.clicks == 0 {
				var te *TimeoutError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, ConditionEnabled, te.Condition)
				return
			}
			require.NoError(t, err)

			text, err := p.Locator("#r").TextContent(ctx, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, text)
		})
	}
}
