/*
 *
 * xk6-browser - a browser automation extension for k6
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"

	"github.com/liuxd6825/k6browser/log"
	"github.com/liuxd6825/k6browser/protocol"
	"github.com/liuxd6825/k6browser/storage"
	k6trace "github.com/liuxd6825/k6browser/trace"
)

// Page stores Page/tab related context
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc

	id              protocol.PageID
	transport       Transport
	browserCtx      *BrowserContext
	opener          *Page
	frameManager    *FrameManager
	timeoutSettings *TimeoutSettings
	waiter          *waiter
	bus             *EventBus
	tracer          *k6trace.Tracer
	clock           clock.Clock
	persister       storage.FilePersister
	dialogGrace     time.Duration
	dialogDefault   string

	// actionMu keeps a single action in flight per page.
	actionMu sync.Mutex

	// initialURL is the first URL the page loads. The page is handed out
	// once its main frame committed it.
	initialURL  string
	initialized chan struct{}
	initOnce    sync.Once

	closedMu sync.RWMutex
	closed   bool
	// closeErr fails operations once the page is gone.
	closeErr error

	dialogsMu sync.Mutex
	dialogs   map[protocol.DialogID]*Dialog

	logger *log.Logger
}

// NewPage creates a new browser page context
func NewPage(
	ctx context.Context, browserCtx *BrowserContext, id protocol.PageID, opener *Page, initialURL string,
	logger *log.Logger,
) *Page {
	b := browserCtx.browser
	ctx, cancel := context.WithCancel(ctx)
	p := &Page{
		ctx:             ctx,
		cancel:          cancel,
		id:              id,
		transport:       b.transport,
		browserCtx:      browserCtx,
		opener:          opener,
		timeoutSettings: NewTimeoutSettings(browserCtx.timeoutSettings),
		waiter:          b.waiter,
		bus:             NewEventBus(logger),
		tracer:          b.tracer,
		clock:           b.clock,
		persister:       b.persister,
		dialogGrace:     b.opts.dialogGracePeriod(),
		dialogDefault:   b.opts.dialogDefault(),
		initialURL:      initialURL,
		initialized:     make(chan struct{}),
		dialogs:         make(map[protocol.DialogID]*Dialog),
		logger:          logger,
	}
	p.frameManager = NewFrameManager(p, logger)

	logger.Debugf("NewPage", "pid:%s bctxid:%s url:%q", id, browserCtx.id, initialURL)

	return p
}

// ID returns the page id.
func (p *Page) ID() protocol.PageID { return p.id }

// Context returns the browser context the page belongs to.
func (p *Page) Context() *BrowserContext { return p.browserCtx }

// Opener returns the page that opened this one, nil when it was not
// opened by a page.
func (p *Page) Opener() *Page { return p.opener }

// MainFrame returns the top level frame of the page.
func (p *Page) MainFrame() *Frame { return p.frameManager.MainFrame() }

// Frames returns the live frames of the page, the main frame first.
func (p *Page) Frames() []*Frame { return p.frameManager.Frames() }

// URL returns the URL of the main frame.
func (p *Page) URL() string {
	if main := p.MainFrame(); main != nil {
		return main.URL()
	}
	return ""
}

// IsClosed reports whether the page was closed.
func (p *Page) IsClosed() bool {
	p.closedMu.RLock()
	defer p.closedMu.RUnlock()
	return p.closed
}

// closedErr returns why the page closed, nil while it is open.
func (p *Page) closedErr() error {
	p.closedMu.RLock()
	defer p.closedMu.RUnlock()
	return p.closeErr
}

// SetDefaultTimeout sets the timeout of waits on this page that do not
// set their own.
func (p *Page) SetDefaultTimeout(timeout time.Duration) {
	p.logger.Debugf("Page:SetDefaultTimeout", "pid:%s timeout:%s", p.id, timeout)
	p.timeoutSettings.setDefaultTimeout(timeout)
}

// SetDefaultNavigationTimeout sets the timeout of navigations on this page
// that do not set their own.
func (p *Page) SetDefaultNavigationTimeout(timeout time.Duration) {
	p.logger.Debugf("Page:SetDefaultNavigationTimeout", "pid:%s timeout:%s", p.id, timeout)
	p.timeoutSettings.setDefaultNavigationTimeout(timeout)
}

// Goto navigates the main frame to url.
func (p *Page) Goto(ctx context.Context, url string, opts *GotoOptions) (*Response, error) {
	p.logger.Debugf("Page:Goto", "pid:%s url:%q", p.id, url)
	return p.MainFrame().Goto(ctx, url, opts)
}

// WaitForLoadState waits for the main frame document to reach state.
func (p *Page) WaitForLoadState(ctx context.Context, state LifecycleEvent, opts *WaitForLoadStateOptions) error {
	var timeout time.Duration
	if opts != nil {
		timeout = opts.Timeout
	}
	return p.MainFrame().WaitForLoadState(ctx, state, timeout)
}

// Locator creates a locator for selector within the main frame.
func (p *Page) Locator(selector string) *Locator {
	p.logger.Debugf("Page:Locator", "pid:%s sel:%q", p.id, selector)
	return p.MainFrame().Locator(selector)
}

// GetByText locates elements by text within the main frame.
func (p *Page) GetByText(text string, exact bool) *Locator {
	return p.MainFrame().GetByText(text, exact)
}

// GetByRole locates elements by ARIA role within the main frame.
func (p *Page) GetByRole(role string, opts *GetByRoleOptions) *Locator {
	return p.MainFrame().GetByRole(role, opts)
}

// GetByTestID locates elements by data-testid within the main frame.
func (p *Page) GetByTestID(id string) *Locator {
	return p.MainFrame().GetByTestID(id)
}

// FrameLocator locates the iframe matching selector in the main frame.
func (p *Page) FrameLocator(selector string) *FrameLocator {
	return p.MainFrame().FrameLocator(selector)
}

// Click clicks the element matching selector.
func (p *Page) Click(ctx context.Context, selector string, opts *ClickOptions) error {
	return p.Locator(selector).Click(ctx, opts)
}

// Fill fills the element matching selector with value.
func (p *Page) Fill(ctx context.Context, selector, value string, opts *ActionOptions) error {
	return p.Locator(selector).Fill(ctx, value, opts)
}

// Check checks the element matching selector.
func (p *Page) Check(ctx context.Context, selector string, opts *ActionOptions) error {
	return p.Locator(selector).Check(ctx, opts)
}

// Uncheck unchecks the element matching selector.
func (p *Page) Uncheck(ctx context.Context, selector string, opts *ActionOptions) error {
	return p.Locator(selector).Uncheck(ctx, opts)
}

// SelectOption selects options of the select element matching selector.
func (p *Page) SelectOption(ctx context.Context, selector string, values []string, opts *ActionOptions) ([]string, error) {
	return p.Locator(selector).SelectOption(ctx, values, opts)
}

// TextContent returns the text of the element matching selector.
func (p *Page) TextContent(ctx context.Context, selector string, opts *TimeoutOptions) (string, error) {
	return p.Locator(selector).TextContent(ctx, opts)
}

// WaitForSelector waits for selector in the main frame.
func (p *Page) WaitForSelector(ctx context.Context, selector string, opts *WaitForSelectorOptions) (*ElementHandle, error) {
	return p.MainFrame().WaitForSelector(ctx, selector, opts)
}

// Query returns the first element matching selector, nil when there is
// none. It does not wait.
func (p *Page) Query(ctx context.Context, selector string) (*ElementHandle, error) {
	handles, err := p.QueryAll(ctx, selector)
	if err != nil || len(handles) == 0 {
		return nil, err
	}
	return handles[0], nil
}

// QueryAll returns every element matching selector. It does not wait.
func (p *Page) QueryAll(ctx context.Context, selector string) ([]*ElementHandle, error) {
	return p.Locator(selector).ElementHandles(ctx)
}

// On calls fn with the payload of every event of kind until the returned
// func is called or the page closes.
func (p *Page) On(kind EventKind, fn func(any)) (remove func()) {
	return p.bus.On(kind, fn)
}

// OnDialog calls fn for every dialog the page opens. The listener must
// accept or dismiss the dialog, no default action is taken while a
// listener is registered.
func (p *Page) OnDialog(fn func(*Dialog)) (remove func()) {
	return p.bus.On(EventKindDialog, func(v any) { fn(v.(*Dialog)) })
}

// WaitForEvent waits for the first event of kind matching the options
// predicate. The wait is registered before trigger runs, trigger may be
// nil.
func (p *Page) WaitForEvent(
	ctx context.Context, kind EventKind, opts *WaitForEventOptions, trigger func(context.Context) error,
) (any, error) {
	p.logger.Debugf("Page:WaitForEvent", "pid:%s kind:%s", p.id, kind)
	ctx, span := p.traceAPICall(ctx, "page.waitForEvent")
	defer span.End()

	v, err := waitForEvent(ctx, p.bus, kind, opts.predicate(), p.timeoutSettings.resolve(opts.timeout()), trigger)
	if err != nil {
		return nil, spanRecordErrorf(span, "waiting for %s event: %w", kind, err)
	}
	return v, nil
}

// WaitForPopup waits for a page opened by this one.
func (p *Page) WaitForPopup(ctx context.Context, opts *WaitForEventOptions, trigger func(context.Context) error) (*Page, error) {
	v, err := p.WaitForEvent(ctx, EventKindPopup, opts, trigger)
	if err != nil {
		return nil, err
	}
	return v.(*Page), nil
}

// WaitForDialog waits for a dialog. The caller must accept or dismiss it.
func (p *Page) WaitForDialog(ctx context.Context, opts *WaitForEventOptions, trigger func(context.Context) error) (*Dialog, error) {
	v, err := p.WaitForEvent(ctx, EventKindDialog, opts, trigger)
	if err != nil {
		return nil, err
	}
	return v.(*Dialog), nil
}

// WaitForDownload waits for a download started by the page.
func (p *Page) WaitForDownload(ctx context.Context, opts *WaitForEventOptions, trigger func(context.Context) error) (*Download, error) {
	v, err := p.WaitForEvent(ctx, EventKindDownload, opts, trigger)
	if err != nil {
		return nil, err
	}
	return v.(*Download), nil
}

// Screenshot captures the page. The image is also written to the options
// path when one is set.
func (p *Page) Screenshot(ctx context.Context, opts *PageScreenshotOptions) ([]byte, error) {
	p.logger.Debugf("Page:Screenshot", "pid:%s", p.id)
	ctx, span := p.traceAPICall(ctx, "page.screenshot")
	defer span.End()

	if opts == nil {
		opts = &PageScreenshotOptions{}
	}
	var res protocol.CaptureScreenshotResult
	err := fromProtocol(p.transport.Execute(ctx, protocol.CommandPageCaptureScreenshot, &protocol.CaptureScreenshotParams{
		PageID:   p.id,
		FullPage: opts.FullPage,
	}, &res))
	if err != nil {
		return nil, spanRecordErrorf(span, "taking screenshot: %w", err)
	}
	if opts.Path != "" {
		if err := p.persister.Persist(ctx, opts.Path, bytes.NewReader(res.Data)); err != nil {
			return nil, spanRecordErrorf(span, "saving screenshot to %q: %w", opts.Path, err)
		}
	}
	return res.Data, nil
}

// Close closes the page and waits until the browser reported it closed.
func (p *Page) Close(ctx context.Context) error {
	p.logger.Debugf("Page:Close", "pid:%s", p.id)

	if p.IsClosed() {
		return nil
	}
	err := fromProtocol(p.transport.Execute(ctx, protocol.CommandTargetClosePage, &protocol.ClosePageParams{PageID: p.id}, nil))
	if err != nil && !errors.Is(err, ErrTargetClosed) {
		return fmt.Errorf("closing page: %w", err)
	}
	select {
	case <-p.ctx.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("closing page: %w", ctx.Err())
	}
}

func (p *Page) traceAPICall(ctx context.Context, name string) (context.Context, trace.Span) {
	return p.tracer.TraceAPICall(ctx, string(p.id), name)
}

// onMainFrameNavigated hands the page out once its main frame committed
// the initial URL. Popups are announced to their opener at that point, so
// they never expose the blank document they start with.
func (p *Page) onMainFrameNavigated(url string) {
	if p.initialURL != "" && url != p.initialURL {
		return
	}
	p.initOnce.Do(func() {
		p.logger.Debugf("Page:initialized", "pid:%s url:%q", p.id, url)
		close(p.initialized)
		if p.opener != nil {
			p.opener.bus.Publish(EventKindPopup, p)
		}
		p.browserCtx.bus.Publish(EventKindPage, p)
	})
}

func (p *Page) onDialogOpening(ev *protocol.EventDialogOpening) {
	p.logger.Debugf("Page:onDialogOpening", "pid:%s did:%s type:%s msg:%q", p.id, ev.DialogID, ev.Type, ev.Message)

	d := newDialog(p, ev)
	p.dialogsMu.Lock()
	p.dialogs[d.id] = d
	p.dialogsMu.Unlock()

	if p.bus.Publish(EventKindDialog, d) > 0 {
		return
	}
	d.applyDefaultAfter(p.clock, p.dialogGrace, p.dialogDefault)
}

func (p *Page) onDialogClosed(ev *protocol.EventDialogClosed) {
	p.dialogsMu.Lock()
	d := p.dialogs[ev.DialogID]
	delete(p.dialogs, ev.DialogID)
	p.dialogsMu.Unlock()

	if d != nil {
		d.markHandled()
	}
}

// didClose tears the page down. Pending waits fail with err.
func (p *Page) didClose(err error) {
	p.closedMu.Lock()
	if p.closed {
		p.closedMu.Unlock()
		return
	}
	p.closed = true
	p.closeErr = err
	p.closedMu.Unlock()

	p.logger.Debugf("Page:didClose", "pid:%s err:%v", p.id, err)

	p.frameManager.dispose()

	p.dialogsMu.Lock()
	for id, d := range p.dialogs {
		d.markHandled()
		delete(p.dialogs, id)
	}
	p.dialogsMu.Unlock()

	p.bus.Publish(EventKindClose, p)
	p.bus.Close(err)
	p.tracer.EndPage(string(p.id))
	p.cancel()
}
