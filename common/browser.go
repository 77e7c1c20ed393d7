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
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/liuxd6825/k6browser/log"
	"github.com/liuxd6825/k6browser/protocol"
	"github.com/liuxd6825/k6browser/storage"
	k6trace "github.com/liuxd6825/k6browser/trace"
)

// Browser stores a Browser context
type Browser struct {
	ctx      context.Context
	cancelFn context.CancelFunc

	// Transport to the browser process, every command of every page goes
	// through it.
	transport Transport

	opts            BrowserOptions
	timeoutSettings *TimeoutSettings
	waiter          *waiter
	clock           clock.Clock
	tracer          *k6trace.Tracer
	persister       storage.FilePersister

	contextsMu     sync.RWMutex
	contexts       map[protocol.BrowserContextID]*BrowserContext
	defaultContext *BrowserContext

	// Needed as the pages map is read by callers while the dispatcher
	// goroutine updates it.
	pagesMu      sync.RWMutex
	pages        map[protocol.PageID]*Page
	pagesChanged chan struct{}

	downloadsMu sync.Mutex
	downloads   map[string]*Download

	dispatchDone chan struct{}
	closeOnce    sync.Once

	logger *log.Logger
}

// BrowserOption customizes a Browser.
type BrowserOption func(*Browser)

// WithClock sets the clock driving dialog grace timers.
func WithClock(c clock.Clock) BrowserOption {
	return func(b *Browser) { b.clock = c }
}

// WithTracer sets the tracer recording API call spans.
func WithTracer(t *k6trace.Tracer) BrowserOption {
	return func(b *Browser) { b.tracer = t }
}

// WithFilePersister sets where downloads and screenshots are written.
func WithFilePersister(fp storage.FilePersister) BrowserOption {
	return func(b *Browser) { b.persister = fp }
}

// NewBrowser starts driving the browser behind tr. Events are subscribed
// to before the first command is sent, so none is missed.
func NewBrowser(
	ctx context.Context, tr Transport, opts BrowserOptions, logger *log.Logger, options ...BrowserOption,
) (*Browser, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	b := &Browser{
		ctx:             ctx,
		cancelFn:        cancel,
		transport:       tr,
		opts:            opts,
		timeoutSettings: NewTimeoutSettings(nil),
		waiter:          newWaiter(opts, logger),
		clock:           clock.New(),
		tracer:          k6trace.NewTracer(nil, nil),
		persister:       storage.NewLocalFilePersister(nil),
		contexts:        make(map[protocol.BrowserContextID]*BrowserContext),
		pages:           make(map[protocol.PageID]*Page),
		pagesChanged:    make(chan struct{}),
		downloads:       make(map[string]*Download),
		dispatchDone:    make(chan struct{}),
		logger:          logger,
	}
	for _, o := range options {
		o(b)
	}
	if opts.Timeout.Valid {
		b.timeoutSettings.setDefaultTimeout(opts.timeout())
	}

	go b.dispatch(tr.Subscribe(ctx))

	bctx, err := b.NewContext(ctx)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("creating default browser context: %w", err)
	}
	b.defaultContext = bctx

	return b, nil
}

// Connect dials the browser at wsURL and starts driving it.
func Connect(
	ctx context.Context, wsURL string, opts BrowserOptions, logger *log.Logger, options ...BrowserOption,
) (*Browser, error) {
	logger.Infof("Browser:Connect", "wsurl:%q", wsURL)

	conn, err := NewConnection(ctx, wsURL, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to browser WS URL %q: %w", wsURL, err)
	}
	b, err := NewBrowser(ctx, conn, opts, logger, options...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return b, nil
}

// NewContext creates a new incognito-like browser context.
func (b *Browser) NewContext(ctx context.Context) (*BrowserContext, error) {
	var res protocol.CreateBrowserContextResult
	err := fromProtocol(b.transport.Execute(ctx, protocol.CommandTargetCreateBrowserContext, nil, &res))
	if err != nil {
		return nil, fmt.Errorf("creating browser context: %w", err)
	}
	b.logger.Debugf("Browser:NewContext", "bctxid:%s", res.BrowserContextID)

	bctx := NewBrowserContext(b, res.BrowserContextID, b.logger)
	b.contextsMu.Lock()
	b.contexts[bctx.id] = bctx
	b.contextsMu.Unlock()

	return bctx, nil
}

// DefaultContext returns the context created with the browser.
func (b *Browser) DefaultContext() *BrowserContext { return b.defaultContext }

// Contexts returns the open browser contexts.
func (b *Browser) Contexts() []*BrowserContext {
	b.contextsMu.RLock()
	defer b.contextsMu.RUnlock()

	contexts := make([]*BrowserContext, 0, len(b.contexts))
	for _, c := range b.contexts {
		contexts = append(contexts, c)
	}
	return contexts
}

// NewPage creates a new tab in a new browser context.
func (b *Browser) NewPage(ctx context.Context) (*Page, error) {
	bctx, err := b.NewContext(ctx)
	if err != nil {
		return nil, err
	}
	return bctx.NewPage(ctx)
}

// SetDefaultTimeout sets the timeout of every wait that sets none, on
// pages and contexts that set none either.
func (b *Browser) SetDefaultTimeout(timeout time.Duration) {
	b.timeoutSettings.setDefaultTimeout(timeout)
}

// IsConnected reports whether the browser is still driven.
func (b *Browser) IsConnected() bool {
	return b.ctx.Err() == nil
}

// Close stops driving the browser and closes the transport. Pending waits
// fail with ErrConnectionClosed.
func (b *Browser) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.logger.Debugf("Browser:Close", "")
		b.cancelFn()
		err = b.transport.Close()
		<-b.dispatchDone
	})
	return err
}

func (b *Browser) removeContext(id protocol.BrowserContextID) {
	b.contextsMu.Lock()
	defer b.contextsMu.Unlock()
	delete(b.contexts, id)
}

func (b *Browser) getContext(id protocol.BrowserContextID) *BrowserContext {
	b.contextsMu.RLock()
	defer b.contextsMu.RUnlock()
	return b.contexts[id]
}

func (b *Browser) getPage(id protocol.PageID) *Page {
	b.pagesMu.RLock()
	defer b.pagesMu.RUnlock()
	return b.pages[id]
}

// waitForPage returns the page with id once the dispatcher created it and
// it loaded its initial URL.
func (b *Browser) waitForPage(ctx context.Context, id protocol.PageID) (*Page, error) {
	for {
		b.pagesMu.RLock()
		p, changed := b.pages[id], b.pagesChanged
		b.pagesMu.RUnlock()

		if p != nil {
			select {
			case <-p.initialized:
				return p, nil
			case <-p.ctx.Done():
				return nil, ErrTargetClosed
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		select {
		case <-changed:
		case <-b.ctx.Done():
			return nil, ErrConnectionClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// dispatch applies browser events in the order they arrive. It is the
// only writer of frame and page state.
func (b *Browser) dispatch(events <-chan *protocol.Message) {
	defer close(b.dispatchDone)

	for msg := range events {
		ev, err := protocol.DecodeEvent(msg)
		if err != nil {
			b.logger.Errorf("Browser:dispatch", "decoding %s: %v", msg.Method, err)
			continue
		}
		b.handleEvent(ev)
	}
	b.disconnected()
}

//nolint:cyclop
func (b *Browser) handleEvent(ev any) {
	switch ev := ev.(type) {
	case *protocol.EventPageCreated:
		b.onPageCreated(ev)
	case *protocol.EventPageClosed:
		b.onPageClosed(ev.PageID)
	case *protocol.EventFrameAttached:
		if p := b.getPage(ev.PageID); p != nil {
			p.frameManager.frameAttached(ev.FrameID, ev.ParentFrameID)
		}
	case *protocol.EventFrameNavigated:
		if p := b.getPage(ev.PageID); p != nil {
			p.frameManager.frameNavigated(ev)
			if main := p.MainFrame(); main != nil && main.ID() == ev.FrameID {
				p.onMainFrameNavigated(ev.URL)
			}
		}
	case *protocol.EventFrameDetached:
		if p := b.getPage(ev.PageID); p != nil {
			p.frameManager.frameDetached(ev.FrameID)
		}
	case *protocol.EventLifecycle:
		if p := b.getPage(ev.PageID); p != nil {
			p.frameManager.frameLifecycleEvent(ev)
		}
	case *protocol.EventDialogOpening:
		if p := b.getPage(ev.PageID); p != nil {
			p.onDialogOpening(ev)
		}
	case *protocol.EventDialogClosed:
		if p := b.getPage(ev.PageID); p != nil {
			p.onDialogClosed(ev)
		}
	case *protocol.EventDownloadWillBegin:
		b.onDownloadWillBegin(ev)
	case *protocol.EventDownloadProgress:
		b.onDownloadProgress(ev)
	}
}

func (b *Browser) onPageCreated(ev *protocol.EventPageCreated) {
	bctx := b.getContext(ev.BrowserContextID)
	if bctx == nil {
		b.logger.Debugf("Browser:onPageCreated", "pid:%s unknown bctxid:%s", ev.PageID, ev.BrowserContextID)
		return
	}
	var opener *Page
	if ev.OpenerID != "" {
		opener = b.getPage(ev.OpenerID)
	}
	p := NewPage(b.ctx, bctx, ev.PageID, opener, ev.URL, b.logger)

	b.pagesMu.Lock()
	b.pages[p.id] = p
	close(b.pagesChanged)
	b.pagesChanged = make(chan struct{})
	b.pagesMu.Unlock()

	bctx.addPage(p)
}

func (b *Browser) onPageClosed(id protocol.PageID) {
	p := b.getPage(id)
	if p == nil {
		return
	}
	b.pagesMu.Lock()
	delete(b.pages, id)
	b.pagesMu.Unlock()

	b.cancelDownloads(p)
	p.browserCtx.removePage(p)
	p.didClose(ErrTargetClosed)
}

func (b *Browser) onDownloadWillBegin(ev *protocol.EventDownloadWillBegin) {
	p := b.getPage(ev.PageID)
	if p == nil {
		return
	}
	d := newDownload(p, ev, b.persister)
	b.downloadsMu.Lock()
	b.downloads[d.guid] = d
	b.downloadsMu.Unlock()

	p.bus.Publish(EventKindDownload, d)
}

func (b *Browser) onDownloadProgress(ev *protocol.EventDownloadProgress) {
	if ev.State == protocol.DownloadInProgress {
		return
	}
	b.downloadsMu.Lock()
	d := b.downloads[ev.GUID]
	delete(b.downloads, ev.GUID)
	b.downloadsMu.Unlock()

	if d != nil {
		d.finish(ev.State)
	}
}

func (b *Browser) cancelDownloads(p *Page) {
	b.downloadsMu.Lock()
	defer b.downloadsMu.Unlock()

	for guid, d := range b.downloads {
		if p == nil || d.page == p {
			d.finish(protocol.DownloadCanceled)
			delete(b.downloads, guid)
		}
	}
}

// disconnected tears every page and context down once events stopped.
func (b *Browser) disconnected() {
	b.logger.Debugf("Browser:disconnected", "")

	b.pagesMu.Lock()
	pages := b.pages
	b.pages = make(map[protocol.PageID]*Page)
	b.pagesMu.Unlock()

	b.cancelDownloads(nil)
	for _, p := range pages {
		p.didClose(ErrConnectionClosed)
	}
	for _, c := range b.Contexts() {
		c.bus.Close(ErrConnectionClosed)
	}
	b.cancelFn()
}
