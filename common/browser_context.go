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

	"github.com/liuxd6825/k6browser/log"
	"github.com/liuxd6825/k6browser/protocol"
)

// BrowserContext stores context information for a single independent browser session.
// A newly launched browser instance contains a default browser context.
// Any browser context created aside from the default will be considered an "incognito"
// browser context and will not store any data on disk.
type BrowserContext struct {
	browser         *Browser
	id              protocol.BrowserContextID
	timeoutSettings *TimeoutSettings
	bus             *EventBus

	pagesMu sync.RWMutex
	pages   []*Page
	closed  bool

	logger *log.Logger
}

// NewBrowserContext creates a new browser context.
func NewBrowserContext(browser *Browser, id protocol.BrowserContextID, logger *log.Logger) *BrowserContext {
	return &BrowserContext{
		browser:         browser,
		id:              id,
		timeoutSettings: NewTimeoutSettings(browser.timeoutSettings),
		bus:             NewEventBus(logger),
		logger:          logger,
	}
}

// ID returns the browser context id.
func (b *BrowserContext) ID() protocol.BrowserContextID { return b.id }

// Browser returns the browser instance that this browser context belongs to.
func (b *BrowserContext) Browser() *Browser { return b.browser }

// Pages returns the open pages of the context, in creation order.
func (b *BrowserContext) Pages() []*Page {
	b.pagesMu.RLock()
	defer b.pagesMu.RUnlock()
	return append([]*Page(nil), b.pages...)
}

// NewPage opens a blank page in the context.
func (b *BrowserContext) NewPage(ctx context.Context) (*Page, error) {
	b.logger.Debugf("BrowserContext:NewPage", "bctxid:%s", b.id)

	tctx, cancel := context.WithTimeout(ctx, b.timeoutSettings.timeout())
	defer cancel()

	var res protocol.CreatePageResult
	err := fromProtocol(b.browser.transport.Execute(tctx, protocol.CommandTargetCreatePage,
		&protocol.CreatePageParams{BrowserContextID: b.id}, &res))
	if err != nil {
		return nil, fmt.Errorf("creating page: %w", err)
	}
	p, err := b.browser.waitForPage(tctx, res.PageID)
	if err != nil {
		return nil, fmt.Errorf("waiting for page %s: %w", res.PageID, err)
	}
	return p, nil
}

// SetDefaultNavigationTimeout sets the default navigation timeout of the
// context pages.
func (b *BrowserContext) SetDefaultNavigationTimeout(timeout time.Duration) {
	b.logger.Debugf("BrowserContext:SetDefaultNavigationTimeout", "bctxid:%s timeout:%s", b.id, timeout)
	b.timeoutSettings.setDefaultNavigationTimeout(timeout)
}

// SetDefaultTimeout sets the default timeout of the context pages.
func (b *BrowserContext) SetDefaultTimeout(timeout time.Duration) {
	b.logger.Debugf("BrowserContext:SetDefaultTimeout", "bctxid:%s timeout:%s", b.id, timeout)
	b.timeoutSettings.setDefaultTimeout(timeout)
}

// On calls fn for every event of kind on the context, until the returned
// func is called.
func (b *BrowserContext) On(kind EventKind, fn func(any)) (remove func()) {
	return b.bus.On(kind, fn)
}

// WaitForEvent waits for the first context event of kind, page being the
// only kind published on contexts. The wait is registered before trigger
// runs.
func (b *BrowserContext) WaitForEvent(
	ctx context.Context, kind EventKind, opts *WaitForEventOptions, trigger func(context.Context) error,
) (any, error) {
	b.logger.Debugf("BrowserContext:WaitForEvent", "bctxid:%s kind:%s", b.id, kind)

	v, err := waitForEvent(ctx, b.bus, kind, opts.predicate(), b.timeoutSettings.resolve(opts.timeout()), trigger)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s event: %w", kind, err)
	}
	return v, nil
}

// WaitForPage waits for a new page in the context.
func (b *BrowserContext) WaitForPage(ctx context.Context, opts *WaitForEventOptions, trigger func(context.Context) error) (*Page, error) {
	v, err := b.WaitForEvent(ctx, EventKindPage, opts, trigger)
	if err != nil {
		return nil, err
	}
	return v.(*Page), nil
}

// Close closes every page of the context.
func (b *BrowserContext) Close(ctx context.Context) error {
	b.logger.Debugf("BrowserContext:Close", "bctxid:%s", b.id)

	b.pagesMu.Lock()
	if b.closed {
		b.pagesMu.Unlock()
		return nil
	}
	b.closed = true
	pages := append([]*Page(nil), b.pages...)
	b.pagesMu.Unlock()

	for _, p := range pages {
		if err := p.Close(ctx); err != nil {
			return fmt.Errorf("closing browser context: %w", err)
		}
	}
	b.bus.Close(ErrTargetClosed)
	b.browser.removeContext(b.id)

	return nil
}

func (b *BrowserContext) addPage(p *Page) {
	b.pagesMu.Lock()
	defer b.pagesMu.Unlock()
	b.pages = append(b.pages, p)
}

func (b *BrowserContext) removePage(p *Page) {
	b.pagesMu.Lock()
	defer b.pagesMu.Unlock()
	for i, o := range b.pages {
		if o == p {
			b.pages = append(b.pages[:i:i], b.pages[i+1:]...)
			return
		}
	}
}
