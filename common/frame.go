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
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/liuxd6825/k6browser/log"
	"github.com/liuxd6825/k6browser/protocol"
	k6trace "github.com/liuxd6825/k6browser/trace"
)

// Frame represents a frame in an HTML document.
type Frame struct {
	BaseEventEmitter

	page    *Page
	manager *FrameManager
	id      protocol.FrameID

	parentFrame   *Frame
	childFramesMu sync.RWMutex
	childFrames   []*Frame

	propertiesMu sync.RWMutex
	name         string
	url          string
	loaderID     string
	// docGen counts committed documents, a resolution made under an older
	// generation is stale.
	docGen          int64
	lifecycleEvents map[LifecycleEvent]bool
	detached        bool

	log *log.Logger
}

// NewFrame creates a new HTML document frame.
func NewFrame(
	ctx context.Context, m *FrameManager, parentFrame *Frame, frameID protocol.FrameID, log *log.Logger,
) *Frame {
	if log.DebugMode() {
		var pfid string
		if parentFrame != nil {
			pfid = string(parentFrame.ID())
		}
		log.Debugf("NewFrame", "fid:%s pfid:%s", frameID, pfid)
	}

	return &Frame{
		BaseEventEmitter: NewBaseEventEmitter(ctx),
		page:             m.page,
		manager:          m,
		id:               frameID,
		parentFrame:      parentFrame,
		lifecycleEvents:  make(map[LifecycleEvent]bool),
		log:              log,
	}
}

// ID returns the frame id.
func (f *Frame) ID() protocol.FrameID { return f.id }

// Page returns the page the frame belongs to.
func (f *Frame) Page() *Page { return f.page }

// ParentFrame returns the parent frame, nil for the main frame.
func (f *Frame) ParentFrame() *Frame { return f.parentFrame }

// URL returns the URL of the frame's current document.
func (f *Frame) URL() string {
	f.propertiesMu.RLock()
	defer f.propertiesMu.RUnlock()
	return f.url
}

// Name returns the frame name.
func (f *Frame) Name() string {
	f.propertiesMu.RLock()
	defer f.propertiesMu.RUnlock()
	return f.name
}

// IsDetached reports whether the frame was removed from its page.
func (f *Frame) IsDetached() bool {
	f.propertiesMu.RLock()
	defer f.propertiesMu.RUnlock()
	return f.detached
}

// ChildFrames returns the frames attached to this one.
func (f *Frame) ChildFrames() []*Frame {
	f.childFramesMu.RLock()
	defer f.childFramesMu.RUnlock()
	return append([]*Frame(nil), f.childFrames...)
}

func (f *Frame) addChildFrame(child *Frame) {
	f.log.Debugf("Frame:addChildFrame", "fid:%s cfid:%s", f.id, child.ID())

	f.childFramesMu.Lock()
	f.childFrames = append(f.childFrames, child)
	f.childFramesMu.Unlock()

	f.emit(EventFrameChildAttached, child)
}

func (f *Frame) removeChildFrame(child *Frame) {
	f.log.Debugf("Frame:removeChildFrame", "fid:%s cfid:%s", f.id, child.ID())

	f.childFramesMu.Lock()
	for i, c := range f.childFrames {
		if c == child {
			f.childFrames = append(f.childFrames[:i:i], f.childFrames[i+1:]...)
			break
		}
	}
	f.childFramesMu.Unlock()

	f.emit(EventFrameChildDetached, child)
}

func (f *Frame) navigated(name, url, loaderID string) {
	f.propertiesMu.Lock()
	f.name = name
	f.url = url
	f.loaderID = loaderID
	f.docGen++
	f.lifecycleEvents = make(map[LifecycleEvent]bool)
	f.propertiesMu.Unlock()

	f.emit(EventFrameNavigation, &NavigationEvent{url: url, loaderID: loaderID})
}

// onLifecycleEvent records a lifecycle milestone of the current document.
// Milestones of replaced documents are dropped.
func (f *Frame) onLifecycleEvent(loaderID, name string) {
	event, ok := lifecycleEventFromProtocol[name]
	if !ok {
		return
	}

	f.propertiesMu.Lock()
	if loaderID != f.loaderID || f.lifecycleEvents[event] {
		f.propertiesMu.Unlock()
		return
	}
	f.lifecycleEvents[event] = true
	url := f.url
	f.propertiesMu.Unlock()

	f.log.Debugf("Frame:onLifecycleEvent", "fid:%s furl:%q lid:%s event:%s", f.id, url, loaderID, event)
	f.emit(EventFrameAddLifecycle, &FrameLifecycleEvent{URL: url, Event: event})
}

func (f *Frame) hasLifecycleEventFired(event LifecycleEvent) bool {
	f.propertiesMu.RLock()
	defer f.propertiesMu.RUnlock()
	return f.lifecycleEvents[event]
}

// reached reports whether the document loaded by loaderID reached event.
func (f *Frame) reached(loaderID string, event LifecycleEvent) bool {
	f.propertiesMu.RLock()
	defer f.propertiesMu.RUnlock()
	return f.loaderID == loaderID && f.lifecycleEvents[event]
}

// ready reports whether the current document can be queried.
func (f *Frame) ready() bool {
	f.propertiesMu.RLock()
	defer f.propertiesMu.RUnlock()
	return !f.detached && f.lifecycleEvents[LifecycleEventDOMContentLoad]
}

func (f *Frame) documentGeneration() int64 {
	f.propertiesMu.RLock()
	defer f.propertiesMu.RUnlock()
	return f.docGen
}

func (f *Frame) detach() {
	f.log.Debugf("Frame:detach", "fid:%s furl:%q", f.id, f.URL())

	f.propertiesMu.Lock()
	if f.detached {
		f.propertiesMu.Unlock()
		return
	}
	f.detached = true
	f.propertiesMu.Unlock()

	f.emit(EventFrameDetached, f)
}

// waitFor blocks until check reports true. check runs now and after every
// navigation, lifecycle or detach event of the frame.
func (f *Frame) waitFor(ctx context.Context, check func() (bool, error)) error {
	hctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan Event)
	f.on(hctx, []string{EventFrameNavigation, EventFrameAddLifecycle, EventFrameDetached}, ch)

	for {
		ok, err := check()
		if err != nil || ok {
			return err
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitForLoadState waits until the current document of the frame reached
// state.
func (f *Frame) WaitForLoadState(ctx context.Context, state LifecycleEvent, timeout time.Duration) error {
	f.log.Debugf("Frame:WaitForLoadState", "fid:%s furl:%q state:%s", f.id, f.URL(), state)

	timeout = f.page.timeoutSettings.resolveNavigation(timeout)
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := f.waitFor(tctx, func() (bool, error) {
		if f.IsDetached() {
			return false, ErrFrameDetached
		}
		return f.hasLifecycleEventFired(state), nil
	})
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return &TimeoutError{
			Operation: "waiting for load state",
			Condition: Condition(state.String()),
			LastValue: f.URL(),
			Timeout:   timeout.String(),
		}
	}
	return err
}

// Locator creates a locator for selector within the frame.
func (f *Frame) Locator(selector string) *Locator {
	return newLocator(f, selector)
}

// GetByText locates elements by their text content.
func (f *Frame) GetByText(text string, exact bool) *Locator {
	return f.Locator(textSelector(text, exact))
}

// GetByRole locates elements by ARIA role and accessible name.
func (f *Frame) GetByRole(role string, opts *GetByRoleOptions) *Locator {
	return f.Locator(roleSelector(role, opts))
}

// GetByTestID locates elements by their data-testid attribute.
func (f *Frame) GetByTestID(id string) *Locator {
	return f.Locator(testIDSelector(id))
}

// FrameLocator locates the iframe matching selector, for locating
// elements inside it.
func (f *Frame) FrameLocator(selector string) *FrameLocator {
	return newFrameLocator(f, selector)
}

func (f *Frame) execute(ctx context.Context, method protocol.MethodType, params, res any) error {
	return fromProtocol(f.page.transport.Execute(ctx, method, params, res))
}

func (f *Frame) querySelectorAll(ctx context.Context, css string, scope []protocol.NodeID) ([]protocol.Node, error) {
	var res protocol.QuerySelectorAllResult
	err := f.execute(ctx, protocol.CommandDOMQuerySelectorAll, &protocol.QuerySelectorAllParams{
		PageID:   f.page.id,
		FrameID:  f.id,
		Selector: css,
		Scope:    scope,
	}, &res)
	if err != nil {
		return nil, fmt.Errorf("querying %q: %w", css, err)
	}
	return res.Nodes, nil
}

func (f *Frame) describeNode(ctx context.Context, id protocol.NodeID) (protocol.Node, error) {
	var res protocol.DescribeNodeResult
	err := f.execute(ctx, protocol.CommandDOMDescribeNode, &protocol.NodeParams{
		PageID: f.page.id, FrameID: f.id, NodeID: id,
	}, &res)
	if err != nil {
		return protocol.Node{}, fmt.Errorf("describing node %d: %w", id, err)
	}
	return res.Node, nil
}

func (f *Frame) hitTest(ctx context.Context, id protocol.NodeID, x, y float64) (*protocol.HitTestResult, error) {
	var res protocol.HitTestResult
	err := f.execute(ctx, protocol.CommandDOMHitTest, &protocol.HitTestParams{
		PageID: f.page.id, FrameID: f.id, NodeID: id, X: x, Y: y,
	}, &res)
	if err != nil {
		return nil, fmt.Errorf("hit testing node %d: %w", id, err)
	}
	return &res, nil
}

// resolution is the result of resolving a selector at one point in time.
type resolution struct {
	// frame holds the nodes, it differs from the resolving frame when the
	// selector enters an iframe.
	frame *Frame
	gen   int64
	nodes []protocol.Node
}

// current reports whether the document the nodes belong to is still live.
func (r *resolution) current() error {
	if r.frame.IsDetached() {
		return ErrFrameDetached
	}
	if r.frame.documentGeneration() != r.gen {
		return errDocumentChanged
	}
	return nil
}

// resolve returns the elements matching selector in the current document.
// Nothing is cached, every call queries the live document. A frame that is
// not ready or was detached resolves to no element.
func (f *Frame) resolve(ctx context.Context, selector string) (*resolution, error) {
	if err := f.page.closedErr(); err != nil {
		return nil, err
	}
	sel, err := NewSelector(selector)
	if err != nil {
		return nil, err
	}
	return f.resolveSelector(ctx, sel, nil)
}

// resolveSelector resolves sel. When scope is set, the first part only
// matches within the sub-trees of the scope nodes.
//
//nolint:cyclop,funlen
func (f *Frame) resolveSelector(ctx context.Context, sel *Selector, scope []protocol.Node) (*resolution, error) {
	frame := f
	res := &resolution{frame: frame, gen: frame.documentGeneration()}
	if !frame.ready() {
		return res, nil
	}

	current, scoped := scope, scope != nil
	for _, part := range sel.Parts {
		var err error
		switch part.Name {
		case engineCSS:
			var ids []protocol.NodeID
			if scoped {
				ids = nodeIDs(current)
			}
			current, err = frame.querySelectorAll(ctx, part.Body, ids)
		case engineText:
			current, err = frame.matchText(ctx, part.text, current, scoped)
		case engineRole:
			current, err = frame.matchRole(ctx, part.role, current, scoped)
		case engineNth:
			current = pickNth(current, part.nth)
		case engineVisible:
			current = filterNodes(current, func(n *protocol.Node) bool { return n.Visible == part.visible })
		case engineHasText:
			current = filterNodes(current, func(n *protocol.Node) bool { return part.text.match(n.Text) })
		case engineFrameControl:
			if len(current) > 1 {
				return nil, &StrictModeViolationError{Selector: sel.Selector, Count: len(current)}
			}
			var child *Frame
			if len(current) == 1 && current[0].ContentFrameID != "" {
				child = frame.manager.getFrameByID(current[0].ContentFrameID)
			}
			if child == nil || !child.ready() {
				res.nodes = nil
				return res, nil
			}
			frame = child
			res.frame, res.gen = child, child.documentGeneration()
			current, scoped = nil, false
			continue
		}
		if err != nil {
			// A frame torn down while resolving matches nothing.
			if errors.Is(err, ErrFrameDetached) && frame != f {
				return &resolution{frame: frame, gen: res.gen}, nil
			}
			return nil, err
		}
		scoped = true
		if len(current) == 0 {
			break
		}
	}
	res.nodes = current

	return res, nil
}

// Tags whose text never makes them a text match.
var skipTextTags = map[string]bool{
	"html": true, "head": true, "script": true, "style": true, "title": true, "noscript": true,
}

// candidates lists every element within scope, scope roots included.
func (f *Frame) candidates(ctx context.Context, scope []protocol.Node, scoped bool) ([]protocol.Node, error) {
	if !scoped {
		return f.querySelectorAll(ctx, "*", nil)
	}
	if len(scope) == 0 {
		return nil, nil
	}
	nodes, err := f.querySelectorAll(ctx, "*", nodeIDs(scope))
	if err != nil {
		return nil, err
	}
	return uniqueNodes(append(append([]protocol.Node(nil), scope...), nodes...)), nil
}

// matchText keeps the deepest elements whose text matches m.
func (f *Frame) matchText(ctx context.Context, m *textMatcher, scope []protocol.Node, scoped bool) ([]protocol.Node, error) {
	nodes, err := f.candidates(ctx, scope, scoped)
	if err != nil {
		return nil, err
	}

	byID := make(map[protocol.NodeID]*protocol.Node, len(nodes))
	var matched []*protocol.Node
	for i := range nodes {
		n := &nodes[i]
		byID[n.NodeID] = n
		if !skipTextTags[n.Tag] && m.match(n.Text) {
			matched = append(matched, n)
		}
	}
	shadowed := make(map[protocol.NodeID]bool)
	for _, n := range matched {
		for p := byID[n.ParentID]; p != nil; p = byID[p.ParentID] {
			if shadowed[p.NodeID] {
				break
			}
			shadowed[p.NodeID] = true
		}
	}

	found := make([]protocol.Node, 0, len(matched))
	for _, n := range matched {
		if !shadowed[n.NodeID] {
			found = append(found, *n)
		}
	}
	return found, nil
}

func (f *Frame) matchRole(ctx context.Context, q *roleQuery, scope []protocol.Node, scoped bool) ([]protocol.Node, error) {
	nodes, err := f.candidates(ctx, scope, scoped)
	if err != nil {
		return nil, err
	}
	return filterNodes(nodes, func(n *protocol.Node) bool {
		switch {
		case n.Role != q.role, !n.Visible:
			return false
		case q.name != nil && !q.name.match(n.Name):
			return false
		case q.checked != nil && n.Checked != *q.checked:
			return false
		}
		return true
	}), nil
}

func nodeIDs(nodes []protocol.Node) []protocol.NodeID {
	ids := make([]protocol.NodeID, len(nodes))
	for i := range nodes {
		ids[i] = nodes[i].NodeID
	}
	return ids
}

func filterNodes(nodes []protocol.Node, keep func(*protocol.Node) bool) []protocol.Node {
	var kept []protocol.Node
	for i := range nodes {
		if keep(&nodes[i]) {
			kept = append(kept, nodes[i])
		}
	}
	return kept
}

// pickNth returns the nth node, counting from the end when n is negative.
func pickNth(nodes []protocol.Node, n int) []protocol.Node {
	if n < 0 {
		n += len(nodes)
	}
	if n < 0 || n >= len(nodes) {
		return nil
	}
	return nodes[n : n+1]
}

// uniqueNodes drops duplicates and sorts nodes in document order.
func uniqueNodes(nodes []protocol.Node) []protocol.Node {
	seen := make(map[protocol.NodeID]bool, len(nodes))
	out := nodes[:0]
	for _, n := range nodes {
		if seen[n.NodeID] {
			continue
		}
		seen[n.NodeID] = true
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Goto navigates the frame to url and waits for the new document to reach
// the WaitUntil state. It fails with a NavigationError when the browser
// could not load url or the state was not reached in time.
func (f *Frame) Goto(ctx context.Context, url string, opts *GotoOptions) (_ *Response, err error) {
	waitUntil, timeout := opts.parse()
	timeout = f.page.timeoutSettings.resolveNavigation(timeout)
	f.log.Debugf("Frame:Goto", "fid:%s url:%q waitUntil:%s timeout:%s", f.id, url, waitUntil, timeout)

	if f.parentFrame == nil {
		var span trace.Span
		ctx, span = f.page.tracer.TraceNavigation(
			ctx, string(f.page.id), trace.WithAttributes(attribute.String("navigation.url", url)),
		)
		defer func(err *error) { k6trace.SpanError(span, *err) }(&err)
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var res protocol.NavigateResult
	err = f.execute(tctx, protocol.CommandPageNavigate, &protocol.NavigateParams{
		PageID: f.page.id, FrameID: f.id, URL: url,
	}, &res)
	if err != nil {
		return nil, &NavigationError{URL: url, Reason: "sending navigation", Err: err}
	}
	if res.ErrorText != "" {
		return nil, &NavigationError{URL: url, Reason: res.ErrorText, Status: res.Status}
	}

	err = f.waitFor(tctx, func() (bool, error) {
		if f.IsDetached() {
			return false, ErrFrameDetached
		}
		return f.reached(res.LoaderID, waitUntil), nil
	})
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return nil, &NavigationError{
			URL:    url,
			Reason: "waiting for " + waitUntil.String(),
			Status: res.Status,
			Err: &TimeoutError{
				Operation: "navigation",
				Condition: Condition(waitUntil.String()),
				LastValue: f.URL(),
				Timeout:   timeout.String(),
			},
		}
	default:
		return nil, &NavigationError{URL: url, Reason: "waiting for " + waitUntil.String(), Status: res.Status, Err: err}
	}

	return &Response{url: f.URL(), status: res.Status, frame: f}, nil
}

// WaitForSelector waits until the elements matching selector reach the
// state, visible by default. Unlike locator actions it is not strict: for
// the attached and visible states the first qualifying element is
// returned, the other states return a nil handle.
func (f *Frame) WaitForSelector(ctx context.Context, selector string, opts *WaitForSelectorOptions) (*ElementHandle, error) {
	var timeout time.Duration
	wfo := &WaitForOptions{}
	if opts != nil {
		wfo.State, timeout = opts.State, opts.Timeout
	}
	state, err := wfo.state()
	if err != nil {
		return nil, err
	}
	f.log.Debugf("Frame:WaitForSelector", "fid:%s furl:%q sel:%q state:%s", f.id, f.URL(), selector, state)

	var h *ElementHandle
	err = f.page.waiter.poll(ctx, f.page.timeoutSettings.resolve(timeout), "waiting for "+string(state), selector,
		func(ctx context.Context) (bool, Condition, string, error) {
			res, err := f.resolve(ctx, selector)
			if err != nil {
				return false, "", "", err
			}
			n := len(res.nodes)
			switch state {
			case StateAttached:
				if n == 0 {
					return false, ConditionAttached, "0 elements", nil
				}
				h = newElementHandle(res.frame, res.gen, res.nodes[0], selector)
				return true, "", "", nil
			case StateVisible:
				for i := range res.nodes {
					if res.nodes[i].Visible {
						h = newElementHandle(res.frame, res.gen, res.nodes[i], selector)
						return true, "", "", nil
					}
				}
				if n == 0 {
					return false, ConditionExists, "0 elements", nil
				}
				return false, ConditionVisible, fmt.Sprintf("%d hidden elements", n), nil
			case StateHidden:
				for i := range res.nodes {
					if res.nodes[i].Visible {
						return false, ConditionHidden, "visible", nil
					}
				}
				return true, "", "", nil
			default:
				return n == 0, ConditionDetached, fmt.Sprintf("%d elements", n), nil
			}
		})
	if err != nil {
		return nil, fmt.Errorf("waiting for selector %q to be %s: %w", selector, state, err)
	}
	return h, nil
}
