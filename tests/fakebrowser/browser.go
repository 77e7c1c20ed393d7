// Package fakebrowser is an in-memory browser speaking the engine protocol.
// Pages are plain HTML documents served from registered routes. Behavior is
// declared in markup through data-* attributes, for example
//
//	<button data-action="confirm" data-message="Sure?"
//	        data-accept-text="You clicked: Ok"
//	        data-dismiss-text="You clicked: Cancel">Go</button>
//
// See actions.go for the supported attributes.
package fakebrowser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/liuxd6825/k6browser/protocol"
)

// BlankURL is the URL of the empty document every page starts with.
const BlankURL = "about:blank"

// Route is a document served by the fake browser.
type Route struct {
	HTML   string
	Status int
	// LoadDelay postpones the load and networkIdle lifecycle events.
	LoadDelay time.Duration
}

// Browser implements the engine transport in memory.
type Browser struct {
	mu        sync.Mutex
	routes    map[string]Route
	contexts  map[protocol.BrowserContextID]bool
	pages     map[protocol.PageID]*page
	frames    map[protocol.FrameID]*frame
	downloads map[string]*download
	subs      []*subscriber
	calls     map[protocol.MethodType]int
	timers    map[*time.Timer]struct{}
	nextNode  protocol.NodeID
	closed    bool
	done      chan struct{}
	wg        sync.WaitGroup
}

type page struct {
	id       protocol.PageID
	ctxID    protocol.BrowserContextID
	main     *frame
	dialog   *dialog
	closed   bool
	openerID protocol.PageID
}

type frame struct {
	id       protocol.FrameID
	page     *page
	parent   *frame
	children []*frame
	owner    *html.Node // iframe element in the parent document

	url      string
	loaderID string
	doc      *goquery.Document
	detached bool

	ids       map[*html.Node]protocol.NodeID
	nodes     map[protocol.NodeID]*html.Node
	animating map[*html.Node]int
}

// New returns an empty fake browser.
func New() *Browser {
	return &Browser{
		routes:    make(map[string]Route),
		contexts:  make(map[protocol.BrowserContextID]bool),
		pages:     make(map[protocol.PageID]*page),
		frames:    make(map[protocol.FrameID]*frame),
		downloads: make(map[string]*download),
		calls:     make(map[protocol.MethodType]int),
		timers:    make(map[*time.Timer]struct{}),
		done:      make(chan struct{}),
	}
}

// Route serves body at url with a 200 status.
func (b *Browser) Route(url, body string) {
	b.RouteWith(url, Route{HTML: body, Status: 200})
}

// RouteWith serves r at url.
func (b *Browser) RouteWith(url string, r Route) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r.Status == 0 {
		r.Status = 200
	}
	b.routes[url] = r
}

// Calls returns how many times method was executed.
func (b *Browser) Calls(method protocol.MethodType) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.calls[method]
}

// Close shuts the browser down. Pending and future commands fail with
// protocol.ErrTransportClosed and every subscription channel is closed.
func (b *Browser) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for t := range b.timers {
		t.Stop()
	}
	b.timers = nil
	for _, p := range b.pages {
		if p.dialog != nil {
			p.dialog.close()
		}
	}
	close(b.done)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// Subscribe delivers events whose method is in methods, or all events when
// methods is empty, until ctx is done or the browser is closed.
func (b *Browser) Subscribe(ctx context.Context, methods ...protocol.MethodType) <-chan *protocol.Message {
	s := newSubscriber(methods)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(s.out)
		return s.out
	}
	b.subs = append(b.subs, s)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		s.run(ctx, b.done)
	}()

	return s.out
}

// Execute runs a protocol command.
//
//nolint:cyclop,funlen
func (b *Browser) Execute(ctx context.Context, method protocol.MethodType, params, res any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return protocol.ErrTransportClosed
	}
	b.calls[method]++
	b.mu.Unlock()

	var (
		result any
		err    error
	)
	switch method {
	case protocol.CommandTargetCreateBrowserContext:
		result, err = b.createBrowserContext()
	case protocol.CommandTargetCreatePage:
		var p protocol.CreatePageParams
		if err = roundTrip(params, &p); err == nil {
			result, err = b.createPage(p)
		}
	case protocol.CommandTargetClosePage:
		var p protocol.ClosePageParams
		if err = roundTrip(params, &p); err == nil {
			err = b.closePage(p.PageID)
		}
	case protocol.CommandPageNavigate:
		var p protocol.NavigateParams
		if err = roundTrip(params, &p); err == nil {
			result, err = b.navigateCommand(p)
		}
	case protocol.CommandPageHandleJavaScriptDialog:
		var p protocol.HandleDialogParams
		if err = roundTrip(params, &p); err == nil {
			err = b.handleDialog(p)
		}
	case protocol.CommandPageCaptureScreenshot:
		var p protocol.CaptureScreenshotParams
		if err = roundTrip(params, &p); err == nil {
			result, err = b.screenshot(p)
		}
	case protocol.CommandDOMQuerySelectorAll:
		var p protocol.QuerySelectorAllParams
		if err = roundTrip(params, &p); err == nil {
			result, err = b.querySelectorAll(p)
		}
	case protocol.CommandDOMDescribeNode:
		var p protocol.NodeParams
		if err = roundTrip(params, &p); err == nil {
			result, err = b.describeNode(p)
		}
	case protocol.CommandDOMHitTest:
		var p protocol.HitTestParams
		if err = roundTrip(params, &p); err == nil {
			result, err = b.hitTest(p)
		}
	case protocol.CommandInputClick:
		var p protocol.ClickParams
		if err = roundTrip(params, &p); err == nil {
			err = b.click(ctx, p)
		}
	case protocol.CommandDOMFill:
		var p protocol.FillParams
		if err = roundTrip(params, &p); err == nil {
			err = b.fill(ctx, p)
		}
	case protocol.CommandDOMSetChecked:
		var p protocol.SetCheckedParams
		if err = roundTrip(params, &p); err == nil {
			err = b.setChecked(ctx, p)
		}
	case protocol.CommandDOMSelectOptions:
		var p protocol.SelectOptionsParams
		if err = roundTrip(params, &p); err == nil {
			result, err = b.selectOptions(ctx, p)
		}
	case protocol.CommandBrowserReadDownload:
		var p protocol.ReadDownloadParams
		if err = roundTrip(params, &p); err == nil {
			result, err = b.readDownload(p)
		}
	default:
		err = &protocol.Error{Code: protocol.ErrCodeMethodNotFound, Message: fmt.Sprintf("'%s' wasn't found", method)}
	}
	if err != nil {
		return err
	}
	if res == nil || result == nil {
		return nil
	}
	return roundTrip(result, res)
}

// roundTrip copies v into out through the wire encoding.
func roundTrip(v, out any) error {
	raw, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	return protocol.Decode(raw, out)
}

func protocolError(code int64, format string, args ...any) error {
	return &protocol.Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// emit queues an event for every matching subscriber. Callers hold b.mu.
func (b *Browser) emit(method protocol.MethodType, ev any) {
	raw, err := protocol.Encode(ev)
	if err != nil {
		panic(err)
	}
	msg := &protocol.Message{Method: method, Params: raw}
	for _, s := range b.subs {
		s.push(msg)
	}
}

// schedule runs fn under b.mu after d, unless the browser closed.
func (b *Browser) schedule(d time.Duration, fn func()) {
	if b.closed {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.closed {
			return
		}
		delete(b.timers, t)
		fn()
	})
	b.timers[t] = struct{}{}
}

func (b *Browser) createBrowserContext() (*protocol.CreateBrowserContextResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := protocol.BrowserContextID(uuid.NewString())
	b.contexts[id] = true
	return &protocol.CreateBrowserContextResult{BrowserContextID: id}, nil
}

func (b *Browser) createPage(p protocol.CreatePageParams) (*protocol.CreatePageResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.contexts[p.BrowserContextID] {
		return nil, protocolError(protocol.ErrCodeInvalidParams, "browser context %q not found", p.BrowserContextID)
	}
	pg := b.openPage(p.BrowserContextID, "", BlankURL)
	return &protocol.CreatePageResult{PageID: pg.id}, nil
}

// openPage creates a page and loads target into it. Callers hold b.mu.
func (b *Browser) openPage(ctxID protocol.BrowserContextID, opener protocol.PageID, target string) *page {
	pg := &page{
		id:       protocol.PageID(uuid.NewString()),
		ctxID:    ctxID,
		openerID: opener,
	}
	b.pages[pg.id] = pg
	b.emit(protocol.EventTargetPageCreated, &protocol.EventPageCreated{
		PageID:           pg.id,
		BrowserContextID: ctxID,
		OpenerID:         opener,
		URL:              target,
	})

	pg.main = b.attachFrame(pg, nil, nil)
	b.navigate(pg.main, BlankURL)
	if target != BlankURL {
		b.navigate(pg.main, target)
	}
	return pg
}

func (b *Browser) closePage(id protocol.PageID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pg, ok := b.pages[id]
	if !ok {
		return protocolError(protocol.ErrCodeTargetClosed, "page %q not found", id)
	}
	pg.closed = true
	if pg.dialog != nil {
		pg.dialog.close()
		pg.dialog = nil
	}
	b.detachFrame(pg.main)
	delete(b.pages, id)
	b.emit(protocol.EventTargetPageClosed, &protocol.EventPageClosed{PageID: id})

	return nil
}

func (b *Browser) attachFrame(pg *page, parent *frame, owner *html.Node) *frame {
	f := &frame{
		id:     protocol.FrameID(uuid.NewString()),
		page:   pg,
		parent: parent,
		owner:  owner,
	}
	b.frames[f.id] = f
	if parent != nil {
		parent.children = append(parent.children, f)
	}
	ev := &protocol.EventFrameAttached{PageID: pg.id, FrameID: f.id}
	if parent != nil {
		ev.ParentFrameID = parent.id
	}
	b.emit(protocol.EventPageFrameAttached, ev)
	return f
}

func (b *Browser) detachFrame(f *frame) {
	for _, c := range f.children {
		b.detachFrame(c)
	}
	f.children = nil
	f.detached = true
	delete(b.frames, f.id)
	b.emit(protocol.EventPageFrameDetached, &protocol.EventFrameDetached{PageID: f.page.id, FrameID: f.id})
}

func (b *Browser) resolveURL(base, ref string) string {
	if ref == BlankURL {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if bu, err := url.Parse(base); err == nil && base != BlankURL {
		return bu.ResolveReference(u).String()
	}
	return u.String()
}

func (b *Browser) lookupRoute(target string) (Route, bool) {
	if target == BlankURL {
		return Route{HTML: "<html><head></head><body></body></html>", Status: 200}, true
	}
	if r, ok := b.routes[target]; ok {
		return r, true
	}
	if r, ok := b.routes[strings.TrimSuffix(target, "/")]; ok {
		return r, true
	}
	r, ok := b.routes[target+"/"]
	return r, ok
}

func (b *Browser) navigateCommand(p protocol.NavigateParams) (*protocol.NavigateResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := b.frame(p.PageID, p.FrameID)
	if err != nil {
		return nil, err
	}
	target := b.resolveURL(f.url, p.URL)
	if _, ok := b.lookupRoute(target); !ok {
		return &protocol.NavigateResult{ErrorText: "net::ERR_NAME_NOT_RESOLVED"}, nil
	}
	return b.navigate(f, target), nil
}

// navigate replaces the document of f. Callers hold b.mu and have checked
// that target is routed.
func (b *Browser) navigate(f *frame, target string) *protocol.NavigateResult {
	route, ok := b.lookupRoute(target)
	if !ok {
		route = Route{HTML: "<html><body></body></html>", Status: 404}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(route.HTML))
	if err != nil {
		panic(err)
	}

	for _, c := range f.children {
		b.detachFrame(c)
	}
	f.children = nil

	loaderID := uuid.NewString()
	f.url = target
	f.loaderID = loaderID
	f.doc = doc
	f.ids = make(map[*html.Node]protocol.NodeID)
	f.nodes = make(map[protocol.NodeID]*html.Node)
	f.animating = make(map[*html.Node]int)

	b.emit(protocol.EventPageFrameNavigated, &protocol.EventFrameNavigated{
		PageID: f.page.id, FrameID: f.id, URL: target, LoaderID: loaderID,
	})
	b.lifecycle(f, protocol.LifecycleDOMContentLoaded)
	b.installTimers(f)

	doc.Find("iframe").Each(func(_ int, s *goquery.Selection) {
		child := b.attachFrame(f.page, f, s.Nodes[0])
		if srcdoc, ok := s.Attr("srcdoc"); ok {
			b.loadInline(child, srcdoc)
			return
		}
		src, _ := s.Attr("src")
		b.navigate(child, b.resolveURL(target, src))
	})

	finish := func() {
		b.lifecycle(f, protocol.LifecycleLoad)
		b.lifecycle(f, protocol.LifecycleNetworkIdle)
	}
	if route.LoadDelay > 0 {
		b.schedule(route.LoadDelay, func() {
			if f.loaderID == loaderID && !f.detached {
				finish()
			}
		})
	} else {
		finish()
	}

	return &protocol.NavigateResult{LoaderID: loaderID, Status: route.Status}
}

func (b *Browser) loadInline(f *frame, body string) {
	id := "inline:" + uuid.NewString()
	b.routes[id] = Route{HTML: body, Status: 200}
	b.navigate(f, id)
	delete(b.routes, id)
}

func (b *Browser) lifecycle(f *frame, name string) {
	b.emit(protocol.EventPageLifecycleEvent, &protocol.EventLifecycle{
		PageID: f.page.id, FrameID: f.id, LoaderID: f.loaderID, Name: name,
	})
}

// frame returns a live frame. Callers hold b.mu.
func (b *Browser) frame(pageID protocol.PageID, frameID protocol.FrameID) (*frame, error) {
	pg, ok := b.pages[pageID]
	if !ok || pg.closed {
		return nil, protocolError(protocol.ErrCodeTargetClosed, "page %q has been closed", pageID)
	}
	f, ok := b.frames[frameID]
	if !ok || f.detached || f.page != pg {
		return nil, protocolError(protocol.ErrCodeFrameDetached, "frame %q was detached", frameID)
	}
	return f, nil
}

func (b *Browser) nodeOf(f *frame, id protocol.NodeID) (*html.Node, error) {
	n, ok := f.nodes[id]
	if !ok {
		return nil, protocolError(protocol.ErrCodeNodeDetached, "node %d does not belong to the current document", id)
	}
	return n, nil
}

func (f *frame) root() *html.Node {
	return f.doc.Nodes[0]
}

func (f *frame) connected(n *html.Node) bool {
	return isAncestor(f.root(), n)
}

func (b *Browser) idOf(f *frame, n *html.Node) protocol.NodeID {
	if id, ok := f.ids[n]; ok {
		return id
	}
	b.nextNode++
	f.ids[n] = b.nextNode
	f.nodes[b.nextNode] = n
	return b.nextNode
}

// order indexes every connected element in document order.
func (f *frame) order() map[*html.Node]int {
	idx := make(map[*html.Node]int)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			idx[n] = len(idx)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(f.root())
	return idx
}

func (b *Browser) describe(f *frame, n *html.Node, order map[*html.Node]int) protocol.Node {
	node := protocol.Node{
		NodeID:     b.idOf(f, n),
		Order:      -1,
		Tag:        strings.ToLower(n.Data),
		Attributes: make(map[string]string, len(n.Attr)),
		Text:       textContent(n),
		Value:      nodeValue(n),
		Role:       implicitRole(n),
		Name:       accessibleName(n),
		Connected:  f.connected(n),
		Enabled:    !hasAttr(n, "disabled"),
		Editable:   isEditable(n),
		Checkable:  isCheckable(n),
		Checked:    hasAttr(n, "checked"),
		Complete:   n.Data == "img" && !hasAttr(n, "data-loading"),
	}
	for _, a := range n.Attr {
		node.Attributes[a.Key] = a.Val
	}
	if n.Parent != nil && n.Parent.Type == html.ElementNode {
		node.ParentID = b.idOf(f, n.Parent)
	}
	if i, ok := order[n]; ok {
		node.Order = i
	}
	for _, c := range f.children {
		if c.owner == n {
			node.ContentFrameID = c.id
		}
	}

	if node.Connected && !hiddenByMarkup(n) {
		box := &protocol.Rect{X: 0, Y: float64(node.Order * layoutRowHeight), Width: 100, Height: layoutRowHeight}
		if s, ok := attr(n, "data-box"); ok {
			if r, ok := parseBox(s); ok {
				box = r
			}
		}
		if left := f.animating[n]; left > 0 {
			box.X += float64(left * 10)
			f.animating[n] = left - 1
		}
		node.Box = box
		node.Visible = box.Width > 0 && box.Height > 0
	}

	return node
}

func (b *Browser) querySelectorAll(p protocol.QuerySelectorAllParams) (*protocol.QuerySelectorAllResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := b.frame(p.PageID, p.FrameID)
	if err != nil {
		return nil, err
	}
	m, err := cascadia.Compile(p.Selector)
	if err != nil {
		return nil, protocolError(protocol.ErrCodeInvalidParams, "'%s' is not a valid selector", p.Selector)
	}

	var found *goquery.Selection
	if len(p.Scope) == 0 {
		found = f.doc.FindMatcher(m)
	} else {
		var roots []*html.Node
		for _, id := range p.Scope {
			if n, ok := f.nodes[id]; ok && f.connected(n) {
				roots = append(roots, n)
			}
		}
		if len(roots) == 0 {
			return &protocol.QuerySelectorAllResult{Nodes: []protocol.Node{}}, nil
		}
		found = f.doc.FindNodes(roots...).FindMatcher(m)
	}

	order := f.order()
	nodes := make([]protocol.Node, 0, found.Length())
	for _, n := range found.Nodes {
		nodes = append(nodes, b.describe(f, n, order))
	}
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Order < nodes[j].Order })

	return &protocol.QuerySelectorAllResult{Nodes: nodes}, nil
}

func (b *Browser) describeNode(p protocol.NodeParams) (*protocol.DescribeNodeResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := b.frame(p.PageID, p.FrameID)
	if err != nil {
		return nil, err
	}
	n, err := b.nodeOf(f, p.NodeID)
	if err != nil {
		return nil, err
	}
	return &protocol.DescribeNodeResult{Node: b.describe(f, n, f.order())}, nil
}

// hitTest reports a node carrying data-covers, whose selector matches the
// target or one of its ancestors, as the receiver of pointer events.
func (b *Browser) hitTest(p protocol.HitTestParams) (*protocol.HitTestResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := b.frame(p.PageID, p.FrameID)
	if err != nil {
		return nil, err
	}
	target, err := b.nodeOf(f, p.NodeID)
	if err != nil {
		return nil, err
	}

	var cover *html.Node
	f.doc.Find("[data-covers]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		n := s.Nodes[0]
		if hiddenByMarkup(n) {
			return true
		}
		sel, _ := s.Attr("data-covers")
		m, err := cascadia.Compile(sel)
		if err != nil {
			return true
		}
		for el := target; el != nil && el.Type == html.ElementNode; el = el.Parent {
			if m.Match(el) {
				cover = n
				return false
			}
		}
		return true
	})
	if cover != nil && !isAncestor(target, cover) {
		return &protocol.HitTestResult{HitNodeID: b.idOf(f, cover)}, nil
	}
	return &protocol.HitTestResult{HitNodeID: p.NodeID, IsTarget: true}, nil
}

var errUnknownDownload = errors.New("unknown download")
