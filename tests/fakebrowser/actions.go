package fakebrowser

import (
	"bytes"
	"context"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/liuxd6825/k6browser/protocol"
)

// Clicking an element runs the behavior declared on it, or on its closest
// ancestor declaring one:
//
//	data-action="alert|confirm|prompt"  opens a dialog with data-message and
//	                                    data-default; on close the text in
//	                                    data-accept-text or data-dismiss-text
//	                                    ("%s" is the prompt answer) is written
//	                                    to data-result (default "#result")
//	data-action="popup"                 opens data-href in a new page
//	data-action="download"              downloads data-content as data-filename
//	data-action="append"                appends data-html to data-target
//	data-action="remove"                removes data-target, or the element
//	data-action="show"                  unhides data-target
//	data-action="text"                  sets the text of data-target to data-text
//	data-action="enable"                removes disabled from data-target
//	data-action="navigate"              navigates the frame to data-href
//
// data-delay postpones any action. Links navigate, or open a popup with
// target=_blank, or download with a download attribute. Checkboxes and radio
// buttons toggle.
//
// On load, elements carrying data-attach-after are detached and inserted
// back after the delay, data-show-after, data-enable-after and
// data-remove-after unhide, enable and remove elements after a delay, and
// data-animate="N" moves the element box on its next N reads.

func (b *Browser) waitDialog(ctx context.Context, id protocol.PageID) error {
	b.mu.Lock()
	var d *dialog
	if pg, ok := b.pages[id]; ok {
		d = pg.dialog
	}
	b.mu.Unlock()

	if d == nil {
		return nil
	}
	select {
	case <-d.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return protocol.ErrTransportClosed
	}
}

// liveNode returns the connected node targeted by a command. Callers hold b.mu.
func (b *Browser) liveNode(pageID protocol.PageID, frameID protocol.FrameID, id protocol.NodeID) (*frame, *html.Node, error) {
	f, err := b.frame(pageID, frameID)
	if err != nil {
		return nil, nil, err
	}
	n, err := b.nodeOf(f, id)
	if err != nil {
		return nil, nil, err
	}
	if !f.connected(n) {
		return nil, nil, protocolError(protocol.ErrCodeNodeDetached, "node %d is not attached to the DOM", id)
	}
	return f, n, nil
}

func (b *Browser) click(ctx context.Context, p protocol.ClickParams) error {
	if err := b.waitDialog(ctx, p.PageID); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	f, n, err := b.liveNode(p.PageID, p.FrameID, p.NodeID)
	if err != nil {
		return err
	}
	clicks, _ := strconv.Atoi(attrOr(n, "data-clicks", "0"))
	setAttr(n, "data-clicks", strconv.Itoa(clicks+max(p.ClickCount, 1)))

	for el := n; el != nil && el.Type == html.ElementNode; el = el.Parent {
		if action, ok := attr(el, "data-action"); ok {
			b.runAction(f, el, action)
			return nil
		}
		if el.Data == "a" {
			if href, ok := attr(el, "href"); ok {
				b.followLink(f, el, href)
				return nil
			}
		}
		if isCheckable(el) {
			if hasAttr(el, "disabled") {
				return nil
			}
			b.check(f, el, inputType(el) == "radio" || !hasAttr(el, "checked"))
			return nil
		}
	}
	return nil
}

func attrOr(n *html.Node, name, def string) string {
	if v, ok := attr(n, name); ok {
		return v
	}
	return def
}

func (b *Browser) runAction(f *frame, el *html.Node, action string) {
	delay, _ := time.ParseDuration(attrOr(el, "data-delay", "0s"))
	if delay <= 0 {
		b.perform(f, el, action)
		return
	}
	loaderID := f.loaderID
	b.schedule(delay, func() {
		if f.loaderID == loaderID && !f.detached {
			b.perform(f, el, action)
		}
	})
}

//nolint:cyclop
func (b *Browser) perform(f *frame, el *html.Node, action string) {
	switch action {
	case "alert", "confirm", "prompt":
		b.openDialog(f, el, action)
	case "popup":
		href, _ := attr(el, "data-href")
		b.openPage(f.page.ctxID, f.page.id, b.resolveURL(f.url, href))
	case "download":
		href, _ := attr(el, "data-href")
		b.startDownload(f, el, b.resolveURL(f.url, href))
	case "append":
		for _, t := range b.targets(f, el) {
			appendHTML(t, attrOr(el, "data-html", ""))
		}
	case "remove":
		for _, t := range b.targets(f, el) {
			if t.Parent != nil {
				t.Parent.RemoveChild(t)
			}
		}
	case "show":
		for _, t := range b.targets(f, el) {
			show(t)
		}
	case "text":
		for _, t := range b.targets(f, el) {
			setTextContent(t, attrOr(el, "data-text", ""))
		}
	case "enable":
		for _, t := range b.targets(f, el) {
			removeAttr(t, "disabled")
		}
	case "navigate":
		href, _ := attr(el, "data-href")
		if target := b.resolveURL(f.url, href); b.routed(target) {
			b.navigate(f, target)
		}
	}
}

func (b *Browser) routed(target string) bool {
	_, ok := b.lookupRoute(target)
	return ok
}

func (b *Browser) targets(f *frame, el *html.Node) []*html.Node {
	sel, ok := attr(el, "data-target")
	if !ok {
		return []*html.Node{el}
	}
	return f.doc.Find(sel).Nodes
}

func appendHTML(parent *html.Node, fragment string) {
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), ctx)
	if err != nil {
		return
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
}

func show(n *html.Node) {
	removeAttr(n, "hidden")
	if style, ok := attr(n, "style"); ok {
		style = strings.ReplaceAll(style, "display:none", "")
		style = strings.ReplaceAll(style, "display: none", "")
		setAttr(n, "style", style)
	}
}

func (b *Browser) followLink(f *frame, el *html.Node, href string) {
	target := b.resolveURL(f.url, href)
	switch {
	case hasAttr(el, "download"):
		b.startDownload(f, el, target)
	case attrOr(el, "target", "") == "_blank":
		b.openPage(f.page.ctxID, f.page.id, target)
	case b.routed(target):
		b.navigate(f, target)
	}
}

func (b *Browser) check(f *frame, el *html.Node, checked bool) {
	if inputType(el) == "radio" && checked {
		name, _ := attr(el, "name")
		f.doc.Find(`input[type="radio"]`).Each(func(_ int, s *goquery.Selection) {
			if n, _ := s.Attr("name"); n == name {
				s.RemoveAttr("checked")
			}
		})
	}
	if checked {
		setAttr(el, "checked", "")
	} else {
		removeAttr(el, "checked")
	}
}

func (b *Browser) installTimers(f *frame) {
	loaderID := f.loaderID
	later := func(n *html.Node, name string, fn func()) {
		v, ok := attr(n, name)
		if !ok {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return
		}
		b.schedule(d, func() {
			if f.loaderID == loaderID && !f.detached {
				fn()
			}
		})
	}

	f.doc.Find("[data-attach-after]").Each(func(_ int, s *goquery.Selection) {
		n := s.Nodes[0]
		parent := n.Parent
		if parent == nil {
			return
		}
		parent.RemoveChild(n)
		later(n, "data-attach-after", func() { parent.AppendChild(n) })
	})
	f.doc.Find("[data-show-after]").Each(func(_ int, s *goquery.Selection) {
		n := s.Nodes[0]
		later(n, "data-show-after", func() { show(n) })
	})
	f.doc.Find("[data-enable-after]").Each(func(_ int, s *goquery.Selection) {
		n := s.Nodes[0]
		later(n, "data-enable-after", func() { removeAttr(n, "disabled") })
	})
	f.doc.Find("[data-remove-after]").Each(func(_ int, s *goquery.Selection) {
		n := s.Nodes[0]
		later(n, "data-remove-after", func() {
			if n.Parent != nil {
				n.Parent.RemoveChild(n)
			}
		})
	})
	f.doc.Find("[data-animate]").Each(func(_ int, s *goquery.Selection) {
		v, _ := s.Attr("data-animate")
		if count, err := strconv.Atoi(v); err == nil {
			f.animating[s.Nodes[0]] = count
		}
	})
}

func (b *Browser) fill(ctx context.Context, p protocol.FillParams) error {
	if err := b.waitDialog(ctx, p.PageID); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	_, n, err := b.liveNode(p.PageID, p.FrameID, p.NodeID)
	if err != nil {
		return err
	}
	if !isEditable(n) {
		return protocolError(protocol.ErrCodeInvalidParams, "element is not an <input>, <textarea> or [contenteditable] element")
	}
	if n.Data == "input" {
		setAttr(n, "value", p.Value)
	} else {
		setTextContent(n, p.Value)
	}
	return nil
}

func (b *Browser) setChecked(ctx context.Context, p protocol.SetCheckedParams) error {
	if err := b.waitDialog(ctx, p.PageID); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	f, n, err := b.liveNode(p.PageID, p.FrameID, p.NodeID)
	if err != nil {
		return err
	}
	if !isCheckable(n) {
		return protocolError(protocol.ErrCodeInvalidParams, "not a checkbox or radio button")
	}
	if inputType(n) == "radio" && !p.Checked {
		return protocolError(protocol.ErrCodeInvalidParams, "cannot uncheck radio buttons")
	}
	b.check(f, n, p.Checked)
	return nil
}

func (b *Browser) selectOptions(ctx context.Context, p protocol.SelectOptionsParams) (*protocol.SelectOptionsResult, error) {
	if err := b.waitDialog(ctx, p.PageID); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	_, n, err := b.liveNode(p.PageID, p.FrameID, p.NodeID)
	if err != nil {
		return nil, err
	}
	if n.Data != "select" {
		return nil, protocolError(protocol.ErrCodeInvalidParams, "element is not a <select> element")
	}

	multiple := hasAttr(n, "multiple")
	selected := []string{}
	for _, opt := range options(n) {
		removeAttr(opt, "selected")
	}
	for _, v := range p.Values {
		for _, opt := range options(n) {
			if optionValue(opt) != v && normalizeSpace(textContent(opt)) != v {
				continue
			}
			if !hasAttr(opt, "selected") {
				setAttr(opt, "selected", "")
				selected = append(selected, optionValue(opt))
			}
			break
		}
		if !multiple && len(selected) > 0 {
			break
		}
	}
	return &protocol.SelectOptionsResult{Selected: selected}, nil
}

func (b *Browser) screenshot(p protocol.CaptureScreenshotParams) (*protocol.CaptureScreenshotResult, error) {
	b.mu.Lock()
	pg, ok := b.pages[p.PageID]
	var pageURL string
	if ok {
		pageURL = pg.main.url
	}
	b.mu.Unlock()

	if !ok {
		return nil, protocolError(protocol.ErrCodeTargetClosed, "page %q has been closed", p.PageID)
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(pageURL))
	sum := h.Sum32()
	fill := color.RGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 0xff}

	height := 48
	if p.FullPage {
		height = 96
	}
	img := image.NewRGBA(image.Rect(0, 0, 64, height))
	for y := 0; y < height; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return &protocol.CaptureScreenshotResult{Data: buf.Bytes()}, nil
}

type dialog struct {
	id            protocol.DialogID
	typ           string
	message       string
	defaultPrompt string
	frame         *frame
	el            *html.Node
	closed        chan struct{}
	once          sync.Once
}

func (d *dialog) close() {
	d.once.Do(func() { close(d.closed) })
}

func (b *Browser) openDialog(f *frame, el *html.Node, typ string) {
	d := &dialog{
		id:            protocol.DialogID(uuid.NewString()),
		typ:           typ,
		message:       attrOr(el, "data-message", ""),
		defaultPrompt: attrOr(el, "data-default", ""),
		frame:         f,
		el:            el,
		closed:        make(chan struct{}),
	}
	f.page.dialog = d
	b.emit(protocol.EventPageJavascriptDialogOpening, &protocol.EventDialogOpening{
		PageID:        f.page.id,
		DialogID:      d.id,
		Type:          typ,
		Message:       d.message,
		DefaultPrompt: d.defaultPrompt,
	})
}

func (b *Browser) handleDialog(p protocol.HandleDialogParams) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pg, ok := b.pages[p.PageID]
	if !ok {
		return protocolError(protocol.ErrCodeTargetClosed, "page %q has been closed", p.PageID)
	}
	d := pg.dialog
	if d == nil || d.id != p.DialogID {
		return protocolError(protocol.ErrCodeNoDialog, "no dialog is showing")
	}
	pg.dialog = nil

	var text string
	if p.Accept {
		text = strings.ReplaceAll(attrOr(d.el, "data-accept-text", ""), "%s", p.PromptText)
	} else if v, ok := attr(d.el, "data-dismiss-text"); ok {
		text = strings.ReplaceAll(v, "%s", "null")
	} else if d.typ == "alert" {
		text = attrOr(d.el, "data-accept-text", "")
	}
	if text != "" && !d.frame.detached {
		d.frame.doc.Find(attrOr(d.el, "data-result", "#result")).Each(func(_ int, s *goquery.Selection) {
			setTextContent(s.Nodes[0], text)
		})
	}

	d.close()
	b.emit(protocol.EventPageJavascriptDialogClosed, &protocol.EventDialogClosed{
		PageID: p.PageID, DialogID: d.id, Accepted: p.Accept,
	})
	return nil
}

type download struct {
	guid     string
	url      string
	filename string
	data     []byte
	state    string
}

// downloadDuration is how long a download stays in progress.
const downloadDuration = 10 * time.Millisecond

func (b *Browser) startDownload(f *frame, el *html.Node, target string) {
	name := attrOr(el, "data-filename", attrOr(el, "download", ""))
	if name == "" {
		name = path.Base(target)
	}
	dl := &download{
		guid:     uuid.NewString(),
		url:      target,
		filename: name,
		data:     []byte(attrOr(el, "data-content", "")),
		state:    protocol.DownloadInProgress,
	}
	b.downloads[dl.guid] = dl
	b.emit(protocol.EventPageDownloadWillBegin, &protocol.EventDownloadWillBegin{
		PageID: f.page.id, FrameID: f.id, GUID: dl.guid, URL: target, SuggestedFilename: name,
	})
	b.schedule(downloadDuration, func() {
		dl.state = protocol.DownloadCompleted
		b.emit(protocol.EventPageDownloadProgress, &protocol.EventDownloadProgress{
			GUID: dl.guid, State: dl.state, ReceivedBytes: int64(len(dl.data)),
		})
	})
}

func (b *Browser) readDownload(p protocol.ReadDownloadParams) (*protocol.ReadDownloadResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dl, ok := b.downloads[p.GUID]
	if !ok {
		return nil, protocolError(protocol.ErrCodeInvalidParams, "%s: %s", errUnknownDownload, p.GUID)
	}
	if dl.state != protocol.DownloadCompleted {
		return nil, protocolError(protocol.ErrCodeServer, "download %s is %s", p.GUID, dl.state)
	}
	return &protocol.ReadDownloadResult{Data: dl.data}, nil
}

// subscriber buffers events without bound so emitting never blocks.
type subscriber struct {
	methods map[protocol.MethodType]bool
	mu      sync.Mutex
	queue   []*protocol.Message
	notify  chan struct{}
	out     chan *protocol.Message
}

func newSubscriber(methods []protocol.MethodType) *subscriber {
	s := &subscriber{
		methods: make(map[protocol.MethodType]bool, len(methods)),
		notify:  make(chan struct{}, 1),
		out:     make(chan *protocol.Message),
	}
	for _, m := range methods {
		s.methods[m] = true
	}
	return s
}

func (s *subscriber) push(msg *protocol.Message) {
	if len(s.methods) > 0 && !s.methods[msg.Method] {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) run(ctx context.Context, stop <-chan struct{}) {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
		msg := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- msg:
		case <-ctx.Done():
			return
		case <-stop:
			return
		}
	}
}
