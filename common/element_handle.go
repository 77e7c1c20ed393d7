package common

import (
	"context"
	"errors"
	"fmt"

	"github.com/liuxd6825/k6browser/log"
	"github.com/liuxd6825/k6browser/protocol"
)

// ElementHandle refers to one DOM node, as resolved at one point in time.
// It is never resolved again: once the node is removed, or its document
// replaced, every operation fails with a DetachedElementError.
type ElementHandle struct {
	frame    *Frame
	gen      int64
	node     protocol.Node
	selector string

	log *log.Logger
}

func newElementHandle(f *Frame, gen int64, node protocol.Node, selector string) *ElementHandle {
	return &ElementHandle{
		frame:    f,
		gen:      gen,
		node:     node,
		selector: selector,
		log:      f.log,
	}
}

// Frame returns the frame the element belongs to.
func (h *ElementHandle) Frame() *Frame { return h.frame }

// NodeID returns the id of the node in its document.
func (h *ElementHandle) NodeID() protocol.NodeID { return h.node.NodeID }

// Tag returns the lower case tag name of the element.
func (h *ElementHandle) Tag() string { return h.node.Tag }

func (h *ElementHandle) detached(reason string) error {
	return &DetachedElementError{Selector: h.selector, Reason: reason}
}

// asDetached turns the errors of a vanished node into a DetachedElementError.
func (h *ElementHandle) asDetached(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrFrameDetached):
		return h.detached("its frame was detached")
	case errors.Is(err, errDocumentChanged):
		return h.detached("its document was replaced")
	case errors.Is(err, errNodeStale):
		return h.detached("it was removed from the document")
	}
	return err
}

func (h *ElementHandle) current() error {
	r := resolution{frame: h.frame, gen: h.gen}
	return h.asDetached(r.current())
}

// describe returns the live state of the node.
func (h *ElementHandle) describe(ctx context.Context) (protocol.Node, error) {
	if err := h.current(); err != nil {
		return protocol.Node{}, err
	}
	node, err := h.frame.describeNode(ctx, h.node.NodeID)
	if err != nil {
		return protocol.Node{}, h.asDetached(err)
	}
	if !node.Connected {
		return protocol.Node{}, h.detached("it was removed from the document")
	}
	return node, nil
}

// act waits for the node to meet conds and runs fn on it.
func (h *ElementHandle) act(
	ctx context.Context, op string, opts *ActionOptions, conds []Condition,
	fn func(context.Context, *elementState) error,
) error {
	if opts.Force {
		conds = []Condition{ConditionAttached}
	}
	p := h.frame.page
	p.actionMu.Lock()
	defer p.actionMu.Unlock()

	boxes := &boxHistory{}
	return p.waiter.poll(ctx, p.timeoutSettings.resolve(opts.Timeout), op, h.selector,
		func(ctx context.Context) (bool, Condition, string, error) {
			node, err := h.describe(ctx)
			if err != nil {
				return false, ConditionAttached, "", err
			}
			st := &elementState{frame: h.frame, gen: h.gen, node: node, boxes: boxes}
			ok, cond, value, err := p.waiter.checkAll(ctx, st, conds)
			if err == nil && ok {
				if err = h.current(); err == nil {
					err = fn(ctx, st)
				}
			}
			return err == nil && ok, cond, value, h.asDetached(err)
		})
}

// Click clicks the element once it is ready for pointer events.
func (h *ElementHandle) Click(ctx context.Context, opts *ClickOptions) error {
	h.log.Debugf("ElementHandle:Click", "fid:%s nid:%d", h.frame.ID(), h.node.NodeID)
	ctx, span := h.frame.page.traceAPICall(ctx, "elementHandle.click")
	defer span.End()

	clickCount := 1
	if opts != nil && opts.ClickCount > 0 {
		clickCount = opts.ClickCount
	}
	err := h.act(ctx, "click", opts.action(), pointerConditions, func(ctx context.Context, st *elementState) error {
		return st.frame.click(ctx, &st.node, clickCount)
	})
	if err != nil {
		return spanRecordErrorf(span, "clicking on element: %w", err)
	}
	return nil
}

// Fill replaces the value of the element.
func (h *ElementHandle) Fill(ctx context.Context, value string, opts *ActionOptions) error {
	h.log.Debugf("ElementHandle:Fill", "fid:%s nid:%d val:%q", h.frame.ID(), h.node.NodeID, value)

	err := h.act(ctx, "fill", actionOptions(opts), fillConditions, func(ctx context.Context, st *elementState) error {
		return st.frame.fill(ctx, st.node.NodeID, value)
	})
	if err != nil {
		return fmt.Errorf("filling element with %q: %w", value, err)
	}
	return nil
}

// Check checks the checkbox or radio button.
func (h *ElementHandle) Check(ctx context.Context, opts *ActionOptions) error {
	return h.setChecked(ctx, true, opts)
}

// Uncheck unchecks the checkbox.
func (h *ElementHandle) Uncheck(ctx context.Context, opts *ActionOptions) error {
	return h.setChecked(ctx, false, opts)
}

func (h *ElementHandle) setChecked(ctx context.Context, checked bool, opts *ActionOptions) error {
	err := h.act(ctx, "check", actionOptions(opts), pointerConditions, func(ctx context.Context, st *elementState) error {
		return st.frame.setChecked(ctx, &st.node, checked)
	})
	if err != nil {
		return fmt.Errorf("setting checked state to %t: %w", checked, err)
	}
	return nil
}

// SelectOption selects options of the select element by value or label.
func (h *ElementHandle) SelectOption(ctx context.Context, values []string, opts *ActionOptions) ([]string, error) {
	var selected []string
	err := h.act(ctx, "select option", actionOptions(opts), selectConditions, func(ctx context.Context, st *elementState) error {
		var err error
		selected, err = st.frame.selectOptions(ctx, &st.node, values)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("selecting %q: %w", values, err)
	}
	return selected, nil
}

// TextContent returns the current text of the element.
func (h *ElementHandle) TextContent(ctx context.Context) (string, error) {
	node, err := h.describe(ctx)
	if err != nil {
		return "", fmt.Errorf("reading text content: %w", err)
	}
	return node.Text, nil
}

// GetAttribute returns the current value of the attribute and whether it
// is set.
func (h *ElementHandle) GetAttribute(ctx context.Context, name string) (string, bool, error) {
	node, err := h.describe(ctx)
	if err != nil {
		return "", false, fmt.Errorf("reading attribute %q: %w", name, err)
	}
	v, ok := node.Attribute(name)
	return v, ok, nil
}

// InputValue returns the value of an input, textarea or select element.
func (h *ElementHandle) InputValue(ctx context.Context) (string, error) {
	node, err := h.describe(ctx)
	if err != nil {
		return "", fmt.Errorf("reading input value: %w", err)
	}
	switch node.Tag {
	case "input", "textarea", "select":
		return node.Value, nil
	}
	return "", fmt.Errorf("%w: <%s> has no input value", errNotInput, node.Tag)
}

// IsChecked reports whether the checkbox or radio button is checked.
func (h *ElementHandle) IsChecked(ctx context.Context) (bool, error) {
	node, err := h.describe(ctx)
	if err != nil {
		return false, fmt.Errorf("reading checked state: %w", err)
	}
	if !node.Checkable {
		return false, fmt.Errorf("%w: <%s>", errNotCheckable, node.Tag)
	}
	return node.Checked, nil
}

// IsVisible reports whether the element is rendered.
func (h *ElementHandle) IsVisible(ctx context.Context) (bool, error) {
	node, err := h.describe(ctx)
	if err != nil {
		return false, fmt.Errorf("reading visibility: %w", err)
	}
	return node.Visible, nil
}

// IsEnabled reports whether the element is enabled.
func (h *ElementHandle) IsEnabled(ctx context.Context) (bool, error) {
	node, err := h.describe(ctx)
	if err != nil {
		return false, fmt.Errorf("reading enabled state: %w", err)
	}
	return node.Enabled, nil
}

// Complete reports whether an image element finished loading. Broken
// images never complete.
func (h *ElementHandle) Complete(ctx context.Context) (bool, error) {
	node, err := h.describe(ctx)
	if err != nil {
		return false, fmt.Errorf("reading load state: %w", err)
	}
	return node.Complete, nil
}

// BoundingBox returns the box of the element, nil when it is not rendered.
func (h *ElementHandle) BoundingBox(ctx context.Context) (*BoundingBox, error) {
	node, err := h.describe(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading bounding box: %w", err)
	}
	return toBoundingBox(node.Box), nil
}

// Query returns the first element matching selector within the element,
// nil when there is none.
func (h *ElementHandle) Query(ctx context.Context, selector string) (*ElementHandle, error) {
	handles, err := h.QueryAll(ctx, selector)
	if err != nil || len(handles) == 0 {
		return nil, err
	}
	return handles[0], nil
}

// QueryAll returns the elements matching selector within the element.
func (h *ElementHandle) QueryAll(ctx context.Context, selector string) ([]*ElementHandle, error) {
	h.log.Debugf("ElementHandle:QueryAll", "fid:%s nid:%d sel:%q", h.frame.ID(), h.node.NodeID, selector)

	sel, err := NewSelector(selector)
	if err != nil {
		return nil, err
	}
	node, err := h.describe(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying %q: %w", selector, err)
	}
	res, err := h.frame.resolveSelector(ctx, sel, []protocol.Node{node})
	if err != nil {
		return nil, fmt.Errorf("querying %q: %w", selector, h.asDetached(err))
	}
	handles := make([]*ElementHandle, len(res.nodes))
	for i := range res.nodes {
		handles[i] = newElementHandle(res.frame, res.gen, res.nodes[i], chainSelector(h.selector, selector))
	}
	return handles, nil
}

// ContentFrame returns the frame of an iframe element, nil for other
// elements.
func (h *ElementHandle) ContentFrame(ctx context.Context) (*Frame, error) {
	node, err := h.describe(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting content frame: %w", err)
	}
	if node.ContentFrameID == "" {
		return nil, nil
	}
	return h.frame.manager.getFrameByID(node.ContentFrameID), nil
}

func toBoundingBox(r *protocol.Rect) *BoundingBox {
	if r == nil {
		return nil
	}
	return &BoundingBox{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
}

var errCheckStateUnchanged = errors.New("clicking the element did not change its checked state")

func (f *Frame) click(ctx context.Context, node *protocol.Node, clickCount int) error {
	if node.Box == nil {
		return fmt.Errorf("clicking node %d: element is not rendered", node.NodeID)
	}
	x, y := node.Box.Center()
	err := f.execute(ctx, protocol.CommandInputClick, &protocol.ClickParams{
		PageID:     f.page.id,
		FrameID:    f.id,
		NodeID:     node.NodeID,
		X:          x,
		Y:          y,
		ClickCount: clickCount,
	}, nil)
	if err != nil {
		return fmt.Errorf("clicking node %d: %w", node.NodeID, err)
	}
	return nil
}

func (f *Frame) fill(ctx context.Context, id protocol.NodeID, value string) error {
	err := f.execute(ctx, protocol.CommandDOMFill, &protocol.FillParams{
		PageID: f.page.id, FrameID: f.id, NodeID: id, Value: value,
	}, nil)
	if err != nil {
		return fmt.Errorf("filling node %d: %w", id, err)
	}
	return nil
}

// setChecked clicks a checkbox or radio button whose state differs from
// checked, then verifies the click took effect.
func (f *Frame) setChecked(ctx context.Context, node *protocol.Node, checked bool) error {
	if !node.Checkable {
		return fmt.Errorf("%w: <%s>", errNotCheckable, node.Tag)
	}
	if node.Checked == checked {
		return nil
	}
	if err := f.click(ctx, node, 1); err != nil {
		return err
	}
	after, err := f.describeNode(ctx, node.NodeID)
	if err != nil {
		return err
	}
	if after.Checked != checked {
		return errCheckStateUnchanged
	}
	return nil
}

func (f *Frame) selectOptions(ctx context.Context, node *protocol.Node, values []string) ([]string, error) {
	if node.Tag != "select" {
		return nil, fmt.Errorf("%w: <%s>", errNotSelect, node.Tag)
	}
	var res protocol.SelectOptionsResult
	err := f.execute(ctx, protocol.CommandDOMSelectOptions, &protocol.SelectOptionsParams{
		PageID: f.page.id, FrameID: f.id, NodeID: node.NodeID, Values: values,
	}, &res)
	if err != nil {
		return nil, fmt.Errorf("selecting options of node %d: %w", node.NodeID, err)
	}
	return res.Selected, nil
}
