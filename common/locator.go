package common

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/liuxd6825/k6browser/log"
	"github.com/liuxd6825/k6browser/protocol"
)

// Locator represent a way to find element(s) on the page at any moment.
// It holds no element, every operation resolves the selector again.
type Locator struct {
	selector string

	frame *Frame

	log *log.Logger
}

func newLocator(f *Frame, selector string) *Locator {
	return &Locator{
		selector: selector,
		frame:    f,
		log:      f.log,
	}
}

// Selector returns the selector the locator resolves.
func (l *Locator) Selector() string { return l.selector }

// Frame returns the frame the locator resolves in.
func (l *Locator) Frame() *Frame { return l.frame }

// Page returns the page of the locator.
func (l *Locator) Page() *Page { return l.frame.page }

// Locator returns a locator for selector within the elements of l.
func (l *Locator) Locator(selector string) *Locator {
	return newLocator(l.frame, chainSelector(l.selector, selector))
}

// First returns a locator for the first matching element.
func (l *Locator) First() *Locator { return l.Nth(0) }

// Last returns a locator for the last matching element.
func (l *Locator) Last() *Locator { return l.Nth(-1) }

// Nth returns a locator for the nth matching element, zero based.
func (l *Locator) Nth(nth int) *Locator {
	return l.Locator(engineNth + "=" + strconv.Itoa(nth))
}

// Filter narrows the locator.
func (l *Locator) Filter(opts FilterOptions) *Locator {
	if opts.HasText == "" {
		return l
	}
	return l.Locator(engineHasText + "=" + opts.HasText)
}

// GetByText locates elements by text within the elements of l.
func (l *Locator) GetByText(text string, exact bool) *Locator {
	return l.Locator(textSelector(text, exact))
}

// GetByRole locates elements by ARIA role within the elements of l.
func (l *Locator) GetByRole(role string, opts *GetByRoleOptions) *Locator {
	return l.Locator(roleSelector(role, opts))
}

// GetByTestID locates elements by data-testid within the elements of l.
func (l *Locator) GetByTestID(id string) *Locator {
	return l.Locator(testIDSelector(id))
}

// ContentFrame creates and returns a new FrameLocator, which is useful when
// needing to interact with elements in an iframe and the current locator already
// points to the iframe.
func (l *Locator) ContentFrame() *FrameLocator {
	return newFrameLocator(l.frame, l.selector)
}

func (l *Locator) timeout(perCall time.Duration) time.Duration {
	return l.frame.page.timeoutSettings.resolve(perCall)
}

// Count APIs do not wait for the element to be present. It also does not set
// strict to true, allowing it to return the total number of elements matching
// the selector.
func (l *Locator) Count(ctx context.Context) (int, error) {
	l.log.Debugf("Locator:Count", "fid:%s furl:%q sel:%q", l.frame.ID(), l.frame.URL(), l.selector)

	res, err := l.frame.resolve(ctx, l.selector)
	if err != nil {
		return 0, fmt.Errorf("counting elements of %q: %w", l.selector, err)
	}
	return len(res.nodes), nil
}

// All returns a locator for each element matching at the time of the call.
func (l *Locator) All(ctx context.Context) ([]*Locator, error) {
	count, err := l.Count(ctx)
	if err != nil {
		return nil, err
	}
	locators := make([]*Locator, count)
	for i := 0; i < count; i++ {
		locators[i] = l.Nth(i)
	}
	return locators, nil
}

// AllTextContents returns the text of every matching element, without
// waiting.
func (l *Locator) AllTextContents(ctx context.Context) ([]string, error) {
	res, err := l.frame.resolve(ctx, l.selector)
	if err != nil {
		return nil, fmt.Errorf("reading text of %q: %w", l.selector, err)
	}
	texts := make([]string, len(res.nodes))
	for i := range res.nodes {
		texts[i] = res.nodes[i].Text
	}
	return texts, nil
}

// Click on an element using locator's selector with strict mode on.
func (l *Locator) Click(ctx context.Context, opts *ClickOptions) error {
	l.log.Debugf("Locator:Click", "fid:%s furl:%q sel:%q opts:%+v", l.frame.ID(), l.frame.URL(), l.selector, opts)
	ctx, span := l.frame.page.traceAPICall(ctx, "locator.click")
	defer span.End()

	clickCount := 1
	if opts != nil && opts.ClickCount > 0 {
		clickCount = opts.ClickCount
	}
	err := l.act(ctx, "click", opts.action(), pointerConditions, func(ctx context.Context, st *elementState) error {
		return st.frame.click(ctx, &st.node, clickCount)
	})
	if err != nil {
		return spanRecordErrorf(span, "clicking on %q: %w", l.selector, err)
	}

	return nil
}

// Fill the input element with text.
func (l *Locator) Fill(ctx context.Context, value string, opts *ActionOptions) error {
	l.log.Debugf("Locator:Fill", "fid:%s furl:%q sel:%q val:%q", l.frame.ID(), l.frame.URL(), l.selector, value)
	ctx, span := l.frame.page.traceAPICall(ctx, "locator.fill")
	defer span.End()

	err := l.act(ctx, "fill", actionOptions(opts), fillConditions, func(ctx context.Context, st *elementState) error {
		return st.frame.fill(ctx, st.node.NodeID, value)
	})
	if err != nil {
		return spanRecordErrorf(span, "filling %q with %q: %w", l.selector, value, err)
	}

	return nil
}

// Clear will clear the input field.
// This works with the Fill API and fills the input field with an empty string.
func (l *Locator) Clear(ctx context.Context, opts *ActionOptions) error {
	if err := l.Fill(ctx, "", opts); err != nil {
		return fmt.Errorf("clearing %q: %w", l.selector, err)
	}
	return nil
}

// Check the checkbox or radio button, unless it already is checked.
func (l *Locator) Check(ctx context.Context, opts *ActionOptions) error {
	return l.SetChecked(ctx, true, opts)
}

// Uncheck the checkbox, unless it already is unchecked.
func (l *Locator) Uncheck(ctx context.Context, opts *ActionOptions) error {
	return l.SetChecked(ctx, false, opts)
}

// SetChecked clicks the checkbox or radio button until its state is
// checked.
func (l *Locator) SetChecked(ctx context.Context, checked bool, opts *ActionOptions) error {
	l.log.Debugf("Locator:SetChecked", "fid:%s furl:%q sel:%q checked:%t", l.frame.ID(), l.frame.URL(), l.selector, checked)
	ctx, span := l.frame.page.traceAPICall(ctx, "locator.setChecked")
	defer span.End()

	op := "check"
	if !checked {
		op = "uncheck"
	}
	err := l.act(ctx, op, actionOptions(opts), pointerConditions, func(ctx context.Context, st *elementState) error {
		return st.frame.setChecked(ctx, &st.node, checked)
	})
	if err != nil {
		return spanRecordErrorf(span, "%sing %q: %w", op, l.selector, err)
	}

	return nil
}

// SelectOption selects the options of a select element matching values by
// value or label, and returns the values that ended up selected.
func (l *Locator) SelectOption(ctx context.Context, values []string, opts *ActionOptions) ([]string, error) {
	l.log.Debugf("Locator:SelectOption", "fid:%s furl:%q sel:%q values:%q", l.frame.ID(), l.frame.URL(), l.selector, values)
	ctx, span := l.frame.page.traceAPICall(ctx, "locator.selectOption")
	defer span.End()

	var selected []string
	err := l.act(ctx, "select option", actionOptions(opts), selectConditions, func(ctx context.Context, st *elementState) error {
		var err error
		selected, err = st.frame.selectOptions(ctx, &st.node, values)
		return err
	})
	if err != nil {
		return nil, spanRecordErrorf(span, "selecting %q in %q: %w", values, l.selector, err)
	}

	return selected, nil
}

// WaitFor waits until the element reaches the state, visible by default.
func (l *Locator) WaitFor(ctx context.Context, opts *WaitForOptions) error {
	state, err := opts.state()
	if err != nil {
		return err
	}
	var timeout time.Duration
	if opts != nil {
		timeout = opts.Timeout
	}
	l.log.Debugf("Locator:WaitFor", "fid:%s furl:%q sel:%q state:%s", l.frame.ID(), l.frame.URL(), l.selector, state)

	err = l.frame.page.waiter.poll(ctx, l.timeout(timeout), "waiting for "+string(state), l.selector,
		func(ctx context.Context) (bool, Condition, string, error) {
			res, err := l.frame.resolve(ctx, l.selector)
			if err != nil {
				return false, "", "", err
			}
			if n := len(res.nodes); n > 1 {
				return false, "", "", &StrictModeViolationError{Selector: l.selector, Count: n}
			}
			var node *protocol.Node
			if len(res.nodes) == 1 {
				node = &res.nodes[0]
			}
			switch state {
			case StateAttached:
				return node != nil, ConditionAttached, "0 elements", nil
			case StateDetached:
				return node == nil, ConditionDetached, "1 element", nil
			case StateVisible:
				if node == nil {
					return false, ConditionExists, "0 elements", nil
				}
				return node.Visible, ConditionVisible, "hidden", nil
			default:
				return node == nil || !node.Visible, ConditionHidden, "visible", nil
			}
		})
	if err != nil {
		return fmt.Errorf("waiting for %q to be %s: %w", l.selector, state, err)
	}

	return nil
}

// TextContent returns the text of the element.
func (l *Locator) TextContent(ctx context.Context, opts *TimeoutOptions) (string, error) {
	var text string
	err := l.read(ctx, "text content", opts, func(n *protocol.Node) error {
		text = n.Text
		return nil
	})
	return text, err
}

// InputValue returns the value of an input, textarea or select element.
func (l *Locator) InputValue(ctx context.Context, opts *TimeoutOptions) (string, error) {
	var value string
	err := l.read(ctx, "input value", opts, func(n *protocol.Node) error {
		switch n.Tag {
		case "input", "textarea", "select":
			value = n.Value
			return nil
		}
		return fmt.Errorf("%w: <%s> has no input value", errNotInput, n.Tag)
	})
	return value, err
}

// GetAttribute returns the value of the attribute and whether it is set.
func (l *Locator) GetAttribute(ctx context.Context, name string, opts *TimeoutOptions) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := l.read(ctx, "attribute "+name, opts, func(n *protocol.Node) error {
		value, ok = n.Attribute(name)
		return nil
	})
	return value, ok, err
}

// IsChecked reports whether the checkbox or radio button is checked.
func (l *Locator) IsChecked(ctx context.Context, opts *TimeoutOptions) (bool, error) {
	var checked bool
	err := l.read(ctx, "checked state", opts, func(n *protocol.Node) error {
		if !n.Checkable {
			return fmt.Errorf("%w: <%s>", errNotCheckable, n.Tag)
		}
		checked = n.Checked
		return nil
	})
	return checked, err
}

// IsEnabled reports whether the element is enabled.
func (l *Locator) IsEnabled(ctx context.Context, opts *TimeoutOptions) (bool, error) {
	var enabled bool
	err := l.read(ctx, "enabled state", opts, func(n *protocol.Node) error {
		enabled = n.Enabled
		return nil
	})
	return enabled, err
}

// BoundingBox returns the box of the element, nil when it is not rendered.
func (l *Locator) BoundingBox(ctx context.Context, opts *TimeoutOptions) (*BoundingBox, error) {
	var box *BoundingBox
	err := l.read(ctx, "bounding box", opts, func(n *protocol.Node) error {
		box = toBoundingBox(n.Box)
		return nil
	})
	return box, err
}

// IsVisible reports whether the element is visible, without waiting. No
// matching element is not visible.
func (l *Locator) IsVisible(ctx context.Context) (bool, error) {
	l.log.Debugf("Locator:IsVisible", "fid:%s furl:%q sel:%q", l.frame.ID(), l.frame.URL(), l.selector)

	res, err := l.frame.resolve(ctx, l.selector)
	if err != nil {
		return false, fmt.Errorf("checking visibility of %q: %w", l.selector, err)
	}
	switch n := len(res.nodes); {
	case n == 0:
		return false, nil
	case n > 1:
		return false, &StrictModeViolationError{Selector: l.selector, Count: n}
	}
	return res.nodes[0].Visible, nil
}

// IsHidden is the opposite of IsVisible.
func (l *Locator) IsHidden(ctx context.Context) (bool, error) {
	visible, err := l.IsVisible(ctx)
	return !visible, err
}

// ElementHandle waits for the element to be attached and returns a handle
// to it.
func (l *Locator) ElementHandle(ctx context.Context, opts *TimeoutOptions) (*ElementHandle, error) {
	var h *ElementHandle
	err := l.act(ctx, "element handle", &ActionOptions{Timeout: timeoutOf(opts)}, nil,
		func(_ context.Context, st *elementState) error {
			h = newElementHandle(st.frame, st.gen, st.node, l.selector)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("getting element handle of %q: %w", l.selector, err)
	}
	return h, nil
}

// ElementHandles returns handles to every matching element, without
// waiting.
func (l *Locator) ElementHandles(ctx context.Context) ([]*ElementHandle, error) {
	res, err := l.frame.resolve(ctx, l.selector)
	if err != nil {
		return nil, fmt.Errorf("getting element handles of %q: %w", l.selector, err)
	}
	handles := make([]*ElementHandle, len(res.nodes))
	for i := range res.nodes {
		handles[i] = newElementHandle(res.frame, res.gen, res.nodes[i], l.selector)
	}
	return handles, nil
}

// read waits for the single element of the locator to exist and passes
// its description to fn.
func (l *Locator) read(ctx context.Context, what string, opts *TimeoutOptions, fn func(*protocol.Node) error) error {
	l.log.Debugf("Locator:read", "fid:%s furl:%q sel:%q what:%s", l.frame.ID(), l.frame.URL(), l.selector, what)

	err := l.act(ctx, "reading "+what, &ActionOptions{Timeout: timeoutOf(opts)}, nil,
		func(_ context.Context, st *elementState) error {
			return fn(&st.node)
		})
	if err != nil {
		return fmt.Errorf("reading %s of %q: %w", what, l.selector, err)
	}
	return nil
}

// act waits for the selector to resolve to exactly one element meeting
// conds, then runs fn on it within the same poll. Strict mode violations
// fail at once. A node replaced before fn ran is resolved again, while an
// element whose frame was torn down fails with a DetachedElementError.
//
//nolint:cyclop
func (l *Locator) act(
	ctx context.Context, op string, opts *ActionOptions, conds []Condition,
	fn func(context.Context, *elementState) error,
) error {
	if opts.Force {
		conds = []Condition{ConditionAttached}
	}
	p := l.frame.page
	// Reads run without conditions and do not take the action lock.
	if len(conds) > 0 {
		p.actionMu.Lock()
		defer p.actionMu.Unlock()
	}

	boxes := &boxHistory{}
	return p.waiter.poll(ctx, l.timeout(opts.Timeout), op, l.selector,
		func(ctx context.Context) (bool, Condition, string, error) {
			res, err := l.frame.resolve(ctx, l.selector)
			if err != nil {
				return false, ConditionExists, "", err
			}
			switch n := len(res.nodes); {
			case n == 0:
				return false, ConditionExists, "0 elements", nil
			case n > 1:
				return false, "", "", &StrictModeViolationError{Selector: l.selector, Count: n}
			}

			st := &elementState{frame: res.frame, gen: res.gen, node: res.nodes[0], boxes: boxes}
			ok, cond, value, err := p.waiter.checkAll(ctx, st, conds)
			if err == nil && ok {
				if err = res.current(); err == nil {
					err = fn(ctx, st)
				}
			}
			if errors.Is(err, ErrFrameDetached) {
				return false, cond, value, &DetachedElementError{Selector: l.selector, Reason: "its frame was detached"}
			}
			return err == nil && ok, cond, value, err
		})
}
