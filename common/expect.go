package common

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/liuxd6825/k6browser/protocol"
)

// AssertOptions tune a single assertion.
type AssertOptions struct {
	Timeout time.Duration
}

func (o *AssertOptions) timeout() time.Duration {
	if o == nil {
		return 0
	}
	return o.Timeout
}

// observeFunc observes the live state once. It returns the actual value for
// the failure report and whether the positive form of the matcher holds.
type observeFunc func(ctx context.Context) (actual string, ok bool, err error)

// LocatorAssertions retry a predicate over a locator until it holds or the
// timeout elapses.
type LocatorAssertions struct {
	locator *Locator
	negated bool
}

// Expect starts an assertion on l.
func Expect(l *Locator) *LocatorAssertions {
	return &LocatorAssertions{locator: l}
}

// Not negates the next matcher.
func (a *LocatorAssertions) Not() *LocatorAssertions {
	return &LocatorAssertions{locator: a.locator, negated: !a.negated}
}

// ToHaveText passes when the element text equals expected, white space
// being normalized on both sides.
func (a *LocatorAssertions) ToHaveText(ctx context.Context, expected string, opts *AssertOptions) error {
	want := normalizeWhiteSpace(expected)
	return a.eventually(ctx, "toHaveText", strconv.Quote(want), opts, a.single(func(n *protocol.Node) (string, bool) {
		got := normalizeWhiteSpace(n.Text)
		return strconv.Quote(got), got == want
	}))
}

// ToMatchText passes when the element text matches re.
func (a *LocatorAssertions) ToMatchText(ctx context.Context, re *regexp.Regexp, opts *AssertOptions) error {
	return a.eventually(ctx, "toMatchText", "/"+re.String()+"/", opts, a.single(func(n *protocol.Node) (string, bool) {
		return strconv.Quote(n.Text), re.MatchString(n.Text)
	}))
}

// ToContainText passes when the element text contains expected.
func (a *LocatorAssertions) ToContainText(ctx context.Context, expected string, opts *AssertOptions) error {
	want := normalizeWhiteSpace(expected)
	return a.eventually(ctx, "toContainText", strconv.Quote(want), opts, a.single(func(n *protocol.Node) (string, bool) {
		got := normalizeWhiteSpace(n.Text)
		return strconv.Quote(got), strings.Contains(got, want)
	}))
}

// ToHaveCount passes when the locator matches exactly n elements. It is
// the only matcher that tolerates several matches.
func (a *LocatorAssertions) ToHaveCount(ctx context.Context, n int, opts *AssertOptions) error {
	l := a.locator
	return a.eventually(ctx, "toHaveCount", strconv.Itoa(n), opts, func(ctx context.Context) (string, bool, error) {
		res, err := l.frame.resolve(ctx, l.selector)
		if err != nil {
			return "", false, err
		}
		return strconv.Itoa(len(res.nodes)), len(res.nodes) == n, nil
	})
}

// ToBeChecked passes when the checkbox or radio is checked.
func (a *LocatorAssertions) ToBeChecked(ctx context.Context, opts *AssertOptions) error {
	return a.eventually(ctx, "toBeChecked", "checked", opts, a.single(func(n *protocol.Node) (string, bool) {
		if n.Checked {
			return "checked", true
		}
		return "unchecked", false
	}))
}

// ToBeEnabled passes when the element is enabled.
func (a *LocatorAssertions) ToBeEnabled(ctx context.Context, opts *AssertOptions) error {
	return a.eventually(ctx, "toBeEnabled", "enabled", opts, a.single(func(n *protocol.Node) (string, bool) {
		if n.Enabled {
			return "enabled", true
		}
		return "disabled", false
	}))
}

// ToBeVisible passes when the element exists and is visible.
func (a *LocatorAssertions) ToBeVisible(ctx context.Context, opts *AssertOptions) error {
	return a.eventually(ctx, "toBeVisible", "visible", opts, a.visibility(true))
}

// ToBeHidden passes when the element is not visible or does not exist.
func (a *LocatorAssertions) ToBeHidden(ctx context.Context, opts *AssertOptions) error {
	return a.eventually(ctx, "toBeHidden", "hidden", opts, a.visibility(false))
}

// ToHaveAttribute passes when the element carries attribute name with
// value.
func (a *LocatorAssertions) ToHaveAttribute(ctx context.Context, name, value string, opts *AssertOptions) error {
	expected := fmt.Sprintf("%s=%q", name, value)
	return a.eventually(ctx, "toHaveAttribute", expected, opts, a.single(func(n *protocol.Node) (string, bool) {
		v, ok := n.Attribute(name)
		if !ok {
			return "no " + name + " attribute", false
		}
		return fmt.Sprintf("%s=%q", name, v), v == value
	}))
}

// ToHaveValue passes when the input value equals value.
func (a *LocatorAssertions) ToHaveValue(ctx context.Context, value string, opts *AssertOptions) error {
	return a.eventually(ctx, "toHaveValue", strconv.Quote(value), opts, a.single(func(n *protocol.Node) (string, bool) {
		return strconv.Quote(n.Value), n.Value == value
	}))
}

// single observes the one element of the locator. No element is retried and
// several are a strict mode violation.
func (a *LocatorAssertions) single(match func(*protocol.Node) (string, bool)) observeFunc {
	l := a.locator
	return func(ctx context.Context) (string, bool, error) {
		res, err := l.frame.resolve(ctx, l.selector)
		if err != nil {
			return "", false, err
		}
		switch n := len(res.nodes); {
		case n == 0:
			return "", false, &NotFoundError{Selector: l.selector}
		case n > 1:
			return "", false, &StrictModeViolationError{Selector: l.selector, Count: n}
		}
		actual, ok := match(&res.nodes[0])
		return actual, ok, nil
	}
}

func (a *LocatorAssertions) visibility(visible bool) observeFunc {
	l := a.locator
	return func(ctx context.Context) (string, bool, error) {
		res, err := l.frame.resolve(ctx, l.selector)
		if err != nil {
			return "", false, err
		}
		switch n := len(res.nodes); {
		case n == 0:
			return "missing", !visible, nil
		case n > 1:
			return "", false, &StrictModeViolationError{Selector: l.selector, Count: n}
		}
		if res.nodes[0].Visible {
			return "visible", visible, nil
		}
		return "hidden", !visible, nil
	}
}

func (a *LocatorAssertions) eventually(
	ctx context.Context, matcher, expected string, opts *AssertOptions, observe observeFunc,
) error {
	l := a.locator
	l.log.Debugf("Expect:"+matcher, "fid:%s sel:%q not:%t expected:%s", l.frame.ID(), l.selector, a.negated, expected)

	timeout := l.timeout(opts.timeout())
	actual, err := evaluate(ctx, l.frame.page.waiter, timeout, "expect "+matcher, l.selector, a.negated, observe)
	return assertionResult(err, &AssertionError{
		Matcher:  matcher,
		Selector: l.selector,
		Expected: expected,
		Actual:   actual,
		Negated:  a.negated,
		Timeout:  timeout.String(),
	})
}

// evaluate polls observe until its outcome differs from negated. It returns
// the last observed actual value.
func evaluate(
	ctx context.Context, w *waiter, timeout time.Duration, op, selector string, negated bool, observe observeFunc,
) (string, error) {
	last := "no element"
	err := w.poll(ctx, timeout, op, selector, func(ctx context.Context) (bool, Condition, string, error) {
		actual, ok, err := observe(ctx)
		if err != nil {
			return false, ConditionExists, "", err
		}
		last = actual
		return ok != negated, "", actual, nil
	})
	return last, err
}

// assertionResult turns a timed out evaluation into the failed assertion.
// Other errors are framework failures and are returned as they are.
func assertionResult(err error, failure *AssertionError) error {
	var te *TimeoutError
	if errors.As(err, &te) {
		return failure
	}
	return err
}

// PageAssertions retry a predicate over a page.
type PageAssertions struct {
	page    *Page
	negated bool
}

// ExpectPage starts an assertion on p.
func ExpectPage(p *Page) *PageAssertions {
	return &PageAssertions{page: p}
}

// Not negates the next matcher.
func (a *PageAssertions) Not() *PageAssertions {
	return &PageAssertions{page: a.page, negated: !a.negated}
}

// ToHaveURL passes when the main frame URL equals expected. An expected
// value in the /pattern/ form is matched as a regular expression.
func (a *PageAssertions) ToHaveURL(ctx context.Context, expected string, opts *AssertOptions) error {
	match := func(u string) bool { return u == expected }
	if len(expected) > 1 && strings.HasPrefix(expected, "/") && strings.HasSuffix(expected, "/") {
		re, err := regexp.Compile(expected[1 : len(expected)-1])
		if err != nil {
			return fmt.Errorf("compiling URL pattern %q: %w", expected, err)
		}
		match = re.MatchString
	}

	p := a.page
	p.logger.Debugf("Expect:toHaveURL", "pid:%s not:%t expected:%s", p.id, a.negated, expected)

	timeout := p.timeoutSettings.resolve(opts.timeout())
	actual, err := evaluate(ctx, p.waiter, timeout, "expect toHaveURL", "", a.negated,
		func(context.Context) (string, bool, error) {
			if err := p.closedErr(); err != nil {
				return "", false, err
			}
			u := p.URL()
			return strconv.Quote(u), match(u), nil
		})
	return assertionResult(err, &AssertionError{
		Matcher:  "toHaveURL",
		Expected: expected,
		Actual:   actual,
		Negated:  a.negated,
		Timeout:  timeout.String(),
	})
}
