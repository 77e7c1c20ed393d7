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
	"errors"
	"fmt"
	"strings"

	"github.com/liuxd6825/k6browser/protocol"
)

var (
	// ErrNotFound is returned when a locator resolved to no element while
	// one was required.
	ErrNotFound = errors.New("no element matches the selector")

	// ErrTimedOut is wrapped by every TimeoutError.
	ErrTimedOut = errors.New("timed out")

	// ErrConnectionClosed is returned once the link to the browser is gone.
	// It is fatal and never retried.
	ErrConnectionClosed = fmt.Errorf("connection closed: %w", protocol.ErrTransportClosed)

	// ErrTargetClosed is returned for operations on a closed page or context.
	ErrTargetClosed = errors.New("target closed")

	// ErrFrameDetached is returned for operations on a detached frame.
	ErrFrameDetached = errors.New("frame detached")

	// ErrDialogHandled is returned when a dialog is accepted or dismissed twice.
	ErrDialogHandled = errors.New("dialog has already been handled")
)

// NotFoundError reports the selector that matched nothing.
type NotFoundError struct {
	Selector string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no element matches selector %q", e.Selector)
}

// Unwrap returns ErrNotFound.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// StrictModeViolationError is returned immediately when a single-target
// operation resolves to more than one element.
type StrictModeViolationError struct {
	Selector string
	Count    int
}

func (e *StrictModeViolationError) Error() string {
	return fmt.Sprintf("strict mode violation: selector %q resolved to %d elements", e.Selector, e.Count)
}

// TimeoutError is returned when a wait did not converge in time. Condition
// names the last condition that failed and LastValue, when set, the last
// observed value.
type TimeoutError struct {
	Operation string
	Selector  string
	Condition Condition
	LastValue string
	Timeout   string
	Cause     error
}

func (e *TimeoutError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Operation)
	if e.Selector != "" {
		fmt.Fprintf(&sb, " %q", e.Selector)
	}
	fmt.Fprintf(&sb, ": timed out after %s", e.Timeout)
	if e.Condition != "" {
		fmt.Fprintf(&sb, ", last failed condition: %s", e.Condition)
	}
	if e.LastValue != "" {
		fmt.Fprintf(&sb, " (last value: %s)", e.LastValue)
	}
	if e.Cause != nil {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	return sb.String()
}

// Unwrap returns ErrTimedOut.
func (e *TimeoutError) Unwrap() error { return ErrTimedOut }

// DetachedElementError is returned when an element resolved, but it or its
// frame was torn down before the action ran. It is not retried.
type DetachedElementError struct {
	Selector string
	Reason   string
}

func (e *DetachedElementError) Error() string {
	if e.Selector == "" {
		return "element is detached: " + e.Reason
	}
	return fmt.Sprintf("element %q is detached: %s", e.Selector, e.Reason)
}

// NavigationError is returned when a page failed to reach a URL or state.
type NavigationError struct {
	URL    string
	Reason string
	Status int
	Err    error
}

func (e *NavigationError) Error() string {
	msg := fmt.Sprintf("navigating to %q: %s", e.URL, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NavigationError) Unwrap() error { return e.Err }

// AssertionError reports a failed expectation as data, expected versus the
// last observed actual value.
type AssertionError struct {
	Matcher  string
	Selector string
	Expected string
	Actual   string
	Negated  bool
	Timeout  string
}

func (e *AssertionError) Error() string {
	matcher := e.Matcher
	if e.Negated {
		matcher = "not " + matcher
	}
	msg := fmt.Sprintf("expect %s failed: expected %s, got %s", matcher, e.Expected, e.Actual)
	if e.Selector != "" {
		msg = fmt.Sprintf("expect(%q) %s failed: expected %s, got %s", e.Selector, matcher, e.Expected, e.Actual)
	}
	if e.Timeout != "" {
		msg += " after " + e.Timeout
	}
	return msg
}

// isFatal reports errors that end a wait immediately.
func isFatal(err error) bool {
	var (
		strict   *StrictModeViolationError
		detached *DetachedElementError
	)
	return errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, protocol.ErrTransportClosed) ||
		errors.Is(err, ErrTargetClosed) ||
		errors.Is(err, ErrInvalidSelector) ||
		errors.As(err, &strict) ||
		errors.As(err, &detached)
}

// fromProtocol maps browser errors onto the engine's error values.
func fromProtocol(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, protocol.ErrTransportClosed) {
		return ErrConnectionClosed
	}
	var perr *protocol.Error
	if !errors.As(err, &perr) {
		return err
	}
	switch perr.Code {
	case protocol.ErrCodeTargetClosed:
		return fmt.Errorf("%s: %w", perr.Message, ErrTargetClosed)
	case protocol.ErrCodeFrameDetached:
		return fmt.Errorf("%s: %w", perr.Message, ErrFrameDetached)
	case protocol.ErrCodeNodeDetached:
		return fmt.Errorf("%s: %w", perr.Message, errNodeStale)
	case protocol.ErrCodeNoDialog:
		return fmt.Errorf("%s: %w", perr.Message, ErrDialogHandled)
	}
	return err
}

// errNodeStale marks a node removed from its document. Locator actions
// re-resolve on it, handle actions report a DetachedElementError.
var errNodeStale = errors.New("node is not attached to the document")

// errDocumentChanged marks a resolution made against a document that has
// since been replaced by a navigation.
var errDocumentChanged = errors.New("document changed since the element was resolved")

var (
	errNotInput     = errors.New("element is not an input, textarea or select")
	errNotCheckable = errors.New("element is not a checkbox or radio button")
	errNotSelect    = errors.New("element is not a select")
)
