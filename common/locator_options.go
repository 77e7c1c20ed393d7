package common

import (
	"fmt"
	"time"
)

// ActionOptions tune a single element action. A zero Timeout means the
// page default.
type ActionOptions struct {
	Timeout time.Duration
	// Force skips the readiness checks other than the element being
	// attached.
	Force bool
}

// ClickOptions tune Click.
type ClickOptions struct {
	Timeout    time.Duration
	Force      bool
	ClickCount int
}

func (o *ClickOptions) action() *ActionOptions {
	if o == nil {
		return &ActionOptions{}
	}
	return &ActionOptions{Timeout: o.Timeout, Force: o.Force}
}

// TimeoutOptions only carry a per-call timeout.
type TimeoutOptions struct {
	Timeout time.Duration
}

// WaitForOptions tune Locator.WaitFor.
type WaitForOptions struct {
	// State defaults to visible.
	State   ElementState
	Timeout time.Duration
}

// FilterOptions narrow a locator.
type FilterOptions struct {
	// HasText keeps elements containing the text, case-insensitively.
	// Wrap the text in slashes, e.g. "/^Item \d$/", for a regular
	// expression.
	HasText string
}

// GetByRoleOptions narrow a role query.
type GetByRoleOptions struct {
	// Name matches the accessible name, as a case insensitive substring
	// unless Exact is set.
	Name    string
	Exact   bool
	Checked *bool
}

func actionOptions(opts *ActionOptions) *ActionOptions {
	if opts == nil {
		return &ActionOptions{}
	}
	return opts
}

func timeoutOf(opts *TimeoutOptions) time.Duration {
	if opts == nil {
		return 0
	}
	return opts.Timeout
}

func (o *WaitForOptions) state() (ElementState, error) {
	if o == nil || o.State == "" {
		return StateVisible, nil
	}
	switch o.State {
	case StateAttached, StateDetached, StateVisible, StateHidden:
		return o.State, nil
	}
	return "", fmt.Errorf("invalid element state %q, want one of %s, %s, %s or %s",
		o.State, StateAttached, StateDetached, StateVisible, StateHidden)
}
