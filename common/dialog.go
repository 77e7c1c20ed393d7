package common

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/liuxd6825/k6browser/protocol"
)

// Dialog types.
const (
	DialogTypeAlert        = "alert"
	DialogTypeConfirm      = "confirm"
	DialogTypePrompt       = "prompt"
	DialogTypeBeforeUnload = "beforeunload"
)

// Dialog is an open alert, confirm, prompt or beforeunload dialog. The page
// is blocked until it is accepted or dismissed, exactly once.
type Dialog struct {
	page         *Page
	id           protocol.DialogID
	typ          string
	message      string
	defaultValue string

	mu      sync.Mutex
	handled bool
	grace   *clock.Timer
}

func newDialog(p *Page, ev *protocol.EventDialogOpening) *Dialog {
	return &Dialog{
		page:         p,
		id:           ev.DialogID,
		typ:          ev.Type,
		message:      ev.Message,
		defaultValue: ev.DefaultPrompt,
	}
}

// Type returns alert, confirm, prompt or beforeunload.
func (d *Dialog) Type() string { return d.typ }

// Message returns the text shown by the dialog.
func (d *Dialog) Message() string { return d.message }

// DefaultValue returns the initial answer of a prompt.
func (d *Dialog) DefaultValue() string { return d.defaultValue }

// Page returns the page showing the dialog.
func (d *Dialog) Page() *Page { return d.page }

// Accept accepts the dialog, answering prompts with promptText.
func (d *Dialog) Accept(ctx context.Context, promptText string) error {
	return d.handle(ctx, true, promptText)
}

// Dismiss dismisses the dialog.
func (d *Dialog) Dismiss(ctx context.Context) error {
	return d.handle(ctx, false, "")
}

func (d *Dialog) handle(ctx context.Context, accept bool, promptText string) error {
	if !d.markHandled() {
		return ErrDialogHandled
	}
	d.page.logger.Debugf("Dialog:handle", "pid:%s did:%s type:%s accept:%t", d.page.id, d.id, d.typ, accept)

	err := fromProtocol(d.page.transport.Execute(ctx, protocol.CommandPageHandleJavaScriptDialog, &protocol.HandleDialogParams{
		PageID:     d.page.id,
		DialogID:   d.id,
		Accept:     accept,
		PromptText: promptText,
	}, nil))
	if err != nil {
		verb := "dismissing"
		if accept {
			verb = "accepting"
		}
		return fmt.Errorf("%s %s dialog: %w", verb, d.typ, err)
	}
	return nil
}

// markHandled flips the dialog to handled and stops its grace timer. It
// returns false when it was handled before.
func (d *Dialog) markHandled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handled {
		return false
	}
	d.handled = true
	if d.grace != nil {
		d.grace.Stop()
	}
	return true
}

// applyDefaultAfter handles the dialog with action once grace elapsed,
// unless it was handled by then.
func (d *Dialog) applyDefaultAfter(clk clock.Clock, grace time.Duration, action string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handled {
		return
	}
	d.grace = clk.AfterFunc(grace, func() {
		p := d.page
		p.logger.Warnf("Dialog:default", "pid:%s did:%s %s dialog %q was not handled within %s, applying %s",
			p.id, d.id, d.typ, d.message, grace, action)

		var err error
		if action == DialogActionAccept {
			err = d.Accept(p.ctx, d.defaultValue)
		} else {
			err = d.Dismiss(p.ctx)
		}
		if err != nil && p.ctx.Err() == nil {
			p.logger.Debugf("Dialog:default", "pid:%s did:%s err:%v", p.id, d.id, err)
		}
	})
}
