package common

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/liuxd6825/k6browser/log"
	"github.com/liuxd6825/k6browser/protocol"
)

// Condition is a named readiness predicate evaluated against the current
// resolution of a locator.
type Condition string

// Readiness conditions, in the order actions check them.
const (
	ConditionExists         Condition = "exists"
	ConditionAttached       Condition = "attached"
	ConditionVisible        Condition = "visible"
	ConditionStable         Condition = "stable"
	ConditionReceivesEvents Condition = "receives-events"
	ConditionEnabled        Condition = "enabled"
	ConditionEditable       Condition = "editable"
	ConditionHidden         Condition = "hidden"
	ConditionDetached       Condition = "detached"
)

// Condition sets checked before actions.
var (
	pointerConditions = []Condition{
		ConditionAttached, ConditionVisible, ConditionStable, ConditionReceivesEvents, ConditionEnabled,
	}
	fillConditions   = []Condition{ConditionVisible, ConditionEnabled, ConditionEditable}
	selectConditions = []Condition{ConditionVisible, ConditionEnabled}
)

// errRetry is returned by a poll function to ask for another poll without
// recording anything.
var errRetry = errors.New("retry")

// pollFunc evaluates one poll. It returns true once the wait is over.
// Otherwise cond and value describe what failed, for the timeout report.
type pollFunc func(ctx context.Context) (ok bool, cond Condition, value string, err error)

// waiter is the auto-wait scheduler. It re-runs a poll function at a fixed
// pace until it succeeds, fails fatally or the timeout elapses.
type waiter struct {
	interval    time.Duration
	stablePolls int
	tolerance   float64
	logger      *log.Logger
}

func newWaiter(opts BrowserOptions, logger *log.Logger) *waiter {
	return &waiter{
		interval:    opts.pollInterval(),
		stablePolls: opts.stablePolls(),
		tolerance:   opts.stableTolerance(),
		logger:      logger,
	}
}

// poll runs fn until it reports success. The first poll runs immediately
// and, when the next tick would fall past the timeout, one last poll runs
// at the deadline. Strict mode violations, detached elements, closed targets
// and a lost connection end the wait at once; missing or stale elements are
// retried.
//
//nolint:cyclop
func (w *waiter) poll(
	ctx context.Context, timeout time.Duration, op, selector string, fn pollFunc,
) error {
	deadline := time.Now().Add(timeout)
	tctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var (
		lim       = rate.NewLimiter(rate.Every(w.interval), 1)
		lastCond  Condition
		lastValue string
		polls     int
	)
	for last := false; !last; {
		delay := lim.Reserve().Delay()
		if remaining := time.Until(deadline); delay >= remaining {
			delay, last = remaining, true
		}
		if err := sleepCtx(ctx, delay); err != nil {
			break
		}

		polls++
		ok, cond, value, err := w.pollOnce(ctx, tctx, last, fn)
		switch {
		case err == nil && ok:
			w.logger.Debugf("waiter:poll", "op:%s sel:%q polls:%d done", op, selector, polls)
			return nil
		case err == nil, errors.Is(err, errRetry), isRetryable(err):
			if cond != "" {
				lastCond, lastValue = cond, value
			}
		case isFatal(err):
			return err
		case ctx.Err() != nil:
			last = true
		case errors.Is(err, context.DeadlineExceeded), !last && tctx.Err() != nil:
			// The pending command was cut short by the deadline.
			last = true
		default:
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s %q: %w", op, selector, err)
	}
	w.logger.Debugf("waiter:poll", "op:%s sel:%q polls:%d timed out on %s", op, selector, polls, lastCond)

	return &TimeoutError{
		Operation: op,
		Selector:  selector,
		Condition: lastCond,
		LastValue: lastValue,
		Timeout:   timeout.String(),
	}
}

// lastPollBudget is the least time the poll run at the deadline gets.
const lastPollBudget = 100 * time.Millisecond

// pollOnce runs fn under the wait deadline. The last poll starts at the
// deadline, so it gets a poll interval of its own instead.
func (w *waiter) pollOnce(
	ctx, tctx context.Context, last bool, fn pollFunc,
) (bool, Condition, string, error) {
	if !last {
		return fn(tctx)
	}
	lctx, cancel := context.WithTimeout(ctx, max(w.interval, lastPollBudget))
	defer cancel()
	return fn(lctx)
}

// sleepCtx blocks for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isRetryable reports errors caused by the page changing under a poll.
func isRetryable(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, errNodeStale) ||
		errors.Is(err, ErrFrameDetached) ||
		errors.Is(err, errDocumentChanged)
}

// elementState is the latest description of a resolved element.
type elementState struct {
	frame *Frame
	gen   int64
	node  protocol.Node
	// boxes carries what earlier polls of the same wait saw.
	boxes *boxHistory
}

// boxHistory counts the consecutive polls that saw the same box for a node.
type boxHistory struct {
	nodeID protocol.NodeID
	box    *protocol.Rect
	equal  int
}

// observe records box and returns how many polls in a row reported it.
func (h *boxHistory) observe(id protocol.NodeID, box *protocol.Rect, tolerance float64) int {
	if h.equal > 0 && h.nodeID == id && sameBox(h.box, box, tolerance) {
		h.equal++
	} else {
		h.equal = 1
	}
	h.nodeID, h.box = id, box
	return h.equal
}

// checkAll evaluates conds in order and stops at the first that fails.
func (w *waiter) checkAll(ctx context.Context, st *elementState, conds []Condition) (bool, Condition, string, error) {
	for _, cond := range conds {
		ok, value, err := w.check(ctx, st, cond)
		if err != nil || !ok {
			return false, cond, value, err
		}
	}
	return true, "", "", nil
}

//nolint:cyclop
func (w *waiter) check(ctx context.Context, st *elementState, cond Condition) (bool, string, error) {
	n := &st.node
	switch cond {
	case ConditionExists:
		return true, "", nil
	case ConditionAttached:
		return n.Connected, "detached", nil
	case ConditionDetached:
		return !n.Connected, "attached", nil
	case ConditionVisible:
		return n.Visible, "hidden", nil
	case ConditionHidden:
		return !n.Visible, "visible", nil
	case ConditionEnabled:
		return n.Enabled, "disabled", nil
	case ConditionEditable:
		return n.Editable, "not editable", nil
	case ConditionStable:
		return w.stable(st)
	case ConditionReceivesEvents:
		if n.Box == nil {
			return false, "no box", nil
		}
		x, y := n.Box.Center()
		hit, err := st.frame.hitTest(ctx, n.NodeID, x, y)
		if err != nil {
			return false, "", err
		}
		if !hit.IsTarget {
			return false, fmt.Sprintf("node %d intercepts pointer events at (%.0f,%.0f)", hit.HitNodeID, x, y), nil
		}
		return true, "", nil
	}
	return false, "", fmt.Errorf("unknown condition %q", cond)
}

// stable reports whether the last stablePolls polls, one poll interval
// apart, saw the same box within tolerance.
func (w *waiter) stable(st *elementState) (bool, string, error) {
	if n := st.boxes.observe(st.node.NodeID, st.node.Box, w.tolerance); n < w.stablePolls {
		return false, fmt.Sprintf("moving, last box %s", boxString(st.node.Box)), nil
	}
	return true, "", nil
}

func sameBox(a, b *protocol.Rect, tolerance float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	near := func(x, y float64) bool { return math.Abs(x-y) <= tolerance }
	return near(a.X, b.X) && near(a.Y, b.Y) && near(a.Width, b.Width) && near(a.Height, b.Height)
}

func boxString(r *protocol.Rect) string {
	if r == nil {
		return "none"
	}
	return fmt.Sprintf("{x:%g y:%g w:%g h:%g}", r.X, r.Y, r.Width, r.Height)
}
