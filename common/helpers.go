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
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	k6trace "github.com/liuxd6825/k6browser/trace"
)

// spanRecordErrorf formats the error, records it on span and returns it.
func spanRecordErrorf(span trace.Span, format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	k6trace.SpanError(span, err)
	return err
}

// waitForEvent waits for the first event of kind on bus matching
// predicate. The subscription is in place before trigger runs, and both
// run concurrently, so an event fired by trigger is never missed. The
// subscription is gone once waitForEvent returns.
func waitForEvent(
	ctx context.Context, bus *EventBus, kind EventKind, predicate func(any) bool,
	timeout time.Duration, trigger func(context.Context) error,
) (any, error) {
	sub := bus.Subscribe(kind, predicate)
	defer sub.Cancel()

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var payload any
	g, gctx := errgroup.WithContext(tctx)
	g.Go(func() error {
		var err error
		payload, err = sub.Wait(gctx)
		return err
	})
	if trigger != nil {
		g.Go(func() error {
			if err := trigger(gctx); err != nil {
				return fmt.Errorf("triggering %s event: %w", kind, err)
			}
			return nil
		})
	}

	err := g.Wait()
	switch {
	case err == nil:
		return payload, nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return nil, &TimeoutError{
			Operation: "waiting for event",
			Condition: Condition(kind),
			Timeout:   timeout.String(),
		}
	}
	return nil, err
}
