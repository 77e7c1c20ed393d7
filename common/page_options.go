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
	"time"
)

// GotoOptions tune a navigation. WaitUntil defaults to load.
type GotoOptions struct {
	WaitUntil LifecycleEvent `json:"waitUntil"`
	Timeout   time.Duration  `json:"timeout"`
}

// PageScreenshotOptions tune Page.Screenshot. When Path is set the image
// is also written there.
type PageScreenshotOptions struct {
	Path     string `json:"path"`
	FullPage bool   `json:"fullPage"`
}

// WaitForEventOptions tune an event wait. A nil Predicate accepts the
// first event.
type WaitForEventOptions struct {
	Predicate func(any) bool
	Timeout   time.Duration
}

// WaitForSelectorOptions tune Page.WaitForSelector. State defaults to
// visible.
type WaitForSelectorOptions struct {
	State   ElementState  `json:"state"`
	Timeout time.Duration `json:"timeout"`
}

// WaitForLoadStateOptions tune Page.WaitForLoadState.
type WaitForLoadStateOptions struct {
	Timeout time.Duration `json:"timeout"`
}

func (o *GotoOptions) parse() (LifecycleEvent, time.Duration) {
	if o == nil {
		return LifecycleEventLoad, 0
	}
	return o.WaitUntil, o.Timeout
}

func (o *WaitForEventOptions) predicate() func(any) bool {
	if o == nil {
		return nil
	}
	return o.Predicate
}

func (o *WaitForEventOptions) timeout() time.Duration {
	if o == nil {
		return 0
	}
	return o.Timeout
}
