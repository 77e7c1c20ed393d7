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
	"sync"

	"github.com/liuxd6825/k6browser/log"
	"github.com/liuxd6825/k6browser/protocol"
)

// FrameManager manages all frames in a page and their life-cycles, it's a purely internal component.
// It is only fed by the browser event dispatcher, so frame events are applied in order.
type FrameManager struct {
	page      *Page
	mainFrame *Frame
	attached  chan struct{}
	once      sync.Once

	// Needed as the frames map is read by script goroutines while the
	// dispatcher goroutine updates it.
	framesMu sync.RWMutex
	frames   map[protocol.FrameID]*Frame

	logger *log.Logger
}

// NewFrameManager creates a new HTML document frame manager.
func NewFrameManager(page *Page, logger *log.Logger) *FrameManager {
	return &FrameManager{
		page:     page,
		attached: make(chan struct{}),
		frames:   make(map[protocol.FrameID]*Frame),
		logger:   logger,
	}
}

// MainFrame returns the top level frame, nil until it is attached.
func (m *FrameManager) MainFrame() *Frame {
	m.framesMu.RLock()
	defer m.framesMu.RUnlock()
	return m.mainFrame
}

// Frames returns the attached frames, the main frame first.
func (m *FrameManager) Frames() []*Frame {
	main := m.MainFrame()
	if main == nil || main.IsDetached() {
		return nil
	}
	frames := []*Frame{}
	var walk func(*Frame)
	walk = func(f *Frame) {
		frames = append(frames, f)
		for _, c := range f.ChildFrames() {
			walk(c)
		}
	}
	walk(main)
	return frames
}

func (m *FrameManager) getFrameByID(id protocol.FrameID) *Frame {
	m.framesMu.RLock()
	defer m.framesMu.RUnlock()
	return m.frames[id]
}

func (m *FrameManager) frameAttached(frameID, parentFrameID protocol.FrameID) {
	m.logger.Debugf("FrameManager:frameAttached", "fid:%s pfid:%s", frameID, parentFrameID)

	m.framesMu.Lock()
	if _, ok := m.frames[frameID]; ok {
		m.framesMu.Unlock()
		return
	}

	if parentFrameID == "" {
		frame := NewFrame(m.page.ctx, m, nil, frameID, m.logger)
		m.frames[frameID] = frame
		m.mainFrame = frame
		m.framesMu.Unlock()
		m.once.Do(func() { close(m.attached) })
		return
	}

	parent, ok := m.frames[parentFrameID]
	if !ok {
		m.framesMu.Unlock()
		m.logger.Debugf("FrameManager:frameAttached", "fid:%s unknown parent pfid:%s", frameID, parentFrameID)
		return
	}
	frame := NewFrame(m.page.ctx, m, parent, frameID, m.logger)
	m.frames[frameID] = frame
	m.framesMu.Unlock()

	parent.addChildFrame(frame)
}

func (m *FrameManager) frameNavigated(ev *protocol.EventFrameNavigated) {
	m.logger.Debugf("FrameManager:frameNavigated", "fid:%s url:%q lid:%s", ev.FrameID, ev.URL, ev.LoaderID)

	frame := m.getFrameByID(ev.FrameID)
	if frame == nil {
		return
	}
	// A new document drops the frames of the old one.
	for _, child := range frame.ChildFrames() {
		m.removeFramesRecursively(child)
	}
	frame.navigated(ev.Name, ev.URL, ev.LoaderID)
}

func (m *FrameManager) frameDetached(frameID protocol.FrameID) {
	m.logger.Debugf("FrameManager:frameDetached", "fid:%s", frameID)

	if frame := m.getFrameByID(frameID); frame != nil {
		m.removeFramesRecursively(frame)
	}
}

func (m *FrameManager) frameLifecycleEvent(ev *protocol.EventLifecycle) {
	if frame := m.getFrameByID(ev.FrameID); frame != nil {
		frame.onLifecycleEvent(ev.LoaderID, ev.Name)
	}
}

func (m *FrameManager) removeFramesRecursively(frame *Frame) {
	for _, child := range frame.ChildFrames() {
		m.removeFramesRecursively(child)
	}
	if parent := frame.ParentFrame(); parent != nil {
		parent.removeChildFrame(frame)
	}
	frame.detach()

	m.framesMu.Lock()
	delete(m.frames, frame.ID())
	m.framesMu.Unlock()
}

// dispose detaches every frame once the page is gone.
func (m *FrameManager) dispose() {
	if main := m.MainFrame(); main != nil {
		m.removeFramesRecursively(main)
	}
	m.once.Do(func() { close(m.attached) })
}
