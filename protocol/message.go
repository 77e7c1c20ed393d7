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

// Package protocol holds the wire vocabulary spoken between the automation
// engine and the controlled browser process.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mailru/easyjson"
)

// MethodType is a command or event name, e.g. "Page.navigate".
type MethodType string

// String returns the method name.
func (t MethodType) String() string { return string(t) }

// Message is a protocol message. Replies carry the ID of the command they
// answer, events carry a Method and no ID.
type Message struct {
	ID     int64               `json:"id,omitempty"`
	Method MethodType          `json:"method,omitempty"`
	Params easyjson.RawMessage `json:"params,omitempty"`
	Result easyjson.RawMessage `json:"result,omitempty"`
	Error  *Error              `json:"error,omitempty"`
}

// IsEvent reports whether the message is an unsolicited event.
func (m *Message) IsEvent() bool {
	return m.ID == 0 && m.Method != ""
}

// Error is a protocol level error returned by the browser.
type Error struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

// Error satisfies the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

// ErrTransportClosed is returned by transports once the link to the
// browser is gone.
var ErrTransportClosed = errors.New("transport closed")

// Protocol error codes.
const (
	ErrCodeServer         int64 = -32000
	ErrCodeMethodNotFound int64 = -32601
	ErrCodeInvalidParams  int64 = -32602

	// ErrCodeNodeDetached is returned when a command targets a node that
	// is no longer connected to its document.
	ErrCodeNodeDetached int64 = -32010
	// ErrCodeFrameDetached is returned when a command targets a frame that
	// has been torn down.
	ErrCodeFrameDetached int64 = -32011
	// ErrCodeTargetClosed is returned when the page has been closed.
	ErrCodeTargetClosed int64 = -32012
	// ErrCodeNoDialog is returned when a dialog was already handled.
	ErrCodeNoDialog int64 = -32013
)

// Encode marshals command params or results into a raw message.
// Payload types are plain structs, only the envelope goes through easyjson.
func Encode(v any) (easyjson.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	return easyjson.RawMessage(buf), nil
}

// Decode unmarshals a raw message into v.
func Decode(raw easyjson.RawMessage, v any) error {
	if v == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding %T: %w", v, err)
	}
	return nil
}
