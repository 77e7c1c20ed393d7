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
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"

	"github.com/liuxd6825/k6browser/log"
	"github.com/liuxd6825/k6browser/protocol"
)

const wsWriteBufferSize = 1 << 20

// Transport is the duplex channel to the controlled browser. Commands are
// correlated with their replies, events are pushed to subscribers in the
// order they were received.
type Transport interface {
	Execute(ctx context.Context, method protocol.MethodType, params, res any) error
	Subscribe(ctx context.Context, methods ...protocol.MethodType) <-chan *protocol.Message
	Close() error
}

// Ensure Connection implements the EventEmitter and Transport interfaces
var (
	_ EventEmitter = &Connection{}
	_ Transport    = &Connection{}
)

/*
Connection is a WebSocket connection to the browser process.

	┌──────────────────────────────┐
	│        Browser Process       │
	└──────────────────────────────┘
	          │          ▲
	          ▼          │
	┌──────────────────────────────┐
	│     WebSocket Connection     │
	└──────────────────────────────┘
	   │ recvLoop           ▲ sendLoop
	   ▼                    │
	replies ─► pending[id]  commands serialized
	events  ─► emitter ─► subscribers (one ordered queue each)
*/
type Connection struct {
	BaseEventEmitter

	ctx          context.Context
	cancel       context.CancelFunc
	wsURL        string
	logger       *log.Logger
	conn         *websocket.Conn
	sendCh       chan *protocol.Message
	done         chan struct{}
	shutdownOnce sync.Once
	msgID        int64

	pendingMu sync.Mutex
	pending   map[int64]chan *protocol.Message
	closed    bool

	// Reuse the easyjson structs to avoid allocs per Read/Write.
	decoder jlexer.Lexer
	encoder jwriter.Writer
}

// NewConnection dials the browser at wsURL.
func NewConnection(ctx context.Context, wsURL string, logger *log.Logger) (*Connection, error) {
	wsd := websocket.Dialer{
		HandshakeTimeout: time.Second * 60,
		Proxy:            http.ProxyFromEnvironment,
		WriteBufferSize:  wsWriteBufferSize,
	}

	conn, _, err := wsd.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to browser at %q: %w", wsURL, err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := Connection{
		BaseEventEmitter: NewBaseEventEmitter(cctx),
		ctx:              cctx,
		cancel:           cancel,
		wsURL:            wsURL,
		logger:           logger,
		conn:             conn,
		sendCh:           make(chan *protocol.Message, 32), // Avoid blocking in Execute
		done:             make(chan struct{}),
		pending:          make(map[int64]chan *protocol.Message),
	}

	go c.recvLoop()
	go c.sendLoop()

	return &c, nil
}

// closeConnection cleanly closes the WebSocket connection.
// Returns an error if sending the close control frame fails.
func (c *Connection) closeConnection(code int) error {
	var err error

	c.shutdownOnce.Do(func() {
		c.logger.Debugf("Connection:closeConnection", "code:%d", code)

		c.pendingMu.Lock()
		c.closed = true
		c.pendingMu.Unlock()

		err = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, ""),
			time.Now().Add(10*time.Second),
		)
		_ = c.conn.Close()

		// Stop the loops, subscribers and pending commands.
		close(c.done)
		c.cancel()
	})

	return err
}

func (c *Connection) handleIOError(err error) {
	code := websocket.CloseGoingAway
	var cerr *websocket.CloseError
	if errors.As(err, &cerr) {
		code = cerr.Code
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Errorf("Connection:handleIOError", "unexpected close: %v", err)
	}
	_ = c.closeConnection(code)
}

func (c *Connection) recvLoop() {
	for {
		_, buf, err := c.conn.ReadMessage()
		if err != nil {
			c.handleIOError(err)
			return
		}

		c.logger.Tracef("protocol:recv", "<- %s", buf)

		var msg protocol.Message
		c.decoder = jlexer.Lexer{Data: buf}
		msg.UnmarshalEasyJSON(&c.decoder)
		if err := c.decoder.Error(); err != nil {
			c.logger.Errorf("protocol", "decoding message: %v", err)
			continue
		}

		switch {
		case msg.ID != 0:
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.pendingMu.Unlock()
			if !ok {
				c.logger.Debugf("protocol", "reply to unknown command id:%d", msg.ID)
				continue
			}
			ch <- &msg

		case msg.Method != "":
			c.emit(string(msg.Method), &msg)

		default:
			c.logger.Errorf("protocol", "ignoring malformed incoming message (missing id or method): %s", buf)
		}
	}
}

func (c *Connection) sendLoop() {
	for {
		select {
		case msg := <-c.sendCh:
			c.encoder = jwriter.Writer{}
			msg.MarshalEasyJSON(&c.encoder)
			if err := c.encoder.Error; err != nil {
				c.logger.Errorf("protocol", "encoding message: %v", err)
				c.reply(msg.ID, &protocol.Message{ID: msg.ID, Error: &protocol.Error{
					Code: protocol.ErrCodeInvalidParams, Message: err.Error(),
				}})
				continue
			}

			buf, _ := c.encoder.BuildBytes()
			c.logger.Tracef("protocol:send", "-> %s", buf)
			writer, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.handleIOError(err)
				return
			}
			if _, err := writer.Write(buf); err != nil {
				c.handleIOError(err)
				return
			}
			if err := writer.Close(); err != nil {
				c.handleIOError(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// reply hands msg to the command waiting for id, if any.
func (c *Connection) reply(id int64, msg *protocol.Message) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.pendingMu.Unlock()
	if ok {
		ch <- msg
	}
}

// Close closes the connection. Pending and later commands fail with
// ErrConnectionClosed and subscription channels are closed.
func (c *Connection) Close() error {
	return c.closeConnection(websocket.CloseNormalClosure)
}

// Done is closed once the connection is gone.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Execute sends a command and waits for its reply. Cancelling ctx stops the
// waiting, not the command already sent.
func (c *Connection) Execute(ctx context.Context, method protocol.MethodType, params, res any) error {
	raw, err := protocol.Encode(params)
	if err != nil {
		return err
	}

	id := atomic.AddInt64(&c.msgID, 1)
	ch := make(chan *protocol.Message, 1)

	c.pendingMu.Lock()
	if c.closed {
		c.pendingMu.Unlock()
		return ErrConnectionClosed
	}
	c.pending[id] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	msg := &protocol.Message{ID: id, Method: method, Params: raw}
	select {
	case c.sendCh <- msg:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrConnectionClosed
	}

	select {
	case reply := <-ch:
		if reply.Error != nil {
			return reply.Error
		}
		return protocol.Decode(reply.Result, res)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrConnectionClosed
	}
}

// Subscribe delivers events whose method is in methods, or all events when
// none are given. The channel is closed when ctx is done or the connection
// is closed.
func (c *Connection) Subscribe(ctx context.Context, methods ...protocol.MethodType) <-chan *protocol.Message {
	out := make(chan *protocol.Message)
	evCtx, evCancel := context.WithCancel(ctx)
	ch := make(chan Event)

	if len(methods) == 0 {
		c.onAll(evCtx, ch)
	} else {
		names := make([]string, len(methods))
		for i, m := range methods {
			names[i] = string(m)
		}
		c.on(evCtx, names, ch)
	}

	go func() {
		defer close(out)
		defer evCancel()

		for {
			select {
			case ev := <-ch:
				msg, _ := ev.data.(*protocol.Message)
				select {
				case out <- msg:
				case <-evCtx.Done():
					return
				case <-c.done:
					return
				}
			case <-evCtx.Done():
				return
			case <-c.done:
				return
			}
		}
	}()

	return out
}
