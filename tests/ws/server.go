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

// Package ws serves browsers over WebSocket for connection tests.
package ws

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
	"github.com/mccutchen/go-httpbin/httpbin"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"

	"github.com/liuxd6825/k6browser/protocol"
	"github.com/liuxd6825/k6browser/tests/fakebrowser"
)

// Server can be used as a test alternative to a real browser.
type Server struct {
	t             testing.TB
	Mux           *http.ServeMux
	ServerHTTP    *httptest.Server
	HTTPTransport *http.Transport
	Context       context.Context
}

// NewServer returns a fully configured and running WS test server. Paths
// not claimed by an option are served by httpbin.
func NewServer(t testing.TB, opts ...func(*Server)) *Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.Handle("/", httpbin.New().Handler())

	server := httptest.NewServer(mux)

	transport := &http.Transport{}
	require.NoError(t, http2.ConfigureTransport(transport))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		server.Close()
		transport.CloseIdleConnections()
	})
	s := &Server{
		t:             t,
		Mux:           mux,
		ServerHTTP:    server,
		HTTPTransport: transport,
		Context:       ctx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WSURL returns the WebSocket URL of path on the server.
func (s *Server) WSURL(path string) string {
	return "ws" + strings.TrimPrefix(s.ServerHTTP.URL, "http") + path
}

// WithClosureAbnormalHandler attaches an abnormal closure behavior to Server.
func WithClosureAbnormalHandler(path string) func(*Server) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, req, w.Header())
		if err != nil {
			return
		}
		// This forces a connection closure without a proper WS close message exchange
		_ = conn.Close()
	}
	return func(s *Server) {
		s.Mux.Handle(path, http.HandlerFunc(handler))
	}
}

// WithEchoHandler attaches an echo handler to Server.
func WithEchoHandler(path string) func(*Server) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, req, w.Header())
		if err != nil {
			return
		}
		defer conn.Close() //nolint:errcheck

		messageType, r, err := conn.NextReader()
		if err != nil {
			return
		}
		wc, err := conn.NextWriter(messageType)
		if err != nil {
			return
		}
		if _, err = io.Copy(wc, r); err != nil {
			return
		}
		if err = wc.Close(); err != nil {
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(10*time.Second),
		)
	}
	return func(s *Server) {
		s.Mux.Handle(path, http.HandlerFunc(handler))
	}
}

// Recorder records the commands received by a protocol handler.
type Recorder struct {
	mu      sync.Mutex
	methods []protocol.MethodType
}

func (r *Recorder) record(m protocol.MethodType) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.methods = append(r.methods, m)
	r.mu.Unlock()
}

// Methods returns the recorded command names in arrival order.
func (r *Recorder) Methods() []protocol.MethodType {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]protocol.MethodType(nil), r.methods...)
}

// HandlerFunc answers a command by writing replies and events to writeCh.
type HandlerFunc func(msg *protocol.Message, writeCh chan<- *protocol.Message, done <-chan struct{})

// WithProtocolHandler attaches a custom protocol handler function to Server.
func WithProtocolHandler(path string, fn HandlerFunc, cmdsReceived *Recorder) func(*Server) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, req, w.Header())
		if err != nil {
			return
		}
		serve(conn, func(msg *protocol.Message, writeCh chan<- *protocol.Message, done <-chan struct{}) {
			cmdsReceived.record(msg.Method)
			fn(msg, writeCh, done)
		}, nil)
	}
	return func(s *Server) {
		s.Mux.Handle(path, http.HandlerFunc(handler))
	}
}

// WithBrowserHandler serves b at path. Commands run concurrently, so a
// command blocked by an open dialog does not hold up the dialog's handling.
func WithBrowserHandler(path string, b *fakebrowser.Browser) func(*Server) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, req, w.Header())
		if err != nil {
			return
		}

		ctx, cancel := context.WithCancel(req.Context())
		defer cancel()

		var wg sync.WaitGroup
		defer wg.Wait()

		fn := func(msg *protocol.Message, writeCh chan<- *protocol.Message, done <-chan struct{}) {
			wg.Add(1)
			go func() {
				defer wg.Done()

				var result easyjson.RawMessage
				reply := &protocol.Message{ID: msg.ID}
				if err := b.Execute(ctx, msg.Method, msg.Params, &result); err != nil {
					reply.Error = toProtocolError(err)
				} else {
					reply.Result = result
				}
				select {
				case writeCh <- reply:
				case <-done:
				}
			}()
		}
		events := func(writeCh chan<- *protocol.Message, done <-chan struct{}) {
			sub := b.Subscribe(ctx)
			for {
				select {
				case msg, ok := <-sub:
					if !ok {
						return
					}
					select {
					case writeCh <- msg:
					case <-done:
						return
					}
				case <-done:
					return
				}
			}
		}
		serve(conn, fn, events)
		cancel()
	}
	return func(s *Server) {
		s.Mux.Handle(path, http.HandlerFunc(handler))
	}
}

func toProtocolError(err error) *protocol.Error {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return perr
	}
	return &protocol.Error{Code: protocol.ErrCodeServer, Message: err.Error()}
}

// serve reads commands from conn and writes whatever the handler and the
// optional event source put on the write channel, until the peer leaves.
func serve(
	conn *websocket.Conn,
	fn HandlerFunc,
	events func(writeCh chan<- *protocol.Message, done <-chan struct{}),
) {
	done := make(chan struct{})
	writeCh := make(chan *protocol.Message)

	var wg sync.WaitGroup
	if events != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			events(writeCh, done)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		write := func(msg *protocol.Message) {
			encoder := jwriter.Writer{}
			msg.MarshalEasyJSON(&encoder)
			if err := encoder.Error; err != nil {
				return
			}
			writer, err := conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := encoder.DumpTo(writer); err != nil {
				return
			}
			_ = writer.Close()
		}

		for {
			select {
			case msg := <-writeCh:
				write(msg)
			case <-done:
				return
			}
		}
	}()

	for {
		_, buf, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg protocol.Message
		decoder := jlexer.Lexer{Data: buf}
		msg.UnmarshalEasyJSON(&decoder)
		if decoder.Error() != nil {
			continue
		}
		fn(&msg, writeCh, done)
	}

	close(done)
	wg.Wait()
	_ = conn.Close()
}

// DefaultHandler replies to every command with an empty result. Creating a
// page also emits its pageCreated event first.
func DefaultHandler(msg *protocol.Message, writeCh chan<- *protocol.Message, done <-chan struct{}) {
	send := func(m *protocol.Message) {
		select {
		case writeCh <- m:
		case <-done:
		}
	}

	switch msg.Method {
	case protocol.CommandTargetCreatePage:
		send(&protocol.Message{
			Method: protocol.EventTargetPageCreated,
			Params: easyjson.RawMessage(`{"pageId":"page_0123456789","browserContextId":"context_0123456789","url":"about:blank"}`),
		})
		send(&protocol.Message{ID: msg.ID, Result: easyjson.RawMessage(`{"pageId":"page_0123456789"}`)})
	default:
		send(&protocol.Message{ID: msg.ID, Result: easyjson.RawMessage(`{}`)})
	}
}
