// Package transport implements dispatch.Transport over
// github.com/coder/websocket: a background readLoop goroutine feeds a
// mutex-guarded queue, accepted server-side via Accept, with
// drain-nonblocking and peek-await exposed as distinct primitives rather
// than a single channel read.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/t184256/transcriber-go/internal/dispatch"
)

// Conn adapts one accepted WebSocket connection to dispatch.Transport.
//
// A background goroutine continuously reads frames and appends them to an
// internal queue; DrainNonBlocking pops everything currently queued,
// PeekAwait blocks only until the queue becomes non-empty without popping
// anything itself — the next DrainNonBlocking call does the actual
// consuming. This gives the dispatch loop's "peek without consuming"
// primitive without requiring peek support from the underlying library.
type Conn struct {
	ws *websocket.Conn

	mu      sync.Mutex
	queue   []dispatch.Message
	readErr error
	notify  chan struct{}

	closeOnce sync.Once
}

// Accept upgrades an HTTP request to a WebSocket connection and starts the
// background read loop.
func Accept(w http.ResponseWriter, r *http.Request, opts *websocket.AcceptOptions) (*Conn, error) {
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, fmt.Errorf("transport: accept: %w", err)
	}
	c := &Conn{ws: ws, notify: make(chan struct{}, 1)}
	go c.readLoop(r.Context())
	return c, nil
}

func (c *Conn) readLoop(ctx context.Context) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			c.mu.Lock()
			if c.readErr == nil {
				c.readErr = err
			}
			c.enqueueLocked(dispatch.Message{Kind: dispatch.KindClose})
			c.mu.Unlock()
			return
		}

		var kind dispatch.MessageKind
		switch typ {
		case websocket.MessageText:
			kind = dispatch.KindText
		case websocket.MessageBinary:
			kind = dispatch.KindBinary
		default:
			continue
		}

		c.mu.Lock()
		c.enqueueLocked(dispatch.Message{Kind: kind, Data: data})
		c.mu.Unlock()
	}
}

// enqueueLocked appends msg to the queue and wakes any PeekAwait waiter.
// Caller must hold c.mu.
func (c *Conn) enqueueLocked(msg dispatch.Message) {
	c.queue = append(c.queue, msg)
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// DrainNonBlocking implements dispatch.Transport.
func (c *Conn) DrainNonBlocking() ([]dispatch.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.queue
	c.queue = nil
	if len(msgs) == 0 && c.readErr != nil && !errors.Is(c.readErr, context.Canceled) {
		err := c.readErr
		c.readErr = nil
		return nil, fmt.Errorf("transport: read: %w", err)
	}
	return msgs, nil
}

// PeekAwait implements dispatch.Transport.
func (c *Conn) PeekAwait(ctx context.Context) error {
	for {
		c.mu.Lock()
		ready := len(c.queue) > 0 || c.readErr != nil
		c.mu.Unlock()
		if ready {
			return nil
		}
		select {
		case <-c.notify:
			// Looping re-checks readiness; another goroutine may have
			// already drained between the notify and our re-check.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SendText implements dispatch.Transport.
func (c *Conn) SendText(ctx context.Context, data []byte) error {
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("transport: write text: %w", err)
	}
	return nil
}

// SendPong is a no-op: coder/websocket answers Ping control frames
// automatically at the protocol level, so no application-level Pong send is
// ever required.
func (c *Conn) SendPong(ctx context.Context) error { return nil }

// Close implements dispatch.Transport.
func (c *Conn) Close(ctx context.Context, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		err = c.ws.Close(websocket.StatusNormalClosure, reason)
	})
	if err != nil {
		return fmt.Errorf("transport: close: %w", err)
	}
	return nil
}

var _ dispatch.Transport = (*Conn)(nil)
