// Package coretest provides in-memory stand-ins for transport and media
// collaborators.
package coretest

import (
	"context"
	"sync"

	"github.com/dkeye/classmeet/internal/core"
	"github.com/dkeye/classmeet/internal/domain"
)

// Conn records every message handed to it.
type Conn struct {
	mu     sync.Mutex
	msgs   []any
	closed bool
	full   bool
}

func NewConn() *Conn { return &Conn{} }

func (c *Conn) TrySend(msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.full {
		return core.ErrBackpressure
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// SetFull makes every following TrySend fail with backpressure.
func (c *Conn) SetFull(full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.full = full
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Messages() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = nil
}

// Find returns the messages of type T, in delivery order.
func Find[T any](c *Conn) []T {
	var out []T
	for _, m := range c.Messages() {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// Handle is a media handle that counts Close calls.
type Handle struct {
	mu     sync.Mutex
	closed int
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	return nil
}

func (h *Handle) Closed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

type Router struct {
	mu      sync.Mutex
	closed  bool
	handles map[domain.ParticipantID]*Handle
	Err     error
}

var ICEServers = []core.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}}

func (r *Router) ICEServers() []core.ICEServer { return ICEServers }

func (r *Router) Open(pid domain.ParticipantID) (core.MediaHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	if r.handles == nil {
		r.handles = make(map[domain.ParticipantID]*Handle)
	}
	h := &Handle{}
	r.handles[pid] = h
	return h, nil
}

// Handle returns the last handle opened for pid.
func (r *Router) Handle(pid domain.ParticipantID) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[pid]
	return h, ok
}

func (r *Router) openHandles() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, h := range r.handles {
		if h.Closed() == 0 {
			n++
		}
	}
	return n
}

func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Transport hands out Routers and remembers them by room.
type Transport struct {
	mu      sync.Mutex
	Err     error
	Routers map[domain.RoomID][]*Router
	fatal   chan error
}

func NewTransport() *Transport {
	return &Transport{Routers: make(map[domain.RoomID][]*Router), fatal: make(chan error, 1)}
}

func (t *Transport) NewRouter(_ context.Context, roomID domain.RoomID) (core.MediaRouter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return nil, t.Err
	}
	r := &Router{}
	t.Routers[roomID] = append(t.Routers[roomID], r)
	return r, nil
}

func (t *Transport) ICEServers() []core.ICEServer { return ICEServers }

// Stats counts open routers and the handles they have not closed.
func (t *Transport) Stats() core.MediaStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	var st core.MediaStats
	for _, rs := range t.Routers {
		for _, r := range rs {
			if r.Closed() {
				continue
			}
			st.Routers++
			st.Handles += r.openHandles()
		}
	}
	return st
}

func (t *Transport) Fatal() <-chan error { return t.fatal }

func (t *Transport) Fail(err error) { t.fatal <- err }
