package chatclient_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatsync/backend/internal/chatclient"
	"chatsync/backend/internal/models"
)

type fakeConn struct {
	in        chan []models.Event
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []models.Event
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []models.Event, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadEvents() ([]models.Event, error) {
	select {
	case evts := <-c.in:
		return evts, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteEvent(evt models.Event) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, evt)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(evts ...models.Event) { c.in <- evts }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// sent returns the written events of eventType, in order.
func (c *fakeConn) sent(eventType string) []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Event
	for _, evt := range c.written {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}

func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, evt := range c.written {
		out[i] = evt.Type
	}
	return out
}

// fakeDialer fails the first failFirst dials (all of them if failAll) and
// hands out fresh fakeConns otherwise. With maxConns set, dials fail once
// that many conns were handed out; deadConns returns them already closed.
type fakeDialer struct {
	mu        sync.Mutex
	failFirst int
	failAll   bool
	maxConns  int
	deadConns bool
	gate      chan struct{} // when set, Dial blocks until it is closed
	dials     []time.Time
	conns     []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context) (chatclient.Conn, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, time.Now())
	if d.failAll || len(d.dials) <= d.failFirst || (d.maxConns > 0 && len(d.conns) >= d.maxConns) {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	if d.deadConns {
		conn.Close()
	}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *fakeDialer) dialTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.dials...)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// statusRecorder is a comparable listener.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []chatclient.Status
}

func (r *statusRecorder) OnConnectionChange(s chatclient.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *statusRecorder) all() []chatclient.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chatclient.Status(nil), r.statuses...)
}

func (r *statusRecorder) last() chatclient.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return chatclient.Status{}
	}
	return r.statuses[len(r.statuses)-1]
}

func fastBackoff(maxAttempts int) chatclient.Backoff {
	return chatclient.Backoff{
		Initial:     10 * time.Millisecond,
		Max:         40 * time.Millisecond,
		Multiplier:  1.5,
		MaxAttempts: maxAttempts,
	}
}

func mustEvent(eventType string, payload any) models.Event {
	return models.MustEvent(eventType, payload)
}
