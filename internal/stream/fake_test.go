package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
)

type fakeConn struct {
	frames chan []byte
	done   chan struct{}

	mu      sync.Mutex
	written []json.RawMessage
	closed  bool
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.ErrClosedPipe
	}
	c.written = append(c.written, raw)
	return nil
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.done:
		return nil, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

// drop simulates the server going away.
func (c *fakeConn) drop() { c.Close() }

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) writes() []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]json.RawMessage, len(c.written))
	copy(out, c.written)
	return out
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	errs  []error
	dials int
	urls  []string
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.dials
	d.dials++
	d.urls = append(d.urls, url)
	if i < len(d.errs) && d.errs[i] != nil {
		return nil, d.errs[i]
	}
	if i >= len(d.conns) {
		return nil, errors.New("no more fake connections")
	}
	return d.conns[i], nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
