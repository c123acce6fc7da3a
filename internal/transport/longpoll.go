package transport

import (
	"context"
	"sync"
	"time"
)

// LongPollingConn buffers outbound frames until the client collects them
// with a poll request. Inbound frames arrive through Deliver. Unlike the
// other transports the connection is not tied to a single HTTP request: the
// pipeline runs detached and the conn outlives individual polls.
type LongPollingConn struct {
	id  string
	out chan []byte
	in  *inbox

	pollMu   sync.Mutex
	polling  int
	lastPoll time.Time
}

// NewLongPollingConn creates a long-polling connection for the given id.
func NewLongPollingConn(id string) *LongPollingConn {
	return &LongPollingConn{
		id:       id,
		out:      make(chan []byte, 16),
		in:       newInbox(),
		lastPoll: time.Now(),
	}
}

func (c *LongPollingConn) ConnectionID() string { return c.id }

func (c *LongPollingConn) Kind() Kind { return KindLongPolling }

func (c *LongPollingConn) Read(p []byte) (int, error) {
	return c.in.Read(p)
}

func (c *LongPollingConn) Write(p []byte) (int, error) {
	frame := make([]byte, len(p))
	copy(frame, p)
	select {
	case c.out <- frame:
		return len(p), nil
	case <-c.in.closed:
		return 0, ErrConnClosed
	}
}

// Deliver queues inbound bytes posted by the client.
func (c *LongPollingConn) Deliver(p []byte) error {
	return c.in.deliver(p)
}

// Poll waits up to timeout for one outbound frame. It returns a nil frame
// when the timeout elapses and ErrConnClosed once the connection terminates
// and the outbound buffer has drained.
func (c *LongPollingConn) Poll(ctx context.Context, timeout time.Duration) ([]byte, error) {
	c.beginPoll()
	defer c.endPoll()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame := <-c.out:
		return frame, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.in.closed:
		// Let the final poll carry anything written before close.
		select {
		case frame := <-c.out:
			return frame, nil
		default:
			return nil, ErrConnClosed
		}
	}
}

func (c *LongPollingConn) beginPoll() {
	c.pollMu.Lock()
	c.polling++
	c.pollMu.Unlock()
}

func (c *LongPollingConn) endPoll() {
	c.pollMu.Lock()
	c.polling--
	c.lastPoll = time.Now()
	c.pollMu.Unlock()
}

// Idle reports whether no poll is in flight and none has completed within
// window. The client is presumed gone once the connection sits idle past the
// disconnect timeout.
func (c *LongPollingConn) Idle(window time.Duration) bool {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	return c.polling == 0 && time.Since(c.lastPoll) > window
}

func (c *LongPollingConn) Close() error {
	c.in.close()
	return nil
}

// Done is closed when the connection has been terminated.
func (c *LongPollingConn) Done() <-chan struct{} {
	return c.in.closed
}
