package transport

import (
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ServerSentEventsConn streams outbound frames as SSE data events over a
// held-open response. Inbound frames cannot travel on the event stream, so
// they arrive through Deliver, fed by separate POST requests to the
// execution route.
type ServerSentEventsConn struct {
	id      string
	w       io.Writer
	flusher http.Flusher
	writeMu sync.Mutex
	in      *inbox
}

// NewServerSentEventsConn wraps a response writer that has already sent the
// text/event-stream headers. The writer must implement http.Flusher.
func NewServerSentEventsConn(id string, w http.ResponseWriter) (*ServerSentEventsConn, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	return &ServerSentEventsConn{
		id:      id,
		w:       w,
		flusher: flusher,
		in:      newInbox(),
	}, nil
}

func (c *ServerSentEventsConn) ConnectionID() string { return c.id }

func (c *ServerSentEventsConn) Kind() Kind { return KindServerSentEvents }

func (c *ServerSentEventsConn) Read(p []byte) (int, error) {
	return c.in.Read(p)
}

func (c *ServerSentEventsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.in.closed:
		return 0, ErrConnClosed
	default:
	}

	if _, err := fmt.Fprintf(c.w, "data: %s\n\n", p); err != nil {
		return 0, err
	}
	c.flusher.Flush()
	return len(p), nil
}

// Deliver queues inbound bytes posted by the client.
func (c *ServerSentEventsConn) Deliver(p []byte) error {
	return c.in.deliver(p)
}

func (c *ServerSentEventsConn) Close() error {
	c.in.close()
	return nil
}

// Done is closed when the connection has been terminated.
func (c *ServerSentEventsConn) Done() <-chan struct{} {
	return c.in.closed
}
