// Package transport provides the byte-oriented connection abstraction shared
// by all wire transports. A Conn hides whether bytes travel over a websocket,
// a server-sent event stream, or long-polling requests; the connection
// pipeline only ever sees the Conn interface.
package transport

import (
	"errors"
	"io"
	"sync"
)

var (
	ErrConnClosed = errors.New("connection closed")
)

// Kind identifies a wire transport. The string values appear verbatim in the
// negotiation response, so clients match on them.
type Kind string

const (
	KindWebSockets       Kind = "WebSockets"
	KindServerSentEvents Kind = "ServerSentEvents"
	KindLongPolling      Kind = "LongPolling"
)

// Kinds returns all transports in server preference order.
func Kinds() []Kind {
	return []Kind{KindWebSockets, KindServerSentEvents, KindLongPolling}
}

// Valid reports whether k names a known transport.
func (k Kind) Valid() bool {
	switch k {
	case KindWebSockets, KindServerSentEvents, KindLongPolling:
		return true
	}
	return false
}

// TransferFormats lists the payload encodings a transport carries.
func (k Kind) TransferFormats() []string {
	if k == KindServerSentEvents {
		return []string{"Text"}
	}
	return []string{"Text", "Binary"}
}

// Conn is one established connection handed to the pipeline. Read blocks
// until inbound bytes arrive or the connection terminates with io.EOF.
// Write sends one outbound frame per call. Implementations allow one
// concurrent reader and one concurrent writer.
type Conn interface {
	io.ReadWriteCloser

	// ConnectionID returns the negotiated connection identifier.
	ConnectionID() string

	// Kind returns the wire transport carrying this connection.
	Kind() Kind
}

// Deliverable is implemented by transports whose inbound bytes arrive out of
// band, via separate HTTP requests, rather than on the connection itself.
type Deliverable interface {
	Deliver(p []byte) error
}

// inbox adapts a frame channel to the io.Reader contract, carrying the
// remainder of a partially consumed frame between Read calls.
type inbox struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	rem       []byte
}

func newInbox() *inbox {
	return &inbox{
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (b *inbox) Read(p []byte) (int, error) {
	if len(b.rem) == 0 {
		select {
		case frame := <-b.frames:
			b.rem = frame
		case <-b.closed:
			// Drain frames delivered before close.
			select {
			case frame := <-b.frames:
				b.rem = frame
			default:
				return 0, io.EOF
			}
		}
	}
	n := copy(p, b.rem)
	b.rem = b.rem[n:]
	return n, nil
}

func (b *inbox) deliver(p []byte) error {
	select {
	case <-b.closed:
		return ErrConnClosed
	default:
	}
	frame := make([]byte, len(p))
	copy(frame, p)
	select {
	case b.frames <- frame:
		return nil
	case <-b.closed:
		return ErrConnClosed
	}
}

func (b *inbox) close() {
	b.closeOnce.Do(func() { close(b.closed) })
}
