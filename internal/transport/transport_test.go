package transport

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_Valid(t *testing.T) {
	assert.True(t, KindWebSockets.Valid())
	assert.True(t, KindServerSentEvents.Valid())
	assert.True(t, KindLongPolling.Valid())
	assert.False(t, Kind("Carrier Pigeon").Valid())
}

func TestKinds_PreferenceOrder(t *testing.T) {
	kinds := Kinds()
	require.Len(t, kinds, 3)
	assert.Equal(t, KindWebSockets, kinds[0])
	assert.Equal(t, KindLongPolling, kinds[2])
}

func TestLongPollingConn_DeliverRead(t *testing.T) {
	conn := NewLongPollingConn("conn-1")
	defer conn.Close()

	require.NoError(t, conn.Deliver([]byte("hello")))

	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestLongPollingConn_ReadSpansFrames(t *testing.T) {
	conn := NewLongPollingConn("conn-1")
	defer conn.Close()

	require.NoError(t, conn.Deliver([]byte("hello")))

	// A short buffer consumes the frame across two reads.
	buf := make([]byte, 3)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hel", string(buf[:n]))

	n, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "lo", string(buf[:n]))
}

func TestLongPollingConn_ReadAfterClose(t *testing.T) {
	conn := NewLongPollingConn("conn-1")
	require.NoError(t, conn.Deliver([]byte("last")))
	require.NoError(t, conn.Close())

	// Frames delivered before close still drain, then EOF.
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "last", string(buf[:n]))

	_, err = conn.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestLongPollingConn_DeliverAfterClose(t *testing.T) {
	conn := NewLongPollingConn("conn-1")
	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Deliver([]byte("late")), ErrConnClosed)
}

func TestLongPollingConn_Poll(t *testing.T) {
	conn := NewLongPollingConn("conn-1")
	defer conn.Close()

	_, err := conn.Write([]byte("payload"))
	require.NoError(t, err)

	frame, err := conn.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(frame))
}

func TestLongPollingConn_PollTimeout(t *testing.T) {
	conn := NewLongPollingConn("conn-1")
	defer conn.Close()

	frame, err := conn.Poll(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, frame)
}

func TestLongPollingConn_IdleTracking(t *testing.T) {
	conn := NewLongPollingConn("conn-1")
	defer conn.Close()

	// A fresh connection is not idle within a generous window.
	assert.False(t, conn.Idle(time.Hour))

	// An in-flight poll keeps the connection alive however long it holds.
	done := make(chan struct{})
	go func() {
		_, _ = conn.Poll(context.Background(), 150*time.Millisecond)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	assert.False(t, conn.Idle(time.Millisecond))
	<-done

	// Once polling stops the idle window starts counting.
	time.Sleep(5 * time.Millisecond)
	assert.True(t, conn.Idle(time.Millisecond))
}

func TestLongPollingConn_PollAfterClose(t *testing.T) {
	conn := NewLongPollingConn("conn-1")
	_, err := conn.Write([]byte("tail"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	// The buffered frame drains first, then the closed error surfaces.
	frame, err := conn.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "tail", string(frame))

	_, err = conn.Poll(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrConnClosed)
}
