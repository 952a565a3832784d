// Package msgnet exchanges strongly-typed, length-prefixed, compressed binary
// messages over TCP. A Registry shared by both ends maps message types to
// integer tags; a Transceiver frames messages on one socket; a Server accepts
// and supervises many transceivers; a Client pairs a transceiver with an address.
package msgnet

import (
	"bufio"
	"context"
	"io"
	"net"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// State is the lifecycle state of a Transceiver.
type State int32

const (
	// StateDisconnected means no socket has been attached yet.
	StateDisconnected State = iota
	// StateConnected means a socket is attached and the reader is running.
	StateConnected
	// StateDead means the socket was closed. Connect may attach a new one.
	StateDead
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateDead:
		return "dead"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// closedChan is returned by Done before any socket was attached.
var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Transceiver owns one TCP socket and exchanges framed messages over it.
// A background reader decodes inbound frames into the Received queue; Send
// writes frames synchronously, one caller at a time.
type Transceiver struct {
	registry *Registry
	opts     options
	logger   Logger
	inbox    *Queue

	mu    sync.Mutex
	conn  net.Conn
	state State
	done  chan struct{}

	sendMu  sync.Mutex // serializes Send and guards codec scratch state
	codec   *frameCodec
	sendBuf []byte
}

// NewTransceiver creates a disconnected transceiver.
// Returns ErrNilRegistry if registry is nil.
func NewTransceiver(registry *Registry, opt ...Option) (*Transceiver, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	return newTransceiver(registry, buildOptions(opt)), nil
}

func newTransceiver(registry *Registry, opts options) *Transceiver {
	return &Transceiver{
		registry: registry,
		opts:     opts,
		logger:   opts.logger,
		inbox:    newQueue(),
		codec:    newFrameCodec(registry, opts),
	}
}

// Connect dials host:port and starts the background reader.
// It fails with ErrAlreadyConnected while a socket is attached.
func (t *Transceiver) Connect(ctx context.Context, host string, port int) error {
	if t.State() == StateConnected {
		return ErrAlreadyConnected
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: t.opts.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.logger.Warn("connect failed", "addr", addr, "error", err)
		return errors.Wrapf(err, "connect %s", addr)
	}

	if err = t.attach(conn); err != nil {
		_ = conn.Close()
		return err
	}

	t.logger.Debug("connected", "addr", addr)
	return nil
}

// attach takes ownership of conn and starts reading from it.
func (t *Transceiver) attach(conn net.Conn) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateConnected {
		return ErrAlreadyConnected
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	t.conn = conn
	t.state = StateConnected
	t.done = make(chan struct{})

	go t.readLoop(conn, t.done)
	return nil
}

// Disconnect closes the socket. The reader stops once its blocked read
// returns. Safe to call multiple times and from any state.
func (t *Transceiver) Disconnect() {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	if t.state == StateConnected {
		t.state = StateDead
	}
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// Send encodes and writes messages in order. Concurrent calls are
// serialized so frames never interleave on the wire.
//
// A failure aborts the rest of the batch and is returned as *SendError.
// It does not close the socket; a broken connection becomes dead once
// the reader observes the failure.
func (t *Transceiver) Send(messages ...Message) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	for i, m := range messages {
		if conn == nil {
			return &SendError{Index: i, Err: ErrConnectionClosed}
		}

		frame, err := t.codec.encode(t.sendBuf[:0], m)
		if err != nil {
			return &SendError{Index: i, Err: err}
		}
		if cap(frame) <= headerSize+t.opts.maxMessageSize {
			t.sendBuf = frame
		}

		if t.opts.writeTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(t.opts.writeTimeout))
		}
		if _, err = conn.Write(frame); err != nil {
			t.logger.Debug("write error", "addr", conn.RemoteAddr(), "error", err)
			return &SendError{Index: i, Err: errors.Wrap(err, "write frame")}
		}
	}

	return nil
}

// Received returns the live inbound queue. Consumers drain it.
func (t *Transceiver) Received() *Queue {
	return t.inbox
}

// IsDead reports whether no socket is attached.
func (t *Transceiver) IsDead() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn == nil
}

// State returns the current lifecycle state.
func (t *Transceiver) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done returns a channel closed when the reader of the current socket exits.
func (t *Transceiver) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done == nil {
		return closedChan
	}
	return t.done
}

// RemoteAddr returns the peer address, or nil when no socket is attached.
func (t *Transceiver) RemoteAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	return t.conn.RemoteAddr()
}

// readLoop decodes frames until the connection fails, the peer sends a
// termination sentinel, or the socket is closed locally.
func (t *Transceiver) readLoop(conn net.Conn, done chan struct{}) {
	var err error

	defer func() {
		if r := recover(); r != nil {
			err = &ProtocolError{Op: "decode", Err: errors.Errorf("panic: %v", r)}
			t.logger.Error("reader panic", "addr", conn.RemoteAddr(), "panic", r, "stack", string(debug.Stack()))
		}

		t.release(conn)
		t.logExit(conn, err)
		close(done)
	}()

	br := bufio.NewReaderSize(conn, defaultReadBufferSize)
	for {
		var m Message
		if m, err = t.codec.decode(conn, br, t.opts.frameTimeout); err != nil {
			return
		}
		t.inbox.Push(m)
	}
}

// release closes conn and detaches it if it is still the current socket.
func (t *Transceiver) release(conn net.Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
		t.state = StateDead
	}
	t.mu.Unlock()

	_ = conn.Close()
}

func (t *Transceiver) logExit(conn net.Conn, err error) {
	addr := conn.RemoteAddr()
	switch {
	case errors.Is(err, ErrStreamEnd):
		t.logger.Debug("peer ended stream", "addr", addr)
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		t.logger.Debug("connection closed", "addr", addr)
	case IsProtocolError(err):
		t.logger.Warn("protocol error", "addr", addr, "error", err)
	default:
		t.logger.Info("connection closed with error", "addr", addr, "error", err)
	}
}
