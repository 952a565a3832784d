package msgnet

import (
	"fmt"

	"github.com/pkg/errors"
)

// Registration errors, returned synchronously by Registry.Register.
var (
	// ErrReservedTag is returned when registering one of the termination sentinels.
	ErrReservedTag = errors.New("tag is reserved")
	// ErrNilFactory is returned when the factory is nil or produces a nil message.
	ErrNilFactory = errors.New("nil message factory")
	// ErrTagCollision is returned when the tag is already bound.
	ErrTagCollision = errors.New("tag already registered")
	// ErrVariantRegistered is returned when the message type already has a tag.
	ErrVariantRegistered = errors.New("message type already registered")
)

// Protocol errors. A reader hitting any of these closes its connection.
var (
	ErrUnknownTag       = errors.New("unknown message tag")
	ErrInvalidLength    = errors.New("invalid frame length")
	ErrFrameTruncated   = errors.New("frame truncated")
	ErrFrameTimeout     = errors.New("frame timeout")
	ErrMessageTooLarge  = errors.New("message too large")
	ErrMalformedMessage = errors.New("malformed message")
)

// ErrStreamEnd is reported when the peer sends a termination sentinel.
// It ends the connection but is not a protocol error.
var ErrStreamEnd = errors.New("end of stream")

// Connectivity and usage errors.
var (
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrAlreadyConnected is returned by Connect on a live transceiver.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrUnregisteredMessage is returned when sending a message type with no tag.
	ErrUnregisteredMessage = errors.New("message type not registered")
	// ErrNilRegistry is returned when a component is built without a registry.
	ErrNilRegistry = errors.New("nil registry")
	// ErrServerRunning is returned by Start on a server that is not stopped.
	ErrServerRunning = errors.New("server already running")
	// ErrStartTimeout is returned when the service loops fail to report running in time.
	ErrStartTimeout = errors.New("server start timeout")
)

// ProtocolError describes a failure decoding a frame from the wire.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return "msgnet: " + e.Op + ": " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// SendError reports which message of a batch could not be sent.
// Messages before Index were written in full; the rest were not attempted.
type SendError struct {
	Index int
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("msgnet: send message %d: %v", e.Index, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether err was caused by a malformed or stalled frame.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
