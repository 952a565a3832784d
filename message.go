package msgnet

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// Message is the interface for messages transmitted over a Transceiver.
// Concrete variants are defined by applications and registered in a Registry
// under a tag that both ends of the link agree on.
type Message interface {
	// MarshalBinary returns the serialized form of the message.
	MarshalBinary() ([]byte, error)
	// UnmarshalBinary restores the message from its serialized form.
	UnmarshalBinary(data []byte) error
}

// Appender is implemented by messages that can serialize into a caller-owned
// buffer. A Transceiver keeps one scratch buffer per connection and reuses it
// for every message that implements Appender.
type Appender interface {
	AppendBinary(b []byte) ([]byte, error)
}

// StringMessage carries a single UTF-8 string.
// Its serialized form is a 4-byte big-endian length followed by the string bytes.
// Text that is not valid UTF-8 fails to serialize.
type StringMessage struct {
	Text string
}

// NewStringMessage returns a StringMessage holding text.
func NewStringMessage(text string) *StringMessage {
	return &StringMessage{Text: text}
}

func (m *StringMessage) AppendBinary(b []byte) ([]byte, error) {
	if !utf8.ValidString(m.Text) {
		return b, errors.Wrap(ErrMalformedMessage, "string message: invalid utf-8")
	}
	b = binary.BigEndian.AppendUint32(b, uint32(len(m.Text)))
	return append(b, m.Text...), nil
}

func (m *StringMessage) MarshalBinary() ([]byte, error) {
	return m.AppendBinary(make([]byte, 0, 4+len(m.Text)))
}

func (m *StringMessage) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return errors.Wrapf(ErrMalformedMessage, "string message: %d bytes", len(data))
	}
	n := binary.BigEndian.Uint32(data)
	if uint64(n) > uint64(len(data)-4) {
		return errors.Wrapf(ErrMalformedMessage, "string message: length %d exceeds %d", n, len(data)-4)
	}
	text := data[4 : 4+int(n)]
	if !utf8.Valid(text) {
		return errors.Wrap(ErrMalformedMessage, "string message: invalid utf-8")
	}
	m.Text = string(text)
	return nil
}

func (m *StringMessage) String() string {
	return "stringMsg:" + m.Text
}
