package msgnet

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"net"
	"time"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// Frame layout, all integers big-endian:
//
//	[4 bytes tag][4 bytes compressed length][compressed payload]
const (
	tagFieldSize    = 4
	lengthFieldSize = 4
	headerSize      = tagFieldSize + lengthFieldSize

	// maxFrameLength is the largest compressed length the header can carry.
	maxFrameLength = math.MaxInt32
)

// Compressor compresses frame payloads. Decompress must be the exact inverse
// of Compress for every input, including the empty slice.
type Compressor interface {
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

// boundedDecompressor is implemented by compressors that can stop inflating
// once the output exceeds limit bytes.
type boundedDecompressor interface {
	decompressLimit(src []byte, limit int) ([]byte, error)
}

type zlibCompressor struct {
	level int
}

// ZlibCompressor returns a zlib (deflate) Compressor at the given level.
// Use zlib.DefaultCompression when in doubt.
func ZlibCompressor(level int) Compressor {
	return &zlibCompressor{level: level}
}

func (c *zlibCompressor) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, errors.Wrap(err, "zlib writer")
	}
	if _, err = w.Write(src); err != nil {
		return nil, errors.Wrap(err, "zlib compress")
	}
	if err = w.Close(); err != nil {
		return nil, errors.Wrap(err, "zlib compress")
	}
	return buf.Bytes(), nil
}

func (c *zlibCompressor) Decompress(src []byte) ([]byte, error) {
	return c.decompressLimit(src, -1)
}

func (c *zlibCompressor) decompressLimit(src []byte, limit int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, errors.Wrap(err, "zlib reader")
	}
	defer r.Close()

	var in io.Reader = r
	if limit >= 0 {
		in = io.LimitReader(r, int64(limit)+1)
	}

	out, err := io.ReadAll(in)
	if err != nil {
		return nil, errors.Wrap(err, "zlib decompress")
	}
	if limit >= 0 && len(out) > limit {
		return nil, errors.Wrapf(ErrMessageTooLarge, "decompressed payload exceeds %d bytes", limit)
	}
	return out, nil
}

type nopCompressor struct{}

// NopCompressor returns a Compressor that copies payloads unchanged.
// Both ends of a link must use it.
func NopCompressor() Compressor {
	return nopCompressor{}
}

func (nopCompressor) Compress(src []byte) ([]byte, error) {
	return append([]byte{}, src...), nil
}

func (nopCompressor) Decompress(src []byte) ([]byte, error) {
	return append([]byte{}, src...), nil
}

func appendInt32(b []byte, v int32) []byte {
	return binary.BigEndian.AppendUint32(b, uint32(v))
}

func readInt32(b []byte) int32 {
	return int32(binary.BigEndian.Uint32(b))
}

// deadlineReader is the part of a connection the frame decoder drives.
type deadlineReader interface {
	SetReadDeadline(t time.Time) error
}

// frameCodec turns messages into frames and back.
// encode is not safe for concurrent use; decode only reads immutable state.
type frameCodec struct {
	registry   *Registry
	compressor Compressor
	maxSize    int
	scratch    []byte
}

func newFrameCodec(registry *Registry, opts options) *frameCodec {
	return &frameCodec{
		registry:   registry,
		compressor: opts.compressor,
		maxSize:    opts.maxMessageSize,
	}
}

// encode appends the frame for m to dst.
func (c *frameCodec) encode(dst []byte, m Message) ([]byte, error) {
	tag, ok := c.registry.TagOf(m)
	if !ok {
		return dst, errors.Wrapf(ErrUnregisteredMessage, "%T", m)
	}

	payload, err := c.marshal(m)
	if err != nil {
		return dst, errors.Wrapf(err, "marshal %T", m)
	}
	if len(payload) > c.maxSize {
		return dst, errors.Wrapf(ErrMessageTooLarge, "%T serializes to %d bytes, limit %d", m, len(payload), c.maxSize)
	}

	compressed, err := c.compressor.Compress(payload)
	if err != nil {
		return dst, err
	}
	if len(compressed) == 0 {
		return dst, errors.Wrapf(ErrInvalidLength, "%T compresses to an empty payload", m)
	}
	if len(compressed) > c.maxSize {
		return dst, errors.Wrapf(ErrMessageTooLarge, "%T compresses to %d bytes, limit %d", m, len(compressed), c.maxSize)
	}

	dst = appendInt32(dst, int32(tag))
	dst = appendInt32(dst, int32(len(compressed)))
	return append(dst, compressed...), nil
}

func (c *frameCodec) marshal(m Message) ([]byte, error) {
	a, ok := m.(Appender)
	if !ok {
		return m.MarshalBinary()
	}

	b, err := a.AppendBinary(c.scratch[:0])
	if err != nil {
		return nil, err
	}
	if cap(b) <= c.maxSize {
		c.scratch = b
	}
	return b, nil
}

// decode reads one frame from br. Waiting for the first byte of a frame is
// not bounded; once it arrives the rest of the frame must follow within
// timeout. The caller owns conn and br.
func (c *frameCodec) decode(conn deadlineReader, br *bufio.Reader, timeout time.Duration) (Message, error) {
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}
	if _, err := br.Peek(1); err != nil {
		return nil, err
	}
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
	}

	var field [4]byte
	if _, err := io.ReadFull(br, field[:]); err != nil {
		return nil, frameError("read tag", err)
	}
	tag := Tag(readInt32(field[:]))
	if tag.Reserved() {
		return nil, ErrStreamEnd
	}
	factory, ok := c.registry.Lookup(tag)
	if !ok {
		return nil, &ProtocolError{Op: "read tag", Err: errors.Wrapf(ErrUnknownTag, "tag %d", tag)}
	}

	if _, err := io.ReadFull(br, field[:]); err != nil {
		return nil, frameError("read length", err)
	}
	length := readInt32(field[:])
	if length <= 0 {
		return nil, &ProtocolError{Op: "read length", Err: errors.Wrapf(ErrInvalidLength, "length %d", length)}
	}
	if int(length) > c.maxSize {
		return nil, &ProtocolError{Op: "read length", Err: errors.Wrapf(ErrMessageTooLarge, "length %d, limit %d", length, c.maxSize)}
	}

	compressed := make([]byte, length)
	if _, err := io.ReadFull(br, compressed); err != nil {
		return nil, frameError("read payload", err)
	}

	payload, err := c.decompress(compressed)
	if err != nil {
		return nil, &ProtocolError{Op: "decompress", Err: err}
	}

	m := factory()
	if err = m.UnmarshalBinary(payload); err != nil {
		return nil, &ProtocolError{Op: "unmarshal", Err: errors.Wrapf(err, "tag %d", tag)}
	}
	return m, nil
}

func (c *frameCodec) decompress(src []byte) ([]byte, error) {
	if b, ok := c.compressor.(boundedDecompressor); ok {
		return b.decompressLimit(src, c.maxSize)
	}
	out, err := c.compressor.Decompress(src)
	if err != nil {
		return nil, err
	}
	if len(out) > c.maxSize {
		return nil, errors.Wrapf(ErrMessageTooLarge, "decompressed payload exceeds %d bytes", c.maxSize)
	}
	return out, nil
}

// frameError classifies a read failure in the middle of a frame.
func frameError(op string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		err = errors.Wrap(ErrFrameTruncated, err.Error())
	case errors.As(err, &netErr) && netErr.Timeout():
		err = errors.Wrap(ErrFrameTimeout, err.Error())
	}
	return &ProtocolError{Op: op, Err: err}
}
