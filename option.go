package msgnet

import (
	"time"

	"github.com/klauspost/compress/zlib"
)

// Default configuration values.
const (
	// defaultFrameTimeout bounds how long a started frame may take to arrive.
	defaultFrameTimeout = 2 * time.Second
	// defaultMaxMessageSize is the default maximum size of a serialized message (1MB).
	defaultMaxMessageSize = 1024 * 1024
	// defaultDialTimeout bounds the TCP handshake in Connect.
	defaultDialTimeout = 10 * time.Second
	// defaultReadBufferSize is the size of the reader's bufio.Reader.
	defaultReadBufferSize = 4096
)

// options holds the configuration for a transceiver.
type options struct {
	compressor Compressor
	logger     Logger

	frameTimeout   time.Duration // deadline for completing a frame once its first byte arrived
	maxMessageSize int           // maximum serialized and compressed size of one message
	dialTimeout    time.Duration
	writeTimeout   time.Duration // per-frame write deadline, zero means none
}

// Option is a function that configures transceiver options.
type Option func(*options)

// checkOptions sets default values for transceiver options.
func checkOptions(opts *options) {
	if opts.compressor == nil {
		opts.compressor = ZlibCompressor(zlib.DefaultCompression)
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	if opts.frameTimeout <= 0 {
		opts.frameTimeout = defaultFrameTimeout
	}

	if opts.maxMessageSize <= 0 {
		opts.maxMessageSize = defaultMaxMessageSize
	}
	if opts.maxMessageSize > maxFrameLength {
		opts.maxMessageSize = maxFrameLength
	}

	if opts.dialTimeout <= 0 {
		opts.dialTimeout = defaultDialTimeout
	}

	if opts.writeTimeout < 0 {
		opts.writeTimeout = 0
	}
}

func buildOptions(opt []Option) options {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)
	return opts
}

// CompressorOption returns an Option that sets the payload compressor.
// Both ends of a link must use the same compressor. Defaults to zlib.
func CompressorOption(c Compressor) Option {
	return func(o *options) {
		o.compressor = c
	}
}

// FrameTimeoutOption returns an Option that sets how long the rest of a frame
// may take to arrive once its first byte has been read. Defaults to 2s.
func FrameTimeoutOption(d time.Duration) Option {
	return func(o *options) {
		o.frameTimeout = d
	}
}

// MessageMaxSize returns an Option that sets the maximum size of one message,
// applied to the serialized payload and to the compressed frame body.
// Larger messages are rejected with ErrMessageTooLarge.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxMessageSize = size
	}
}

// DialTimeoutOption returns an Option that bounds the TCP handshake in Connect.
func DialTimeoutOption(d time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = d
	}
}

// WriteTimeoutOption returns an Option that sets a write deadline for every frame.
func WriteTimeoutOption(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
