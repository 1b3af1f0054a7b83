package client

import (
	"github.com/cyberinferno/go-jsonlnet/connection"
	"github.com/cyberinferno/go-jsonlnet/framebuf"
	"github.com/cyberinferno/go-jsonlnet/jsonrpc"
	"github.com/cyberinferno/go-jsonlnet/logger"
	"github.com/cyberinferno/go-jsonlnet/metrics"
	"github.com/cyberinferno/go-jsonlnet/netpoll"
)

// Config holds configuration for a Client.
type Config struct {
	// ID is the multiplexer identifier of the client's connection. It is fixed
	// for the client's lifetime and reused across reconnects.
	ID netpoll.SocketID
	// ServerAddr is the "host:port" to connect to (e.g. "localhost:7000").
	ServerAddr string
	// ReadChunkSize is the size of each non-blocking read.
	ReadChunkSize int
	// CompactThreshold is the consumed prefix size that triggers read buffer compaction.
	CompactThreshold int
	// MaxFrameSize bounds an unterminated inbound line; negative disables the check.
	MaxFrameSize int
	// MaxQueuedBytes bounds unsent bytes; 0 means unbounded.
	MaxQueuedBytes int
	// Codec encodes and decodes frames; nil selects jsonrpc.JSONCodec.
	Codec jsonrpc.Codec
	// Logger receives client logs; nil discards them.
	Logger logger.Logger
	// Metrics records client activity; nil disables metrics.
	Metrics *metrics.Metrics
}

// DefaultConfig returns a Config with default values for the given id and
// server address.
//
// Parameters:
//   - id: The identifier the connection is registered under
//   - serverAddr: The "host:port" to connect to
//
// Returns:
//   - A Config with defaults: 4 KiB reads, 16 MiB frame limit, unbounded
//     write queue, JSON codec and a no-op logger
func DefaultConfig(id netpoll.SocketID, serverAddr string) Config {
	return Config{
		ID:               id,
		ServerAddr:       serverAddr,
		ReadChunkSize:    connection.DefaultReadChunkSize,
		CompactThreshold: framebuf.DefaultCompactThreshold,
		MaxFrameSize:     connection.DefaultMaxFrameSize,
		MaxQueuedBytes:   0,
		Codec:            jsonrpc.JSONCodec{},
		Logger:           logger.NewNopLogger(),
	}
}

func (c Config) connectionOptions() connection.Options {
	return connection.Options{
		ReadChunkSize:    c.ReadChunkSize,
		CompactThreshold: c.CompactThreshold,
		MaxFrameSize:     c.MaxFrameSize,
		MaxQueuedBytes:   c.MaxQueuedBytes,
	}
}
