package server

import (
	"github.com/cyberinferno/go-jsonlnet/connection"
	"github.com/cyberinferno/go-jsonlnet/framebuf"
	"github.com/cyberinferno/go-jsonlnet/jsonrpc"
	"github.com/cyberinferno/go-jsonlnet/logger"
	"github.com/cyberinferno/go-jsonlnet/metrics"
	"github.com/cyberinferno/go-jsonlnet/netpoll"
)

// Config holds configuration for a Server.
type Config struct {
	// Name identifies the server in log messages.
	Name string
	// Addr is the "host:port" to bind; port 0 picks an ephemeral port.
	Addr string
	// ListenerID is the multiplexer identifier of the listening socket.
	ListenerID netpoll.SocketID
	// FirstPeerID is the first identifier handed to an accepted peer. The peer
	// range [FirstPeerID, MaxPeerID) must not contain ListenerID.
	FirstPeerID netpoll.SocketID
	// MaxPeerID is the exclusive upper bound of peer identifiers; 0 means
	// unbounded. Peers accepted after the range is used up are closed at once.
	MaxPeerID netpoll.SocketID
	// ReadChunkSize is the size of each non-blocking read.
	ReadChunkSize int
	// CompactThreshold is the consumed prefix size that triggers read buffer compaction.
	CompactThreshold int
	// MaxFrameSize bounds an unterminated inbound line; negative disables the check.
	MaxFrameSize int
	// MaxQueuedBytes bounds unsent bytes per peer; 0 means unbounded.
	MaxQueuedBytes int
	// MaxReadPerEvent bounds the bytes read from one peer per event; 0 selects
	// the default.
	MaxReadPerEvent int
	// Codec encodes and decodes frames; nil selects jsonrpc.JSONCodec.
	Codec jsonrpc.Codec
	// Logger receives engine logs; nil discards them.
	Logger logger.Logger
	// Metrics records engine activity; nil disables metrics.
	Metrics *metrics.Metrics
}

// DefaultConfig returns a Config with default values for the given address.
//
// Parameters:
//   - addr: The "host:port" to bind
//
// Returns:
//   - A Config with defaults: ListenerID 0, FirstPeerID 1, unbounded peer ids,
//     4 KiB reads, 256 KiB per peer per event, 16 MiB frame limit, unbounded
//     write queues, JSON codec and a no-op logger
func DefaultConfig(addr string) Config {
	return Config{
		Name:             "jsonlnet",
		Addr:             addr,
		ListenerID:       0,
		FirstPeerID:      1,
		MaxPeerID:        0,
		ReadChunkSize:    connection.DefaultReadChunkSize,
		CompactThreshold: framebuf.DefaultCompactThreshold,
		MaxFrameSize:     connection.DefaultMaxFrameSize,
		MaxQueuedBytes:   0,
		MaxReadPerEvent:  connection.DefaultMaxReadPerEvent,
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
		MaxReadPerEvent:  c.MaxReadPerEvent,
	}
}
