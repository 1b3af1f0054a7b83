// Package client implements the single-threaded JSON-lines RPC client engine.
// A Client owns at most one outbound connection, created lazily by Send and
// discarded when it closes so that the next Send reconnects.
package client

import (
	"errors"
	"fmt"
	"net"

	"github.com/cyberinferno/go-jsonlnet/connection"
	"github.com/cyberinferno/go-jsonlnet/jsonrpc"
	"github.com/cyberinferno/go-jsonlnet/logger"
	"github.com/cyberinferno/go-jsonlnet/metrics"
	"github.com/cyberinferno/go-jsonlnet/netpoll"
	"github.com/cyberinferno/go-jsonlnet/socket"
)

// Client exchanges messages with one server. It is not safe for concurrent
// use; the goroutine that polls the multiplexer drives it.
type Client struct {
	id      netpoll.SocketID
	addr    *net.TCPAddr
	logger  logger.Logger
	metrics *metrics.Metrics
	codec   jsonrpc.Codec
	opts    connection.Options
	conn    *connection.Connection
	inbound []jsonrpc.Message
}

// New creates a Client for cfg.ServerAddr. No socket is created until the
// first Send.
//
// Parameters:
//   - cfg: Client configuration; see DefaultConfig
//
// Returns:
//   - The Client, or an error if the server address cannot be resolved
func New(cfg Config) (*Client, error) {
	addr, err := net.ResolveTCPAddr("tcp", cfg.ServerAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve server address %q: %w", cfg.ServerAddr, err)
	}

	if cfg.Codec == nil {
		cfg.Codec = jsonrpc.JSONCodec{}
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.NewNopLogger()
	}

	return &Client{
		id:      cfg.ID,
		addr:    addr,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		codec:   cfg.Codec,
		opts:    cfg.connectionOptions(),
	}, nil
}

// ID returns the identifier the client's connection is registered under.
func (c *Client) ID() netpoll.SocketID {
	return c.id
}

// ServerAddr returns the resolved server address.
func (c *Client) ServerAddr() *net.TCPAddr {
	return c.addr
}

// State returns the state of the current connection.
func (c *Client) State() ConnectionState {
	if c.conn == nil {
		return Disconnected
	}

	if c.conn.State() == connection.Connecting {
		return Connecting
	}

	return Connected
}

// QueuedBytes returns the number of bytes waiting to be written.
func (c *Client) QueuedBytes() int {
	if c.conn == nil {
		return 0
	}

	return c.conn.QueuedBytes()
}

// Send queues msg for the server, starting a non-blocking connect first when
// there is no connection. Messages sent while connecting are written once the
// connect completes.
//
// Parameters:
//   - reg: The multiplexer registry
//   - msg: The message to send
//
// Returns:
//   - An encoding error, an error starting the connect,
//     connection.ErrBackpressure when the write queue is full, or a
//     registration error that also discarded the connection
func (c *Client) Send(reg netpoll.Registry, msg jsonrpc.Message) error {
	payload, err := c.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	if c.conn == nil {
		if err := c.connect(reg); err != nil {
			return err
		}
	}

	if err := c.conn.Send(reg, payload); err != nil {
		if c.conn.State() == connection.Closed {
			c.discard(reg, err)
		}

		return err
	}

	c.metrics.FrameSent()
	return nil
}

// HandleEvent processes one readiness event. Events for other identifiers
// and events that arrive after the connection was discarded are ignored.
// Connection failures discard the connection and are not returned.
//
// Parameters:
//   - reg: The multiplexer registry
//   - ev: The readiness event
func (c *Client) HandleEvent(reg netpoll.Registry, ev netpoll.Event) {
	if ev.ID != c.id || c.conn == nil {
		return
	}

	res, err := c.conn.HandleEvent(reg, ev.Dir)
	c.metrics.Transferred(res.BytesRead, res.BytesWritten)

	for _, frame := range res.Frames {
		msg, derr := c.codec.Decode(frame)
		if derr != nil {
			c.metrics.ProtocolError()
			c.discard(reg, fmt.Errorf("decode frame: %w", derr))
			return
		}

		c.metrics.FrameReceived()
		c.inbound = append(c.inbound, msg)
	}

	if err != nil {
		c.discard(reg, err)
	}
}

// TryRecv pops the oldest decoded message.
//
// Returns:
//   - The message and true, or false if none is queued
func (c *Client) TryRecv() (jsonrpc.Message, bool) {
	if len(c.inbound) == 0 {
		return jsonrpc.Message{}, false
	}

	msg := c.inbound[0]
	c.inbound[0] = jsonrpc.Message{}
	c.inbound = c.inbound[1:]
	if len(c.inbound) == 0 {
		c.inbound = nil
	}

	return msg, true
}

// Close flushes what it can and closes the current connection. A later Send
// reconnects.
func (c *Client) Close(reg netpoll.Registry) error {
	if c.conn == nil {
		return nil
	}

	err := c.conn.CloseGracefully(reg)
	c.conn = nil
	c.metrics.ConnectionClosed(metrics.ReasonLocal)
	c.logger.Debug("connection closed", logger.Field{Key: "server", Value: c.addr.String()})
	return err
}

func (c *Client) connect(reg netpoll.Registry) error {
	sock, err := socket.Connect(c.addr)
	if err != nil {
		c.logger.Warn("connect failed", logger.Field{Key: "server", Value: c.addr.String()}, logger.Err(err))
		return fmt.Errorf("connect to %s: %w", c.addr, err)
	}

	conn, err := connection.NewConnecting(reg, c.id, sock, c.opts)
	if err != nil {
		_ = sock.Close()
		return err
	}

	c.conn = conn
	c.metrics.ConnectionOpened()
	c.logger.Debug("connecting", logger.Field{Key: "server", Value: c.addr.String()})
	return nil
}

func (c *Client) discard(reg netpoll.Registry, cause error) {
	_ = c.conn.Close(reg)
	c.conn = nil

	switch {
	case errors.Is(cause, connection.ErrPeerClosed):
		c.metrics.ConnectionClosed(metrics.ReasonPeerClosed)
		c.logger.Debug("server closed connection", logger.Field{Key: "server", Value: c.addr.String()})
	case errors.Is(cause, connection.ErrConnectFailed):
		c.metrics.ConnectionClosed(metrics.ReasonConnectFailed)
		c.logger.Warn("connect failed", logger.Field{Key: "server", Value: c.addr.String()}, logger.Err(cause))
	case errors.Is(cause, jsonrpc.ErrParse), errors.Is(cause, jsonrpc.ErrInvalidMessage), errors.Is(cause, connection.ErrFrameTooLarge):
		c.metrics.ConnectionClosed(metrics.ReasonProtocol)
		c.logger.Warn("protocol error", logger.Field{Key: "server", Value: c.addr.String()}, logger.Err(cause))
	default:
		c.metrics.ConnectionClosed(metrics.ReasonTransport)
		c.logger.Warn("connection failed", logger.Field{Key: "server", Value: c.addr.String()}, logger.Err(cause))
	}
}
