// Package server implements the single-threaded JSON-lines RPC server engine.
// The caller owns the multiplexer: it polls for readiness, forwards every
// event to HandleEvent, drains decoded requests with TryRecv and answers them
// with Reply. No method blocks and none may be called concurrently.
package server

import (
	"errors"
	"fmt"
	"net"

	"github.com/cyberinferno/go-jsonlnet/connection"
	"github.com/cyberinferno/go-jsonlnet/conntable"
	"github.com/cyberinferno/go-jsonlnet/framebuf"
	"github.com/cyberinferno/go-jsonlnet/idgenerator"
	"github.com/cyberinferno/go-jsonlnet/jsonrpc"
	"github.com/cyberinferno/go-jsonlnet/logger"
	"github.com/cyberinferno/go-jsonlnet/metrics"
	"github.com/cyberinferno/go-jsonlnet/netpoll"
	"github.com/cyberinferno/go-jsonlnet/socket"
)

// ErrUnknownConnection is returned when an event or operation names an
// identifier the server never issued, which means the caller's multiplexer and
// the engine are out of sync.
var ErrUnknownConnection = errors.New("unknown connection")

// Inbound is a decoded message tagged with the peer it came from.
type Inbound struct {
	Peer    netpoll.SocketID
	Message jsonrpc.Message
}

// Server accepts peers on one listening socket and exchanges newline-delimited
// JSON-RPC messages with them.
type Server struct {
	name     string
	logger   logger.Logger
	metrics  *metrics.Metrics
	codec    jsonrpc.Codec
	opts     connection.Options
	listenID netpoll.SocketID
	listener *socket.Listener
	table    *conntable.Table
	inbound  []Inbound
}

// Start binds the listening socket and registers it for read interest.
//
// Parameters:
//   - reg: The multiplexer registry
//   - cfg: Server configuration; see DefaultConfig
//
// Returns:
//   - The started Server
//   - An error if the configuration is invalid, binding fails, or the
//     listener cannot be registered
func Start(reg netpoll.Registry, cfg Config) (*Server, error) {
	if cfg.Codec == nil {
		cfg.Codec = jsonrpc.JSONCodec{}
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.NewNopLogger()
	}

	table, err := conntable.New(cfg.FirstPeerID, cfg.MaxPeerID)
	if err != nil {
		return nil, fmt.Errorf("server %s: %w", cfg.Name, err)
	}

	if table.InRange(cfg.ListenerID) {
		return nil, fmt.Errorf("server %s: listener id %d overlaps the peer id range", cfg.Name, cfg.ListenerID)
	}

	ln, err := socket.Listen(cfg.Addr)
	if err != nil {
		cfg.Logger.Error("server failed to start", logger.Err(err))
		return nil, fmt.Errorf("server %s failed to start: %w", cfg.Name, err)
	}

	if err := reg.Register(ln.Fd(), cfg.ListenerID, netpoll.Readable); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("server %s: register listener: %w", cfg.Name, err)
	}

	s := &Server{
		name:     cfg.Name,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		codec:    cfg.Codec,
		opts:     cfg.connectionOptions(),
		listenID: cfg.ListenerID,
		listener: ln,
		table:    table,
	}

	s.logger.Info(fmt.Sprintf("%s server started", s.name), logger.Field{Key: "addr", Value: ln.Addr().String()})
	return s, nil
}

// ListenAddr returns the bound address, including the port chosen when an
// ephemeral port was requested.
func (s *Server) ListenAddr() *net.TCPAddr {
	return s.listener.Addr()
}

// HandleEvent processes one readiness event. Listener events accept every
// pending peer; peer events perform the permitted I/O and queue any decoded
// messages. Failures of an individual peer close that peer and are not
// returned.
//
// Parameters:
//   - reg: The multiplexer registry
//   - ev: The readiness event
//
// Returns:
//   - ErrUnknownConnection if ev.ID was never issued by this server; events for
//     peers that were already removed are ignored
func (s *Server) HandleEvent(reg netpoll.Registry, ev netpoll.Event) error {
	if ev.ID == s.listenID {
		if ev.Dir.IsReadable() {
			s.acceptAll(reg)
		}

		return nil
	}

	c, ok := s.table.Get(ev.ID)
	if !ok {
		if s.table.IsStale(ev.ID) {
			return nil
		}

		return fmt.Errorf("%w: %d", ErrUnknownConnection, ev.ID)
	}

	res, err := c.HandleEvent(reg, ev.Dir)
	s.metrics.Transferred(res.BytesRead, res.BytesWritten)

	for _, frame := range res.Frames {
		msg, derr := s.codec.Decode(frame)
		if derr != nil {
			s.rejectFrame(reg, c, derr)
			return nil
		}

		s.metrics.FrameReceived()
		s.inbound = append(s.inbound, Inbound{Peer: ev.ID, Message: msg})
	}

	if err != nil {
		s.drop(reg, ev.ID, err)
	}

	return nil
}

// TryRecv pops the oldest decoded message.
//
// Returns:
//   - The originating peer, the message, and true; or false if none is queued
func (s *Server) TryRecv() (netpoll.SocketID, jsonrpc.Message, bool) {
	if len(s.inbound) == 0 {
		return 0, jsonrpc.Message{}, false
	}

	in := s.inbound[0]
	s.inbound[0] = Inbound{}
	s.inbound = s.inbound[1:]
	if len(s.inbound) == 0 {
		s.inbound = nil
	}

	return in.Peer, in.Message, true
}

// Reply queues msg for peer. Replying to a peer that is no longer connected
// is a silent no-op.
//
// Parameters:
//   - reg: The multiplexer registry
//   - peer: The identifier returned by TryRecv
//   - msg: The message to send
//
// Returns:
//   - An encoding error, framebuf.ErrEmbeddedDelimiter from a codec that
//     emitted a newline, or connection.ErrBackpressure when the peer's write
//     queue is full
func (s *Server) Reply(reg netpoll.Registry, peer netpoll.SocketID, msg jsonrpc.Message) error {
	c, ok := s.table.Get(peer)
	if !ok {
		return nil
	}

	payload, err := s.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode reply for peer %d: %w", peer, err)
	}

	if err := c.Send(reg, payload); err != nil {
		if errors.Is(err, connection.ErrBackpressure) || errors.Is(err, framebuf.ErrEmbeddedDelimiter) {
			return err
		}

		s.drop(reg, peer, err)
		return nil
	}

	s.metrics.FrameSent()
	return nil
}

// Disconnect flushes what it can to peer and closes it.
//
// Returns:
//   - ErrUnknownConnection if peer was never issued; nil if it already left
func (s *Server) Disconnect(reg netpoll.Registry, peer netpoll.SocketID) error {
	c, ok := s.table.Get(peer)
	if !ok {
		if s.table.IsStale(peer) {
			return nil
		}

		return fmt.Errorf("%w: %d", ErrUnknownConnection, peer)
	}

	_ = c.CloseGracefully(reg)
	_ = s.table.Remove(reg, peer)
	s.metrics.ConnectionClosed(metrics.ReasonLocal)
	s.logger.Debug("peer disconnected", logger.Field{Key: "peer", Value: peer})
	return nil
}

// Connections returns the identifiers of all connected peers in ascending
// order.
func (s *Server) Connections() []netpoll.SocketID {
	return s.table.IDs()
}

// NumConnections returns the number of connected peers.
func (s *Server) NumConnections() int {
	return s.table.Len()
}

// QueuedBytes returns the number of bytes waiting to be written to peer.
func (s *Server) QueuedBytes(peer netpoll.SocketID) (int, bool) {
	c, ok := s.table.Get(peer)
	if !ok {
		return 0, false
	}

	return c.QueuedBytes(), true
}

// Owns reports whether events for id belong to this server: the listener,
// a connected peer, or a peer that already left.
func (s *Server) Owns(id netpoll.SocketID) bool {
	if id == s.listenID {
		return true
	}

	if _, ok := s.table.Get(id); ok {
		return true
	}

	return s.table.IsStale(id)
}

// Close closes every peer and the listener. Queued inbound messages remain
// available to TryRecv.
func (s *Server) Close(reg netpoll.Registry) error {
	n := s.table.Len()
	errs := []error{s.table.CloseAll(reg)}
	for i := 0; i < n; i++ {
		s.metrics.ConnectionClosed(metrics.ReasonLocal)
	}

	if s.listener.Fd() >= 0 {
		if err := reg.Deregister(s.listener.Fd()); err != nil {
			errs = append(errs, fmt.Errorf("deregister listener: %w", err))
		}
	}

	if err := s.listener.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close listener: %w", err))
	}

	s.logger.Info(fmt.Sprintf("%s server stopped", s.name))
	return errors.Join(errs...)
}

func (s *Server) acceptAll(reg netpoll.Registry) {
	for {
		sock, err := s.listener.Accept()
		if err != nil {
			if !socket.IsWouldBlock(err) {
				s.logger.Error(fmt.Sprintf("%s server accept error", s.name), logger.Err(err))
			}

			return
		}

		id, err := s.table.AcceptInto(reg, sock, s.opts)
		if err != nil {
			_ = sock.Close()
			if errors.Is(err, idgenerator.ErrExhausted) {
				s.metrics.ConnectionRejected()
				s.logger.Warn("peer rejected, identifier range exhausted", logger.Field{Key: "remote", Value: sock.RemoteAddr().String()})
				continue
			}

			s.logger.Error("failed to track accepted peer", logger.Err(err))
			continue
		}

		s.metrics.ConnectionOpened()
		s.logger.Debug("peer accepted",
			logger.Field{Key: "peer", Value: id},
			logger.Field{Key: "remote", Value: sock.RemoteAddr().String()},
		)
	}
}

// rejectFrame answers an undecodable frame with an error response carrying a
// null id, then closes the peer. Frames after the bad one are discarded.
func (s *Server) rejectFrame(reg netpoll.Registry, c *connection.Connection, err error) {
	peer := c.ID()
	s.metrics.ProtocolError()
	s.logger.Warn("protocol error", logger.Field{Key: "peer", Value: peer}, logger.Err(err))

	resp := jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCode(err), err.Error())
	if payload, encErr := s.codec.Encode(resp); encErr == nil {
		if c.Send(reg, payload) == nil {
			s.metrics.FrameSent()
		}
	}

	_ = c.CloseGracefully(reg)
	_ = s.table.Remove(reg, peer)
	s.metrics.ConnectionClosed(metrics.ReasonProtocol)
}

func (s *Server) drop(reg netpoll.Registry, peer netpoll.SocketID, cause error) {
	_ = s.table.Remove(reg, peer)

	switch {
	case errors.Is(cause, connection.ErrPeerClosed):
		s.metrics.ConnectionClosed(metrics.ReasonPeerClosed)
		s.logger.Debug("peer closed", logger.Field{Key: "peer", Value: peer})
	case errors.Is(cause, connection.ErrFrameTooLarge):
		s.metrics.ProtocolError()
		s.metrics.ConnectionClosed(metrics.ReasonProtocol)
		s.logger.Warn("protocol error", logger.Field{Key: "peer", Value: peer}, logger.Err(cause))
	default:
		s.metrics.ConnectionClosed(metrics.ReasonTransport)
		s.logger.Warn("peer connection failed", logger.Field{Key: "peer", Value: peer}, logger.Err(cause))
	}
}
