//go:build linux

package client

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/cyberinferno/go-jsonlnet/jsonrpc"
	"github.com/cyberinferno/go-jsonlnet/metrics"
	"github.com/cyberinferno/go-jsonlnet/netpoll"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testID netpoll.SocketID = 42

func openPoller(t *testing.T) netpoll.Poller {
	t.Helper()

	p, err := netpoll.Open()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func pump(t *testing.T, p netpoll.Poller, c *Client, cond func() bool) bool {
	t.Helper()

	buf := make([]netpoll.Event, 0, 16)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}

		events, err := p.Poll(10*time.Millisecond, buf)
		require.NoError(t, err)
		for _, ev := range events {
			c.HandleEvent(p, ev)
		}
	}

	return cond()
}

// echoServer answers every request line with a result carrying the request's
// method name, using a plain blocking listener.
func echoServer(t *testing.T) net.Listener {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			go func(conn net.Conn) {
				defer conn.Close()

				codec := jsonrpc.JSONCodec{}
				r := bufio.NewReader(conn)
				for {
					line, err := r.ReadBytes('\n')
					if err != nil {
						return
					}

					req, err := codec.Decode(line[:len(line)-1])
					if err != nil {
						return
					}

					resp, _ := jsonrpc.NewResult(req.ID, req.Method)
					out, _ := codec.Encode(resp)
					if _, err := conn.Write(append(out, '\n')); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	return ln
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "Disconnected", Disconnected.String())
	assert.Equal(t, "Connecting", Connecting.String())
	assert.Equal(t, "Connected", Connected.String())
	assert.Equal(t, "Unknown", ConnectionState(9).String())
}

func TestNew(t *testing.T) {
	_, err := New(DefaultConfig(testID, "missing-port"))
	assert.Error(t, err)

	c, err := New(DefaultConfig(testID, "127.0.0.1:7000"))
	require.NoError(t, err)
	assert.Equal(t, testID, c.ID())
	assert.Equal(t, 7000, c.ServerAddr().Port)
	assert.Equal(t, Disconnected, c.State())
	assert.Equal(t, 0, c.QueuedBytes())

	_, ok := c.TryRecv()
	assert.False(t, ok)
}

func TestClient_roundTrip(t *testing.T) {
	p := openPoller(t)
	ln := echoServer(t)

	c, err := New(DefaultConfig(testID, ln.Addr().String()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(p) })

	methods := []string{"first", "second", "third"}
	for i, m := range methods {
		req, err := jsonrpc.NewRequest(jsonrpc.NumberID(int64(i+1)), m, nil)
		require.NoError(t, err)
		require.NoError(t, c.Send(p, req))
	}
	assert.Positive(t, c.QueuedBytes())

	var got []string
	require.True(t, pump(t, p, c, func() bool {
		for {
			msg, ok := c.TryRecv()
			if !ok {
				break
			}

			var method string
			require.NoError(t, msg.DecodeResult(&method))
			got = append(got, method)
		}

		return len(got) == len(methods)
	}))

	assert.Equal(t, methods, got)
	assert.Equal(t, Connected, c.State())
	assert.Equal(t, 0, c.QueuedBytes())
}

func TestClient_ignoresForeignEvents(t *testing.T) {
	p := openPoller(t)
	c, err := New(DefaultConfig(testID, "127.0.0.1:7000"))
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		c.HandleEvent(p, netpoll.Event{ID: testID + 1, Dir: netpoll.Readable})
		c.HandleEvent(p, netpoll.Event{ID: testID, Dir: netpoll.Readable})
	})
	assert.Equal(t, Disconnected, c.State())
}

func TestClient_readableEventWhileConnecting(t *testing.T) {
	p := openPoller(t)
	ln := echoServer(t)

	c, err := New(DefaultConfig(testID, ln.Addr().String()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(p) })

	req, err := jsonrpc.NewNotification("hello", nil)
	require.NoError(t, err)
	require.NoError(t, c.Send(p, req))
	queued := c.QueuedBytes()

	c.HandleEvent(p, netpoll.Event{ID: testID, Dir: netpoll.Readable})
	assert.Equal(t, Connecting, c.State())
	assert.Equal(t, queued, c.QueuedBytes())

	require.True(t, pump(t, p, c, func() bool { return c.State() == Connected && c.QueuedBytes() == 0 }))
}

func TestClient_connectFailure(t *testing.T) {
	p := openPoller(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	reg := prometheus.NewRegistry()
	cfg := DefaultConfig(testID, addr)
	cfg.Metrics = metrics.New(reg, "test", "client")
	c, err := New(cfg)
	require.NoError(t, err)

	req, err := jsonrpc.NewNotification("hello", nil)
	require.NoError(t, err)

	if err := c.Send(p, req); err != nil {
		// Some kernels refuse loopback connects synchronously.
		assert.Equal(t, Disconnected, c.State())
		return
	}

	require.True(t, pump(t, p, c, func() bool { return c.State() == Disconnected }))
	assert.Equal(t, 0, c.QueuedBytes())

	count, err := testutil.GatherAndCount(reg, "test_client_connections_closed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestClient_reconnectsAfterServerClose(t *testing.T) {
	p := openPoller(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	accepted := make(chan net.Conn, 2)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			accepted <- conn
		}
	}()

	c, err := New(DefaultConfig(testID, ln.Addr().String()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(p) })

	req, err := jsonrpc.NewNotification("hello", nil)
	require.NoError(t, err)
	require.NoError(t, c.Send(p, req))

	var first net.Conn
	require.True(t, pump(t, p, c, func() bool {
		select {
		case first = <-accepted:
			return true
		default:
			return false
		}
	}))

	require.NoError(t, first.Close())
	require.True(t, pump(t, p, c, func() bool { return c.State() == Disconnected }))

	require.NoError(t, c.Send(p, req))
	assert.NotEqual(t, Disconnected, c.State())

	var second net.Conn
	require.True(t, pump(t, p, c, func() bool {
		select {
		case second = <-accepted:
			return true
		default:
			return false
		}
	}))
	defer second.Close()

	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := bufio.NewReader(second).ReadBytes('\n')
	require.NoError(t, err)
	assert.Contains(t, string(line), `"hello"`)
}
