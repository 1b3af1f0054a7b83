package conntable

import (
	"errors"
	"testing"

	"github.com/cyberinferno/go-jsonlnet/connection"
	"github.com/cyberinferno/go-jsonlnet/idgenerator"
	"github.com/cyberinferno/go-jsonlnet/netpoll"
	"github.com/cyberinferno/go-jsonlnet/socket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRegistry struct {
	ids          map[int]netpoll.SocketID
	failRegister bool
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{ids: make(map[int]netpoll.SocketID)}
}

func (r *stubRegistry) Register(fd int, id netpoll.SocketID, _ netpoll.Interest) error {
	if r.failRegister {
		return errors.New("register failed")
	}

	r.ids[fd] = id
	return nil
}

func (r *stubRegistry) Reregister(fd int, id netpoll.SocketID, _ netpoll.Interest) error {
	r.ids[fd] = id
	return nil
}

func (r *stubRegistry) Deregister(fd int) error {
	delete(r.ids, fd)
	return nil
}

type stubSocket struct {
	fd     int
	closed bool
}

func (s *stubSocket) Fd() int { return s.fd }
func (s *stubSocket) Read([]byte) (int, error) { return 0, socket.ErrWouldBlock }
func (s *stubSocket) Write(p []byte) (int, error) { return len(p), nil }
func (s *stubSocket) SocketError() error { return nil }
func (s *stubSocket) PeerConnected() (bool, error) { return true, nil }
func (s *stubSocket) Shutdown() error { return nil }
func (s *stubSocket) Close() error {
	s.closed = true
	return nil
}

func TestNew(t *testing.T) {
	_, err := New(10, 10)
	assert.Error(t, err)

	tbl, err := New(1, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.Len())
}

func TestTable_AcceptInto(t *testing.T) {
	t.Run("allocates increasing ids from the base", func(t *testing.T) {
		reg := newStubRegistry()
		tbl, err := New(100, 0)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			id, err := tbl.AcceptInto(reg, &stubSocket{fd: 20 + i}, connection.Options{})
			require.NoError(t, err)
			assert.Equal(t, netpoll.SocketID(100+i), id)
			assert.Equal(t, id, reg.ids[20+i])
		}

		assert.Equal(t, []netpoll.SocketID{100, 101, 102}, tbl.IDs())
		c, ok := tbl.Get(101)
		require.True(t, ok)
		assert.Equal(t, connection.Open, c.State())
	})

	t.Run("exhausted range leaves the socket to the caller", func(t *testing.T) {
		reg := newStubRegistry()
		tbl, err := New(1, 2)
		require.NoError(t, err)

		_, err = tbl.AcceptInto(reg, &stubSocket{fd: 3}, connection.Options{})
		require.NoError(t, err)

		sock := &stubSocket{fd: 4}
		_, err = tbl.AcceptInto(reg, sock, connection.Options{})
		assert.ErrorIs(t, err, idgenerator.ErrExhausted)
		assert.False(t, sock.closed)
		assert.Equal(t, 1, tbl.Len())
	})

	t.Run("registration failure does not store the connection", func(t *testing.T) {
		reg := newStubRegistry()
		reg.failRegister = true
		tbl, err := New(1, 0)
		require.NoError(t, err)

		_, err = tbl.AcceptInto(reg, &stubSocket{fd: 3}, connection.Options{})
		assert.Error(t, err)
		assert.Equal(t, 0, tbl.Len())
	})
}

func TestTable_Remove(t *testing.T) {
	reg := newStubRegistry()
	tbl, err := New(1, 0)
	require.NoError(t, err)

	sock := &stubSocket{fd: 7}
	id, err := tbl.AcceptInto(reg, sock, connection.Options{})
	require.NoError(t, err)
	assert.False(t, tbl.IsStale(id))

	require.NoError(t, tbl.Remove(reg, id))
	assert.True(t, sock.closed)
	assert.Empty(t, reg.ids)
	assert.True(t, tbl.IsStale(id))
	assert.NoError(t, tbl.Remove(reg, id), "removing twice is a no-op")

	next, err := tbl.AcceptInto(reg, &stubSocket{fd: 7}, connection.Options{})
	require.NoError(t, err)
	assert.NotEqual(t, id, next, "identifiers are never reused")
	assert.False(t, tbl.IsStale(99), "never issued")
	assert.True(t, tbl.InRange(99))
	assert.False(t, tbl.InRange(0))
}

func TestTable_CloseAll(t *testing.T) {
	reg := newStubRegistry()
	tbl, err := New(1, 0)
	require.NoError(t, err)

	socks := []*stubSocket{{fd: 3}, {fd: 4}}
	for _, s := range socks {
		_, err := tbl.AcceptInto(reg, s, connection.Options{})
		require.NoError(t, err)
	}

	require.NoError(t, tbl.CloseAll(reg))
	assert.Equal(t, 0, tbl.Len())
	for _, s := range socks {
		assert.True(t, s.closed)
	}
}
