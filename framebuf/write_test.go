package framebuf

import (
	"bytes"
	"errors"
	"testing"

	"github.com/cyberinferno/go-jsonlnet/socket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trickleWriter accepts at most limit bytes per call and then reports
// would-block on the following call, mimicking a congested socket. With full
// set it takes everything and reports would-block in the same call.
type trickleWriter struct {
	out     bytes.Buffer
	limit   int
	blocked bool
	fail    error
	full    bool
}

func (w *trickleWriter) Write(p []byte) (int, error) {
	if w.fail != nil {
		return 0, w.fail
	}

	if w.full {
		w.out.Write(p)
		return len(p), socket.ErrWouldBlock
	}

	if w.blocked {
		w.blocked = false
		return 0, socket.ErrWouldBlock
	}

	n := len(p)
	if w.limit > 0 && n > w.limit {
		n = w.limit
	}

	w.out.Write(p[:n])
	w.blocked = true
	return n, nil
}

func TestWriteBuffer_Enqueue(t *testing.T) {
	t.Run("appends delimiter and counts bytes", func(t *testing.T) {
		b := NewWriteBuffer()
		require.NoError(t, b.Enqueue([]byte("abc")))
		assert.Equal(t, 1, b.Len())
		assert.Equal(t, 4, b.Buffered())
		assert.False(t, b.Empty())
	})

	t.Run("rejects embedded delimiter", func(t *testing.T) {
		b := NewWriteBuffer()
		err := b.Enqueue([]byte("a\nb"))
		assert.ErrorIs(t, err, ErrEmbeddedDelimiter)
		assert.True(t, b.Empty())
	})

	t.Run("copies the payload", func(t *testing.T) {
		b := NewWriteBuffer()
		payload := []byte("abc")
		require.NoError(t, b.Enqueue(payload))
		payload[0] = 'X'

		var out bytes.Buffer
		done, _, err := b.DrainInto(&out)
		require.NoError(t, err)
		assert.True(t, done)
		assert.Equal(t, "abc\n", out.String())
	})
}

func TestWriteBuffer_DrainInto(t *testing.T) {
	t.Run("unbounded writer drains everything in one call", func(t *testing.T) {
		b := NewWriteBuffer()
		require.NoError(t, b.Enqueue([]byte("one")))
		require.NoError(t, b.Enqueue([]byte("two")))

		var out bytes.Buffer
		done, n, err := b.DrainInto(&out)
		require.NoError(t, err)
		assert.True(t, done)
		assert.Equal(t, 8, n)
		assert.Equal(t, "one\ntwo\n", out.String())
		assert.Equal(t, 0, b.Buffered())
	})

	t.Run("one byte writes reproduce the same stream", func(t *testing.T) {
		payloads := []string{`{"id":1}`, `{"id":2,"method":"x"}`, ``, `{"id":3}`}
		var want bytes.Buffer
		b := NewWriteBuffer()
		for _, p := range payloads {
			require.NoError(t, b.Enqueue([]byte(p)))
			want.WriteString(p + "\n")
		}

		w := &trickleWriter{limit: 1}
		calls := 0
		for {
			done, _, err := b.DrainInto(w)
			require.NoError(t, err)
			calls++
			if done {
				break
			}

			assert.False(t, b.Empty(), "queue reported non-empty while bytes remain")
			require.Less(t, calls, 10*want.Len())
		}

		assert.Equal(t, want.String(), w.out.String())
		assert.True(t, b.Empty())
		assert.Equal(t, 0, b.Buffered())
	})

	t.Run("reports empty only after final byte", func(t *testing.T) {
		b := NewWriteBuffer()
		require.NoError(t, b.Enqueue([]byte("ab")))
		w := &trickleWriter{limit: 1}

		done, _, err := b.DrainInto(w)
		require.NoError(t, err)
		assert.False(t, done)
		assert.Equal(t, 2, b.Buffered())

		done, _, err = b.DrainInto(w)
		require.NoError(t, err)
		assert.False(t, done)
		assert.Equal(t, 1, b.Buffered())

		done, _, err = b.DrainInto(w)
		require.NoError(t, err)
		assert.True(t, done)
		assert.Equal(t, "ab\n", w.out.String())
	})

	t.Run("final bytes written with would-block still report empty", func(t *testing.T) {
		b := NewWriteBuffer()
		require.NoError(t, b.Enqueue([]byte("last")))

		done, n, err := b.DrainInto(&trickleWriter{full: true})
		require.NoError(t, err)
		assert.True(t, done)
		assert.Equal(t, 5, n)
		assert.True(t, b.Empty())
	})

	t.Run("hard error is returned and data stays queued", func(t *testing.T) {
		b := NewWriteBuffer()
		require.NoError(t, b.Enqueue([]byte("x")))
		boom := errors.New("broken pipe")

		done, _, err := b.DrainInto(&trickleWriter{fail: boom})
		assert.ErrorIs(t, err, boom)
		assert.False(t, done)
		assert.Equal(t, 1, b.Len())
	})

	t.Run("empty queue is immediately done", func(t *testing.T) {
		done, n, err := NewWriteBuffer().DrainInto(&trickleWriter{fail: errors.New("unused")})
		require.NoError(t, err)
		assert.True(t, done)
		assert.Zero(t, n)
	})
}
