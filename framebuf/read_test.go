package framebuf

import (
	"bytes"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainFrames(b *ReadBuffer) []string {
	var out []string
	for {
		frame, ok := b.ExtractNext()
		if !ok {
			return out
		}

		out = append(out, string(frame))
	}
}

func TestReadBuffer_ExtractNext(t *testing.T) {
	t.Run("empty buffer yields nothing", func(t *testing.T) {
		b := NewReadBuffer(0)
		_, ok := b.ExtractNext()
		assert.False(t, ok)
		assert.Equal(t, 0, b.Buffered())
	})

	t.Run("single complete line", func(t *testing.T) {
		b := NewReadBuffer(0)
		b.Ingest([]byte(`{"a":1}` + "\n"))
		assert.Equal(t, []string{`{"a":1}`}, drainFrames(b))
		assert.Equal(t, 0, b.Buffered())
	})

	t.Run("several lines in one ingest", func(t *testing.T) {
		b := NewReadBuffer(0)
		b.Ingest([]byte("one\ntwo\nthree\n"))
		assert.Equal(t, []string{"one", "two", "three"}, drainFrames(b))
	})

	t.Run("partial tail stays buffered until completed", func(t *testing.T) {
		b := NewReadBuffer(0)
		b.Ingest([]byte("one\ntw"))
		assert.Equal(t, []string{"one"}, drainFrames(b))
		assert.Equal(t, 2, b.Buffered())

		b.Ingest([]byte("o\n"))
		assert.Equal(t, []string{"two"}, drainFrames(b))
		assert.Equal(t, 0, b.Buffered())
	})

	t.Run("empty line is returned as an empty frame", func(t *testing.T) {
		b := NewReadBuffer(0)
		b.Ingest([]byte("\n"))
		frame, ok := b.ExtractNext()
		require.True(t, ok)
		assert.Empty(t, frame)
	})

	t.Run("returned frame survives compaction and later ingests", func(t *testing.T) {
		b := NewReadBuffer(4)
		b.Ingest([]byte("abcdef\nghij"))
		frame, ok := b.ExtractNext()
		require.True(t, ok)
		b.Ingest([]byte("klmnop\n"))
		assert.Equal(t, "abcdef", string(frame))
		assert.Equal(t, []string{"ghijklmnop"}, drainFrames(b))
	})

	t.Run("reset drops the partial tail", func(t *testing.T) {
		b := NewReadBuffer(0)
		b.Ingest([]byte("partial"))
		b.Reset()
		assert.Equal(t, 0, b.Buffered())
		b.Ingest([]byte("x\n"))
		assert.Equal(t, []string{"x"}, drainFrames(b))
	})
}

func TestReadBuffer_oneByteChunks(t *testing.T) {
	line := `{"jsonrpc":"2.0","id":1,"method":"ping","params":{"text":"` +
		strings.Repeat("é", 60) + `"}}`
	require.Greater(t, len(line), 150)

	whole := NewReadBuffer(0)
	whole.Ingest([]byte(line + "\n"))
	want := drainFrames(whole)

	b := NewReadBuffer(0)
	var got []string
	stream := []byte(line + "\n")
	for i := range stream {
		b.Ingest(stream[i : i+1])
		got = append(got, drainFrames(b)...)
	}

	assert.Equal(t, want, got)
	require.Len(t, got, 1)
	assert.Equal(t, line, got[0])
}

func TestReadBuffer_arbitrarySplits(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 200; trial++ {
		t.Run(fmt.Sprintf("trial %d", trial), func(t *testing.T) {
			n := rng.Intn(20)
			var stream bytes.Buffer
			var want []string
			for i := 0; i < n; i++ {
				frame := strings.Repeat(string(rune('a'+i%26)), rng.Intn(300))
				want = append(want, frame)
				stream.WriteString(frame)
				stream.WriteByte('\n')
			}

			tail := strings.Repeat("z", rng.Intn(50))
			stream.WriteString(tail)

			b := NewReadBuffer(1 + rng.Intn(512))
			var got []string
			data := stream.Bytes()
			for len(data) > 0 {
				k := 1 + rng.Intn(64)
				if k > len(data) {
					k = len(data)
				}

				b.Ingest(data[:k])
				data = data[k:]
				got = append(got, drainFrames(b)...)
			}

			if n == 0 {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, want, got)
			}

			assert.Equal(t, len(tail), b.Buffered())
		})
	}
}
