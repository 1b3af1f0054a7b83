package netpoll

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterest_String(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		assert.Equal(t, "none", Interest(0).String())
	})

	t.Run("single directions", func(t *testing.T) {
		assert.Equal(t, "readable", Readable.String())
		assert.Equal(t, "writable", Writable.String())
	})

	t.Run("both directions", func(t *testing.T) {
		assert.Equal(t, "readable|writable", (Readable | Writable).String())
	})
}

func TestInterest_predicates(t *testing.T) {
	both := Readable | Writable
	assert.True(t, both.IsReadable())
	assert.True(t, both.IsWritable())
	assert.False(t, Readable.IsWritable())
	assert.False(t, Writable.IsReadable())
}
