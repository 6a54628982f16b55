package etag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContent(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, FromContent("hello"), FromContent("hello"))
	})

	t.Run("distinct content yields distinct tags", func(t *testing.T) {
		assert.NotEqual(t, FromContent("hello"), FromContent("hello "))
		assert.NotEqual(t, FromContent(""), FromContent("x"))
	})

	t.Run("quoted per convention", func(t *testing.T) {
		tag := FromContent("hello")
		require.Len(t, tag, 18) // 16 hex digits plus quotes
		assert.Equal(t, byte('"'), tag[0])
		assert.Equal(t, byte('"'), tag[len(tag)-1])
	})

	t.Run("never produces the missing-note tag", func(t *testing.T) {
		assert.NotEqual(t, None, FromContent(""))
	})
}

func TestMatch(t *testing.T) {
	assert.True(t, Match(FromContent("a"), FromContent("a")))
	assert.False(t, Match(FromContent("a"), FromContent("b")))
	assert.True(t, Match(None, None))
}
