package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateLines(t *testing.T) {
	t.Run("short content untouched", func(t *testing.T) {
		out, cut := truncateLines("line1\nline2", 100)
		assert.False(t, cut)
		assert.Equal(t, "line1\nline2", out)
	})

	t.Run("cuts at a line boundary", func(t *testing.T) {
		content := "aaaa\nbbbb\ncccc\ndddd"
		out, cut := truncateLines(content, 12)
		assert.True(t, cut)
		assert.True(t, strings.HasPrefix(out, "aaaa\nbbbb"))
		assert.NotContains(t, out, "cccc")
		assert.Contains(t, out, "[truncated")
	})

	t.Run("never splits a rune", func(t *testing.T) {
		content := strings.Repeat("é", 100) // 2 bytes each
		out, cut := truncateLines(content, 101)
		assert.True(t, cut)
		marker := strings.Index(out, "\n[truncated")
		assert.True(t, marker >= 0)
		assert.True(t, strings.HasSuffix(out[:marker], "é"))
	})

	t.Run("zero limit disables truncation", func(t *testing.T) {
		out, cut := truncateLines("anything", 0)
		assert.False(t, cut)
		assert.Equal(t, "anything", out)
	})
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512B", formatSize(512))
	assert.Equal(t, "4KB", formatSize(4096))
}
