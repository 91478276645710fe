package mcp

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// truncateLines cuts content to at most maxBytes, backing up to the last
// newline so indented JSON or log output is never split mid-line, and to
// a rune start so a multi-byte character is never split. The marker line
// names the original size. Returns the content unchanged when it fits.
func truncateLines(content string, maxBytes int) (string, bool) {
	if maxBytes <= 0 || len(content) <= maxBytes {
		return content, false
	}

	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	truncated := content[:cut]
	if idx := strings.LastIndex(truncated, "\n"); idx > 0 {
		truncated = truncated[:idx]
	}

	return truncated + fmt.Sprintf("\n[truncated, %s total]", formatSize(len(content))), true
}

// formatSize renders a byte count, using bytes below 1KB so small
// content never reads as "0KB".
func formatSize(n int) string {
	if n < 1024 {
		return fmt.Sprintf("%dB", n)
	}
	return fmt.Sprintf("%dKB", n/1024)
}
