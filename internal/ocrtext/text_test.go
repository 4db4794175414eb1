package ocrtext

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"strips nul", "a\x00b", "ab"},
		{"crlf to lf", "a\r\nb\rc", "a\nb\nc"},
		{"collapses blank runs", "a\n\n\n\nb", "a\n\nb"},
		{"trims line whitespace", "  a  \n  b  ", "a\nb"},
		{"collapses intra-line spaces", "a   b    c", "a b c"},
		{"outer trim", "\n\n a \n\n", "a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestTruncate_NoOp(t *testing.T) {
	text, truncated := Truncate("hello", 100)
	assert.False(t, truncated)
	assert.Equal(t, "hello", text)
}

func TestTruncate_CutsAtByteBoundary(t *testing.T) {
	text := strings.Repeat("a", 10)
	out, truncated := Truncate(text, 5)
	assert.True(t, truncated)
	assert.Equal(t, "aaaaa", out)
}

func TestTruncate_NeverSplitsMultibyteRune(t *testing.T) {
	text := strings.Repeat("日", 10)
	for cap := 1; cap < len(text); cap++ {
		out, _ := Truncate(text, cap)
		assert.True(t, utf8.ValidString(out), "cap=%d produced invalid utf8: %q", cap, out)
	}
}

func TestTruncate_EmptiesOnTinyCap(t *testing.T) {
	out, truncated := Truncate("日本語", 1)
	assert.True(t, truncated)
	assert.Equal(t, "", out)
}

func TestTruncate_DefaultCapWhenNonPositive(t *testing.T) {
	text := strings.Repeat("x", DefaultMaxBytes+10)
	out, truncated := Truncate(text, 0)
	assert.True(t, truncated)
	assert.Equal(t, DefaultMaxBytes, len(out))
}
