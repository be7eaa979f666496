package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Sanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{
			name:     "plain text passes through",
			input:    "hello world",
			maxLen:   500,
			expected: "hello world",
		},
		{
			name:     "tags are stripped but their text is kept",
			input:    "<b>Hello</b> <i>world</i>",
			maxLen:   500,
			expected: "Hello world",
		},
		{
			name:     "script blocks are removed with their contents",
			input:    `before<script>alert("x")</script>after`,
			maxLen:   500,
			expected: "beforeafter",
		},
		{
			name:     "style blocks are removed with their contents",
			input:    "a<style>body { color: red }</style>b",
			maxLen:   500,
			expected: "ab",
		},
		{
			name:     "entities are decoded and angle brackets removed",
			input:    "fish &amp; chips &lt;tasty&gt;",
			maxLen:   500,
			expected: "fish & chips tasty",
		},
		{
			name:     "double-encoded entities decode fully in one pass",
			input:    "&amp;lt;b&amp;gt;hi",
			maxLen:   500,
			expected: "bhi",
		},
		{
			name:     "whitespace collapses",
			input:    "  so   much \t space \n here  ",
			maxLen:   500,
			expected: "so much space here",
		},
		{
			name:     "truncation bounds the output",
			input:    "abcdefghij",
			maxLen:   4,
			expected: "abcd",
		},
		{
			name:     "zero maxLen means unbounded",
			input:    "abcdefghij",
			maxLen:   0,
			expected: "abcdefghij",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Sanitize(tt.input, tt.maxLen))
		})
	}

	t.Run("idempotent on every case", func(t *testing.T) {
		for _, tt := range tests {
			once := Sanitize(tt.input, tt.maxLen)
			assert.Equal(t, once, Sanitize(once, tt.maxLen), tt.name)
		}
	})
	t.Run("entity-encoded tags cannot survive a single pass", func(t *testing.T) {
		out := Sanitize("&lt;script&gt;alert(1)&lt;/script&gt;", 500)
		assert.NotContains(t, out, "<")
		assert.NotContains(t, out, ">")
	})
}

func Test_IsBlank(t *testing.T) {
	assert.True(t, IsBlank(""))
	assert.True(t, IsBlank("   \t\n"))
	assert.False(t, IsBlank(" x "))
}

func Test_Ordinal(t *testing.T) {
	cases := map[int]string{
		1:   "1st",
		2:   "2nd",
		3:   "3rd",
		4:   "4th",
		11:  "11th",
		12:  "12th",
		13:  "13th",
		21:  "21st",
		22:  "22nd",
		23:  "23rd",
		101: "101st",
		111: "111th",
	}
	for n, expected := range cases {
		t.Run(expected, func(t *testing.T) {
			assert.Equal(t, expected, Ordinal(n))
		})
	}
}
