package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "empty", text: ""},
		{name: "short", text: "Hello World"},
		{name: "unicode", text: "ライブ映像 — 渋谷 2024 🎸"},
		{name: "json payload", text: `{"band":{"id":7,"name":"The Reverb"},"videos":[{"id":42,"views":100}]}`},
		{name: "highly repetitive", text: strings.Repeat("na", 5000) + " batman"},
		{name: "binaryish", text: string([]byte{0, 1, 2, 255, 254, 31, 139})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.text, Decompress(Compress(tt.text)))
		})
	}
}

func TestDecompressPassthrough(t *testing.T) {
	// Data that was never compressed must come back unmodified.
	tests := []struct {
		name string
		in   string
	}{
		{name: "plain text", in: "not compressed at all"},
		{name: "valid base64 but not gzip", in: "dGVzdA=="},
		{name: "invalid base64", in: "!!!not-base64!!!"},
		{name: "empty", in: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.in, Decompress(tt.in))
		})
	}
}

func TestCompressShrinksRepetitiveData(t *testing.T) {
	original := strings.Repeat("chattanooga ", 1000)
	compressed := Compress(original)
	assert.Less(t, len(compressed), len(original))
}

func TestCompressionRatio(t *testing.T) {
	assert.Equal(t, 0, CompressionRatio(0, 0))
	assert.Equal(t, 0, CompressionRatio(0, 100))
	assert.Equal(t, 50, CompressionRatio(200, 100))
	assert.Equal(t, 90, CompressionRatio(1000, 100))
	assert.Equal(t, 0, CompressionRatio(100, 100))
	// Incompressible data can grow; the ratio goes negative rather than lying.
	assert.Equal(t, -10, CompressionRatio(100, 110))
}
