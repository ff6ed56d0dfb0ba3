package cache

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"io"
	"math"
)

// Compress gzips text and base64-encodes the result. Compression is an
// optimization, never a correctness requirement: on any failure the input is
// returned unmodified.
func Compress(text string) string {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(text)); err != nil {
		_ = zw.Close()
		return text
	}
	if err := zw.Close(); err != nil {
		return text
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// Decompress base64-decodes and gunzips encoded. On any failure it returns
// the input unmodified, so it is safe to call on data that was stored
// uncompressed.
func Decompress(encoded string) string {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return encoded
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return encoded
	}
	out, err := io.ReadAll(zr)
	if err != nil {
		return encoded
	}
	_ = zr.Close()
	return string(out)
}

// CompressionRatio reports the saving as a rounded percentage. A zero-size
// original yields 0. Used only for observability.
func CompressionRatio(originalBytes, compressedBytes int) int {
	if originalBytes <= 0 {
		return 0
	}
	return int(math.Round((1 - float64(compressedBytes)/float64(originalBytes)) * 100))
}
