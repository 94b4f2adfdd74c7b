// Package middleware implements Transport decorators: compression,
// integrity (HMAC), and retry-with-DLQ, composed outermost retry ->
// integrity -> compression -> base transport. Compression uses
// github.com/klauspost/compress/gzip, a faster drop-in replacement for
// stdlib compress/gzip.
package middleware

import (
	"bytes"
	"context"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/otero-labs/tiercache/transport"
)

const (
	markerUncompressed byte = 0
	markerGzip         byte = 1
)

// CompressionConfig configures the Compression decorator.
type CompressionConfig struct {
	// Threshold is the minimum payload size (bytes) considered for
	// compression; smaller payloads are always sent uncompressed.
	Threshold int
	// MinRatio is the minimum size reduction (0..1) required to keep the
	// compressed form; a ratio of 0.1 requires at least 10% smaller.
	MinRatio float64
}

// DefaultCompressionConfig returns the recommended defaults.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{Threshold: 256, MinRatio: 0.1}
}

// Compression wraps a Transport, transparently compressing outbound
// payloads and decompressing inbound ones. It sits closest to the wire
// (innermost of the three decorators) so everything above it deals only in
// plaintext bytes.
type Compression struct {
	inner  transport.Transport
	cfg    CompressionConfig
}

// NewCompression wraps inner with compression using cfg.
func NewCompression(inner transport.Transport, cfg CompressionConfig) *Compression {
	return &Compression{inner: inner, cfg: cfg}
}

func (c *Compression) Name() string { return "compression(" + c.inner.Name() + ")" }

func (c *Compression) Connect(ctx context.Context) error    { return c.inner.Connect(ctx) }
func (c *Compression) Disconnect(ctx context.Context) error { return c.inner.Disconnect(ctx) }
func (c *Compression) OnReconnect(cb func())                { c.inner.OnReconnect(cb) }

func (c *Compression) Publish(ctx context.Context, channel string, data []byte) error {
	framed, err := c.encode(data)
	if err != nil {
		return err
	}
	return c.inner.Publish(ctx, channel, framed)
}

func (c *Compression) Subscribe(ctx context.Context, channel string, handler transport.Handler) error {
	return c.inner.Subscribe(ctx, channel, func(ctx context.Context, framed []byte) {
		data, err := c.decode(framed)
		if err != nil {
			// Decode errors in the dispatch path are the Bus's concern
			// (onError(operation=decode)); this decorator cannot report
			// them upward except by dropping the frame.
			return
		}
		handler(ctx, data)
	})
}

func (c *Compression) Unsubscribe(ctx context.Context, channel string) error {
	return c.inner.Unsubscribe(ctx, channel)
}

func (c *Compression) encode(data []byte) ([]byte, error) {
	if len(data) < c.cfg.Threshold {
		return frame(markerUncompressed, data), nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	compressed := buf.Bytes()
	if float64(len(compressed)) > float64(len(data))*(1-c.cfg.MinRatio) {
		return frame(markerUncompressed, data), nil
	}
	return frame(markerGzip, compressed), nil
}

func (c *Compression) decode(framed []byte) ([]byte, error) {
	if len(framed) == 0 {
		return nil, errDecode("empty frame")
	}
	marker, payload := framed[0], framed[1:]
	switch marker {
	case markerUncompressed:
		return payload, nil
	case markerGzip:
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return nil, errDecode("unknown compression marker")
	}
}

func frame(marker byte, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = marker
	copy(out[1:], payload)
	return out
}

type errDecode string

func (e errDecode) Error() string { return "compression: " + string(e) }
