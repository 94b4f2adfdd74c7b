package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"

	"github.com/otero-labs/tiercache/transport"
)

const signatureSize = sha256.Size

// IntegrityError is a security-class error distinct from a generic decode
// error: it must never be silently dropped and is reported with SECURITY
// severity.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string { return "integrity: " + e.Reason }

// Integrity wraps a Transport, prepending an HMAC-SHA256 signature to every
// outbound payload and verifying it on every inbound payload via a
// constant-time compare.
type Integrity struct {
	inner  transport.Transport
	secret []byte
	onErr  func(channel string, err error)
}

// NewIntegrity wraps inner with HMAC-SHA256 signing using secret. onErr, if
// non-nil, is invoked with every IntegrityError encountered while decoding
// inbound frames (verification failures never reach user handlers).
func NewIntegrity(inner transport.Transport, secret []byte, onErr func(channel string, err error)) *Integrity {
	return &Integrity{inner: inner, secret: secret, onErr: onErr}
}

func (g *Integrity) Name() string { return "integrity(" + g.inner.Name() + ")" }

func (g *Integrity) Connect(ctx context.Context) error    { return g.inner.Connect(ctx) }
func (g *Integrity) Disconnect(ctx context.Context) error { return g.inner.Disconnect(ctx) }
func (g *Integrity) OnReconnect(cb func())                { g.inner.OnReconnect(cb) }

func (g *Integrity) Publish(ctx context.Context, channel string, data []byte) error {
	sig := g.sign(data)
	framed := make([]byte, 0, signatureSize+len(data))
	framed = append(framed, sig...)
	framed = append(framed, data...)
	return g.inner.Publish(ctx, channel, framed)
}

func (g *Integrity) Subscribe(ctx context.Context, channel string, handler transport.Handler) error {
	return g.inner.Subscribe(ctx, channel, func(ctx context.Context, framed []byte) {
		payload, err := g.verify(framed)
		if err != nil {
			if g.onErr != nil {
				g.onErr(channel, err)
			}
			return
		}
		handler(ctx, payload)
	})
}

func (g *Integrity) Unsubscribe(ctx context.Context, channel string) error {
	return g.inner.Unsubscribe(ctx, channel)
}

func (g *Integrity) sign(data []byte) []byte {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write(data)
	return mac.Sum(nil)
}

func (g *Integrity) verify(framed []byte) ([]byte, error) {
	if len(framed) < signatureSize {
		return nil, &IntegrityError{Reason: "frame shorter than signature"}
	}
	sig, payload := framed[:signatureSize], framed[signatureSize:]
	expected := g.sign(payload)
	if !hmac.Equal(sig, expected) {
		return nil, &IntegrityError{Reason: "signature mismatch"}
	}
	return payload, nil
}
