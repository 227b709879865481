package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"time"
)

const (
	trackingAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	trackingLength        = 12
	defaultMaxAttempts    = 10
	orderSuffixModulus    = 10000
	orderSuffixRejectFrom = 60000 // largest multiple of 10000 below 1<<16
	trackingRejectFrom    = 252   // largest multiple of 36 below 256
)

// ExistsFunc reports whether a candidate identifier is already taken.
type ExistsFunc func(ctx context.Context, candidate string) (bool, error)

// IdentifierGenerator mints order and tracking numbers from an injected entropy source.
// It holds no state besides the reader, so tests can feed deterministic bytes.
type IdentifierGenerator struct {
	entropy     io.Reader
	maxAttempts int
}

// NewIdentifierGenerator uses crypto/rand when entropy is nil and 10 attempts when maxAttempts is not positive.
func NewIdentifierGenerator(entropy io.Reader, maxAttempts int) *IdentifierGenerator {
	if entropy == nil {
		entropy = rand.Reader
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &IdentifierGenerator{entropy: entropy, maxAttempts: maxAttempts}
}

// OrderNumber formats ORD-<unix millis>-<4 random digits>.
func (g *IdentifierGenerator) OrderNumber(now time.Time) (string, error) {
	var buf [2]byte
	for {
		if _, err := io.ReadFull(g.entropy, buf[:]); err != nil {
			return "", fmt.Errorf("order number entropy: %w", err)
		}
		v := int(buf[0])<<8 | int(buf[1])
		if v < orderSuffixRejectFrom {
			return fmt.Sprintf("ORD-%d-%04d", now.UnixMilli(), v%orderSuffixModulus), nil
		}
	}
}

// UniqueOrderNumber draws order numbers until exists reports a free one.
func (g *IdentifierGenerator) UniqueOrderNumber(ctx context.Context, now time.Time, exists ExistsFunc) (string, error) {
	return g.unique(ctx, "order number", exists, func() (string, error) { return g.OrderNumber(now) })
}

// TrackingNumber draws 12 character [A-Z0-9] codes until exists reports a free one.
func (g *IdentifierGenerator) TrackingNumber(ctx context.Context, exists ExistsFunc) (string, error) {
	return g.unique(ctx, "tracking number", exists, g.trackingCandidate)
}

func (g *IdentifierGenerator) trackingCandidate() (string, error) {
	out := make([]byte, 0, trackingLength)
	buf := make([]byte, trackingLength)
	for len(out) < trackingLength {
		if _, err := io.ReadFull(g.entropy, buf); err != nil {
			return "", fmt.Errorf("tracking number entropy: %w", err)
		}
		for _, b := range buf {
			if b >= trackingRejectFrom {
				continue
			}
			out = append(out, trackingAlphabet[int(b)%len(trackingAlphabet)])
			if len(out) == trackingLength {
				break
			}
		}
	}
	return string(out), nil
}

func (g *IdentifierGenerator) unique(ctx context.Context, kind string, exists ExistsFunc, next func() (string, error)) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		candidate, err := next()
		if err != nil {
			return "", err
		}
		if exists == nil {
			return candidate, nil
		}
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s after %d attempts", ErrIdentifierExhausted, kind, g.maxAttempts)
}
