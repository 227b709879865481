// Package idempotency replays the first response of a keyed order or payment mutation so a client retrying
// checkout after a timeout does not place a second order.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

const (
	// DefaultTTL is how long a completed response stays replayable.
	DefaultTTL = 24 * time.Hour
	// DefaultHold bounds how long an unfinished request blocks retries of its key.
	DefaultHold = 2 * time.Minute
)

// ErrKeyReused is returned when a key comes back with a different request.
var ErrKeyReused = errors.New("idempotency: key reused with a different request")

// ClaimState is the outcome of claiming a key.
type ClaimState int

const (
	// ClaimAcquired means the caller owns the key and must run the request.
	ClaimAcquired ClaimState = iota
	// ClaimReplay means a stored response exists for the same request.
	ClaimReplay
	// ClaimBusy means another request with the same key has not finished yet.
	ClaimBusy
)

// Snapshot is a stored HTTP response.
type Snapshot struct {
	Status int                 `json:"status"`
	Header map[string][]string `json:"header,omitempty"`
	Body   []byte              `json:"body,omitempty"`
}

// Claim carries the stored response when State is ClaimReplay.
type Claim struct {
	State    ClaimState
	Snapshot Snapshot
}

// Store keeps claims and responses. Keys arrive already scoped to the caller and hashed.
type Store interface {
	Claim(ctx context.Context, key, fingerprint string, hold time.Duration) (Claim, error)
	Complete(ctx context.Context, key, fingerprint string, snap Snapshot, keep time.Duration) error
	Abandon(ctx context.Context, key, fingerprint string) error
}

// entry is the stored form shared by the memory and Redis stores.
type entry struct {
	Fingerprint string   `json:"fingerprint"`
	Done        bool     `json:"done"`
	Snapshot    Snapshot `json:"snapshot"`
}

func (e entry) claim(fingerprint string) (Claim, error) {
	switch {
	case e.Fingerprint != fingerprint:
		return Claim{}, ErrKeyReused
	case e.Done:
		return Claim{State: ClaimReplay, Snapshot: e.Snapshot}, nil
	default:
		return Claim{State: ClaimBusy}, nil
	}
}

// transient headers are regenerated on replay.
var transientHeaders = map[string]struct{}{
	"Connection":        {},
	"Content-Length":    {},
	"Date":              {},
	"Keep-Alive":        {},
	"Trailer":           {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
}

func snapshotHeader(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for name, values := range h {
		name = http.CanonicalHeaderKey(name)
		if _, skip := transientHeaders[name]; skip {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func digest(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
