// Package dedup collapses retried or duplicated message submissions by
// caching the full response payload under deterministic idempotency keys.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"studypal/pkg/domain"
)

// Default windows. The short window bounds how long an identical submission
// is served from cache; retention bounds how long entries are kept at all
// (the request-id secondary key uses the full retention).
const (
	DefaultWindow    = 5 * time.Second
	DefaultRetention = time.Hour
)

// ResultCache stores submission results under idempotency keys. A miss is
// always safe; correctness depends on the key capturing every field that
// affects the outcome.
type ResultCache interface {
	// Lookup returns the cached result for key when it is younger than
	// maxAge. Entries older than maxAge but within retention stay cached
	// for other key classes.
	Lookup(ctx context.Context, key string, maxAge time.Duration) (domain.SubmissionResult, bool, error)
	// Store records the result under key for the cache's retention period.
	Store(ctx context.Context, key string, result domain.SubmissionResult) error
	// EvictExpired removes entries older than the retention period and
	// reports how many were dropped.
	EvictExpired(ctx context.Context, now time.Time) (int, error)
}

// SubmissionKey derives the primary idempotency key from the logical
// identity of a submission.
func SubmissionKey(conversationID, content, role, userID, provider, model string) string {
	h := sha256.New()
	for _, part := range []string{conversationID, content, role, userID, provider, model} {
		h.Write([]byte(part))
		h.Write([]byte{0x1f})
	}
	return "sub:" + hex.EncodeToString(h.Sum(nil))
}

// RequestKey derives the secondary key from a caller-supplied request id.
func RequestKey(requestID string) string {
	return "req:" + strings.TrimSpace(requestID)
}
