package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordStatus tracks one key's progress through the ledger.
type RecordStatus string

const (
	StatusPending   RecordStatus = "pending"
	StatusCompleted RecordStatus = "completed"
	StatusFailed    RecordStatus = "failed"
)

// Record binds a client-supplied key to the fingerprint of the request it was
// first used with, and caches the outcome of executing it once. A key is
// permanently bound to its first requestHash; reuse with a different hash is
// a client error.
type Record struct {
	Key          string       `json:"key"`
	RequestHash  string       `json:"requestHash"`
	Status       RecordStatus `json:"status"`
	ResponseBody []byte       `json:"responseBody,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	ExpiresAt    time.Time    `json:"expiresAt"`
}

// GenerateKey returns a fresh key for clients that do not supply their own.
func GenerateKey() string {
	return uuid.NewString()
}

// HashRequest fingerprints the logical request body. Marshaling through JSON
// keeps the hash stable across struct reordering at call sites.
func HashRequest(v any) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash request: %w", err)
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
