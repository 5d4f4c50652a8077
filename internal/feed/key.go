package feed

import (
	"crypto/sha256"
	"encoding/hex"

	"seismo/internal/normalizer"
)

const (
	KeySourceUNID = "unid"
	KeySourceID   = "id"
	KeySourceHash = "hash"
)

// PartitionKey picks the broker key for raw. Events of one unid share a key
// and therefore a partition. Payloads without an identifier fall back to a
// hash of their bytes, which routes deterministically but does not dedupe.
func PartitionKey(raw []byte, s normalizer.Summary) ([]byte, string) {
	if s.UNID != "" {
		return []byte(s.UNID), KeySourceUNID
	}
	if s.ID != "" {
		return []byte(s.ID), KeySourceID
	}
	sum := sha256.Sum256(raw)
	return []byte(hex.EncodeToString(sum[:16])), KeySourceHash
}
