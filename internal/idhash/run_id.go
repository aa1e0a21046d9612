package idhash

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// runNamespace scopes run identifiers.
var runNamespace = uuid.MustParse("6f1c2b1e-7d4a-4f0e-9a51-3c2e8b9d0a17")

// ComputeRunID derives a deterministic run identifier.
// Formula: UUIDv5(runNamespace, canonical_digest|started_at_unix_ms)
func ComputeRunID(canonicalDigest string, startedAt time.Time) string {
	data := fmt.Sprintf("%s|%d", canonicalDigest, startedAt.UnixMilli())
	return uuid.NewSHA1(runNamespace, []byte(data)).String()
}
