package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"factor-lab/internal/domain"
)

// DataHashRows bounds the rows hashed by ComputeDataHash.
const DataHashRows = 10000

// EmptyDataHash is returned for a table without rows.
const EmptyDataHash = "empty"

// ComputeDataHash computes a deterministic hash of the first DataHashRows
// rows of a factor table.
// Formula: SHA256(date|symbol|value\n ...) with RFC3339Nano dates and
// shortest round-trip float formatting.
// Returns hex-encoded hash (64 characters), or EmptyDataHash.
func ComputeDataHash(points []*domain.FactorPoint) string {
	if len(points) == 0 {
		return EmptyDataHash
	}
	n := min(len(points), DataHashRows)

	h := sha256.New()
	buf := make([]byte, 0, 64)
	for _, p := range points[:n] {
		buf = buf[:0]
		buf = p.Date.UTC().AppendFormat(buf, time.RFC3339Nano)
		buf = append(buf, '|')
		buf = append(buf, p.Symbol...)
		buf = append(buf, '|')
		buf = strconv.AppendFloat(buf, p.Value, 'g', -1, 64)
		buf = append(buf, '\n')
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))
}
