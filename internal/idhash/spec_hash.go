// Package idhash derives deterministic identifiers for factor specs and
// factor tables.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	"factor-lab/internal/domain"
)

// shortBytes is the number of hash bytes kept by Short.
const shortBytes = 8

// ComputeSpecHash computes a deterministic hash of a factor spec.
// Formula: SHA256(name|freq|inputs|block_1;...;block_n|output|lookback|lag)
// where inputs are comma-joined and each block contributes its String() form
// when it has one, its name otherwise.
// Returns hex-encoded hash (64 characters).
func ComputeSpecHash(spec *domain.FactorSpec) string {
	blocks := make([]string, len(spec.Blocks))
	for i, b := range spec.Blocks {
		if s, ok := b.(fmt.Stringer); ok {
			blocks[i] = b.Name() + ":" + s.String()
		} else {
			blocks[i] = b.Name()
		}
	}

	data := fmt.Sprintf("%s|%s|%s|%s|%s|%d|%d",
		spec.Name,
		string(spec.Freq),
		strings.Join(spec.Inputs, ","),
		strings.Join(blocks, ";"),
		spec.Output,
		spec.Lookback,
		spec.Lag,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// Short returns the base58 form of the first 8 bytes of a hex hash.
// Inputs that are not hex are hashed first.
func Short(hexHash string) string {
	raw, err := hex.DecodeString(hexHash)
	if err != nil || len(raw) < shortBytes {
		sum := sha256.Sum256([]byte(hexHash))
		raw = sum[:]
	}
	return base58.Encode(raw[:shortBytes])
}
