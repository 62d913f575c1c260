// Package cohort assigns wallets to deterministic experiment buckets.
//
// The bucketing rule is a compatibility contract: downstream analytics
// recompute it independently and must agree bit for bit. The input is the
// UTF-8 bytes of "<lowercase address>:<salt>", hashed with keccak256; the
// bucket is the big-endian uint32 of the first four hash bytes, mod 100.
package cohort

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Bucket returns the cohort bucket in [0,100) for an address and salt.
func Bucket(address, salt string) int {
	input := strings.ToLower(address) + ":" + salt
	hash := crypto.Keccak256([]byte(input))
	first4 := binary.BigEndian.Uint32(hash[:4])
	return int(first4 % 100)
}

// Assignor gates wallets into the eligible cohort.
type Assignor struct {
	enabled bool
	percent int
	salt    string
}

// NewAssignor validates cohort settings and builds an Assignor. A salt is
// required whenever gating is enabled.
func NewAssignor(enabled bool, percent int, salt string) (*Assignor, error) {
	salt = strings.TrimSpace(salt)
	if enabled && salt == "" {
		return nil, fmt.Errorf("cohort salt is required when cohort gating is enabled")
	}
	return &Assignor{enabled: enabled, percent: percent, salt: salt}, nil
}

// Eligible reports whether the wallet falls in the eligible cohort.
func (a *Assignor) Eligible(address string) bool {
	if !a.enabled {
		return true
	}
	if a.percent <= 0 {
		return false
	}
	if a.percent >= 100 {
		return true
	}
	return Bucket(address, a.salt) < a.percent
}

// BucketOf returns the wallet's bucket under this assignor's salt.
func (a *Assignor) BucketOf(address string) int {
	return Bucket(address, a.salt)
}
