package model

import "time"

// ControllerState is the durable record the controller owns exclusively:
// backfill cursors, per-wallet cumulative bought volume, the non-authoritative
// minted cache, and per-wallet mint failure timestamps. Field names match the
// state file consumed by the downstream analytics tooling.
type ControllerState struct {
	SwapCursor     uint64               `json:"swapCursor"`
	TransferCursor uint64               `json:"transferCursor"`
	CumulativeBuys map[string]string    `json:"cumulativeBuys"`
	MintedCache    map[string]bool      `json:"mintedCache"`
	MintFailures   map[string]time.Time `json:"mintFailures"`
	UpdatedAt      string               `json:"updatedAt,omitempty"`
}

// NewControllerState returns an empty state with all maps allocated.
func NewControllerState() *ControllerState {
	return &ControllerState{
		CumulativeBuys: make(map[string]string),
		MintedCache:    make(map[string]bool),
		MintFailures:   make(map[string]time.Time),
	}
}

// EnsureMaps allocates any nil maps, so states decoded from older files are
// safe to mutate.
func (s *ControllerState) EnsureMaps() {
	if s.CumulativeBuys == nil {
		s.CumulativeBuys = make(map[string]string)
	}
	if s.MintedCache == nil {
		s.MintedCache = make(map[string]bool)
	}
	if s.MintFailures == nil {
		s.MintFailures = make(map[string]time.Time)
	}
}
