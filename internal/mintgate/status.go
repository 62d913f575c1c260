package mintgate

// MintStatus is the two-tier lookup result for "has this wallet been
// rewarded": the minted cache is fast but non-authoritative, the on-chain
// check is authoritative. Unknown means the authoritative source could not be
// reached and neither skipping nor issuing is justified.
type MintStatus int

const (
	StatusUnknown MintStatus = iota
	StatusMinted
	StatusNotMinted
)

func (s MintStatus) String() string {
	switch s {
	case StatusMinted:
		return "minted"
	case StatusNotMinted:
		return "not_minted"
	default:
		return "unknown"
	}
}
