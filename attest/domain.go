// Package attest implements signed bid attestations: structured,
// domain-bound bid messages carried as COSE_Sign1 envelopes, and the
// ordered verification that admits them into the ledger.
package attest

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Domain scopes signatures to one deployment environment. The separator
// derived from it is mixed into every signature as external data, so a
// valid envelope from one chain or contract can never be replayed
// against another.
type Domain struct {
	Name              string `cbor:"name" json:"name"`
	Version           string `cbor:"version" json:"version"`
	ChainID           uint64 `cbor:"chain_id" json:"chain_id"`
	VerifyingContract string `cbor:"verifying_contract" json:"verifying_contract"`
}

// DefaultDomain matches the deployed BidChain environment.
func DefaultDomain() Domain {
	return Domain{
		Name:              "BidChain",
		Version:           "1.0",
		ChainID:           1337,
		VerifyingContract: "0x0000000000000000000000000000000000000000",
	}
}

// Separator returns the 32-byte domain separator: SHA-256 over the
// canonical CBOR encoding of the domain.
func (d Domain) Separator() ([]byte, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor enc mode: %w", err)
	}
	data, err := em.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal domain: %w", err)
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}
