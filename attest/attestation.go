package attest

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/veraison/go-cose"
)

// Claim is the structured bid message a bidder signs. Amount is integer
// fiat base units; Nonce is monotonic per (bidder, auction); Timestamp
// is unix seconds at signing time.
type Claim struct {
	AuctionID string `cbor:"auction_id"`
	Amount    int64  `cbor:"amount"`
	Nonce     uint64 `cbor:"nonce"`
	Timestamp int64  `cbor:"timestamp"`
}

// Encode returns the canonical CBOR encoding of the claim. This is the
// exact byte string the signature covers; any canonical re-encoding of
// the same fields produces the same bytes.
func (c Claim) Encode() ([]byte, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor enc mode: %w", err)
	}
	data, err := em.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal claim: %w", err)
	}
	return data, nil
}

// SignedBid is the wire form of a bid attestation. The claim fields are
// carried in the clear so the verifier can reconstruct the signed
// digest and compare it against what the envelope actually covers; the
// COSE_Sign1 envelope proves the claimed bidder produced them.
type SignedBid struct {
	AuctionID uuid.UUID `json:"auction_id"`
	BidderID  string    `json:"bidder_id"`
	Amount    int64     `json:"amount"`
	Nonce     uint64    `json:"nonce"`
	Timestamp int64     `json:"timestamp"`
	PublicKey string    `json:"public_key"`
	Envelope  []byte    `json:"envelope"`
}

// Claim reconstructs the claim asserted by the outer fields.
func (sb *SignedBid) Claim() Claim {
	return Claim{
		AuctionID: sb.AuctionID.String(),
		Amount:    sb.Amount,
		Nonce:     sb.Nonce,
		Timestamp: sb.Timestamp,
	}
}

// Sign produces a complete SignedBid: the claim canonically encoded as
// the COSE payload, signed with ES256 and the domain separator as
// external data. This is what bidder clients run; the engine only ever
// verifies.
func Sign(auctionID uuid.UUID, amount int64, nonce uint64, ts time.Time, domain Domain, key *ecdsa.PrivateKey) (*SignedBid, error) {
	claim := Claim{
		AuctionID: auctionID.String(),
		Amount:    amount,
		Nonce:     nonce,
		Timestamp: ts.Unix(),
	}
	payload, err := claim.Encode()
	if err != nil {
		return nil, err
	}

	separator, err := domain.Separator()
	if err != nil {
		return nil, err
	}

	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Payload = payload
	if err := msg.Sign(rand.Reader, separator, signer); err != nil {
		return nil, fmt.Errorf("sign claim: %w", err)
	}

	envelope, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	bidderID, err := Fingerprint(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	pubPEM, err := MarshalPublicKeyPEM(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	return &SignedBid{
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		Nonce:     nonce,
		Timestamp: claim.Timestamp,
		PublicKey: pubPEM,
		Envelope:  envelope,
	}, nil
}
