package attest

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/bidchain/core"
)

// AuctionSource resolves the auction a bid targets. Implemented by the
// engine's store.
type AuctionSource interface {
	AuctionByID(ctx context.Context, id uuid.UUID) (*core.Auction, error)
}

// NonceSource reports the last accepted nonce for a (auction, bidder)
// pair. Implemented by the bid ledger.
type NonceSource interface {
	LastNonce(auctionID uuid.UUID, bidderID string) (uint64, bool)
}

// Verifier validates candidate bid attestations. It is stateless and
// side-effect free: verification may run in parallel for different
// candidates, even on the same auction, and may be retried freely.
// Admission into the ledger is the ledger's responsibility.
type Verifier struct {
	auctions  AuctionSource
	nonces    NonceSource
	converter *core.Converter
	domain    Domain
	skew      time.Duration
	now       func() time.Time
}

// NewVerifier builds a Verifier. skew bounds the accepted distance
// between the attestation timestamp and the verifying clock; now may be
// nil for the wall clock.
func NewVerifier(auctions AuctionSource, nonces NonceSource, converter *core.Converter, domain Domain, skew time.Duration, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		auctions:  auctions,
		nonces:    nonces,
		converter: converter,
		domain:    domain,
		skew:      skew,
		now:       now,
	}
}

// Verify runs the ordered checks on a candidate attestation,
// short-circuiting on the first failure:
//
//  1. auction exists, is ACTIVE and not past its end time
//  2. the envelope verifies against the claimed bidder identity over
//     the exact domain-bound digest
//  3. the nonce is strictly greater than the last accepted one
//  4. the timestamp is within the clock-skew window
//  5. the amount strictly exceeds the auction's current price
//
// On success it returns the bid entry a ledger can admit. The returned
// bid carries no acceptance timestamp; admission assigns it.
func (v *Verifier) Verify(ctx context.Context, sb *SignedBid) (*core.Bid, error) {
	now := v.now()

	// 1. auction accepting
	auction, err := v.auctions.AuctionByID(ctx, sb.AuctionID)
	if err != nil || auction == nil {
		return nil, core.ErrAuctionNotAcceptingBids
	}
	if auction.Status != core.StatusActive || auction.Expired(now) {
		return nil, core.ErrAuctionNotAcceptingBids
	}

	// 2. signature over the domain-bound digest
	digest, err := v.verifySignature(sb)
	if err != nil {
		return nil, core.ErrInvalidSignature
	}

	// 3. nonce monotonic per (bidder, auction)
	if last, ok := v.nonces.LastNonce(sb.AuctionID, sb.BidderID); ok && sb.Nonce <= last {
		return nil, core.ErrReplayedNonce
	}

	// 4. clock skew
	ts := time.Unix(sb.Timestamp, 0)
	if d := now.Sub(ts); d > v.skew || d < -v.skew {
		return nil, core.ErrStaleAttestation
	}

	// 5. amount above current price, with the claimed amount
	// representable in coin base units
	wei, err := v.converter.FiatToCoin(sb.Amount)
	if err != nil || wei.Sign() <= 0 {
		return nil, &core.BidTooLowError{Amount: sb.Amount, CurrentPrice: auction.CurrentPrice}
	}
	if sb.Amount <= auction.CurrentPrice {
		return nil, &core.BidTooLowError{Amount: sb.Amount, CurrentPrice: auction.CurrentPrice}
	}

	return &core.Bid{
		ID:        uuid.New(),
		AuctionID: sb.AuctionID,
		BidderID:  sb.BidderID,
		Amount:    sb.Amount,
		Nonce:     sb.Nonce,
		Digest:    digest,
		Signature: sb.Envelope,
		Timestamp: ts,
		Status:    core.BidValid,
	}, nil
}

// verifySignature checks that the envelope was signed by the claimed
// bidder over exactly the claimed fields and this verifier's domain.
// Returns the signed digest bytes on success.
func (v *Verifier) verifySignature(sb *SignedBid) ([]byte, error) {
	return CheckEnvelope(sb, v.domain)
}

// CheckEnvelope runs the purely cryptographic part of verification:
// the carried key matches the claimed identity, the signed payload is
// exactly the canonical encoding of the claimed fields, and the
// signature verifies under the given domain. It consults no auction
// state, so it also serves offline tooling. Returns the signed digest
// bytes on success.
func CheckEnvelope(sb *SignedBid, domain Domain) ([]byte, error) {
	pub, err := ParsePublicKeyPEM(sb.PublicKey)
	if err != nil {
		return nil, err
	}

	// The carried key must be the claimed identity.
	fp, err := Fingerprint(pub)
	if err != nil {
		return nil, err
	}
	if fp != sb.BidderID {
		return nil, core.ErrInvalidSignature
	}

	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(sb.Envelope); err != nil {
		return nil, err
	}

	// The signed payload must be the canonical encoding of the claimed
	// fields, not merely any validly signed bytes.
	expected, err := sb.Claim().Encode()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(msg.Payload, expected) {
		return nil, core.ErrInvalidSignature
	}

	separator, err := domain.Separator()
	if err != nil {
		return nil, err
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES256, pub)
	if err != nil {
		return nil, err
	}
	if err := msg.Verify(separator, verifier); err != nil {
		return nil, err
	}
	return expected, nil
}
