package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that carry no extra fields. Callers
// discriminate with errors.Is.
var (
	// ErrInvalidSignature means the attestation signature does not verify
	// against the claimed bidder identity over the domain-bound digest.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrReplayedNonce means the attestation nonce is not strictly greater
	// than the last accepted nonce for the (bidder, auction) pair.
	ErrReplayedNonce = errors.New("replayed nonce")

	// ErrStaleAttestation means the attestation timestamp falls outside the
	// verifier's clock-skew window.
	ErrStaleAttestation = errors.New("stale attestation")

	// ErrAuctionNotAcceptingBids means the auction does not exist, is not
	// ACTIVE, or its end time has passed.
	ErrAuctionNotAcceptingBids = errors.New("auction not accepting bids")

	// ErrNoBids is returned by settlement of an ENDED auction with an empty
	// ledger. It marks the terminal no-winner sub-state and is
	// informational, not a failure.
	ErrNoBids = errors.New("no bids to settle")

	// ErrNotFound means the addressed auction or bid does not exist.
	ErrNotFound = errors.New("not found")
)

// InvalidTransitionError reports an administrative operation attempted
// from a state it is not legal in. The persisted status is unchanged.
type InvalidTransitionError struct {
	Op   string
	From AuctionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s from %s", e.Op, e.From)
}

// ValidationError reports malformed input, such as an empty rejection
// reason or a non-positive amount.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// BidTooLowError reports a bid whose amount does not strictly exceed the
// auction's current price at the instant of the check.
type BidTooLowError struct {
	Amount       int64
	CurrentPrice int64
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid too low: %d <= current price %d", e.Amount, e.CurrentPrice)
}

// ExternalServiceError wraps a transient settlement-service failure. The
// auction remains in its pre-transition status and the operation is
// retryable with the same idempotency key.
type ExternalServiceError struct {
	Op  string
	Err error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("settlement %s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// IsBidRejection reports whether err is one of the bid-rejection reasons
// surfaced verbatim to the bidder and never retried by the engine.
func IsBidRejection(err error) bool {
	if errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrReplayedNonce) ||
		errors.Is(err, ErrStaleAttestation) ||
		errors.Is(err, ErrAuctionNotAcceptingBids) {
		return true
	}
	var tooLow *BidTooLowError
	return errors.As(err, &tooLow)
}
