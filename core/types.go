package core

import (
	"time"

	"github.com/google/uuid"
)

// AuctionStatus is the administrator-gated lifecycle state of an auction.
// Transitions are monotonic along
// PENDING_APPROVAL → APPROVED → DEPLOYING → ACTIVE → ENDED → SETTLED,
// with REJECTED as the only branch (terminal, from PENDING_APPROVAL).
type AuctionStatus string

const (
	StatusPendingApproval AuctionStatus = "PENDING_APPROVAL"
	StatusApproved        AuctionStatus = "APPROVED"
	StatusRejected        AuctionStatus = "REJECTED"
	StatusDeploying       AuctionStatus = "DEPLOYING"
	StatusActive          AuctionStatus = "ACTIVE"
	StatusEnded           AuctionStatus = "ENDED"
	StatusSettled         AuctionStatus = "SETTLED"
)

// Valid reports whether s is one of the known lifecycle states.
func (s AuctionStatus) Valid() bool {
	switch s {
	case StatusPendingApproval, StatusApproved, StatusRejected,
		StatusDeploying, StatusActive, StatusEnded, StatusSettled:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
// ENDED is terminal only in its no-winner sub-state, which is tracked
// on the auction itself, so it is not terminal here.
func (s AuctionStatus) Terminal() bool {
	return s == StatusRejected || s == StatusSettled
}

// BidStatus is the mutually exclusive state of an accepted or rejected bid.
type BidStatus string

const (
	BidValid   BidStatus = "VALID"
	BidInvalid BidStatus = "INVALID"
	BidOutbid  BidStatus = "OUTBID"
	BidWinning BidStatus = "WINNING"
)

// EndingSoonWindow is the read-time lookahead within which an ACTIVE
// auction is annotated as ending soon.
const EndingSoonWindow = 5 * time.Minute

// Auction is the unit of record for a listing moving through the
// lifecycle. All monetary fields are integer fiat base units; coin
// amounts are always derived through a Converter and never stored.
type Auction struct {
	ID            uuid.UUID     `json:"id"`
	Title         string        `json:"title"`
	SellerID      uuid.UUID     `json:"seller_id"`
	StartPrice    int64         `json:"start_price"`
	CurrentPrice  int64         `json:"current_price"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	Status        AuctionStatus `json:"status"`
	HighestBidder string        `json:"highest_bidder,omitempty"`
	RejectReason  string        `json:"reject_reason,omitempty"`
	NoWinner      bool          `json:"no_winner,omitempty"`
	WinnerID      string        `json:"winner_id,omitempty"`
	ProvisionRef  string        `json:"provision_ref,omitempty"`
	TransferRef   string        `json:"transfer_ref,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	SettledAt     time.Time     `json:"settled_at,omitzero"`
}

// Expired reports whether the auction's end time has passed. An ACTIVE
// auction whose end time has passed must not admit bids regardless of
// whether its status has been flipped to ENDED yet.
func (a *Auction) Expired(now time.Time) bool {
	return !now.Before(a.EndTime)
}

// EndingSoon reports whether an ACTIVE auction ends within the
// lookahead window. Derived at read time, never stored.
func (a *Auction) EndingSoon(now time.Time) bool {
	if a.Status != StatusActive {
		return false
	}
	return !a.Expired(now) && now.Add(EndingSoonWindow).After(a.EndTime)
}

// Clone returns a copy safe to hand to callers.
func (a *Auction) Clone() *Auction {
	c := *a
	return &c
}

// Bid is one accepted ledger entry. Amount is integer fiat base units;
// Digest and Signature are the attested message bytes and its COSE
// envelope as admitted by the verifier.
type Bid struct {
	ID         uuid.UUID `json:"id"`
	AuctionID  uuid.UUID `json:"auction_id"`
	BidderID   string    `json:"bidder_id"`
	Amount     int64     `json:"amount"`
	Nonce      uint64    `json:"nonce"`
	Digest     []byte    `json:"digest"`
	Signature  []byte    `json:"signature"`
	Timestamp  time.Time `json:"timestamp"`
	AcceptedAt time.Time `json:"accepted_at"`
	Status     BidStatus `json:"status"`
}
