// Package engine drives the auction lifecycle: administrator-gated
// status transitions, verified bid admission, and settlement against
// the external settlement service. All mutations of one auction are
// serialized; operations on different auctions run in parallel.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cloudx-io/bidchain/attest"
	"github.com/cloudx-io/bidchain/core"
	"github.com/cloudx-io/bidchain/ledger"
	"github.com/cloudx-io/bidchain/settlement"
	"github.com/cloudx-io/bidchain/store"
)

// Engine coordinates the store, the bid ledger, the attestation
// verifier and the settlement service.
type Engine struct {
	store     store.Store
	ledger    *ledger.Ledger
	verifier  *attest.Verifier
	converter *core.Converter
	settle    settlement.Service
	hub       *Hub
	log       zerolog.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// New builds an engine. now may be nil for the wall clock.
func New(st store.Store, lg *ledger.Ledger, v *attest.Verifier, conv *core.Converter, settle settlement.Service, logger zerolog.Logger, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:     st,
		ledger:    lg,
		verifier:  v,
		converter: conv,
		settle:    settle,
		hub:       NewHub(),
		log:       logger,
		now:       now,
		locks:     make(map[uuid.UUID]*sync.Mutex),
	}
}

// Hub exposes the event hub for subscribers.
func (e *Engine) Hub() *Hub { return e.hub }

// auctionLock returns the per-auction mutex, creating it on first use.
func (e *Engine) auctionLock(id uuid.UUID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.locks[id]
	if !ok {
		m = &sync.Mutex{}
		e.locks[id] = m
	}
	return m
}

// AuctionView is an auction as served to clients, with read-time
// annotations that are derived and never stored.
type AuctionView struct {
	core.Auction
	EndingSoon bool `json:"ending_soon,omitempty"`
	BidCount   int  `json:"bid_count"`
}

func (e *Engine) view(a *core.Auction) AuctionView {
	return AuctionView{
		Auction:    *a,
		EndingSoon: a.EndingSoon(e.now()),
		BidCount:   e.ledger.Count(a.ID),
	}
}

// CreateListing registers a new auction in PENDING_APPROVAL.
func (e *Engine) CreateListing(ctx context.Context, title string, sellerID uuid.UUID, startPrice int64, startTime, endTime time.Time) (*core.Auction, error) {
	if title == "" {
		return nil, &core.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if startPrice <= 0 {
		return nil, &core.ValidationError{Field: "start_price", Reason: "must be positive"}
	}
	if !endTime.After(startTime) {
		return nil, &core.ValidationError{Field: "end_time", Reason: "must be after start time"}
	}

	now := e.now()
	a := &core.Auction{
		ID:           uuid.New(),
		Title:        title,
		SellerID:     sellerID,
		StartPrice:   startPrice,
		CurrentPrice: startPrice,
		StartTime:    startTime,
		EndTime:      endTime,
		Status:       core.StatusPendingApproval,
		CreatedAt:    now,
	}
	if err := e.store.CreateAuction(ctx, a); err != nil {
		return nil, err
	}

	e.log.Info().Stringer("auction_id", a.ID).Str("title", title).Msg("listing created")
	e.hub.Publish(Event{Kind: EventAuctionPendingApproval, AuctionID: a.ID, At: now})
	return a.Clone(), nil
}

// transition serializes a status change for one auction: it loads the
// auction under its lock, flips an expired ACTIVE auction to ENDED,
// requires the expected source status, applies mutate and persists.
func (e *Engine) transition(ctx context.Context, id uuid.UUID, op string, from core.AuctionStatus, mutate func(a *core.Auction) error) (*core.Auction, error) {
	lock := e.auctionLock(id)
	lock.Lock()
	defer lock.Unlock()

	a, err := e.store.AuctionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.flipExpired(ctx, a); err != nil {
		return nil, err
	}
	if a.Status != from {
		return nil, &core.InvalidTransitionError{Op: op, From: a.Status}
	}
	if err := mutate(a); err != nil {
		return nil, err
	}
	if err := e.store.UpdateAuction(ctx, a); err != nil {
		return nil, err
	}
	e.log.Info().Stringer("auction_id", id).Str("op", op).Str("status", string(a.Status)).Msg("auction transitioned")
	return a.Clone(), nil
}

// Approve moves a pending auction to APPROVED.
func (e *Engine) Approve(ctx context.Context, id uuid.UUID) (*core.Auction, error) {
	a, err := e.transition(ctx, id, "approve", core.StatusPendingApproval, func(a *core.Auction) error {
		a.Status = core.StatusApproved
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.hub.Publish(Event{Kind: EventAuctionApproved, AuctionID: id, At: e.now()})
	return a, nil
}

// Reject terminally refuses a pending auction. The reason is required
// and recorded on the auction.
func (e *Engine) Reject(ctx context.Context, id uuid.UUID, reason string) (*core.Auction, error) {
	if reason == "" {
		return nil, &core.ValidationError{Field: "reason", Reason: "must not be empty"}
	}
	a, err := e.transition(ctx, id, "reject", core.StatusPendingApproval, func(a *core.Auction) error {
		a.Status = core.StatusRejected
		a.RejectReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.hub.Publish(Event{Kind: EventAuctionRejected, AuctionID: id, At: e.now()})
	return a, nil
}

// Deploy provisions the auction with the settlement service and, on
// receipt, moves it to DEPLOYING. A provisioning failure leaves the
// auction APPROVED; the call is retryable and the service deduplicates
// by idempotency key.
func (e *Engine) Deploy(ctx context.Context, id uuid.UUID) (*core.Auction, error) {
	return e.transition(ctx, id, "deploy", core.StatusApproved, func(a *core.Auction) error {
		receipt, err := e.settle.Provision(ctx, id)
		if err != nil {
			e.log.Error().Err(err).Stringer("auction_id", id).Msg("provisioning failed")
			return &core.ExternalServiceError{Op: "provision", Err: err}
		}
		a.Status = core.StatusDeploying
		a.ProvisionRef = receipt.Ref
		return nil
	})
}

// Start opens a deploying auction for bids and fixes its start time.
func (e *Engine) Start(ctx context.Context, id uuid.UUID) (*core.Auction, error) {
	a, err := e.transition(ctx, id, "start", core.StatusDeploying, func(a *core.Auction) error {
		a.Status = core.StatusActive
		a.StartTime = e.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.hub.Publish(Event{Kind: EventAuctionStarted, AuctionID: id, At: e.now()})
	return a, nil
}

// End closes an active auction before its end time. The end time is
// pulled back to now so the auction reads as expired from this point.
func (e *Engine) End(ctx context.Context, id uuid.UUID) (*core.Auction, error) {
	return e.transition(ctx, id, "end", core.StatusActive, func(a *core.Auction) error {
		a.Status = core.StatusEnded
		if now := e.now(); a.EndTime.After(now) {
			a.EndTime = now
		}
		return nil
	})
}

// Settle finishes an ended auction. With a winning bid it converts the
// winning amount to coin base units, transfers through the settlement
// service and moves to SETTLED. With an empty ledger it records the
// terminal no-winner state and reports ErrNoBids alongside the updated
// auction; no transfer is attempted.
func (e *Engine) Settle(ctx context.Context, id uuid.UUID) (*core.Auction, error) {
	lock := e.auctionLock(id)
	lock.Lock()
	defer lock.Unlock()

	a, err := e.store.AuctionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.flipExpired(ctx, a); err != nil {
		return nil, err
	}
	if a.Status != core.StatusEnded || a.NoWinner {
		return nil, &core.InvalidTransitionError{Op: "settle", From: a.Status}
	}

	winning, ok := e.ledger.WinningBid(id)
	if !ok {
		a.NoWinner = true
		if err := e.store.UpdateAuction(ctx, a); err != nil {
			return nil, err
		}
		e.log.Info().Stringer("auction_id", id).Msg("auction ended with no bids")
		return a.Clone(), core.ErrNoBids
	}

	amountWei, err := e.converter.FiatToCoin(winning.Amount)
	if err != nil {
		return nil, err
	}
	receipt, err := e.settle.Transfer(ctx, id, winning.BidderID, amountWei)
	if err != nil {
		e.log.Error().Err(err).Stringer("auction_id", id).Msg("transfer failed")
		return nil, &core.ExternalServiceError{Op: "transfer", Err: err}
	}

	a.Status = core.StatusSettled
	a.WinnerID = winning.BidderID
	a.TransferRef = receipt.Ref
	a.SettledAt = e.now()
	if err := e.store.UpdateAuction(ctx, a); err != nil {
		return nil, err
	}

	e.log.Info().Stringer("auction_id", id).Str("winner", winning.BidderID).Int64("amount", winning.Amount).Msg("auction settled")
	e.hub.Publish(Event{Kind: EventWonAuction, AuctionID: id, BidderID: winning.BidderID, Amount: winning.Amount, At: a.SettledAt})
	return a.Clone(), nil
}

// BidResult reports a successful admission: the accepted entry and the
// auction's updated standing.
type BidResult struct {
	Accepted      bool     `json:"accepted"`
	Bid           core.Bid `json:"bid"`
	CurrentPrice  int64    `json:"current_price"`
	HighestBidder string   `json:"highest_bidder"`
}

// SubmitBid verifies a candidate attestation and, if valid, admits it
// into the ledger and persists it. Verification runs outside the
// auction lock so candidates for the same auction verify in parallel;
// admission re-checks the racy preconditions under the lock.
func (e *Engine) SubmitBid(ctx context.Context, sb *attest.SignedBid) (*BidResult, error) {
	candidate, err := e.verifier.Verify(ctx, sb)
	if err != nil {
		return nil, err
	}

	lock := e.auctionLock(sb.AuctionID)
	lock.Lock()
	defer lock.Unlock()

	a, err := e.store.AuctionByID(ctx, sb.AuctionID)
	if err != nil {
		return nil, core.ErrAuctionNotAcceptingBids
	}
	if err := e.flipExpired(ctx, a); err != nil {
		return nil, err
	}

	admitted, outbid, err := e.ledger.Admit(a, *candidate)
	if err != nil {
		return nil, err
	}

	if err := e.store.SaveBid(ctx, &admitted); err != nil {
		return nil, err
	}
	if outbid != nil {
		if err := e.store.UpdateBidStatus(ctx, outbid.ID, core.BidOutbid); err != nil {
			e.log.Error().Err(err).Stringer("bid_id", outbid.ID).Msg("demoting outbid entry failed")
		}
	}
	if err := e.store.UpdateAuction(ctx, a); err != nil {
		return nil, err
	}

	e.log.Info().Stringer("auction_id", a.ID).Str("bidder", admitted.BidderID).Int64("amount", admitted.Amount).Msg("bid admitted")
	if outbid != nil {
		e.hub.Publish(Event{Kind: EventOutbid, AuctionID: a.ID, BidderID: outbid.BidderID, Amount: admitted.Amount, At: admitted.AcceptedAt})
	}
	return &BidResult{
		Accepted:      true,
		Bid:           admitted,
		CurrentPrice:  a.CurrentPrice,
		HighestBidder: a.HighestBidder,
	}, nil
}

// GetAuction returns one auction with read-time annotations, flipping
// it to ENDED first if its end time has passed.
func (e *Engine) GetAuction(ctx context.Context, id uuid.UUID) (*AuctionView, error) {
	a, err := e.store.AuctionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == core.StatusActive && a.Expired(e.now()) {
		if a, err = e.endExpired(ctx, id); err != nil {
			return nil, err
		}
	}
	v := e.view(a)
	return &v, nil
}

// ListAuctions returns auctions matching the filter, newest first,
// flipping any whose end time has passed.
func (e *Engine) ListAuctions(ctx context.Context, f store.Filter) ([]AuctionView, error) {
	auctions, err := e.store.ListAuctions(ctx, f)
	if err != nil {
		return nil, err
	}
	now := e.now()
	out := make([]AuctionView, 0, len(auctions))
	for i := range auctions {
		a := &auctions[i]
		if a.Status == core.StatusActive && a.Expired(now) {
			flipped, err := e.endExpired(ctx, a.ID)
			if err != nil {
				return nil, err
			}
			a = flipped
		}
		out = append(out, e.view(a))
	}
	return out, nil
}

// History yields the auction's accepted bids in acceptance order.
func (e *Engine) History(auctionID uuid.UUID) []core.Bid {
	var out []core.Bid
	for bid := range e.ledger.History(auctionID) {
		out = append(out, bid)
	}
	return out
}

// flipExpired moves an expired ACTIVE auction to ENDED in place. The
// caller holds the auction lock.
func (e *Engine) flipExpired(ctx context.Context, a *core.Auction) error {
	if a.Status != core.StatusActive || !a.Expired(e.now()) {
		return nil
	}
	a.Status = core.StatusEnded
	if err := e.store.UpdateAuction(ctx, a); err != nil {
		return err
	}
	e.log.Info().Stringer("auction_id", a.ID).Msg("auction end time reached")
	return nil
}

// endExpired acquires the auction lock, re-reads and flips if still
// expired-ACTIVE. Used from read paths and the sweeper.
func (e *Engine) endExpired(ctx context.Context, id uuid.UUID) (*core.Auction, error) {
	lock := e.auctionLock(id)
	lock.Lock()
	defer lock.Unlock()

	a, err := e.store.AuctionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.flipExpired(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// StartEndTimeSweeper flips expired ACTIVE auctions to ENDED on a
// fixed interval until ctx is cancelled. Read and admission paths also
// check lazily, so the sweeper only bounds how long a stale status is
// visible.
func (e *Engine) StartEndTimeSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.sweep(ctx)
			}
		}
	}()
}

func (e *Engine) sweep(ctx context.Context) {
	active := core.StatusActive
	auctions, err := e.store.ListAuctions(ctx, store.Filter{Status: &active})
	if err != nil {
		e.log.Error().Err(err).Msg("sweep: listing active auctions failed")
		return
	}
	now := e.now()
	for i := range auctions {
		if !auctions[i].Expired(now) {
			continue
		}
		if _, err := e.endExpired(ctx, auctions[i].ID); err != nil {
			e.log.Error().Err(err).Stringer("auction_id", auctions[i].ID).Msg("sweep: ending auction failed")
		}
	}
}
