// Package ledger keeps the append-only, per-auction record of accepted
// bids. Entries are immutable once produced except for the single
// WINNING → OUTBID demotion when a higher bid supersedes them.
package ledger

import (
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudx-io/bidchain/core"
)

// Ledger holds one book per auction. Admissions for the same auction are
// serialized on the book; different auctions proceed in parallel.
type Ledger struct {
	mu    sync.RWMutex
	books map[uuid.UUID]*book
	now   func() time.Time
}

type book struct {
	mu        sync.Mutex
	entries   []core.Bid
	winning   int // index into entries, -1 when empty
	lastNonce map[string]uint64
}

// New builds an empty ledger. now may be nil for the wall clock.
func New(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		books: make(map[uuid.UUID]*book),
		now:   now,
	}
}

func (l *Ledger) book(id uuid.UUID) *book {
	l.mu.RLock()
	b, ok := l.books[id]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.books[id]; ok {
		return b
	}
	b = &book{winning: -1, lastNonce: make(map[string]uint64)}
	l.books[id] = b
	return b
}

// Admit appends a verified bid, assigns it WINNING, demotes the previous
// WINNING entry to OUTBID and updates the auction's current price and
// highest bidder, all atomically with respect to concurrent admissions
// for the same auction.
//
// The preconditions from verification are re-checked here because the
// auction may have moved between verification and admission: the
// auction must still be ACTIVE and unexpired, the amount must still
// strictly exceed the current price, and the nonce must still be fresh.
//
// Returns the admitted entry and, when a previous leader was demoted, a
// copy of that entry.
func (l *Ledger) Admit(a *core.Auction, bid core.Bid) (core.Bid, *core.Bid, error) {
	b := l.book(a.ID)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	if a.Status != core.StatusActive || a.Expired(now) {
		return core.Bid{}, nil, core.ErrAuctionNotAcceptingBids
	}
	if bid.Amount <= a.CurrentPrice {
		return core.Bid{}, nil, &core.BidTooLowError{Amount: bid.Amount, CurrentPrice: a.CurrentPrice}
	}
	if last, ok := b.lastNonce[bid.BidderID]; ok && bid.Nonce <= last {
		return core.Bid{}, nil, core.ErrReplayedNonce
	}

	var outbid *core.Bid
	if b.winning >= 0 {
		b.entries[b.winning].Status = core.BidOutbid
		demoted := b.entries[b.winning]
		outbid = &demoted
	}

	bid.Status = core.BidWinning
	bid.AcceptedAt = now
	b.entries = append(b.entries, bid)
	b.winning = len(b.entries) - 1
	b.lastNonce[bid.BidderID] = bid.Nonce

	a.CurrentPrice = bid.Amount
	a.HighestBidder = bid.BidderID

	return bid, outbid, nil
}

// WinningBid returns a copy of the single WINNING bid for the auction,
// if any.
func (l *Ledger) WinningBid(auctionID uuid.UUID) (core.Bid, bool) {
	l.mu.RLock()
	b, ok := l.books[auctionID]
	l.mu.RUnlock()
	if !ok {
		return core.Bid{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.winning < 0 {
		return core.Bid{}, false
	}
	return b.entries[b.winning], true
}

// LastNonce reports the highest accepted nonce for the (auction, bidder)
// pair. Satisfies the verifier's NonceSource.
func (l *Ledger) LastNonce(auctionID uuid.UUID, bidderID string) (uint64, bool) {
	l.mu.RLock()
	b, ok := l.books[auctionID]
	l.mu.RUnlock()
	if !ok {
		return 0, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.lastNonce[bidderID]
	return n, ok
}

// History yields all accepted bids for the auction in acceptance order,
// oldest first. The sequence is finite and restartable; each yielded
// value is a copy taken from a snapshot, immutable to the caller.
func (l *Ledger) History(auctionID uuid.UUID) iter.Seq[core.Bid] {
	return func(yield func(core.Bid) bool) {
		for _, bid := range l.snapshot(auctionID) {
			if !yield(bid) {
				return
			}
		}
	}
}

// Count returns the number of accepted bids for the auction.
func (l *Ledger) Count(auctionID uuid.UUID) int {
	l.mu.RLock()
	b, ok := l.books[auctionID]
	l.mu.RUnlock()
	if !ok {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (l *Ledger) snapshot(auctionID uuid.UUID) []core.Bid {
	l.mu.RLock()
	b, ok := l.books[auctionID]
	l.mu.RUnlock()
	if !ok {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.Bid, len(b.entries))
	copy(out, b.entries)
	return out
}

// Load rebuilds books from persisted bids, used when the engine starts
// against a durable store. Entries are replayed in acceptance order.
func (l *Ledger) Load(bids []core.Bid) {
	sort.SliceStable(bids, func(i, j int) bool {
		return bids[i].AcceptedAt.Before(bids[j].AcceptedAt)
	})

	for _, bid := range bids {
		b := l.book(bid.AuctionID)
		b.mu.Lock()
		b.entries = append(b.entries, bid)
		if bid.Status == core.BidWinning {
			b.winning = len(b.entries) - 1
		}
		if last, ok := b.lastNonce[bid.BidderID]; !ok || bid.Nonce > last {
			b.lastNonce[bid.BidderID] = bid.Nonce
		}
		b.mu.Unlock()
	}
}
