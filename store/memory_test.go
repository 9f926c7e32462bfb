package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/bidchain/core"
)

func newAuction(status core.AuctionStatus, createdAt time.Time) *core.Auction {
	now := time.Now().UTC()
	return &core.Auction{
		ID:           uuid.New(),
		Title:        "test lot",
		SellerID:     uuid.New(),
		StartPrice:   100,
		CurrentPrice: 100,
		StartTime:    now,
		EndTime:      now.Add(time.Hour),
		Status:       status,
		CreatedAt:    createdAt,
	}
}

func TestMemoryAuctionRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	a := newAuction(core.StatusPendingApproval, time.Now().UTC())
	assert.NoError(t, m.CreateAuction(ctx, a))

	got, err := m.AuctionByID(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, a.ID, got.ID)
	check.Equal(t, core.StatusPendingApproval, got.Status)

	// Mutating the returned copy must not leak into the store.
	got.Status = core.StatusActive
	again, err := m.AuctionByID(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, core.StatusPendingApproval, again.Status)
}

func TestMemoryAuctionNotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.AuctionByID(ctx, uuid.New())
	check.True(t, errors.Is(err, core.ErrNotFound))

	err = m.UpdateAuction(ctx, newAuction(core.StatusActive, time.Now().UTC()))
	check.True(t, errors.Is(err, core.ErrNotFound))

	err = m.UpdateBidStatus(ctx, uuid.New(), core.BidOutbid)
	check.True(t, errors.Is(err, core.ErrNotFound))
}

func TestMemoryUpdateAuction(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	a := newAuction(core.StatusApproved, time.Now().UTC())
	assert.NoError(t, m.CreateAuction(ctx, a))

	a.Status = core.StatusActive
	a.CurrentPrice = 250
	assert.NoError(t, m.UpdateAuction(ctx, a))

	got, err := m.AuctionByID(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, core.StatusActive, got.Status)
	check.Equal(t, int64(250), got.CurrentPrice)
}

func TestMemoryListAuctions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now().UTC()

	oldest := newAuction(core.StatusActive, base.Add(-2*time.Hour))
	middle := newAuction(core.StatusEnded, base.Add(-time.Hour))
	newest := newAuction(core.StatusActive, base)
	for _, a := range []*core.Auction{oldest, middle, newest} {
		assert.NoError(t, m.CreateAuction(ctx, a))
	}

	all, err := m.ListAuctions(ctx, Filter{})
	assert.NoError(t, err)
	assert.Equal(t, 3, len(all))
	check.Equal(t, newest.ID, all[0].ID)
	check.Equal(t, oldest.ID, all[2].ID)

	active := core.StatusActive
	filtered, err := m.ListAuctions(ctx, Filter{Status: &active})
	assert.NoError(t, err)
	assert.Equal(t, 2, len(filtered))
	for _, a := range filtered {
		check.Equal(t, core.StatusActive, a.Status)
	}
}

func TestMemoryBids(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now().UTC()

	a := newAuction(core.StatusActive, base)
	b := newAuction(core.StatusActive, base)
	assert.NoError(t, m.CreateAuction(ctx, a))
	assert.NoError(t, m.CreateAuction(ctx, b))

	second := &core.Bid{
		ID: uuid.New(), AuctionID: a.ID, BidderID: "alice",
		Amount: 200, Nonce: 2, Timestamp: base, AcceptedAt: base.Add(time.Minute),
		Status: core.BidWinning,
	}
	first := &core.Bid{
		ID: uuid.New(), AuctionID: a.ID, BidderID: "bob",
		Amount: 150, Nonce: 1, Timestamp: base, AcceptedAt: base,
		Status: core.BidOutbid,
	}
	other := &core.Bid{
		ID: uuid.New(), AuctionID: b.ID, BidderID: "carol",
		Amount: 120, Nonce: 1, Timestamp: base, AcceptedAt: base,
		Status: core.BidWinning,
	}
	for _, bid := range []*core.Bid{second, first, other} {
		assert.NoError(t, m.SaveBid(ctx, bid))
	}

	bids, err := m.BidsByAuction(ctx, a.ID)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(bids))
	check.Equal(t, first.ID, bids[0].ID)
	check.Equal(t, second.ID, bids[1].ID)

	all, err := m.AllBids(ctx)
	assert.NoError(t, err)
	check.Equal(t, 3, len(all))

	assert.NoError(t, m.UpdateBidStatus(ctx, second.ID, core.BidOutbid))
	bids, err = m.BidsByAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, core.BidOutbid, bids[1].Status)
}
