package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/cloudx-io/bidchain/core"
)

// Memory is a mutex-guarded in-process Store.
type Memory struct {
	mu       sync.RWMutex
	auctions map[uuid.UUID]core.Auction
	bids     map[uuid.UUID]core.Bid
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		auctions: make(map[uuid.UUID]core.Auction),
		bids:     make(map[uuid.UUID]core.Bid),
	}
}

func (m *Memory) CreateAuction(_ context.Context, a *core.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.auctions[a.ID]; ok {
		return &core.ValidationError{Field: "id", Reason: "already exists"}
	}
	m.auctions[a.ID] = *a
	return nil
}

func (m *Memory) AuctionByID(_ context.Context, id uuid.UUID) (*core.Auction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.auctions[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return a.Clone(), nil
}

func (m *Memory) UpdateAuction(_ context.Context, a *core.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.auctions[a.ID]; !ok {
		return core.ErrNotFound
	}
	m.auctions[a.ID] = *a
	return nil
}

func (m *Memory) ListAuctions(_ context.Context, f Filter) ([]core.Auction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]core.Auction, 0, len(m.auctions))
	for _, a := range m.auctions {
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		out = append(out, a)
	}
	// newest listings first, stable for equal creation times
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) SaveBid(_ context.Context, b *core.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bids[b.ID] = *b
	return nil
}

func (m *Memory) UpdateBidStatus(_ context.Context, id uuid.UUID, status core.BidStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bids[id]
	if !ok {
		return core.ErrNotFound
	}
	b.Status = status
	m.bids[id] = b
	return nil
}

func (m *Memory) BidsByAuction(_ context.Context, auctionID uuid.UUID) ([]core.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []core.Bid
	for _, b := range m.bids {
		if b.AuctionID == auctionID {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AcceptedAt.Before(out[j].AcceptedAt)
	})
	return out, nil
}

func (m *Memory) AllBids(_ context.Context) ([]core.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]core.Bid, 0, len(m.bids))
	for _, b := range m.bids {
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AcceptedAt.Before(out[j].AcceptedAt)
	})
	return out, nil
}
