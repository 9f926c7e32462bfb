// Package store persists auctions and accepted bids. The engine depends
// only on the Store interface; Memory serves tests and single-node
// development, Postgres serves durable deployments.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/cloudx-io/bidchain/core"
)

// Filter narrows ListAuctions. A nil Status matches every auction.
type Filter struct {
	Status *core.AuctionStatus
}

// Store is the persistence boundary. Implementations return copies;
// mutating a returned value never changes stored state without an
// explicit update call.
type Store interface {
	CreateAuction(ctx context.Context, a *core.Auction) error
	AuctionByID(ctx context.Context, id uuid.UUID) (*core.Auction, error)
	UpdateAuction(ctx context.Context, a *core.Auction) error
	ListAuctions(ctx context.Context, f Filter) ([]core.Auction, error)

	SaveBid(ctx context.Context, b *core.Bid) error
	UpdateBidStatus(ctx context.Context, id uuid.UUID, status core.BidStatus) error
	BidsByAuction(ctx context.Context, auctionID uuid.UUID) ([]core.Bid, error)
	AllBids(ctx context.Context) ([]core.Bid, error)
}
