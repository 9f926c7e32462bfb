// Package settlement defines the engine's view of the external
// settlement service that provisions an auction's on-chain
// representation and transfers funds to the winner. Both operations are
// idempotent by (auction id, operation kind): calling either again with
// the same arguments returns the original receipt without
// double-effecting.
package settlement

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Receipt acknowledges a completed settlement operation.
type Receipt struct {
	Ref string    `json:"ref"`
	At  time.Time `json:"at"`
}

// Service is the settlement collaborator consumed by the engine. A
// timeout from either call is not evidence of failure; callers retry
// with the same idempotency key and rely on the service deduplicating.
type Service interface {
	Provision(ctx context.Context, auctionID uuid.UUID) (Receipt, error)
	Transfer(ctx context.Context, auctionID uuid.UUID, winnerID string, amountWei *big.Int) (Receipt, error)
}

func idempotencyKey(auctionID uuid.UUID, kind string) string {
	return auctionID.String() + ":" + kind
}
