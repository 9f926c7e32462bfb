package settlement

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Fake is an in-process Service used in development mode and tests. It
// honors the same idempotency contract as a real service: repeated
// calls with the same key return the original receipt.
type Fake struct {
	mu       sync.Mutex
	receipts map[string]Receipt

	// FailProvision and FailTransfer, when non-nil, make the next call of
	// that kind fail once with the given error.
	FailProvision error
	FailTransfer  error

	now func() time.Time
}

// NewFake builds a Fake. now may be nil for the wall clock.
func NewFake(now func() time.Time) *Fake {
	if now == nil {
		now = time.Now
	}
	return &Fake{
		receipts: make(map[string]Receipt),
		now:      now,
	}
}

func (f *Fake) Provision(_ context.Context, auctionID uuid.UUID) (Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := idempotencyKey(auctionID, "provision")
	if r, ok := f.receipts[key]; ok {
		return r, nil
	}
	if err := f.FailProvision; err != nil {
		f.FailProvision = nil
		return Receipt{}, err
	}
	r := Receipt{Ref: "prov-" + auctionID.String(), At: f.now()}
	f.receipts[key] = r
	return r, nil
}

func (f *Fake) Transfer(_ context.Context, auctionID uuid.UUID, _ string, _ *big.Int) (Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := idempotencyKey(auctionID, "transfer")
	if r, ok := f.receipts[key]; ok {
		return r, nil
	}
	if err := f.FailTransfer; err != nil {
		f.FailTransfer = nil
		return Receipt{}, err
	}
	r := Receipt{Ref: "xfer-" + auctionID.String(), At: f.now()}
	f.receipts[key] = r
	return r, nil
}

// TransferCount reports how many distinct transfers have completed.
func (f *Fake) TransferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for key := range f.receipts {
		if len(key) > 9 && key[len(key)-8:] == "transfer" {
			n++
		}
	}
	return n
}
