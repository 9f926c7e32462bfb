package engine

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/rs/zerolog"

	"github.com/cloudx-io/bidchain/attest"
	"github.com/cloudx-io/bidchain/core"
	"github.com/cloudx-io/bidchain/ledger"
	"github.com/cloudx-io/bidchain/settlement"
	"github.com/cloudx-io/bidchain/store"
)

// testClock is a settable clock shared by the engine, ledger, verifier
// and settlement fake.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	eng   *Engine
	store *store.Memory
	led   *ledger.Ledger
	fake  *settlement.Fake
	clock *testClock
	conv  *core.Converter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newTestClock()
	st := store.NewMemory()
	led := ledger.New(clock.Now)
	conv, err := core.NewConverter(core.DefaultFiatPerCoin, "v1")
	assert.NoError(t, err)
	verifier := attest.NewVerifier(st, led, conv, attest.DefaultDomain(), 2*time.Minute, clock.Now)
	fake := settlement.NewFake(clock.Now)
	eng := New(st, led, verifier, conv, fake, zerolog.Nop(), clock.Now)
	return &fixture{eng: eng, store: st, led: led, fake: fake, clock: clock, conv: conv}
}

// createActive walks an auction through the full happy path to ACTIVE.
func (f *fixture) createActive(t *testing.T) *core.Auction {
	t.Helper()
	ctx := context.Background()
	now := f.clock.Now()
	a, err := f.eng.CreateListing(ctx, "rare lot", uuid.New(), 100_000, now, now.Add(time.Hour))
	assert.NoError(t, err)
	_, err = f.eng.Approve(ctx, a.ID)
	assert.NoError(t, err)
	_, err = f.eng.Deploy(ctx, a.ID)
	assert.NoError(t, err)
	a, err = f.eng.Start(ctx, a.ID)
	assert.NoError(t, err)
	return a
}

func (f *fixture) signBid(t *testing.T, key *ecdsa.PrivateKey, auctionID uuid.UUID, amount int64, nonce uint64) *attest.SignedBid {
	t.Helper()
	sb, err := attest.Sign(auctionID, amount, nonce, f.clock.Now(), attest.DefaultDomain(), key)
	assert.NoError(t, err)
	return sb
}

func TestFullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.createActive(t)
	check.Equal(t, core.StatusActive, a.Status)
	check.NotEqual(t, "", a.ProvisionRef)

	key, err := attest.GenerateKey()
	assert.NoError(t, err)
	res, err := f.eng.SubmitBid(ctx, f.signBid(t, key, a.ID, 150_000, 1))
	assert.NoError(t, err)
	check.True(t, res.Accepted)
	check.Equal(t, core.BidWinning, res.Bid.Status)
	check.Equal(t, int64(150_000), res.CurrentPrice)

	_, err = f.eng.End(ctx, a.ID)
	assert.NoError(t, err)

	settled, err := f.eng.Settle(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, core.StatusSettled, settled.Status)
	check.Equal(t, res.Bid.BidderID, settled.WinnerID)
	check.NotEqual(t, "", settled.TransferRef)
	check.Equal(t, f.clock.Now(), settled.SettledAt)
	check.Equal(t, 1, f.fake.TransferCount())
}

func TestCreateListingValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	tests := []struct {
		name       string
		title      string
		startPrice int64
		start, end time.Time
	}{
		{"empty title", "", 100, now, now.Add(time.Hour)},
		{"zero start price", "lot", 0, now, now.Add(time.Hour)},
		{"negative start price", "lot", -5, now, now.Add(time.Hour)},
		{"end before start", "lot", 100, now.Add(time.Hour), now},
		{"end equals start", "lot", 100, now, now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.CreateListing(ctx, tt.title, uuid.New(), tt.startPrice, tt.start, tt.end)
			var verr *core.ValidationError
			check.True(t, errors.As(err, &verr))
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	a, err := f.eng.CreateListing(ctx, "lot", uuid.New(), 100, now, now.Add(time.Hour))
	assert.NoError(t, err)

	// Everything but approve and reject is illegal from PENDING_APPROVAL.
	ops := map[string]func() error{
		"deploy": func() error { _, err := f.eng.Deploy(ctx, a.ID); return err },
		"start":  func() error { _, err := f.eng.Start(ctx, a.ID); return err },
		"end":    func() error { _, err := f.eng.End(ctx, a.ID); return err },
		"settle": func() error { _, err := f.eng.Settle(ctx, a.ID); return err },
	}
	for name, op := range ops {
		t.Run(name+" from pending", func(t *testing.T) {
			var terr *core.InvalidTransitionError
			check.True(t, errors.As(op(), &terr))
		})
	}

	// Status must be unchanged after the failed attempts.
	got, err := f.eng.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, core.StatusPendingApproval, got.Status)

	// Approve is not repeatable.
	_, err = f.eng.Approve(ctx, a.ID)
	assert.NoError(t, err)
	_, err = f.eng.Approve(ctx, a.ID)
	var terr *core.InvalidTransitionError
	assert.True(t, errors.As(err, &terr))
	check.Equal(t, core.StatusApproved, terr.From)
}

func TestRejectRequiresReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	a, err := f.eng.CreateListing(ctx, "lot", uuid.New(), 100, now, now.Add(time.Hour))
	assert.NoError(t, err)

	_, err = f.eng.Reject(ctx, a.ID, "")
	var verr *core.ValidationError
	assert.True(t, errors.As(err, &verr))

	got, err := f.eng.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, core.StatusPendingApproval, got.Status)

	rejected, err := f.eng.Reject(ctx, a.ID, "prohibited item")
	assert.NoError(t, err)
	check.Equal(t, core.StatusRejected, rejected.Status)
	check.Equal(t, "prohibited item", rejected.RejectReason)

	// Terminal: no way out of REJECTED.
	_, err = f.eng.Approve(ctx, a.ID)
	check.Error(t, err)
}

func TestDeployFailureLeavesApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	a, err := f.eng.CreateListing(ctx, "lot", uuid.New(), 100, now, now.Add(time.Hour))
	assert.NoError(t, err)
	_, err = f.eng.Approve(ctx, a.ID)
	assert.NoError(t, err)

	f.fake.FailProvision = errors.New("rpc timeout")
	_, err = f.eng.Deploy(ctx, a.ID)
	var eerr *core.ExternalServiceError
	assert.True(t, errors.As(err, &eerr))

	got, err := f.eng.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, core.StatusApproved, got.Status)

	// Retry succeeds and moves to DEPLOYING.
	deployed, err := f.eng.Deploy(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, core.StatusDeploying, deployed.Status)
}

func TestSettleTransferFailureLeavesEnded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createActive(t)

	key, err := attest.GenerateKey()
	assert.NoError(t, err)
	_, err = f.eng.SubmitBid(ctx, f.signBid(t, key, a.ID, 150_000, 1))
	assert.NoError(t, err)
	_, err = f.eng.End(ctx, a.ID)
	assert.NoError(t, err)

	f.fake.FailTransfer = errors.New("chain unavailable")
	_, err = f.eng.Settle(ctx, a.ID)
	var eerr *core.ExternalServiceError
	assert.True(t, errors.As(err, &eerr))

	got, err := f.eng.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, core.StatusEnded, got.Status)

	settled, err := f.eng.Settle(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, core.StatusSettled, settled.Status)
	check.Equal(t, 1, f.fake.TransferCount())
}

func TestSettleNoBids(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createActive(t)

	_, err := f.eng.End(ctx, a.ID)
	assert.NoError(t, err)

	settled, err := f.eng.Settle(ctx, a.ID)
	assert.True(t, errors.Is(err, core.ErrNoBids))
	assert.True(t, settled != nil)
	check.Equal(t, core.StatusEnded, settled.Status)
	check.True(t, settled.NoWinner)
	check.Equal(t, 0, f.fake.TransferCount())

	// The no-winner state is terminal.
	_, err = f.eng.Settle(ctx, a.ID)
	var terr *core.InvalidTransitionError
	check.True(t, errors.As(err, &terr))
}

func TestSubmitBidOutbidFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createActive(t)

	alice, err := attest.GenerateKey()
	assert.NoError(t, err)
	bob, err := attest.GenerateKey()
	assert.NoError(t, err)

	events, cancel := f.eng.Hub().Subscribe()
	defer cancel()

	first, err := f.eng.SubmitBid(ctx, f.signBid(t, alice, a.ID, 110_000, 1))
	assert.NoError(t, err)
	second, err := f.eng.SubmitBid(ctx, f.signBid(t, bob, a.ID, 120_000, 1))
	assert.NoError(t, err)

	bids, err := f.store.BidsByAuction(ctx, a.ID)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(bids))
	check.Equal(t, core.BidOutbid, bids[0].Status)
	check.Equal(t, core.BidWinning, bids[1].Status)

	got, err := f.eng.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, int64(120_000), got.CurrentPrice)
	check.Equal(t, second.Bid.BidderID, got.HighestBidder)
	check.Equal(t, 2, got.BidCount)

	// The demoted bidder gets an OUTBID notification.
	var sawOutbid bool
	for done := false; !done; {
		select {
		case ev := <-events:
			if ev.Kind == EventOutbid {
				sawOutbid = true
				check.Equal(t, first.Bid.BidderID, ev.BidderID)
				check.Equal(t, int64(120_000), ev.Amount)
				done = true
			}
		default:
			done = true
		}
	}
	check.True(t, sawOutbid)
}

func TestSubmitBidRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createActive(t)

	key, err := attest.GenerateKey()
	assert.NoError(t, err)

	// Too low: equals the starting price.
	_, err = f.eng.SubmitBid(ctx, f.signBid(t, key, a.ID, 100_000, 1))
	var tooLow *core.BidTooLowError
	check.True(t, errors.As(err, &tooLow))

	// Replay after acceptance.
	_, err = f.eng.SubmitBid(ctx, f.signBid(t, key, a.ID, 150_000, 1))
	assert.NoError(t, err)
	_, err = f.eng.SubmitBid(ctx, f.signBid(t, key, a.ID, 200_000, 1))
	check.True(t, errors.Is(err, core.ErrReplayedNonce))

	// Rejections leave the ledger untouched.
	check.Equal(t, 1, f.led.Count(a.ID))
}

func TestConcurrentBidsKeepPriceMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createActive(t)

	alice, err := attest.GenerateKey()
	assert.NoError(t, err)
	bob, err := attest.GenerateKey()
	assert.NoError(t, err)

	sbA := f.signBid(t, alice, a.ID, 110_000, 1)
	sbB := f.signBid(t, bob, a.ID, 120_000, 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); _, errs[0] = f.eng.SubmitBid(ctx, sbA) }()
	go func() { defer wg.Done(); _, errs[1] = f.eng.SubmitBid(ctx, sbB) }()
	wg.Wait()

	// The higher bid always lands; the lower one either landed first and
	// was demoted, or arrived after and was rejected as too low.
	assert.NoError(t, errs[1])
	winning, ok := f.led.WinningBid(a.ID)
	assert.True(t, ok)
	check.Equal(t, int64(120_000), winning.Amount)
	check.Equal(t, sbB.BidderID, winning.BidderID)

	got, err := f.eng.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, int64(120_000), got.CurrentPrice)

	if errs[0] != nil {
		var tooLow *core.BidTooLowError
		check.True(t, errors.As(errs[0], &tooLow))
		check.Equal(t, 1, f.led.Count(a.ID))
	} else {
		check.Equal(t, 2, f.led.Count(a.ID))
	}
}

func TestLazyEndOnRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createActive(t)

	f.clock.Advance(2 * time.Hour)

	got, err := f.eng.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, core.StatusEnded, got.Status)

	// The flip persisted.
	stored, err := f.store.AuctionByID(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, core.StatusEnded, stored.Status)
}

func TestLazyEndOnBid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createActive(t)

	key, err := attest.GenerateKey()
	assert.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	sb, err := attest.Sign(a.ID, 150_000, 1, f.clock.Now(), attest.DefaultDomain(), key)
	assert.NoError(t, err)

	_, err = f.eng.SubmitBid(ctx, sb)
	check.True(t, errors.Is(err, core.ErrAuctionNotAcceptingBids))
}

func TestSweeperEndsExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createActive(t)

	f.clock.Advance(2 * time.Hour)
	f.eng.sweep(ctx)

	stored, err := f.store.AuctionByID(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, core.StatusEnded, stored.Status)
}

func TestEndingSoonAnnotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createActive(t)

	got, err := f.eng.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.False(t, got.EndingSoon)

	// Within the lookahead window but not yet expired.
	f.clock.Advance(time.Hour - 2*time.Minute)
	got, err = f.eng.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, core.StatusActive, got.Status)
	check.True(t, got.EndingSoon)
}

func TestListAuctionsFiltersAndFlips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	active := f.createActive(t)
	pending, err := f.eng.CreateListing(ctx, "pending lot", uuid.New(), 200, now, now.Add(3*time.Hour))
	assert.NoError(t, err)

	all, err := f.eng.ListAuctions(ctx, store.Filter{})
	assert.NoError(t, err)
	check.Equal(t, 2, len(all))

	st := core.StatusPendingApproval
	filtered, err := f.eng.ListAuctions(ctx, store.Filter{Status: &st})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(filtered))
	check.Equal(t, pending.ID, filtered[0].ID)

	// Listing past the end time surfaces ENDED without a sweeper run.
	f.clock.Advance(2 * time.Hour)
	all, err = f.eng.ListAuctions(ctx, store.Filter{})
	assert.NoError(t, err)
	for _, v := range all {
		if v.ID == active.ID {
			check.Equal(t, core.StatusEnded, v.Status)
		}
	}
}

func TestHubSubscribeCancel(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()

	h.Publish(Event{Kind: EventAuctionStarted})
	ev := <-ch
	check.Equal(t, EventAuctionStarted, ev.Kind)

	cancel()
	cancel() // idempotent
	_, open := <-ch
	check.False(t, open)

	// Publishing after cancel must not panic or block.
	h.Publish(Event{Kind: EventAuctionStarted})
}
