package engine

import (
	"context"
	"sort"

	"github.com/cloudx-io/bidchain/core"
	"github.com/cloudx-io/bidchain/store"
)

// DashboardStats summarizes the whole system for the admin overview.
// Volume is the sum of winning amounts across settled auctions, in
// fiat base units, with a display rendering in coin.
type DashboardStats struct {
	TotalAuctions     int    `json:"total_auctions"`
	ActiveAuctions    int    `json:"active_auctions"`
	TotalBids         int    `json:"total_bids"`
	SettledVolume     int64  `json:"settled_volume"`
	SettledVolumeCoin string `json:"settled_volume_coin"`
}

// MonthVolume is the settled volume for one month of the queried year.
type MonthVolume struct {
	Month      int    `json:"month"`
	Volume     int64  `json:"volume"`
	VolumeCoin string `json:"volume_coin"`
}

// StatusCount pairs a lifecycle status with how many auctions hold it.
type StatusCount struct {
	Status core.AuctionStatus `json:"status"`
	Count  int                `json:"count"`
}

// BidderRank is one entry of the top-bidders leaderboard, ranked by
// the total of the bidder's accepted bid amounts.
type BidderRank struct {
	BidderID string `json:"bidder_id"`
	Total    int64  `json:"total"`
	Bids     int    `json:"bids"`
}

func (e *Engine) coinDisplay(fiat int64) string {
	wei, err := e.converter.FiatToCoin(fiat)
	if err != nil {
		return ""
	}
	return e.converter.FormatCoin(wei)
}

// DashboardStats derives the admin overview numbers from the store and
// the ledger.
func (e *Engine) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	auctions, err := e.store.ListAuctions(ctx, store.Filter{})
	if err != nil {
		return nil, err
	}
	bids, err := e.store.AllBids(ctx)
	if err != nil {
		return nil, err
	}

	s := &DashboardStats{
		TotalAuctions: len(auctions),
		TotalBids:     len(bids),
	}
	for i := range auctions {
		switch auctions[i].Status {
		case core.StatusActive:
			s.ActiveAuctions++
		case core.StatusSettled:
			s.SettledVolume += auctions[i].CurrentPrice
		}
	}
	s.SettledVolumeCoin = e.coinDisplay(s.SettledVolume)
	return s, nil
}

// VolumeByMonth returns twelve entries, one per month of year, with the
// settled volume attributed to the settlement time.
func (e *Engine) VolumeByMonth(ctx context.Context, year int) ([]MonthVolume, error) {
	auctions, err := e.store.ListAuctions(ctx, store.Filter{})
	if err != nil {
		return nil, err
	}

	out := make([]MonthVolume, 12)
	for m := range out {
		out[m].Month = m + 1
	}
	for i := range auctions {
		a := &auctions[i]
		if a.Status != core.StatusSettled || a.SettledAt.Year() != year {
			continue
		}
		out[int(a.SettledAt.Month())-1].Volume += a.CurrentPrice
	}
	for m := range out {
		out[m].VolumeCoin = e.coinDisplay(out[m].Volume)
	}
	return out, nil
}

// StatusCounts returns one entry per known lifecycle status, in
// lifecycle order, including zero counts.
func (e *Engine) StatusCounts(ctx context.Context) ([]StatusCount, error) {
	auctions, err := e.store.ListAuctions(ctx, store.Filter{})
	if err != nil {
		return nil, err
	}

	order := []core.AuctionStatus{
		core.StatusPendingApproval, core.StatusApproved, core.StatusRejected,
		core.StatusDeploying, core.StatusActive, core.StatusEnded, core.StatusSettled,
	}
	counts := make(map[core.AuctionStatus]int, len(order))
	for i := range auctions {
		counts[auctions[i].Status]++
	}
	out := make([]StatusCount, 0, len(order))
	for _, s := range order {
		out = append(out, StatusCount{Status: s, Count: counts[s]})
	}
	return out, nil
}

// TopBidders ranks bidders by the total of their accepted bid amounts
// across all auctions, highest first, ties broken by bidder id for a
// stable order.
func (e *Engine) TopBidders(ctx context.Context, limit int) ([]BidderRank, error) {
	if limit <= 0 {
		limit = 5
	}
	bids, err := e.store.AllBids(ctx)
	if err != nil {
		return nil, err
	}

	byBidder := make(map[string]*BidderRank)
	for i := range bids {
		r, ok := byBidder[bids[i].BidderID]
		if !ok {
			r = &BidderRank{BidderID: bids[i].BidderID}
			byBidder[bids[i].BidderID] = r
		}
		r.Total += bids[i].Amount
		r.Bids++
	}

	out := make([]BidderRank, 0, len(byBidder))
	for _, r := range byBidder {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].BidderID < out[j].BidderID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
