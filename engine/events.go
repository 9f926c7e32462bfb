package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind labels lifecycle and bidding notifications published by the
// engine.
type EventKind string

const (
	EventAuctionPendingApproval EventKind = "AUCTION_PENDING_APPROVAL"
	EventAuctionApproved        EventKind = "AUCTION_APPROVED"
	EventAuctionRejected        EventKind = "AUCTION_REJECTED"
	EventAuctionStarted         EventKind = "AUCTION_STARTED"
	EventOutbid                 EventKind = "OUTBID"
	EventWonAuction             EventKind = "WON_AUCTION"
)

// Event is one notification fanned out to hub subscribers.
type Event struct {
	Kind      EventKind `json:"kind"`
	AuctionID uuid.UUID `json:"auction_id"`
	BidderID  string    `json:"bidder_id,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	At        time.Time `json:"at"`
}

// Hub fans engine events out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event and catches up
// from the read API.
type Hub struct {
	mu          sync.Mutex
	nextID      int
	subscribers map[int]chan Event
}

// NewHub builds an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[int]chan Event)}
}

// Subscribe returns a receive channel and a cancel func. Cancel is safe
// to call more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, 16)
	h.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if ch, ok := h.subscribers[id]; ok {
				delete(h.subscribers, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber, dropping it for any whose
// buffer is full.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
