package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Client talks to a settlement service over HTTP JSON. Every request
// carries an Idempotency-Key header derived from the auction id and
// operation kind, so the service can deduplicate retries.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type provisionRequest struct {
	AuctionID string `json:"auction_id"`
}

type transferRequest struct {
	AuctionID string `json:"auction_id"`
	WinnerID  string `json:"winner_id"`
	AmountWei string `json:"amount_wei"`
}

// Provision asks the service to create the auction's on-chain
// representation.
func (c *Client) Provision(ctx context.Context, auctionID uuid.UUID) (Receipt, error) {
	return c.post(ctx, "/provision", idempotencyKey(auctionID, "provision"), provisionRequest{
		AuctionID: auctionID.String(),
	})
}

// Transfer asks the service to move the winning amount, expressed in
// coin base units, to the seller and the asset to the winner.
func (c *Client) Transfer(ctx context.Context, auctionID uuid.UUID, winnerID string, amountWei *big.Int) (Receipt, error) {
	return c.post(ctx, "/transfer", idempotencyKey(auctionID, "transfer"), transferRequest{
		AuctionID: auctionID.String(),
		WinnerID:  winnerID,
		AmountWei: amountWei.String(),
	})
}

func (c *Client) post(ctx context.Context, path, key string, body any) (Receipt, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return Receipt{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)

	resp, err := c.http.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("settlement call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Receipt{}, fmt.Errorf("settlement call %s: status %d: %s", path, resp.StatusCode, data)
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return Receipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	return receipt, nil
}
