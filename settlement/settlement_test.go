package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestFakeIdempotency(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f := NewFake(func() time.Time { return now })
	ctx := context.Background()
	auctionID := uuid.New()

	r1, err := f.Provision(ctx, auctionID)
	assert.NoError(t, err)
	r2, err := f.Provision(ctx, auctionID)
	assert.NoError(t, err)
	check.Equal(t, r1, r2)

	t1, err := f.Transfer(ctx, auctionID, "winner", big.NewInt(1))
	assert.NoError(t, err)
	t2, err := f.Transfer(ctx, auctionID, "winner", big.NewInt(1))
	assert.NoError(t, err)
	check.Equal(t, t1, t2)
	check.NotEqual(t, r1.Ref, t1.Ref)
	check.Equal(t, 1, f.TransferCount())
}

func TestFakeFailsOnce(t *testing.T) {
	f := NewFake(nil)
	ctx := context.Background()
	auctionID := uuid.New()

	boom := errors.New("rpc unavailable")
	f.FailProvision = boom

	_, err := f.Provision(ctx, auctionID)
	check.Equal(t, boom, err, cmpopts.EquateErrors())

	// Retry with the same key succeeds.
	r, err := f.Provision(ctx, auctionID)
	assert.NoError(t, err)
	check.NotEqual(t, "", r.Ref)
}

func TestClientSendsIdempotencyKey(t *testing.T) {
	auctionID := uuid.New()
	var gotKeys []string
	var gotPaths []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKeys = append(gotKeys, r.Header.Get("Idempotency-Key"))
		gotPaths = append(gotPaths, r.URL.Path)
		_ = json.NewEncoder(w).Encode(Receipt{Ref: "ref-1", At: time.Now()})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	ctx := context.Background()

	_, err := c.Provision(ctx, auctionID)
	assert.NoError(t, err)
	_, err = c.Transfer(ctx, auctionID, "winner", big.NewInt(42))
	assert.NoError(t, err)

	assert.Equal(t, 2, len(gotKeys))
	check.Equal(t, auctionID.String()+":provision", gotKeys[0])
	check.Equal(t, auctionID.String()+":transfer", gotKeys[1])
	check.Equal(t, []string{"/provision", "/transfer"}, gotPaths)
}

func TestClientSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chain halted", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Provision(context.Background(), uuid.New())
	check.Error(t, err)
}
