package core

import (
	"math/big"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func wei(coins int64, extra int64) *big.Int {
	w := new(big.Int).Mul(big.NewInt(coins), WeiPerCoin())
	return w.Add(w, big.NewInt(extra))
}

func TestNewConverter(t *testing.T) {
	tests := []struct {
		name    string
		rate    int64
		wantErr bool
	}{
		{"default rate", DefaultFiatPerCoin, false},
		{"rate of one", 1, false},
		{"zero rate rejected", 0, true},
		{"negative rate rejected", -5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewConverter(tt.rate, "v1")
			if tt.wantErr {
				check.Error(t, err)
				check.Nil(t, c)
			} else {
				check.NoError(t, err)
				check.Equal(t, tt.rate, c.Rate())
				check.Equal(t, "v1", c.Version())
			}
		})
	}
}

func TestFiatToCoin(t *testing.T) {
	c, err := NewConverter(DefaultFiatPerCoin, "v1")
	assert.NoError(t, err)

	tests := []struct {
		name string
		fiat int64
		want *big.Int
	}{
		{"zero", 0, big.NewInt(0)},
		{"exactly three coins", 150_000_000, wei(3, 0)},
		{"exactly one coin", 50_000_000, wei(1, 0)},
		{"half a coin", 25_000_000, new(big.Int).Rsh(WeiPerCoin(), 1)},
		{"one fiat unit", 1, big.NewInt(20_000_000_000)},
		{"truncates, never rounds up", 3, big.NewInt(60_000_000_000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.FiatToCoin(tt.fiat)
			assert.NoError(t, err)
			check.Equal(t, 0, tt.want.Cmp(got))
		})
	}

	t.Run("negative rejected", func(t *testing.T) {
		_, err := c.FiatToCoin(-1)
		check.Error(t, err)
	})
}

func TestFiatToCoinTruncation(t *testing.T) {
	// A rate that does not divide 10^18 forces truncation.
	c, err := NewConverter(3, "v1")
	assert.NoError(t, err)

	got, err := c.FiatToCoin(1)
	assert.NoError(t, err)

	// 10^18 / 3 = 333333333333333333.33…, truncated
	want, _ := new(big.Int).SetString("333333333333333333", 10)
	check.Equal(t, 0, want.Cmp(got))
}

func TestCoinToFiat(t *testing.T) {
	c, err := NewConverter(DefaultFiatPerCoin, "v1")
	assert.NoError(t, err)

	tests := []struct {
		name string
		wei  *big.Int
		want int64
	}{
		{"zero", big.NewInt(0), 0},
		{"three coins", wei(3, 0), 150_000_000},
		{"rounds down below half", big.NewInt(9_999_999_999), 0},
		{"rounds up at half", big.NewInt(10_000_000_000), 1},
		{"one coin plus dust", wei(1, 5), 50_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.CoinToFiat(tt.wei)
			assert.NoError(t, err)
			check.Equal(t, tt.want, got)
		})
	}

	t.Run("nil rejected", func(t *testing.T) {
		_, err := c.CoinToFiat(nil)
		check.Error(t, err)
	})

	t.Run("negative rejected", func(t *testing.T) {
		_, err := c.CoinToFiat(big.NewInt(-1))
		check.Error(t, err)
	})
}

// A fiat amount converted to coin and back must never grow: FiatToCoin
// truncates so the coin value buys at most the original fiat amount.
func TestRoundTripNeverExceedsOriginal(t *testing.T) {
	rates := []int64{1, 3, 7, 50_000_000, 123_456_789}
	amounts := []int64{0, 1, 2, 99, 100_000_000, 150_000_000, 999_999_999_999}

	for _, rate := range rates {
		c, err := NewConverter(rate, "v1")
		assert.NoError(t, err)
		for _, fiat := range amounts {
			w, err := c.FiatToCoin(fiat)
			assert.NoError(t, err)
			back, err := c.CoinToFiat(w)
			assert.NoError(t, err)
			if back > fiat {
				t.Fatalf("rate %d: %d fiat -> %s wei -> %d fiat (grew)", rate, fiat, w, back)
			}
		}
	}
}

// CoinToFiat is idempotent under re-application to its own output:
// converting the fiat result back to coin and to fiat again is stable.
func TestCoinToFiatIdempotent(t *testing.T) {
	c, err := NewConverter(DefaultFiatPerCoin, "v1")
	assert.NoError(t, err)

	inputs := []*big.Int{
		big.NewInt(1),
		big.NewInt(10_000_000_000),
		wei(1, 123),
		wei(42, 999_999_999),
	}

	for _, w := range inputs {
		fiat, err := c.CoinToFiat(w)
		assert.NoError(t, err)
		w2, err := c.FiatToCoin(fiat)
		assert.NoError(t, err)
		fiat2, err := c.CoinToFiat(w2)
		assert.NoError(t, err)
		check.Equal(t, fiat, fiat2)
	}
}

func TestFormatFiat(t *testing.T) {
	c, _ := NewConverter(DefaultFiatPerCoin, "v1")

	tests := []struct {
		fiat int64
		want string
	}{
		{0, "0 ₫"},
		{999, "999 ₫"},
		{1000, "1.000 ₫"},
		{50_000_000, "50.000.000 ₫"},
		{-1234567, "-1.234.567 ₫"},
	}

	for _, tt := range tests {
		check.Equal(t, tt.want, c.FormatFiat(tt.fiat))
	}
}

func TestFormatCoin(t *testing.T) {
	c, _ := NewConverter(DefaultFiatPerCoin, "v1")

	tests := []struct {
		name string
		wei  *big.Int
		want string
	}{
		{"zero", big.NewInt(0), "0 ETH"},
		{"whole coins", wei(3, 0), "3 ETH"},
		{"fraction trimmed", new(big.Int).Rsh(WeiPerCoin(), 1), "0.5 ETH"},
		{"dust", big.NewInt(42), "<0.000001 ETH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check.Equal(t, tt.want, c.FormatCoin(tt.wei))
		})
	}
}
