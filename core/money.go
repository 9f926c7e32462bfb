package core

import (
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"
)

// DefaultFiatPerCoin is the default exchange rate: fiat base units per
// one whole coin (50,000,000 VND = 1 ETH).
const DefaultFiatPerCoin int64 = 50_000_000

// weiPerCoin is 10^18, the number of coin base units in one whole coin.
var weiPerCoin = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// WeiPerCoin returns 10^18 as a fresh big.Int.
func WeiPerCoin() *big.Int {
	return new(big.Int).Set(weiPerCoin)
}

// Converter performs exact conversion between fiat base units and coin
// base units (wei) at a fixed rate. Both directions are pure integer
// functions of (amount, rate); no floating point enters the arithmetic.
//
// The rate is fixed at construction. Reconfiguring the rate means
// constructing a new Converter with a new version; stored fiat amounts
// are never retroactively altered.
type Converter struct {
	fiatPerCoin int64
	version     string
}

// NewConverter builds a Converter for the given rate (fiat base units
// per whole coin). The version tag identifies the configuration the
// rate came from.
func NewConverter(fiatPerCoin int64, version string) (*Converter, error) {
	if fiatPerCoin <= 0 {
		return nil, &ValidationError{Field: "exchange_rate", Reason: "must be positive"}
	}
	return &Converter{fiatPerCoin: fiatPerCoin, version: version}, nil
}

// Rate returns the configured fiat base units per whole coin.
func (c *Converter) Rate() int64 { return c.fiatPerCoin }

// Version returns the configuration version the rate was loaded from.
func (c *Converter) Version() string { return c.version }

// FiatToCoin converts fiat base units to coin base units (wei),
// truncating toward zero so the result never represents more coin than
// the fiat amount actually buys.
//
//	wei = ⌊fiat · 10^18 / rate⌋
func (c *Converter) FiatToCoin(fiat int64) (*big.Int, error) {
	if fiat < 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must not be negative"}
	}
	wei := new(big.Int).Mul(big.NewInt(fiat), weiPerCoin)
	return wei.Quo(wei, big.NewInt(c.fiatPerCoin)), nil
}

// CoinToFiat converts coin base units (wei) to fiat base units,
// rounding to the nearest unit (half away from zero). Fiat has no
// fractional subunit, so nearest-unit is the smallest possible error.
//
//	fiat = round(wei · rate / 10^18)
func (c *Converter) CoinToFiat(wei *big.Int) (int64, error) {
	if wei == nil || wei.Sign() < 0 {
		return 0, &ValidationError{Field: "amount", Reason: "must not be negative"}
	}
	num := new(big.Int).Mul(wei, big.NewInt(c.fiatPerCoin))
	quo, rem := new(big.Int).QuoRem(num, weiPerCoin, new(big.Int))
	// round half up: wei is non-negative so rem >= 0
	if new(big.Int).Lsh(rem, 1).Cmp(weiPerCoin) >= 0 {
		quo.Add(quo, big.NewInt(1))
	}
	if !quo.IsInt64() {
		return 0, &ValidationError{Field: "amount", Reason: "overflows fiat range"}
	}
	return quo.Int64(), nil
}

// FormatCoin renders a wei amount as a human-readable coin string with
// up to six decimals, trailing zeros trimmed. Presentation only; the
// underlying values stay exact.
func (c *Converter) FormatCoin(wei *big.Int) string {
	if wei == nil || wei.Sign() == 0 {
		return "0 ETH"
	}
	d := decimal.NewFromBigInt(wei, -18)
	if d.IsPositive() && d.LessThan(decimal.New(1, -6)) {
		return "<0.000001 ETH"
	}
	return d.Truncate(6).String() + " ETH"
}

// FormatFiat renders a fiat base-unit amount with dot-grouped thousands
// and the đồng sign, matching the admin dashboard's display.
func (c *Converter) FormatFiat(fiat int64) string {
	if fiat == 0 {
		return "0 ₫"
	}
	sign := ""
	if fiat < 0 {
		sign = "-"
		fiat = -fiat
	}
	s := strconv.FormatInt(fiat, 10)
	var grouped []byte
	for i, ch := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			grouped = append(grouped, '.')
		}
		grouped = append(grouped, ch)
	}
	return sign + string(grouped) + " ₫"
}
