package hft

import (
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/shopspring/decimal"
)

// Price is a fixed-point price in 1e-8 units.
type Price int64

// Qty is a fixed-point quantity in 1e-8 units.
type Qty int64

// PriceFromDecimal converts d to fixed point, truncating digits beyond 1e-8.
func PriceFromDecimal(d decimal.Decimal) Price {
	return Price(d.Shift(priceExp).IntPart())
}

// ParsePrice parses a decimal string such as "100.05".
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return PriceFromDecimal(d), nil
}

// Decimal returns p as a decimal.
func (p Price) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -priceExp)
}

// Float64 returns p in whole units. Precision loss is acceptable for statistics only.
func (p Price) Float64() float64 {
	return float64(p) / PriceScale
}

func (p Price) String() string {
	return p.Decimal().String()
}

// QtyFromDecimal converts d to fixed point, truncating digits beyond 1e-8.
func QtyFromDecimal(d decimal.Decimal) Qty {
	return Qty(d.Shift(priceExp).IntPart())
}

// ParseQty parses a decimal string such as "1.5".
func ParseQty(s string) (Qty, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return QtyFromDecimal(d), nil
}

// Decimal returns q as a decimal.
func (q Qty) Decimal() decimal.Decimal {
	return decimal.New(int64(q), -priceExp)
}

func (q Qty) String() string {
	return q.Decimal().String()
}

// Float64 returns q in whole units. Precision loss is acceptable for statistics only.
func (q Qty) Float64() float64 {
	return float64(q) / PriceScale
}

// Abs returns |q|.
func (q Qty) Abs() Qty {
	if q < 0 {
		return -q
	}
	return q
}

// MulRatio scales q by ratio using decimal arithmetic and truncates to fixed point.
func (q Qty) MulRatio(ratio decimal.Decimal) Qty {
	return QtyFromDecimal(q.Decimal().Mul(ratio))
}

// RollingStats keeps a running mean and variance with Welford's algorithm.
type RollingStats struct {
	n    int64
	mean float64
	m2   float64
}

// Add folds x into the statistics.
func (s *RollingStats) Add(x float64) {
	s.n++
	delta := x - s.mean
	s.mean += delta / float64(s.n)
	s.m2 += delta * (x - s.mean)
}

func (s *RollingStats) Count() int64 {
	return s.n
}

func (s *RollingStats) Mean() float64 {
	return s.mean
}

// Variance returns the sample variance, or 0 with fewer than two samples.
func (s *RollingStats) Variance() float64 {
	if s.n < 2 {
		return 0
	}
	return s.m2 / float64(s.n-1)
}

func (s *RollingStats) StdDev() float64 {
	return math.Sqrt(s.Variance())
}

// ZScore returns how many standard deviations x is from the mean, or 0 while the deviation is zero.
func (s *RollingStats) ZScore(x float64) float64 {
	sd := s.StdDev()
	if sd == 0 {
		return 0
	}
	return (x - s.mean) / sd
}

// shardFor maps a symbol to a shard index. The same symbol always maps to the same shard.
func shardFor(symbol string, shards int) int {
	if shards <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(symbol) % uint64(shards))
}
