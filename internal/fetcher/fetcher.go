package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoSamples means the source had no observations inside the window.
	ErrNoSamples = errors.New("no samples in window")
	// ErrValueOverflow means a scaled measurement does not fit a report value.
	ErrValueOverflow = errors.New("measurement exceeds report range")
	// ErrWindowUnavailable means the source cannot answer for the requested window.
	ErrWindowUnavailable = errors.New("window not available from source")
)

// MeasurementFetcher retrieves the measurement for the window [from, to).
type MeasurementFetcher interface {
	FetchMeasurement(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
}

// Static reports the same measurement for every window.
type Static struct {
	Value decimal.Decimal
}

// FetchMeasurement implements MeasurementFetcher.
func (s Static) FetchMeasurement(context.Context, time.Time, time.Time) (decimal.Decimal, error) {
	return s.Value, nil
}

var maxValue = decimal.NewFromInt(math.MaxUint32)

// ToValue scales m and rounds it half away from zero to a report value.
// Negative results clamp to zero.
func ToValue(m decimal.Decimal, scale float64) (uint32, error) {
	if scale <= 0 {
		return 0, fmt.Errorf("scale must be greater than zero: %v", scale)
	}
	v := m.Mul(decimal.NewFromFloat(scale)).Round(0)
	if v.IsNegative() {
		return 0, nil
	}
	if v.GreaterThan(maxValue) {
		return 0, fmt.Errorf("%w: %s", ErrValueOverflow, v.String())
	}
	return uint32(v.IntPart()), nil
}

var _ MeasurementFetcher = Static{}
