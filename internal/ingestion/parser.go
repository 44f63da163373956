package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTimestamp flags a malformed or out-of-range feed timestamp.
// The returned update is still usable: the current time is substituted and
// the caller logs a warning instead of dropping the price.
var ErrInvalidTimestamp = errors.New("invalid feed timestamp")

// timestampSkewBound rejects feed timestamps further than this from local
// time in either direction. Wildly skewed producer clocks would otherwise
// leak into battle end-time arithmetic.
const timestampSkewBound = 24 * time.Hour

// PriceUpdate is one normalized feed tick. Timestamp is always in the
// canonical time.Time form; millisecond epoch normalization happens here
// at the boundary and nowhere else.
type PriceUpdate struct {
	Price     float64
	Timestamp time.Time
}

// priceJSON is the wire format published by the price poller.
// Field names use snake_case to match upstream producers.
type priceJSON struct {
	Price       float64 `json:"price"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// ParsePriceUpdate decodes and normalizes one feed payload. A non-positive
// price is a hard error. A bad timestamp is recoverable: the update comes
// back with now substituted and ErrInvalidTimestamp for the caller to log.
func ParsePriceUpdate(data []byte, now time.Time) (PriceUpdate, error) {
	var j priceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return PriceUpdate{}, fmt.Errorf("parse price update: %w", err)
	}

	if j.Price <= 0 {
		return PriceUpdate{}, fmt.Errorf("parse price update: non-positive price %f", j.Price)
	}

	upd := PriceUpdate{Price: j.Price}

	if j.TimestampMs <= 0 {
		upd.Timestamp = now
		return upd, ErrInvalidTimestamp
	}

	ts := time.UnixMilli(j.TimestampMs)
	if ts.Before(now.Add(-timestampSkewBound)) || ts.After(now.Add(timestampSkewBound)) {
		upd.Timestamp = now
		return upd, ErrInvalidTimestamp
	}

	upd.Timestamp = ts
	return upd, nil
}
