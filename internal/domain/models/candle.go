package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is a closed OHLCV interval. Unique by (Symbol, Interval, OpenTime).
type Candle struct {
	Symbol   string
	Interval string
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// ReturnObservation is one row of a per-frequency log-return series.
// R is nil for the first observation of a series.
type ReturnObservation struct {
	Symbol string
	Time   time.Time
	Close  decimal.Decimal
	R      *float64
}

// AbsR returns |r| and false when r is absent.
func (o ReturnObservation) AbsR() (float64, bool) {
	if o.R == nil {
		return 0, false
	}
	v := *o.R
	if v < 0 {
		v = -v
	}
	return v, true
}
