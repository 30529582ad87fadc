package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"VolCast/internal/domain/errs"
	"VolCast/internal/domain/models"

	"github.com/shopspring/decimal"
)

// BuildReturns computes r_t = ln(C_t) - ln(C_{t-1}) against the preceding row in open-time
// order. Gaps are not filled. The first observation has a nil R. A non-positive close fails
// the whole batch with a DataError.
func BuildReturns(candles []models.Candle) ([]models.ReturnObservation, error) {
	if err := CheckCloses(candles); err != nil {
		return nil, err
	}
	sorted := sortedCandles(candles)

	out := make([]models.ReturnObservation, 0, len(sorted))
	var prevLog float64
	for i, c := range sorted {
		cur := math.Log(c.Close.InexactFloat64())
		obs := models.ReturnObservation{Symbol: c.Symbol, Time: c.OpenTime, Close: c.Close}
		if i > 0 {
			r := cur - prevLog
			obs.R = &r
		}
		prevLog = cur
		out = append(out, obs)
	}
	return out, nil
}

// CheckCloses fails on the earliest candle whose close is not positive. It looks at
// every row, duplicates included, so a bad row cannot hide behind a good one with
// the same open time.
func CheckCloses(candles []models.Candle) error {
	var bad *models.Candle
	for i := range candles {
		c := &candles[i]
		if c.Close.IsPositive() {
			continue
		}
		if bad == nil || c.OpenTime.Before(bad.OpenTime) {
			bad = c
		}
	}
	if bad == nil {
		return nil
	}
	return &errs.DataError{
		Field:  "close",
		At:     bad.OpenTime,
		Reason: fmt.Sprintf("non-positive close %s for %s", bad.Close.String(), bad.Symbol),
	}
}

// DailyCloses folds intraday candles into one candle per UTC day carrying the day's last
// close. Days still in progress are left out: a day is complete when a later day is present
// or its last candle ends exactly at midnight.
func DailyCloses(candles []models.Candle, interval time.Duration) []models.Candle {
	sorted := sortedCandles(candles)
	if len(sorted) == 0 {
		return nil
	}

	out := make([]models.Candle, 0, len(sorted)/24+1)
	for i := 0; i < len(sorted); {
		day := utcDay(sorted[i].OpenTime)
		j := i
		for j+1 < len(sorted) && utcDay(sorted[j+1].OpenTime).Equal(day) {
			j++
		}
		last := sorted[j]
		laterDay := j+1 < len(sorted)
		endsAtMidnight := !last.OpenTime.Add(interval).Before(day.Add(24 * time.Hour))
		if laterDay || endsAtMidnight {
			d := models.Candle{
				Symbol:   last.Symbol,
				Interval: "1d",
				OpenTime: day,
				Open:     sorted[i].Open,
				High:     sorted[i].High,
				Low:      sorted[i].Low,
				Close:    last.Close,
			}
			for _, c := range sorted[i : j+1] {
				d.High = decimal.Max(d.High, c.High)
				d.Low = decimal.Min(d.Low, c.Low)
				d.Volume = d.Volume.Add(c.Volume)
			}
			out = append(out, d)
		}
		i = j + 1
	}
	return out
}

// sortedCandles returns candles ordered by open time with duplicate open times collapsed
// to their first occurrence.
func sortedCandles(candles []models.Candle) []models.Candle {
	sorted := make([]models.Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OpenTime.Before(sorted[j].OpenTime) })

	out := make([]models.Candle, 0, len(sorted))
	for _, c := range sorted {
		if n := len(out); n > 0 && c.OpenTime.Equal(out[n-1].OpenTime) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func utcDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
