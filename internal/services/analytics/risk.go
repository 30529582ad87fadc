package analytics

import (
	"math"
	"sort"
	"time"

	"VolCast/internal/domain/models"
)

const (
	RegimeHigh   = "High"
	RegimeNormal = "Normal"
	RegimeLow    = "Low"

	// Percentile bounds are inclusive on both sides.
	HighPercentile = 0.70
	LowPercentile  = 0.30

	// Z95 widens the one-sigma band to a two-sided 95% band.
	Z95 = 1.96

	RVShortWindow  = 24 * time.Hour
	RVLongWindow   = 7 * 24 * time.Hour
	RegimeLookback = 7 * 24 * time.Hour
)

// Snapshot is the persisted state a metrics summary is computed from.
type Snapshot struct {
	Symbol   string
	Freq     string
	Latest   *models.Candle
	Forecast *models.Prediction
	// Returns ascending, covering at least RVLongWindow before the last one.
	Returns []models.ReturnObservation
	// History of forecasts, any order; filtered to RegimeLookback here.
	History []models.Prediction
}

// Summarize derives the risk metrics. Any quantity whose inputs are missing stays nil.
func Summarize(s Snapshot) models.LatestMetrics {
	out := models.LatestMetrics{Symbol: s.Symbol, Freq: s.Freq}

	var close *float64
	if s.Latest != nil {
		c := s.Latest.Close.InexactFloat64()
		t := s.Latest.OpenTime
		close, out.LatestClose, out.LatestCloseTime = &c, &c, &t
	}

	if s.Forecast != nil {
		yhat := s.Forecast.YHat
		pf := s.Forecast.PredictedFor
		out.YHat, out.PredictedFor = &yhat, &pf
		if close != nil {
			move := ExpectedMove(*close, yhat)
			r68 := Band(*close, move, 1)
			r95 := Band(*close, move, Z95)
			out.ExpectedMove, out.Range68, out.Range95 = &move, &r68, &r95
		}
		if p := Percentile(trailingForecasts(s.History, pf), yhat); p != nil {
			regime := ClassifyRegime(*p)
			out.VolPercentile, out.VolRegime = p, &regime
		}
	}

	last, ok := lastReturn(s.Returns)
	if ok {
		abs, _ := last.AbsR()
		out.LastAbsReturn = &abs
		if close != nil {
			move := *close * abs
			out.LastAbsMove = &move
			out.RV24 = RealizedVol(windowReturns(s.Returns, last.Time, RVShortWindow), *close)
			out.RV7d = RealizedVol(windowReturns(s.Returns, last.Time, RVLongWindow), *close)
		}
	}
	return out
}

// ExpectedMove converts a forecast absolute return into a price move.
func ExpectedMove(close, yhat float64) float64 { return close * yhat }

// Band is close +/- mult*move.
func Band(close, move, mult float64) models.PriceRange {
	return models.PriceRange{Low: close - mult*move, High: close + mult*move}
}

// PopulationStd is nil below two observations.
func PopulationStd(xs []float64) *float64 {
	if len(xs) < 2 {
		return nil
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	ss := 0.0
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	v := math.Sqrt(ss / float64(len(xs)))
	return &v
}

// RealizedVol scales the population std of returns by price.
func RealizedVol(returns []float64, close float64) *float64 {
	sd := PopulationStd(returns)
	if sd == nil {
		return nil
	}
	v := *sd * close
	return &v
}

// Percentile is the share of history at or below current; nil for an empty history.
func Percentile(history []float64, current float64) *float64 {
	if len(history) == 0 {
		return nil
	}
	sorted := append([]float64(nil), history...)
	sort.Float64s(sorted)
	n := sort.Search(len(sorted), func(i int) bool { return sorted[i] > current })
	p := float64(n) / float64(len(sorted))
	return &p
}

func ClassifyRegime(p float64) string {
	switch {
	case p >= HighPercentile:
		return RegimeHigh
	case p <= LowPercentile:
		return RegimeLow
	default:
		return RegimeNormal
	}
}

// trailingForecasts keeps forecasts with PredictedFor in (anchor-RegimeLookback, anchor].
func trailingForecasts(history []models.Prediction, anchor time.Time) []float64 {
	from := anchor.Add(-RegimeLookback)
	out := make([]float64, 0, len(history))
	for _, p := range history {
		if p.PredictedFor.After(from) && !p.PredictedFor.After(anchor) {
			out = append(out, p.YHat)
		}
	}
	return out
}

// windowReturns keeps non-nil returns with Time in (anchor-window, anchor].
func windowReturns(obs []models.ReturnObservation, anchor time.Time, window time.Duration) []float64 {
	from := anchor.Add(-window)
	out := make([]float64, 0, 32)
	for _, o := range obs {
		if o.R == nil || !o.Time.After(from) || o.Time.After(anchor) {
			continue
		}
		out = append(out, *o.R)
	}
	return out
}

func lastReturn(obs []models.ReturnObservation) (models.ReturnObservation, bool) {
	for i := len(obs) - 1; i >= 0; i-- {
		if obs[i].R != nil {
			return obs[i], true
		}
	}
	return models.ReturnObservation{}, false
}
