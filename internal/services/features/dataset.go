package features

import (
	"fmt"
	"time"

	"VolCast/internal/domain/errs"
	"VolCast/internal/domain/models"
)

// FeatureSpec fixes the lag depth and rolling windows of a feature row.
type FeatureSpec struct {
	MaxLag     int // lags lag0..lagMaxLag of |r|
	MeanWindow int // rolling mean of |r|
	StdWindow  int // rolling sample std of r
}

// DefaultFeatureSpec is lag0..lag3, a 5-period mean and a 10-period std.
func DefaultFeatureSpec() FeatureSpec {
	return FeatureSpec{MaxLag: 3, MeanWindow: 5, StdWindow: 10}
}

func (s FeatureSpec) Validate() error {
	if s.MaxLag < 0 {
		return fmt.Errorf("max_lag must be >= 0, got %d", s.MaxLag)
	}
	if s.MeanWindow < 1 {
		return fmt.Errorf("mean_window must be >= 1, got %d", s.MeanWindow)
	}
	if s.StdWindow < 2 {
		return fmt.Errorf("std_window must be >= 2, got %d", s.StdWindow)
	}
	return nil
}

// Columns returns the feature names in row order.
func (s FeatureSpec) Columns() []string {
	cols := make([]string, 0, s.MaxLag+3)
	for k := 0; k <= s.MaxLag; k++ {
		cols = append(cols, fmt.Sprintf("lag%d", k))
	}
	cols = append(cols, fmt.Sprintf("roll_mean%d", s.MeanWindow), fmt.Sprintf("roll_std%d", s.StdWindow))
	return cols
}

// Warmup is the number of leading returns that cannot carry a full feature row.
func (s FeatureSpec) Warmup() int {
	w := s.MaxLag
	if s.MeanWindow-1 > w {
		w = s.MeanWindow - 1
	}
	if s.StdWindow-1 > w {
		w = s.StdWindow - 1
	}
	return w
}

// History is the number of returns needed to emit one feature row.
func (s FeatureSpec) History() int { return s.Warmup() + 1 }

// Row is one feature vector observed at Time. Label is |r| of the next observation and
// is only set by BuildDataset.
type Row struct {
	Time      time.Time
	R         float64
	X         []float64
	Label     float64
	LabelTime time.Time
}

// Dataset is a supervised table in ascending time order.
type Dataset struct {
	Columns []string
	Rows    []Row
}

// Returns extracts the raw return carried by each row.
func (d *Dataset) Returns() []float64 {
	out := make([]float64, len(d.Rows))
	for i, r := range d.Rows {
		out[i] = r.R
	}
	return out
}

// BuildFeatures emits one row per return that has full lag and window history. Nil returns
// are skipped; the input must be strictly ascending in time.
func (s FeatureSpec) BuildFeatures(obs []models.ReturnObservation) ([]Row, error) {
	series, err := s.series(obs)
	if err != nil {
		return nil, err
	}

	lags := newSlidingWindow(s.MaxLag + 1)
	means := newSlidingWindow(s.MeanWindow)
	stds := newSlidingWindow(s.StdWindow)
	warmup := s.Warmup()

	rows := make([]Row, 0, len(series))
	for i, o := range series {
		r := *o.R
		abs, _ := o.AbsR()
		lags.Push(abs)
		means.Push(abs)
		stds.Push(r)
		if i < warmup {
			continue
		}

		x := make([]float64, 0, s.MaxLag+3)
		for k := 0; k <= s.MaxLag; k++ {
			x = append(x, lags.At(k))
		}
		x = append(x, means.Mean(), stds.SampleStd())
		rows = append(rows, Row{Time: o.Time, R: r, X: x})
	}
	return rows, nil
}

// BuildDataset labels each feature row with |r| of the following observation. The last
// row has no successor and is dropped.
func (s FeatureSpec) BuildDataset(obs []models.ReturnObservation) (*Dataset, error) {
	series, err := s.series(obs)
	if err != nil {
		return nil, err
	}
	rows, err := s.BuildFeatures(series)
	if err != nil {
		return nil, err
	}

	// rows[j] sits at series index warmup+j
	warmup := s.Warmup()
	labelled := make([]Row, 0, len(rows))
	for j, row := range rows {
		next := warmup + j + 1
		if next >= len(series) {
			break
		}
		row.Label, _ = series[next].AbsR()
		row.LabelTime = series[next].Time
		labelled = append(labelled, row)
	}
	return &Dataset{Columns: s.Columns(), Rows: labelled}, nil
}

// Reorder maps a row built with this spec onto the given column order.
func (s FeatureSpec) Reorder(x []float64, columns []string) ([]float64, error) {
	own := s.Columns()
	if len(x) != len(own) {
		return nil, &errs.DataError{Field: "features", Reason: fmt.Sprintf("row has %d values, spec has %d columns", len(x), len(own))}
	}
	idx := make(map[string]int, len(own))
	for i, c := range own {
		idx[c] = i
	}
	out := make([]float64, len(columns))
	for i, c := range columns {
		j, ok := idx[c]
		if !ok {
			return nil, &errs.DataError{Field: "features", Reason: fmt.Sprintf("column %q not produced by feature spec", c)}
		}
		out[i] = x[j]
	}
	return out, nil
}

func (s FeatureSpec) series(obs []models.ReturnObservation) ([]models.ReturnObservation, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	out := make([]models.ReturnObservation, 0, len(obs))
	for _, o := range obs {
		if o.R == nil {
			continue
		}
		if n := len(out); n > 0 && !o.Time.After(out[n-1].Time) {
			return nil, &errs.DataError{Field: "time", At: o.Time, Reason: "return series is not strictly ascending"}
		}
		out = append(out, o)
	}
	return out, nil
}
