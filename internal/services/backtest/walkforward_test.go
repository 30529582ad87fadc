package backtest

import (
	"math"
	"testing"
	"time"

	"VolCast/internal/services/features"
)

func labelledRows(n int) []features.Row {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]features.Row, n)
	for i := range rows {
		rows[i] = features.Row{
			Time:  start.Add(time.Duration(i) * time.Hour),
			X:     []float64{float64(i)},
			Label: 0.01 + 0.001*float64(i%7),
		}
	}
	return rows
}

func TestRunRefitCadenceAndBoundary(t *testing.T) {
	rows := labelledRows(100)
	var fitLens []int
	fitCalls := 0
	scoreCalls := 0
	fit := func(train []features.Row) (Scorer, error) {
		fitCalls++
		fitLens = append(fitLens, len(train))
		boundary := len(train)
		return func(history []features.Row) (float64, error) {
			scoreCalls++
			tIdx := len(history) - 1
			if boundary > tIdx {
				t.Fatalf("model fit on %d rows used to score row %d", boundary, tIdx)
			}
			return 0.01, nil
		}, nil
	}

	res, err := Run(rows, Config{TestFraction: 0.7, RetrainEvery: 10}, fit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Split != 70 || res.Steps != 30 {
		t.Fatalf("expected split 70 and 30 steps, got %d/%d", res.Split, res.Steps)
	}
	want := []int{70, 80, 90}
	if len(res.RefitAt) != len(want) || fitCalls != 3 {
		t.Fatalf("expected refits at %v, got %v", want, res.RefitAt)
	}
	for i, w := range want {
		if res.RefitAt[i] != w || fitLens[i] != w {
			t.Fatalf("refit %d: at %d on %d rows, want %d", i, res.RefitAt[i], fitLens[i], w)
		}
	}
	if scoreCalls != 30 {
		t.Fatalf("expected 30 scored rows, got %d", scoreCalls)
	}
}

func TestRunComputesBothMAEs(t *testing.T) {
	rows := labelledRows(10)
	fit := func(train []features.Row) (Scorer, error) {
		return func(history []features.Row) (float64, error) { return 0.012, nil }, nil
	}
	res, err := Run(rows, Config{TestFraction: 0.5, RetrainEvery: 1}, fit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var base, model float64
	for _, r := range rows[5:] {
		base += r.Label
		model += math.Abs(r.Label - 0.012)
	}
	if math.Abs(res.BaselineMAE-base/5) > 1e-15 || math.Abs(res.ModelMAE-model/5) > 1e-15 {
		t.Fatalf("unexpected MAEs %v %v", res.BaselineMAE, res.ModelMAE)
	}
	if len(res.RefitAt) != 5 {
		t.Fatalf("retrain_every=1 must refit every step, got %v", res.RefitAt)
	}
}

func TestRunEmptyDatasetReportsNoData(t *testing.T) {
	called := false
	fit := func(train []features.Row) (Scorer, error) {
		called = true
		return nil, nil
	}
	res, err := Run(nil, Config{TestFraction: 0.7, RetrainEvery: 10}, fit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.NoData || called {
		t.Fatalf("expected no data without fitting, got %+v", res)
	}
}

func TestRunRejectsBadConfig(t *testing.T) {
	if _, err := Run(labelledRows(5), Config{TestFraction: 1, RetrainEvery: 1}, nil); err == nil {
		t.Fatalf("expected error for test_fraction=1")
	}
	if _, err := Run(labelledRows(5), Config{TestFraction: 0.5, RetrainEvery: 0}, nil); err == nil {
		t.Fatalf("expected error for retrain_every=0")
	}
}
