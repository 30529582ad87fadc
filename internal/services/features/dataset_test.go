package features

import (
	"math"
	"testing"
	"time"

	"VolCast/internal/domain/models"
)

func syntheticReturns(n int) []models.ReturnObservation {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.ReturnObservation, n)
	for i := range out {
		r := 0.01 * math.Sin(float64(i)*0.7) * (1 + 0.1*float64(i%3))
		out[i] = models.ReturnObservation{Symbol: "BTCUSDT", Time: start.Add(time.Duration(i) * time.Hour), R: &r}
	}
	return out
}

func TestBuildDatasetDropsHeadAndTail(t *testing.T) {
	obs := syntheticReturns(20)
	spec := FeatureSpec{MaxLag: 4, MeanWindow: 5, StdWindow: 5}
	ds, err := spec.BuildDataset(obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ds.Rows) != 15 {
		t.Fatalf("expected 15 rows, got %d", len(ds.Rows))
	}
	if !ds.Rows[0].Time.Equal(obs[4].Time) {
		t.Fatalf("expected first row at obs[4], got %v", ds.Rows[0].Time)
	}
	if !ds.Rows[14].Time.Equal(obs[18].Time) {
		t.Fatalf("expected last row at obs[18], got %v", ds.Rows[14].Time)
	}
	if len(ds.Columns) != 7 || ds.Columns[0] != "lag0" || ds.Columns[6] != "roll_std5" {
		t.Fatalf("unexpected columns %v", ds.Columns)
	}
}

func TestBuildDatasetLabelIsNextAbsReturn(t *testing.T) {
	obs := syntheticReturns(30)
	spec := DefaultFeatureSpec()
	ds, err := spec.BuildDataset(obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for j, row := range ds.Rows {
		i := spec.Warmup() + j
		want := math.Abs(*obs[i+1].R)
		if row.Label != want || !row.LabelTime.Equal(obs[i+1].Time) {
			t.Fatalf("row %d: label %v at %v, want %v at %v", j, row.Label, row.LabelTime, want, obs[i+1].Time)
		}
		if row.X[0] != math.Abs(*obs[i].R) {
			t.Fatalf("row %d: lag0 must be |r_t|", j)
		}
	}
}

func TestBuildFeaturesWindowValues(t *testing.T) {
	vals := []float64{0.01, -0.02, 0.03, -0.04}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	obs := make([]models.ReturnObservation, len(vals))
	for i := range vals {
		v := vals[i]
		obs[i] = models.ReturnObservation{Time: start.Add(time.Duration(i) * time.Hour), R: &v}
	}
	spec := FeatureSpec{MaxLag: 1, MeanWindow: 3, StdWindow: 3}
	rows, err := spec.BuildFeatures(obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	last := rows[1].X
	if last[0] != 0.04 || last[1] != 0.03 {
		t.Fatalf("unexpected lags %v", last[:2])
	}
	if math.Abs(last[2]-0.03) > 1e-12 {
		t.Fatalf("unexpected rolling mean %v", last[2])
	}
	// sample std of {-0.02, 0.03, -0.04}
	m := (-0.02 + 0.03 - 0.04) / 3
	ss := (-0.02-m)*(-0.02-m) + (0.03-m)*(0.03-m) + (-0.04-m)*(-0.04-m)
	if math.Abs(last[3]-math.Sqrt(ss/2)) > 1e-12 {
		t.Fatalf("unexpected rolling std %v", last[3])
	}
}

func TestBuildDatasetNoLookahead(t *testing.T) {
	base := syntheticReturns(40)
	spec := DefaultFeatureSpec()
	ds, err := spec.BuildDataset(base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for j, row := range ds.Rows {
		i := spec.Warmup() + j
		perturbed := make([]models.ReturnObservation, len(base))
		copy(perturbed, base)
		for k := i + 2; k < len(perturbed); k++ {
			v := 0.5 + float64(k)
			perturbed[k].R = &v
		}
		other, err := spec.BuildDataset(perturbed)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got := other.Rows[j]
		if got.Label != row.Label {
			t.Fatalf("row %d label changed after perturbing the future", j)
		}
		for c := range row.X {
			if got.X[c] != row.X[c] {
				t.Fatalf("row %d feature %s changed after perturbing the future", j, ds.Columns[c])
			}
		}
	}
}

func TestBuildFeaturesSkipsNilAndRejectsDisorder(t *testing.T) {
	obs := syntheticReturns(12)
	obs[0].R = nil
	rows, err := DefaultFeatureSpec().BuildFeatures(obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows from 11 returns, got %d", len(rows))
	}

	obs[5], obs[6] = obs[6], obs[5]
	if _, err := DefaultFeatureSpec().BuildFeatures(obs); err == nil {
		t.Fatalf("expected error for unordered series")
	}
}

func TestReorderFollowsArtifactColumns(t *testing.T) {
	spec := FeatureSpec{MaxLag: 1, MeanWindow: 2, StdWindow: 2}
	x := []float64{1, 2, 3, 4}
	got, err := spec.Reorder(x, []string{"roll_std2", "lag0"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0] != 4 || got[1] != 1 {
		t.Fatalf("unexpected reorder %v", got)
	}
	if _, err := spec.Reorder(x, []string{"lag7"}); err == nil {
		t.Fatalf("expected error for unknown column")
	}
}
