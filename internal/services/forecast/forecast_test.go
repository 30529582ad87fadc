package forecast

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"VolCast/internal/domain/errs"
	"VolCast/internal/services/features"
)

func TestNelderMeadQuadratic(t *testing.T) {
	f := func(x []float64) float64 { return (x[0]-1)*(x[0]-1) + (x[1]+2)*(x[1]+2) }
	x, v := nelderMead(f, []float64{5, 5}, 1, 2000, 1e-14)
	if math.Abs(x[0]-1) > 1e-4 || math.Abs(x[1]+2) > 1e-4 || v > 1e-8 {
		t.Fatalf("unexpected minimum %v (%v)", x, v)
	}
}

func linearSample(n int, seed int64) Sample {
	rng := rand.New(rand.NewSource(seed))
	s := Sample{Columns: []string{"a", "b"}}
	for i := 0; i < n; i++ {
		a, b := rng.Float64(), rng.Float64()*10
		s.X = append(s.X, []float64{a, b})
		s.Y = append(s.Y, 5+2*a-0.3*b)
	}
	return s
}

func TestLinearRecoversCoefficients(t *testing.T) {
	m, err := Fit(Config{Kind: KindLinear, Features: features.DefaultFeatureSpec()}, linearSample(200, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := m.Predict(Input{X: []float64{0.5, 4}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(got-(5+1-1.2)) > 1e-8 {
		t.Fatalf("unexpected prediction %v", got)
	}
}

func TestLinearScalerUsesTrainingSliceOnly(t *testing.T) {
	s := linearSample(50, 2)
	m, err := Fit(Config{Kind: KindLinear, Features: features.DefaultFeatureSpec()}, s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mean := 0.0
	for _, row := range s.X {
		mean += row[1]
	}
	mean /= float64(len(s.X))
	if math.Abs(m.Linear.Scaler.Mean[1]-mean) > 1e-12 {
		t.Fatalf("scaler mean %v, training mean %v", m.Linear.Scaler.Mean[1], mean)
	}
}

func TestRidgeShrinksCoefficients(t *testing.T) {
	s := linearSample(100, 3)
	plain, err := Fit(Config{Kind: KindLinear, Features: features.DefaultFeatureSpec()}, s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ridge, err := Fit(Config{Kind: KindLinear, Features: features.DefaultFeatureSpec(), RidgeAlpha: 50}, s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	norm := func(c []float64) float64 { return math.Hypot(c[0], c[1]) }
	if norm(ridge.Linear.Coef) >= norm(plain.Linear.Coef) {
		t.Fatalf("expected ridge to shrink coefficients: %v vs %v", ridge.Linear.Coef, plain.Linear.Coef)
	}
}

func TestFitInsufficientData(t *testing.T) {
	_, err := Fit(Config{Kind: KindLinear}, linearSample(29, 4))
	if !errors.Is(err, errs.ErrInsufficientData) {
		t.Fatalf("expected insufficient data, got %v", err)
	}
	_, err = Fit(Config{Kind: KindGARCH}, Sample{Returns: make([]float64, 10)})
	if !errors.Is(err, errs.ErrInsufficientData) {
		t.Fatalf("expected insufficient data, got %v", err)
	}
}

func simulateGARCH(n int, omega, alpha, beta float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	s2 := omega / (1 - alpha - beta)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sqrt(s2) * rng.NormFloat64()
		s2 = omega + alpha*out[i]*out[i] + beta*s2
	}
	return out
}

func TestGARCHFitRecoversPersistence(t *testing.T) {
	r := simulateGARCH(4000, 2e-6, 0.10, 0.85, 7)
	m, err := Fit(Config{Kind: KindGARCH}, Sample{Returns: r})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := m.GARCH
	if p.Alpha < 0.03 || p.Alpha > 0.2 {
		t.Fatalf("alpha out of range: %v", p.Alpha)
	}
	if p.Beta < 0.7 || p.Beta > 0.95 {
		t.Fatalf("beta out of range: %v", p.Beta)
	}
	if p.Alpha+p.Beta >= 1 || p.Omega <= 0 {
		t.Fatalf("non-stationary fit: %+v", p)
	}
}

func TestGARCHForecastReactsToShocks(t *testing.T) {
	m := &Model{Version: ArtifactVersion, Kind: KindGARCH, GARCH: &GARCHParams{Omega: 1e-6, Alpha: 0.1, Beta: 0.85}}
	calm := make([]float64, 50)
	shock := make([]float64, 50)
	shock[49] = 0.05
	a, err := m.Predict(Input{Returns: calm})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := m.Predict(Input{Returns: shock})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !(a > 0 && b > a) {
		t.Fatalf("expected shock to raise forecast: calm=%v shock=%v", a, b)
	}
	want := math.Sqrt(1e-6 + 0.1*0.05*0.05 + 0.85*0)
	if b < want {
		t.Fatalf("forecast %v below one-step floor %v", b, want)
	}
}

func TestUnmarshalRejectsMismatchedTag(t *testing.T) {
	m := &Model{Version: ArtifactVersion, Kind: KindLinear, GARCH: &GARCHParams{Omega: 1, Alpha: 0.1, Beta: 0.1}}
	b, err := m.Marshal()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Unmarshal(b); err == nil {
		t.Fatalf("expected error for linear tag without coefficients")
	}

	good, err := Fit(Config{Kind: KindLinear, Features: features.DefaultFeatureSpec()}, linearSample(40, 5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ = good.Marshal()
	back, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	x := []float64{0.2, 3}
	y1, _ := good.Predict(Input{X: x})
	y2, _ := back.Predict(Input{X: x})
	if y1 != y2 {
		t.Fatalf("decoded model predicts %v, original %v", y2, y1)
	}
}
