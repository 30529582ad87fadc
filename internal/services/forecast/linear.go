package forecast

import (
	"fmt"
	"math"
)

// StandardScaler centres and scales each column with statistics from the training slice.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// fitScaler uses the population standard deviation; constant columns get scale 1.
func fitScaler(x [][]float64) StandardScaler {
	p := len(x[0])
	s := StandardScaler{Mean: make([]float64, p), Scale: make([]float64, p)}
	n := float64(len(x))
	for _, row := range x {
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= n
	}
	for _, row := range x {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Scale[j] += d * d
		}
	}
	for j := range s.Scale {
		s.Scale[j] = math.Sqrt(s.Scale[j] / n)
		if s.Scale[j] < 1e-15 {
			s.Scale[j] = 1
		}
	}
	return s
}

func (s StandardScaler) Transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out
}

// LinearModel is a ridge regression on standardised features. The intercept is not penalised.
type LinearModel struct {
	Columns   []string       `json:"columns"`
	Scaler    StandardScaler `json:"scaler"`
	Coef      []float64      `json:"coef"`
	Intercept float64        `json:"intercept"`
	Alpha     float64        `json:"alpha"`
}

func fitLinear(columns []string, x [][]float64, y []float64, alpha float64) (*LinearModel, error) {
	if len(x) == 0 || len(x) != len(y) {
		return nil, fmt.Errorf("linear fit: %d rows, %d labels", len(x), len(y))
	}
	p := len(x[0])
	if p != len(columns) {
		return nil, fmt.Errorf("linear fit: %d features, %d columns", p, len(columns))
	}
	if alpha < 0 {
		return nil, fmt.Errorf("linear fit: negative alpha %v", alpha)
	}

	scaler := fitScaler(x)
	z := make([][]float64, len(x))
	zMean := make([]float64, p)
	yMean := 0.0
	for i, row := range x {
		z[i] = scaler.Transform(row)
		for j, v := range z[i] {
			zMean[j] += v
		}
		yMean += y[i]
	}
	n := float64(len(x))
	for j := range zMean {
		zMean[j] /= n
	}
	yMean /= n

	// normal equations on centred data: (Z'Z + alpha*I) b = Z'(y - ybar)
	a := make([][]float64, p)
	b := make([]float64, p)
	for j := range a {
		a[j] = make([]float64, p)
	}
	for i := range z {
		yc := y[i] - yMean
		for j := 0; j < p; j++ {
			zj := z[i][j] - zMean[j]
			b[j] += zj * yc
			for k := j; k < p; k++ {
				a[j][k] += zj * (z[i][k] - zMean[k])
			}
		}
	}
	for j := 0; j < p; j++ {
		for k := 0; k < j; k++ {
			a[j][k] = a[k][j]
		}
		a[j][j] += alpha
	}

	coef, err := solveLinear(a, b)
	if err != nil {
		// exact collinearity with alpha=0; fall back to a vanishing ridge
		for j := 0; j < p; j++ {
			a[j][j] += 1e-8 * n
		}
		if coef, err = solveLinear(a, b); err != nil {
			return nil, fmt.Errorf("linear fit: %w", err)
		}
	}

	intercept := yMean
	for j := range coef {
		intercept -= coef[j] * zMean[j]
	}
	return &LinearModel{
		Columns:   append([]string(nil), columns...),
		Scaler:    scaler,
		Coef:      coef,
		Intercept: intercept,
		Alpha:     alpha,
	}, nil
}

// Predict scores one row given in Columns order. Negative estimates are floored at zero
// because the target is an absolute return.
func (m *LinearModel) Predict(x []float64) (float64, error) {
	if len(x) != len(m.Coef) {
		return 0, fmt.Errorf("linear predict: got %d features, model has %d", len(x), len(m.Coef))
	}
	z := m.Scaler.Transform(x)
	yhat := m.Intercept
	for j, v := range z {
		yhat += m.Coef[j] * v
	}
	if yhat < 0 {
		yhat = 0
	}
	return yhat, nil
}

// solveLinear solves a*x = b by Gaussian elimination with partial pivoting.
func solveLinear(a [][]float64, b []float64) ([]float64, error) {
	n := len(b)
	m := make([][]float64, n)
	for i := range a {
		m[i] = append(append([]float64(nil), a[i]...), b[i])
	}
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < 1e-12 {
			return nil, fmt.Errorf("singular system at column %d", col)
		}
		m[col], m[pivot] = m[pivot], m[col]
		for r := col + 1; r < n; r++ {
			f := m[r][col] / m[col][col]
			for c := col; c <= n; c++ {
				m[r][c] -= f * m[col][c]
			}
		}
	}
	x := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		s := m[r][n]
		for c := r + 1; c < n; c++ {
			s -= m[r][c] * x[c]
		}
		x[r] = s / m[r][r]
	}
	return x, nil
}
