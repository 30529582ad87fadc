package backtest

import (
	"fmt"
	"math"

	"VolCast/internal/services/features"
)

// Scorer forecasts the label of the last row of history. history ends at the row being
// scored; its Label must not be read.
type Scorer func(history []features.Row) (float64, error)

// Fitter trains on rows strictly before the scored row.
type Fitter func(train []features.Row) (Scorer, error)

type Config struct {
	TestFraction float64
	RetrainEvery int
}

func (c Config) Validate() error {
	if !(c.TestFraction > 0 && c.TestFraction < 1) {
		return fmt.Errorf("test_fraction must be in (0,1), got %v", c.TestFraction)
	}
	if c.RetrainEvery < 1 {
		return fmt.Errorf("retrain_every must be >= 1, got %d", c.RetrainEvery)
	}
	return nil
}

// Result summarises one walk-forward run. MAEs are meaningless when NoData is set.
type Result struct {
	Rows        int
	Split       int
	Steps       int
	RefitAt     []int
	BaselineMAE float64
	ModelMAE    float64
	NoData      bool
}

// Run evaluates an expanding-window walk-forward backtest. The first test row sits at
// floor(TestFraction*N). At the first test row and every RetrainEvery rows after it the
// model is refit on rows [0,t); between refits the last fit is reused. Each step is
// compared with a forecast of zero.
func Run(rows []features.Row, cfg Config, fit Fitter) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := len(rows)
	res := &Result{Rows: n}
	if n == 0 {
		res.NoData = true
		return res, nil
	}

	split := int(math.Floor(cfg.TestFraction * float64(n)))
	res.Split = split
	if split >= n {
		res.NoData = true
		return res, nil
	}

	var (
		score    Scorer
		modelErr float64
		baseErr  float64
	)
	for t := split; t < n; t++ {
		if t == split || (t-split)%cfg.RetrainEvery == 0 {
			s, err := fit(rows[:t])
			if err != nil {
				return nil, fmt.Errorf("refit at row %d: %w", t, err)
			}
			score = s
			res.RefitAt = append(res.RefitAt, t)
		}

		yhat, err := score(rows[:t+1])
		if err != nil {
			return nil, fmt.Errorf("score row %d: %w", t, err)
		}
		y := rows[t].Label
		modelErr += math.Abs(y - yhat)
		baseErr += math.Abs(y)
		res.Steps++
	}

	res.ModelMAE = modelErr / float64(res.Steps)
	res.BaselineMAE = baseErr / float64(res.Steps)
	return res, nil
}
