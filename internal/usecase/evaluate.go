package usecase

import (
	"VolCast/internal/services/backtest"
	"VolCast/internal/services/features"
	"VolCast/internal/services/forecast"
)

// walkForward evaluates cfg's strategy on rows with the walk-forward engine.
func walkForward(cfg forecast.Config, rows []features.Row, bt backtest.Config, garchWindow int) (*backtest.Result, error) {
	columns := cfg.Features.Columns()
	fit := func(train []features.Row) (backtest.Scorer, error) {
		m, err := forecast.Fit(cfg, forecast.SampleFromRows(columns, train))
		if err != nil {
			return nil, err
		}
		return func(history []features.Row) (float64, error) {
			return m.Predict(inputFromRows(history, garchWindow))
		}, nil
	}
	return backtest.Run(rows, bt, fit)
}

// inputFromRows builds the forecast input at the last row of history.
func inputFromRows(history []features.Row, garchWindow int) forecast.Input {
	last := history[len(history)-1]
	start := 0
	if garchWindow > 0 && len(history) > garchWindow {
		start = len(history) - garchWindow
	}
	rs := make([]float64, 0, len(history)-start)
	for _, r := range history[start:] {
		rs = append(rs, r.R)
	}
	return forecast.Input{Returns: rs, X: last.X}
}
