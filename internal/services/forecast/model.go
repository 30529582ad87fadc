package forecast

import (
	"encoding/json"
	"fmt"
	"math"

	"VolCast/internal/domain/errs"
	"VolCast/internal/services/features"
)

// ArtifactVersion is bumped whenever the serialized Model layout changes.
const ArtifactVersion = 1

// Kind tags a model strategy.
type Kind string

const (
	KindGARCH  Kind = "garch"
	KindLinear Kind = "linear"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindGARCH, KindLinear:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown model type %q", s)
	}
}

// Config selects and parameterises a strategy.
type Config struct {
	Kind       Kind
	Features   features.FeatureSpec
	RidgeAlpha float64
	MinRows    int
}

// Sample is a training slice. Returns are the raw returns in time order; X and Y are the
// labelled feature rows.
type Sample struct {
	Returns []float64
	Columns []string
	X       [][]float64
	Y       []float64
}

// SampleFromRows builds a training slice from dataset rows. Returns come from the rows
// themselves, so a slice of rows never carries data past its last row.
func SampleFromRows(columns []string, rows []features.Row) Sample {
	s := Sample{
		Returns: make([]float64, len(rows)),
		Columns: columns,
		X:       make([][]float64, len(rows)),
		Y:       make([]float64, len(rows)),
	}
	for i, r := range rows {
		s.Returns[i] = r.R
		s.X[i] = r.X
		s.Y[i] = r.Label
	}
	return s
}

// Input is everything a forecast for the period after t may see: returns up to and
// including t, and the feature row at t in the model's column order.
type Input struct {
	Returns []float64
	X       []float64
}

// Model is a fitted strategy. Exactly the field matching Kind is set.
type Model struct {
	Version   int                   `json:"version"`
	Kind      Kind                  `json:"model_type"`
	TrainRows int                   `json:"train_rows"`
	Features  *features.FeatureSpec `json:"features,omitempty"`
	GARCH     *GARCHParams          `json:"garch,omitempty"`
	Linear    *LinearModel          `json:"linear,omitempty"`
}

// Fit trains the strategy named by cfg.Kind.
func Fit(cfg Config, s Sample) (*Model, error) {
	minRows := cfg.MinRows
	if minRows <= 0 {
		minRows = 30
	}

	switch cfg.Kind {
	case KindGARCH:
		if len(s.Returns) < minRows {
			return nil, &errs.InsufficientDataError{What: "garch fit", Have: len(s.Returns), Need: minRows}
		}
		p, err := fitGARCH(s.Returns)
		if err != nil {
			return nil, err
		}
		return &Model{Version: ArtifactVersion, Kind: KindGARCH, TrainRows: len(s.Returns), GARCH: p}, nil

	case KindLinear:
		if len(s.X) < minRows {
			return nil, &errs.InsufficientDataError{What: "linear fit", Have: len(s.X), Need: minRows}
		}
		lm, err := fitLinear(s.Columns, s.X, s.Y, cfg.RidgeAlpha)
		if err != nil {
			return nil, err
		}
		spec := cfg.Features
		return &Model{Version: ArtifactVersion, Kind: KindLinear, TrainRows: len(s.X), Features: &spec, Linear: lm}, nil

	default:
		return nil, fmt.Errorf("fit: unknown model type %q", cfg.Kind)
	}
}

// Predict returns the next-period forecast: conditional volatility for GARCH, expected
// absolute return for the linear model.
func (m *Model) Predict(in Input) (float64, error) {
	switch m.Kind {
	case KindGARCH:
		s2, err := m.GARCH.NextVariance(in.Returns)
		if err != nil {
			return 0, err
		}
		return math.Sqrt(s2), nil
	case KindLinear:
		return m.Linear.Predict(in.X)
	default:
		return 0, fmt.Errorf("predict: unknown model type %q", m.Kind)
	}
}

// NeedsFeatures reports whether Predict reads Input.X.
func (m *Model) NeedsFeatures() bool { return m.Kind == KindLinear }

func (m *Model) Marshal() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal model: %w", err)
	}
	return b, nil
}

// Unmarshal decodes an artifact payload and checks that its tag matches its contents.
func Unmarshal(b []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal model: %w", err)
	}
	if m.Version != ArtifactVersion {
		return nil, fmt.Errorf("unsupported artifact version %d", m.Version)
	}
	switch m.Kind {
	case KindGARCH:
		if m.GARCH == nil {
			return nil, fmt.Errorf("garch artifact without parameters")
		}
	case KindLinear:
		if m.Linear == nil || m.Features == nil {
			return nil, fmt.Errorf("linear artifact without coefficients or feature spec")
		}
		if len(m.Linear.Columns) != len(m.Linear.Coef) {
			return nil, fmt.Errorf("linear artifact has %d columns for %d coefficients", len(m.Linear.Columns), len(m.Linear.Coef))
		}
	default:
		return nil, fmt.Errorf("unknown model type %q", m.Kind)
	}
	return &m, nil
}
