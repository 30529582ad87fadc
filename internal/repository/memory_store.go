package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"VolCast/internal/domain/models"
	domrepo "VolCast/internal/domain/repository"
)

type candleKey struct {
	symbol   string
	interval string
	openTime int64
}

type returnKey struct {
	symbol string
	time   int64
}

type predictionKey struct {
	symbol       string
	freq         string
	target       string
	predictedFor int64
}

type memState struct {
	candles     map[candleKey]models.Candle
	returns     map[domrepo.Frequency]map[returnKey]models.ReturnObservation
	artifacts   []models.ModelArtifact
	predictions map[predictionKey]models.Prediction
}

func newMemState() *memState {
	return &memState{
		candles:     make(map[candleKey]models.Candle),
		returns:     make(map[domrepo.Frequency]map[returnKey]models.ReturnObservation),
		predictions: make(map[predictionKey]models.Prediction),
	}
}

func (st *memState) clone() *memState {
	out := newMemState()
	for k, v := range st.candles {
		out.candles[k] = v
	}
	for f, m := range st.returns {
		cp := make(map[returnKey]models.ReturnObservation, len(m))
		for k, v := range m {
			cp[k] = v
		}
		out.returns[f] = cp
	}
	out.artifacts = append(out.artifacts, st.artifacts...)
	for k, v := range st.predictions {
		out.predictions[k] = v
	}
	return out
}

// MemoryStore is an in-process Store with the same insert-if-absent and
// transaction semantics as PGStore. Used by tests and the CLI dry-run mode.
type MemoryStore struct {
	mu   sync.RWMutex
	txMu *sync.Mutex
	st   *memState
	// inTx marks a transaction view; it is owned by one goroutine and skips locking.
	inTx bool
}

var _ domrepo.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txMu: &sync.Mutex{}, st: newMemState()}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx domrepo.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if domrepo.IsReadSnapshot(ctx) {
		// read-only: work on a private copy and never write it back
		s.mu.RLock()
		view := &MemoryStore{txMu: s.txMu, st: s.st.clone(), inTx: true}
		s.mu.RUnlock()
		return fn(view)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	view := &MemoryStore{txMu: s.txMu, st: s.st.clone(), inTx: true}
	s.mu.RUnlock()

	if err := fn(view); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.st = view.st
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) read(fn func(st *memState)) {
	if s.inTx {
		fn(s.st)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.st)
}

func (s *MemoryStore) write(fn func(st *memState)) {
	if s.inTx {
		fn(s.st)
		return
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

func (s *MemoryStore) InsertCandles(ctx context.Context, candles []models.Candle) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	s.write(func(st *memState) {
		for _, c := range candles {
			c.OpenTime = c.OpenTime.UTC()
			k := candleKey{c.Symbol, c.Interval, c.OpenTime.UnixNano()}
			if _, ok := st.candles[k]; ok {
				continue
			}
			st.candles[k] = c
			n++
		}
	})
	return n, nil
}

func (s *MemoryStore) CandlesSince(ctx context.Context, symbol, interval string, from time.Time) ([]models.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.Candle
	s.read(func(st *memState) {
		for _, c := range st.candles {
			if c.Symbol == symbol && c.Interval == interval && !c.OpenTime.Before(from) {
				out = append(out, c)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out, nil
}

func (s *MemoryStore) LatestCandle(ctx context.Context, symbol, interval string) (*models.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var latest *models.Candle
	s.read(func(st *memState) {
		for _, c := range st.candles {
			if c.Symbol != symbol || c.Interval != interval {
				continue
			}
			if latest == nil || c.OpenTime.After(latest.OpenTime) {
				cp := c
				latest = &cp
			}
		}
	})
	return latest, nil
}

func (s *MemoryStore) InsertReturns(ctx context.Context, freq domrepo.Frequency, obs []models.ReturnObservation) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	s.write(func(st *memState) {
		m, ok := st.returns[freq]
		if !ok {
			m = make(map[returnKey]models.ReturnObservation)
			st.returns[freq] = m
		}
		for _, o := range obs {
			o.Time = o.Time.UTC()
			k := returnKey{o.Symbol, o.Time.UnixNano()}
			if _, ok := m[k]; ok {
				continue
			}
			if o.R != nil {
				r := *o.R
				o.R = &r
			}
			m[k] = o
			n++
		}
	})
	return n, nil
}

func (s *MemoryStore) sortedReturns(symbol string, freq domrepo.Frequency, keep func(models.ReturnObservation) bool) []models.ReturnObservation {
	var out []models.ReturnObservation
	s.read(func(st *memState) {
		for _, o := range st.returns[freq] {
			if o.Symbol == symbol && keep(o) {
				out = append(out, o)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func (s *MemoryStore) ReturnsSince(ctx context.Context, symbol string, freq domrepo.Frequency, from time.Time) ([]models.ReturnObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.sortedReturns(symbol, freq, func(o models.ReturnObservation) bool { return !o.Time.Before(from) }), nil
}

func (s *MemoryStore) TailReturns(ctx context.Context, symbol string, freq domrepo.Frequency, n int) ([]models.ReturnObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	all := s.sortedReturns(symbol, freq, func(models.ReturnObservation) bool { return true })
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (s *MemoryStore) LatestReturnTime(ctx context.Context, symbol string, freq domrepo.Frequency) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	var latest time.Time
	found := false
	s.read(func(st *memState) {
		for _, o := range st.returns[freq] {
			if o.Symbol == symbol && (!found || o.Time.After(latest)) {
				latest, found = o.Time, true
			}
		}
	})
	return latest, found, nil
}

func (s *MemoryStore) SaveArtifact(ctx context.Context, a *models.ModelArtifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := *a
	cp.TrainedAt = cp.TrainedAt.UTC()
	cp.Payload = append([]byte(nil), a.Payload...)
	s.write(func(st *memState) {
		st.artifacts = append(st.artifacts, cp)
	})
	return nil
}

func (s *MemoryStore) LatestArtifact(ctx context.Context, symbol string, freq domrepo.Frequency, target string) (*models.ModelArtifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var best *models.ModelArtifact
	s.read(func(st *memState) {
		for i := range st.artifacts {
			a := st.artifacts[i]
			if a.Symbol != symbol || a.Freq != string(freq) || a.Target != target {
				continue
			}
			if best == nil || a.TrainedAt.After(best.TrainedAt) ||
				(a.TrainedAt.Equal(best.TrainedAt) && a.ID.String() > best.ID.String()) {
				cp := a
				best = &cp
			}
		}
	})
	return best, nil
}

func (s *MemoryStore) InsertPredictions(ctx context.Context, preds []models.Prediction) ([]models.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inserted := make([]models.Prediction, 0, len(preds))
	s.write(func(st *memState) {
		for _, p := range preds {
			p.PredictedFor = p.PredictedFor.UTC()
			k := predictionKey{p.Symbol, p.Freq, p.Target, p.PredictedFor.UnixNano()}
			if _, ok := st.predictions[k]; ok {
				continue
			}
			st.predictions[k] = p
			inserted = append(inserted, p)
		}
	})
	return inserted, nil
}

func (s *MemoryStore) PredictionsSince(ctx context.Context, symbol string, freq domrepo.Frequency, target string, from time.Time) ([]models.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.Prediction
	s.read(func(st *memState) {
		for _, p := range st.predictions {
			if p.Symbol == symbol && p.Freq == string(freq) && p.Target == target && !p.PredictedFor.Before(from) {
				out = append(out, p)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].PredictedFor.Before(out[j].PredictedFor) })
	return out, nil
}

func (s *MemoryStore) LatestPrediction(ctx context.Context, symbol string, freq domrepo.Frequency, target string) (*models.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var latest *models.Prediction
	s.read(func(st *memState) {
		for _, p := range st.predictions {
			if p.Symbol != symbol || p.Freq != string(freq) || p.Target != target {
				continue
			}
			if latest == nil || p.PredictedFor.After(latest.PredictedFor) {
				cp := p
				latest = &cp
			}
		}
	})
	return latest, nil
}

func (s *MemoryStore) Health(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() error { return nil }
