package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"VolCast/internal/domain/errs"
	"VolCast/internal/domain/models"
	domrepo "VolCast/internal/domain/repository"
	"VolCast/internal/usecase"
)

type fakePipeline struct {
	err       error
	healthErr error
	calls     []string
	window    int
	hours     int
}

func (f *fakePipeline) BuildReturns(ctx context.Context, symbol string, freq domrepo.Frequency) (int, error) {
	f.calls = append(f.calls, "returns:"+symbol+":"+string(freq))
	return 3, f.err
}

func (f *fakePipeline) Train(ctx context.Context, symbol string, freq domrepo.Frequency) (*models.ModelArtifact, error) {
	f.calls = append(f.calls, "train")
	if f.err != nil {
		return nil, f.err
	}
	return &models.ModelArtifact{ID: uuid.New(), Symbol: symbol, Freq: string(freq), Target: models.TargetAbsReturn, ModelType: "garch", TrainedAt: time.Now().UTC()}, nil
}

func (f *fakePipeline) PredictLatest(ctx context.Context, symbol string, freq domrepo.Frequency) (int, error) {
	f.calls = append(f.calls, "latest")
	return 1, f.err
}

func (f *fakePipeline) Backfill(ctx context.Context, symbol string, freq domrepo.Frequency, window int) (int, error) {
	f.calls = append(f.calls, "backfill")
	f.window = window
	return window, f.err
}

func (f *fakePipeline) Backtest(ctx context.Context, symbol string, freq domrepo.Frequency, tf float64, re int) (*models.BacktestReport, error) {
	f.calls = append(f.calls, "backtest")
	if f.err != nil {
		return nil, f.err
	}
	return &models.BacktestReport{Symbol: symbol, Freq: string(freq), TestFraction: tf, RetrainEvery: re}, nil
}

func (f *fakePipeline) LatestMetrics(ctx context.Context, symbol string, freq domrepo.Frequency) (*models.LatestMetrics, error) {
	f.calls = append(f.calls, "metrics:"+symbol)
	return &models.LatestMetrics{Symbol: symbol, Freq: string(freq)}, f.err
}

func (f *fakePipeline) Series(ctx context.Context, symbol string, freq domrepo.Frequency, metric string, hours int) ([]models.SeriesPoint, error) {
	f.calls = append(f.calls, "series:"+metric)
	f.hours = hours
	return nil, f.err
}

func (f *fakePipeline) Health(ctx context.Context) error { return f.healthErr }

type fakeQueue struct {
	types    []string
	payloads []interface{}
}

func (q *fakeQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	q.types = append(q.types, msgType)
	q.payloads = append(q.payloads, payload)
	return nil
}

func newTestServer(f *fakePipeline, opts ...HandlerOption) *echo.Echo {
	h := NewForecastEchoHandler(nil, "BTCUSDT", ForecastServices{
		Returns: f, Trainer: f, Predictor: f, Backtester: f, Risk: f, Health: f,
	}, opts...)
	e := echo.New()
	h.RegisterRoutes(e)
	return e
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestLatestUsesDefaultSymbol(t *testing.T) {
	f := &fakePipeline{}
	e := newTestServer(f)

	rec := do(e, http.MethodGet, "/v1/latest", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Status int                  `json:"status"`
		Data   models.LatestMetrics `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Data.Symbol != "BTCUSDT" || out.Data.Freq != "1h" {
		t.Fatalf("unexpected payload %+v", out.Data)
	}
	if cc := rec.Header().Get(echo.HeaderCacheControl); cc != "no-store" {
		t.Fatalf("latest metrics must not be cached, got Cache-Control %q", cc)
	}
}

func TestSeriesBindsPathAndDefaults(t *testing.T) {
	f := &fakePipeline{}
	e := newTestServer(f)

	rec := do(e, http.MethodGet, "/v1/series/abs_returns", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	if f.hours != 48 {
		t.Fatalf("expected default hours 48, got %d", f.hours)
	}
	if !strings.Contains(rec.Body.String(), `"points":[]`) {
		t.Fatalf("expected empty points array, got %s", rec.Body.String())
	}

	rec = do(e, http.MethodGet, "/v1/series/volume", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown metric: status %d", rec.Code)
	}
}

func TestDomainErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&errs.DataError{Field: "close", Reason: "non-positive"}, http.StatusUnprocessableEntity},
		{&errs.InsufficientDataError{What: "training", Have: 3, Need: 30}, http.StatusConflict},
		{&errs.StaleArtifactError{Symbol: "BTCUSDT", Freq: "1h", Target: models.TargetAbsReturn}, http.StatusPreconditionFailed},
		{errs.ErrModelRejected, http.StatusConflict},
		{errs.Upstream("store", errors.New("dial tcp: refused")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		e := newTestServer(&fakePipeline{err: tc.err})
		rec := do(e, http.MethodPost, "/v1/predict", `{"mode":"latest"}`)
		if rec.Code != tc.want {
			t.Fatalf("%v: want %d, got %d", tc.err, tc.want, rec.Code)
		}
	}
}

func TestPredictBackfillSync(t *testing.T) {
	f := &fakePipeline{}
	e := newTestServer(f)

	rec := do(e, http.MethodPost, "/v1/predict", `{"mode":"backfill","window":12}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	if f.window != 12 || f.calls[0] != "backfill" {
		t.Fatalf("unexpected calls %v window %d", f.calls, f.window)
	}
}

func TestAsyncRequiresQueue(t *testing.T) {
	f := &fakePipeline{}
	e := newTestServer(f)
	rec := do(e, http.MethodPost, "/v1/train", `{"async":true}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d", rec.Code)
	}

	q := &fakeQueue{}
	e = newTestServer(f, WithJobQueue(q))
	rec = do(e, http.MethodPost, "/v1/backtest", `{"async":true,"retrain_every":12}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	if len(q.types) != 1 || q.types[0] != usecase.JobTypeBacktest {
		t.Fatalf("unexpected jobs %v", q.types)
	}
	p := q.payloads[0].(*usecase.JobPayload)
	if p.Symbol != "BTCUSDT" || p.TestFraction != 0.7 || p.RetrainEvery != 12 {
		t.Fatalf("unexpected payload %+v", p)
	}
	if len(f.calls) != 0 {
		t.Fatalf("async must not run inline, calls %v", f.calls)
	}
}

func TestMutatingRoutesAreRateLimited(t *testing.T) {
	f := &fakePipeline{}
	e := newTestServer(f, WithRateLimit(2, 0))

	for i := 0; i < 2; i++ {
		if rec := do(e, http.MethodPost, "/v1/returns/build", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
	if rec := do(e, http.MethodPost, "/v1/returns/build", ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	// reads are not limited
	for i := 0; i < 5; i++ {
		if rec := do(e, http.MethodGet, "/v1/latest", ""); rec.Code != http.StatusOK {
			t.Fatalf("read %d limited: %d", i, rec.Code)
		}
	}
}

func TestHealthz(t *testing.T) {
	f := &fakePipeline{}
	e := newTestServer(f)
	if rec := do(e, http.MethodGet, "/v1/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthy: %d", rec.Code)
	}
	f.healthErr = errors.New("down")
	if rec := do(e, http.MethodGet, "/v1/healthz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy: %d", rec.Code)
	}
}
