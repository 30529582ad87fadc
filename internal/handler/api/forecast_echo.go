package api

import (
	"context"
	"net/http"
	"time"

	"VolCast/internal/domain/errs"
	models "VolCast/internal/domain/models"
	domrepo "VolCast/internal/domain/repository"
	"VolCast/internal/domain/service"
	"VolCast/internal/service/metrics"
	"VolCast/internal/service/ratelimit"
	"VolCast/internal/usecase"
	xhttp "VolCast/pkg/http"
	xlogger "VolCast/pkg/logger"
	"VolCast/pkg/queue"

	"github.com/labstack/echo/v4"
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ForecastServices groups the pipeline stages served over HTTP.
type ForecastServices struct {
	Returns    service.ReturnsBuilder
	Trainer    service.Trainer
	Predictor  service.Predictor
	Backtester service.Backtester
	Risk       service.RiskReader
	Health     HealthChecker
}

type HandlerOption func(*ForecastEchoHandler)

// WithJobQueue enables async=true on mutating routes.
func WithJobQueue(q queue.QueueService) HandlerOption {
	return func(h *ForecastEchoHandler) { h.jobs = q }
}

// WithRateLimit sets the token bucket applied per client and route.
func WithRateLimit(capacity, refillPerSec float64) HandlerOption {
	return func(h *ForecastEchoHandler) {
		h.rlCapacity = capacity
		h.rlRefill = refillPerSec
	}
}

// ForecastEchoHandler serves the forecast pipeline over Echo.
type ForecastEchoHandler struct {
	logger     *xlogger.Logger
	symbol     string
	svc        ForecastServices
	jobs       queue.QueueService
	rl         *ratelimit.Limiter
	rlCapacity float64
	rlRefill   float64
}

func NewForecastEchoHandler(logger *xlogger.Logger, symbol string, svc ForecastServices, opts ...HandlerOption) *ForecastEchoHandler {
	metrics.Register()
	h := &ForecastEchoHandler{
		logger:     logger,
		symbol:     symbol,
		svc:        svc,
		rl:         ratelimit.New(),
		rlCapacity: 10,
		rlRefill:   0.5,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = xlogger.Nop()
	}
	return h
}

func (h *ForecastEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/v1")
	g.GET("/latest", h.Latest)
	g.GET("/series/:metric", h.Series)
	g.GET("/healthz", h.Healthz)
	g.POST("/predict", h.Predict, h.rateLimit)
	g.POST("/train", h.Train, h.rateLimit)
	g.POST("/backtest", h.Backtest, h.rateLimit)
	g.POST("/returns/build", h.BuildReturns, h.rateLimit)
}

type seriesResponse struct {
	Symbol string               `json:"symbol"`
	Freq   string               `json:"freq"`
	Metric string               `json:"metric"`
	Points []models.SeriesPoint `json:"points"`
}

type insertedResponse struct {
	Symbol   string `json:"symbol"`
	Freq     string `json:"freq"`
	Inserted int    `json:"inserted"`
}

type trainResponse struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Freq      string    `json:"freq"`
	Target    string    `json:"target"`
	ModelType string    `json:"model_type"`
	TrainedAt time.Time `json:"trained_at"`
}

type queuedResponse struct {
	Queued bool   `json:"queued"`
	Job    string `json:"job"`
}

func (h *ForecastEchoHandler) Latest(c echo.Context) error {
	defer h.observe("latest", time.Now())
	req := &models.LatestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbol := req.Symbol
	if symbol == "" {
		symbol = h.symbol
	}

	res, err := h.svc.Risk.LatestMetrics(c.Request().Context(), symbol, domrepo.NormalizeFrequency(req.Freq))
	if err != nil {
		return h.fail(c, "latest", err)
	}
	// a new prediction can land at any moment; clients must always refetch
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, res)
}

func (h *ForecastEchoHandler) Series(c echo.Context) error {
	defer h.observe("series", time.Now())
	req := &models.SeriesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	freq := domrepo.NormalizeFrequency(req.Freq)

	points, err := h.svc.Risk.Series(c.Request().Context(), h.symbol, freq, req.Metric, req.Hours)
	if err != nil {
		return h.fail(c, "series", err)
	}
	if points == nil {
		points = []models.SeriesPoint{}
	}
	return xhttp.SuccessResponse(c, &seriesResponse{Symbol: h.symbol, Freq: string(freq), Metric: req.Metric, Points: points})
}

func (h *ForecastEchoHandler) Predict(c echo.Context) error {
	defer h.observe("predict", time.Now())
	req := &models.PredictRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	freq := domrepo.NormalizeFrequency(req.Freq)
	ctx := c.Request().Context()

	if req.Mode == "latest" {
		n, err := h.svc.Predictor.PredictLatest(ctx, h.symbol, freq)
		if err != nil {
			return h.fail(c, "predict", err)
		}
		return xhttp.SuccessResponse(c, &insertedResponse{Symbol: h.symbol, Freq: string(freq), Inserted: n})
	}

	if req.Async {
		return h.enqueue(c, "predict", usecase.JobTypeBackfill, &usecase.JobPayload{Symbol: h.symbol, Freq: string(freq), Window: req.Window})
	}
	n, err := h.svc.Predictor.Backfill(ctx, h.symbol, freq, req.Window)
	if err != nil {
		return h.fail(c, "predict", err)
	}
	return xhttp.SuccessResponse(c, &insertedResponse{Symbol: h.symbol, Freq: string(freq), Inserted: n})
}

func (h *ForecastEchoHandler) Train(c echo.Context) error {
	defer h.observe("train", time.Now())
	req := &models.TrainRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	freq := domrepo.NormalizeFrequency(req.Freq)

	if req.Async {
		return h.enqueue(c, "train", usecase.JobTypeTrain, &usecase.JobPayload{Symbol: h.symbol, Freq: string(freq)})
	}
	a, err := h.svc.Trainer.Train(c.Request().Context(), h.symbol, freq)
	if err != nil {
		return h.fail(c, "train", err)
	}
	return xhttp.CreatedResponse(c, &trainResponse{
		ID:        a.ID.String(),
		Symbol:    a.Symbol,
		Freq:      a.Freq,
		Target:    a.Target,
		ModelType: a.ModelType,
		TrainedAt: a.TrainedAt,
	})
}

func (h *ForecastEchoHandler) Backtest(c echo.Context) error {
	defer h.observe("backtest", time.Now())
	req := &models.BacktestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	freq := domrepo.NormalizeFrequency(req.Freq)

	if req.Async {
		return h.enqueue(c, "backtest", usecase.JobTypeBacktest, &usecase.JobPayload{
			Symbol:       h.symbol,
			Freq:         string(freq),
			TestFraction: req.TestFraction,
			RetrainEvery: req.RetrainEvery,
		})
	}
	rep, err := h.svc.Backtester.Backtest(c.Request().Context(), h.symbol, freq, req.TestFraction, req.RetrainEvery)
	if err != nil {
		return h.fail(c, "backtest", err)
	}
	return xhttp.SuccessResponse(c, rep)
}

func (h *ForecastEchoHandler) BuildReturns(c echo.Context) error {
	defer h.observe("returns_build", time.Now())
	req := &models.BuildReturnsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	freq := domrepo.NormalizeFrequency(req.Freq)

	n, err := h.svc.Returns.BuildReturns(c.Request().Context(), h.symbol, freq)
	if err != nil {
		return h.fail(c, "returns_build", err)
	}
	return xhttp.SuccessResponse(c, &insertedResponse{Symbol: h.symbol, Freq: string(freq), Inserted: n})
}

func (h *ForecastEchoHandler) Healthz(c echo.Context) error {
	if h.svc.Health != nil {
		if err := h.svc.Health.Health(c.Request().Context()); err != nil {
			h.logger.Warn("health check failed", xlogger.Error(err))
			return xhttp.ServiceUnavailableResponse(c, map[string]string{"status": "unavailable"})
		}
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *ForecastEchoHandler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.RealIP() + " " + c.Path()
		if !h.rl.Allow(key, h.rlCapacity, h.rlRefill) {
			return xhttp.TooManyRequestsResponse(c, []*xhttp.AppError{
				xhttp.NewAppError("ERR_RATE_LIMITED", "", "too many requests", http.StatusTooManyRequests),
			})
		}
		return next(c)
	}
}

func (h *ForecastEchoHandler) enqueue(c echo.Context, endpoint, jobType string, payload *usecase.JobPayload) error {
	if h.jobs == nil {
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_QUEUE_DISABLED", "async", "job queue is not configured", http.StatusServiceUnavailable))
	}
	if err := h.jobs.PublishMessage(c.Request().Context(), jobType, payload); err != nil {
		return h.fail(c, endpoint, errs.Upstream("enqueue "+jobType, err))
	}
	return xhttp.AcceptedResponse(c, &queuedResponse{Queued: true, Job: jobType})
}

func (h *ForecastEchoHandler) fail(c echo.Context, endpoint string, err error) error {
	appErr := toAppError(err)
	metrics.APIErrors.WithLabelValues(endpoint, errs.Kind(err)).Inc()
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error(endpoint+" usecase error", xlogger.String("symbol", h.symbol), xlogger.Error(err))
	} else {
		h.logger.Warn(endpoint+" rejected", xlogger.String("symbol", h.symbol), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func (h *ForecastEchoHandler) observe(endpoint string, start time.Time) {
	metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
