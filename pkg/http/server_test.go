package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

type pingRequest struct {
	Freq  string `query:"freq" default:"1h" validate:"oneof=1h 1d"`
	Hours int    `query:"hours" default:"24" validate:"gte=1"`
}

type pingHandler struct{}

func (pingHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ping", func(c echo.Context) error {
		req := &pingRequest{}
		if verr := ReadAndValidateRequest(c, req); verr != nil {
			return BadRequestResponse(c, verr)
		}
		return SuccessResponse(c, req)
	})
	e.GET("/gone", func(c echo.Context) error {
		return AppErrorResponse(c, NewAppError("ERR_STALE", "", "stale", http.StatusPreconditionFailed))
	})
	e.GET("/boom", func(c echo.Context) error {
		return AppErrorResponse(c, errors.New("dial postgres dsn=secret"))
	})
	e.GET("/panic", func(c echo.Context) error {
		panic("boom")
	})
}

func serve(s *Server, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestServerAppliesDefaultsAndValidation(t *testing.T) {
	s := NewServer(pingHandler{})

	rec := serve(s, "/ping")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var out struct {
		Status int `json:"status"`
		Data   struct {
			Freq  string
			Hours int
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != 200 || out.Data.Freq != "1h" || out.Data.Hours != 24 {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	rec = serve(s, "/ping?freq=5m")
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "ERR_ONEOF") {
		t.Fatalf("expected oneof violation, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestAppErrorStatusIsWritten(t *testing.T) {
	s := NewServer(pingHandler{})
	rec := serve(s, "/gone")
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"code":"ERR_STALE"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestRecoverTurnsPanicInto500(t *testing.T) {
	s := NewServer(pingHandler{})
	if rec := serve(s, "/panic"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestValidationReportsQueryFieldNames(t *testing.T) {
	s := NewServer(pingHandler{})
	rec := serve(s, "/ping?hours=-1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"field":"hours"`) || !strings.Contains(rec.Body.String(), "hours must be at least 1") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestUnknownErrorDoesNotLeakText(t *testing.T) {
	s := NewServer(pingHandler{})
	rec := serve(s, "/boom")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "dsn=") || !strings.Contains(rec.Body.String(), "ERR_INTERNAL") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestCORSPreflightOnlyForAllowedOrigins(t *testing.T) {
	s := NewServer(pingHandler{}, WithCORSOrigins("https://dash.example"))

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "https://dash.example")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://dash.example" {
		t.Fatalf("preflight: %d %v", rec.Code, rec.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("foreign origin should not be allowed")
	}
}
