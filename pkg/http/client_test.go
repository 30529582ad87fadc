package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestClientSendAndParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/latest" || r.URL.Query().Get("freq") != "1d" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":200,"message":"OK","data":{"symbol":"BTCUSDT"}}`))
	}))
	defer srv.Close()

	c := NewClient()
	var out APIResponse
	err := c.SendAndParse(context.Background(), &RequestOptions{
		Method:      http.MethodGet,
		URL:         srv.URL + "/v1/latest",
		QueryParams: url.Values{"freq": {"1d"}},
	}, &out)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	data, ok := out.Data.(map[string]interface{})
	if !ok || data["symbol"] != "BTCUSDT" {
		t.Fatalf("unexpected data %#v", out.Data)
	}

	err = c.SendAndParse(context.Background(), &RequestOptions{Method: http.MethodGet, URL: srv.URL + "/missing"}, &out)
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusNotFound {
		t.Fatalf("expected 404 status error, got %v", err)
	}
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"status":409,"message":"Conflict","data":[{"code":"ERR_INSUFFICIENT_DATA","message":"need 30 rows, have 12"}]}`))
	}))
	defer srv.Close()

	err := NewClient().SendAndParse(context.Background(), &RequestOptions{Method: http.MethodPost, URL: srv.URL, Body: map[string]string{"freq": "1h"}}, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if len(se.Errors) != 1 || se.Errors[0].Code != "ERR_INSUFFICIENT_DATA" {
		t.Fatalf("decoded %+v", se.Errors)
	}
}
