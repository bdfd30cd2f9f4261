package http

import (
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"metxy/internal/platform/config"
	perr "metxy/internal/platform/errors"
	pnet "metxy/internal/platform/net"

	"github.com/go-chi/chi/v5"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return env
}

func TestRouter_RouteAndParam(t *testing.T) {
	m := chi.NewRouter()
	r := AdaptChi(m)
	r.Route("/v1", func(v1 Router) {
		GetJSON(v1, "/things/{id}", func(req *stdhttp.Request) (any, error) {
			if Param(req, "id") == "missing" {
				return nil, perr.NotFoundf("no thing")
			}
			return map[string]string{"id": Param(req, "id")}, nil
		})
	})

	rec := httptest.NewRecorder()
	r.Mux().ServeHTTP(rec, httptest.NewRequest("GET", "/v1/things/a1", nil))
	env := decode(t, rec)
	if rec.Code != 200 || env.Data.(map[string]any)["id"] != "a1" {
		t.Fatalf("%d %+v", rec.Code, env)
	}

	rec = httptest.NewRecorder()
	r.Mux().ServeHTTP(rec, httptest.NewRequest("GET", "/v1/things/missing", nil))
	env = decode(t, rec)
	if rec.Code != 404 || env.Code != perr.ErrorCodeNotFound {
		t.Fatalf("%d %+v", rec.Code, env)
	}
}

func TestRespond_RequestIDAndHeaders(t *testing.T) {
	h := Handle(func(*stdhttp.Request) Response {
		return Response{Status: stdhttp.StatusAccepted, Body: "queued", Header: stdhttp.Header{"X-Run": {"r1"}}}
	})
	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(pnet.WithRequest(req.Context(), "req-9"))
	rec := httptest.NewRecorder()
	h(rec, req)

	env := decode(t, rec)
	if rec.Code != stdhttp.StatusAccepted || env.RequestID != "req-9" || env.Data != "queued" {
		t.Fatalf("%d %+v", rec.Code, env)
	}
	if rec.Header().Get("X-Run") != "r1" || rec.Header().Get("Content-Type") == "" {
		t.Fatalf("headers %v", rec.Header())
	}
}

func TestList_EmptyIsArray(t *testing.T) {
	rec := httptest.NewRecorder()
	Handle(func(*stdhttp.Request) Response { return List[string](nil) })(rec, httptest.NewRequest("GET", "/", nil))
	var body struct {
		Data struct {
			Items []string `json:"items"`
			Page  Page     `json:"page"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Data.Items == nil || body.Data.Page.Total != 0 {
		t.Fatalf("%s", rec.Body.String())
	}
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	t.Setenv("METXY_API_PORT", "0")
	cfg := config.New()
	s := NewServer(cfg)
	if cfg.Err() == nil {
		t.Fatal("port 0 should be rejected")
	}
	if s.Addr() != ":4000" {
		t.Fatalf("fallback addr %q", s.Addr())
	}

	t.Setenv("METXY_API_PORT", "48123")
	s = NewServer(config.New(), func(m *chi.Mux) {
		m.Get("/ping", func(w stdhttp.ResponseWriter, _ *stdhttp.Request) { w.WriteHeader(204) })
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
