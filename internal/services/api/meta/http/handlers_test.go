package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	phttp "metxy/internal/platform/net/http"

	"github.com/go-chi/chi/v5"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func get(t *testing.T, d Deps, path string, out any) {
	t.Helper()
	r := phttp.AdaptChi(chi.NewRouter())
	Register(r, d)
	rec := httptest.NewRecorder()
	r.Mux().ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	if rec.Code != 200 {
		t.Fatalf("%s: %d %s", path, rec.Code, rec.Body.String())
	}
	env := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatal(err)
	}
}

func TestHealth(t *testing.T) {
	var h HealthResponse
	get(t, Deps{ServiceName: "metxy-api", StartedAt: time.Now().Add(-time.Minute)}, "/healthz", &h)
	if !h.OK || h.Service != "metxy-api" || h.Uptime < 59 {
		t.Fatalf("%+v", h)
	}
}

func TestReady(t *testing.T) {
	var r ReadyResponse
	get(t, Deps{PG: pinger{}}, "/readyz", &r)
	if r.Status != "ok" || r.Checks[0].Status != "ok" || r.Checks[1].Status != "skipped" {
		t.Fatalf("%+v", r)
	}

	get(t, Deps{PG: pinger{}, CH: pinger{err: errors.New("dial tcp: refused")}}, "/readyz", &r)
	if r.Status != "fail" || r.Checks[1].Error == "" {
		t.Fatalf("%+v", r)
	}
}

func TestVersion(t *testing.T) {
	var v struct {
		Service string `json:"service"`
		Version string `json:"version"`
	}
	get(t, Deps{ServiceName: "metxy-api"}, "/version", &v)
	if v.Service != "metxy-api" || v.Version == "" {
		t.Fatalf("%+v", v)
	}
}
