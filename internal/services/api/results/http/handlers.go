// Package http provides the results API transport
package http

import (
	stdhttp "net/http"

	phttp "metxy/internal/platform/net/http"
	"metxy/internal/platform/net/http/bind"
	"metxy/internal/services/api/results/domain"
)

// Register mounts the results endpoints on the given router
func Register(r phttp.Router, s domain.Service) {
	h := &handlers{svc: s}

	r.Get("/corrections/{version}/{epoch}", phttp.Handle(h.corrections))
	phttp.GetJSON(r, "/corrections/{version}/{epoch}/{tag}/{met}", h.correction)

	// version and epoch come from the query string
	r.Get("/runs", phttp.Handle(h.runs))
	phttp.GetJSON(r, "/runs/{version}/{epoch}/{tag}/{met}", h.run)
}

type handlers struct{ svc domain.Service }

func (h *handlers) corrections(r *stdhttp.Request) phttp.Response {
	sc, err := bind.Params[domain.Scope](r)
	if err != nil {
		return phttp.Error(err)
	}
	out, err := h.svc.Corrections(r.Context(), sc)
	if err != nil {
		return phttp.Error(err)
	}
	return phttp.List(out)
}

func (h *handlers) correction(r *stdhttp.Request) (any, error) {
	k, err := bind.Params[domain.Key](r)
	if err != nil {
		return nil, err
	}
	return h.svc.Correction(r.Context(), k)
}

func (h *handlers) runs(r *stdhttp.Request) phttp.Response {
	sc, err := bind.Params[domain.Scope](r)
	if err != nil {
		return phttp.Error(err)
	}
	out, err := h.svc.Runs(r.Context(), sc)
	if err != nil {
		return phttp.Error(err)
	}
	return phttp.List(out)
}

func (h *handlers) run(r *stdhttp.Request) (any, error) {
	k, err := bind.Params[domain.Key](r)
	if err != nil {
		return nil, err
	}
	return h.svc.Run(r.Context(), k)
}
