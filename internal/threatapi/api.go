// Package threatapi exposes the threat memory and prediction engine over
// HTTP for analyst dashboards.
package threatapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/recall/internal/predict"
)

// Predictor is the prediction surface the API needs.
type Predictor interface {
	Predict(ctx context.Context, analystID string, t predict.ThreatData) (*predict.Result, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger    log.Logger
	svc       MemoryService
	predictor Predictor
}

// New creates a new API handler. predictor may be nil when the engine is
// disabled; the prediction route then returns 503.
func New(logger log.Logger, svc MemoryService, predictor Predictor) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("memory service is required"))
	}
	return &API{
		logger:    logger,
		svc:       svc,
		predictor: predictor,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/threats", a.handleAddThreat)
		r.Get("/threats", a.handleListThreats)
		r.Get("/threats/top", a.handleTopThreats)
		r.Get("/threats/hot", a.handleHotThreats)
		r.Get("/threats/{id}", a.handleGetThreat)
		r.Post("/threats/{id}/interactions", a.handleInteraction)
		r.Post("/threats/{id}/actions", a.handleAnalystAction)
		r.Post("/predictions", a.handlePredict)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
