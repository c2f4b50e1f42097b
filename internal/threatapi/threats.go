package threatapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/recall/internal/threat"
)

// MemoryService defines the business operations threatapi needs.
type MemoryService interface {
	AddThreat(ctx context.Context, threatID, content string, severity threat.Severity, metadata map[string]string) (*threat.WorkingEntry, error)
	RecordInteraction(ctx context.Context, threatID, analystID string, action threat.ActionType) (*threat.WorkingEntry, error)
	RecordAnalystAction(ctx context.Context, threatID, analystID string, action threat.ActionType, outcome threat.Outcome, timeSpent time.Duration) (*threat.WorkingEntry, error)
	GetThreat(ctx context.Context, threatID string) (*threat.WorkingEntry, bool, error)
	HotThreats(ctx context.Context, minInteractions int) ([]*threat.WorkingEntry, error)
	TopThreats(ctx context.Context, limit int) ([]*threat.ShortTermEntry, error)
	ThreatsBySeverity(ctx context.Context, severity threat.Severity) ([]*threat.WorkingEntry, error)
	ThreatsByScoreRange(ctx context.Context, min, max float64) ([]*threat.WorkingEntry, error)
}

type addThreatRequest struct {
	ThreatID string            `json:"threat_id"`
	Content  string            `json:"content"`
	Severity string            `json:"severity"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (a *API) handleAddThreat(w http.ResponseWriter, r *http.Request) {
	var req addThreatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.ThreatID == "" {
		writeError(w, http.StatusBadRequest, "threat_id is required")
		return
	}
	severity, err := threat.ParseSeverity(req.Severity)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("recall.threat.id", req.ThreatID))

	e, err := a.svc.AddThreat(r.Context(), req.ThreatID, req.Content, severity, req.Metadata)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to add threat", "threat_id", req.ThreatID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

type interactionRequest struct {
	AnalystID string `json:"analyst_id"`
	Action    string `json:"action"`
	Outcome   string `json:"outcome,omitempty"`
	TimeSpent int64  `json:"time_spent_seconds,omitempty"`
}

func (a *API) handleInteraction(w http.ResponseWriter, r *http.Request) {
	a.recordAction(w, r, false)
}

func (a *API) handleAnalystAction(w http.ResponseWriter, r *http.Request) {
	a.recordAction(w, r, true)
}

func (a *API) recordAction(w http.ResponseWriter, r *http.Request, withOutcome bool) {
	threatID := chi.URLParam(r, "id")

	var req interactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.AnalystID == "" {
		writeError(w, http.StatusBadRequest, "analyst_id is required")
		return
	}
	action, err := threat.ParseActionType(req.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("recall.threat.id", threatID),
		attribute.String("recall.action", string(action)),
	)

	var e *threat.WorkingEntry
	if withOutcome {
		outcome, perr := threat.ParseOutcome(req.Outcome)
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		e, err = a.svc.RecordAnalystAction(r.Context(), threatID, req.AnalystID, action,
			outcome, time.Duration(req.TimeSpent)*time.Second)
	} else {
		e, err = a.svc.RecordInteraction(r.Context(), threatID, req.AnalystID, action)
	}
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to record interaction", "threat_id", threatID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if e == nil {
		// promoted or expired between the analyst's page load and the
		// action; the action was still captured for behavior learning
		writeJSON(w, http.StatusOK, map[string]any{"applied": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": true, "threat": e})
}

func (a *API) handleGetThreat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	e, ok, err := a.svc.GetThreat(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get threat", "threat_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *API) handleListThreats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if sev := q.Get("severity"); sev != "" {
		severity, err := threat.ParseSeverity(sev)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		entries, err := a.svc.ThreatsBySeverity(r.Context(), severity)
		if err != nil {
			a.logger.Error(r.Context(), err, "failed to list threats by severity")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"threats": entries})
		return
	}

	min, max := 0.0, 1.0
	var err error
	if v := q.Get("min_score"); v != "" {
		if min, err = strconv.ParseFloat(v, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid min_score")
			return
		}
	}
	if v := q.Get("max_score"); v != "" {
		if max, err = strconv.ParseFloat(v, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid max_score")
			return
		}
	}

	entries, err := a.svc.ThreatsByScoreRange(r.Context(), min, max)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threats": entries})
}

func (a *API) handleTopThreats(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := a.svc.TopThreats(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list top threats")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threats": entries})
}

func (a *API) handleHotThreats(w http.ResponseWriter, r *http.Request) {
	minInteractions := 1
	if v := r.URL.Query().Get("min_interactions"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid min_interactions")
			return
		}
		minInteractions = n
	}

	entries, err := a.svc.HotThreats(r.Context(), minInteractions)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list hot threats")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threats": entries})
}
