package threatapi

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/recall/internal/predict"
)

type predictionRequest struct {
	AnalystID string             `json:"analyst_id"`
	Threat    predict.ThreatData `json:"threat"`
}

func (a *API) handlePredict(w http.ResponseWriter, r *http.Request) {
	if a.predictor == nil {
		writeError(w, http.StatusServiceUnavailable, "prediction engine disabled")
		return
	}

	var req predictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.AnalystID == "" {
		writeError(w, http.StatusBadRequest, "analyst_id is required")
		return
	}
	if err := req.Threat.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "threat: "+err.Error())
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("recall.analyst.id", req.AnalystID),
		attribute.String("recall.threat.id", req.Threat.ThreatID),
	)

	result, err := a.predictor.Predict(r.Context(), req.AnalystID, req.Threat)
	if err != nil {
		a.logger.Error(r.Context(), err, "prediction failed",
			"analyst_id", req.AnalystID,
			"threat_id", req.Threat.ThreatID,
		)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	span.SetAttributes(attribute.String("recall.recommendation", result.Recommendation))
	writeJSON(w, http.StatusOK, result)
}
