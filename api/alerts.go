package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/malwarebo/paygate/models"
	"github.com/malwarebo/paygate/services"
)

type AlertHandler struct {
	engine services.AlertEngine
}

func CreateAlertHandler(engine services.AlertEngine) *AlertHandler {
	return &AlertHandler{engine: engine}
}

type createRuleRequest struct {
	Name              string             `json:"name"`
	AlertType         string             `json:"alert_type"`
	Metric            models.AlertMetric `json:"metric"`
	ThresholdValue    float64            `json:"threshold_value"`
	ThresholdOperator string             `json:"threshold_operator"`
	TimeWindow        int                `json:"time_window"`
	ClientID          *string            `json:"client_id"`
	IsActive          *bool              `json:"is_active"`
}

func (h *AlertHandler) HandleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rules, err := h.engine.ListRules(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rules)
	case http.MethodPost:
		var req createRuleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
			return
		}
		rule := &models.AlertRule{
			Name:              req.Name,
			AlertType:         req.AlertType,
			Metric:            req.Metric,
			ThresholdValue:    req.ThresholdValue,
			ThresholdOperator: req.ThresholdOperator,
			TimeWindow:        req.TimeWindow,
			ClientID:          req.ClientID,
			IsActive:          req.IsActive == nil || *req.IsActive,
		}
		created, err := h.engine.CreateRule(r.Context(), rule)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type updateRuleRequest struct {
	IsActive *bool `json:"is_active"`
}

func (h *AlertHandler) HandleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req updateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsActive == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "is_active is required"})
		return
	}

	rule, err := h.engine.SetRuleActive(r.Context(), mux.Vars(r)["id"], *req.IsActive)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *AlertHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	created, err := h.engine.Evaluate(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"created": len(created),
		"alerts":  created,
	})
}

func (h *AlertHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.AlertFilter{
		ClientID:  q.Get("client_id"),
		Status:    models.AlertStatus(q.Get("status")),
		Severity:  models.AlertSeverity(q.Get("severity")),
		AlertType: q.Get("alert_type"),
		Limit:     clampLimit(queryInt(r, "limit", 0)),
		Offset:    queryInt(r, "offset", 0),
	}

	alerts, total, err := h.engine.ListAlerts(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: alerts, Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

type alertActionRequest struct {
	AcknowledgedBy string `json:"acknowledged_by"`
	ResolvedBy     string `json:"resolved_by"`
}

func (h *AlertHandler) HandleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req alertActionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	alert, err := h.engine.Acknowledge(r.Context(), mux.Vars(r)["id"], req.AcknowledgedBy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *AlertHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	var req alertActionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	alert, err := h.engine.Resolve(r.Context(), mux.Vars(r)["id"], req.ResolvedBy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}
