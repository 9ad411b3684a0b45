package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/malwarebo/paygate/models"
	"github.com/malwarebo/paygate/services"
)

type SecurityHandler struct {
	guard services.SecurityGuard
}

func CreateSecurityHandler(guard services.SecurityGuard) *SecurityHandler {
	return &SecurityHandler{guard: guard}
}

func (h *SecurityHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.guard.Summary(r.Context(), queryInt(r, "hours", 24))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *SecurityHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.SecurityEventFilter{
		EventType:  models.SecurityEventType(q.Get("event_type")),
		Severity:   models.Severity(q.Get("severity")),
		ClientID:   q.Get("client_id"),
		Unresolved: q.Get("unresolved") == "true",
		Limit:      clampLimit(queryInt(r, "limit", 0)),
		Offset:     queryInt(r, "offset", 0),
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "since must be an RFC3339 timestamp"})
			return
		}
		filter.Since = &since
	}

	events, total, err := h.guard.ListEvents(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: events, Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

type resolveEventRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

func (h *SecurityHandler) HandleResolveEvent(w http.ResponseWriter, r *http.Request) {
	var req resolveEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ResolvedBy == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "resolved_by is required"})
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.guard.ResolveEvent(r.Context(), id, req.ResolvedBy); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "resolved"})
}

func (h *SecurityHandler) HandleBlockIP(w http.ResponseWriter, r *http.Request) {
	var req models.BlockIPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	entry, err := h.guard.BlockIP(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *SecurityHandler) HandleListBlocks(w http.ResponseWriter, r *http.Request) {
	entries, err := h.guard.ListBlocks(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: entries, Total: int64(len(entries))})
}

func (h *SecurityHandler) HandleUnblockIP(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]
	if err := h.guard.UnblockIP(r.Context(), ip); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
