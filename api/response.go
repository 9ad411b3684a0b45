package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/malwarebo/paygate/utils"
)

const maxPageLimit = 100

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// writeError maps err onto its HTTP status. Internal failures are logged and
// reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := utils.StatusCode(err)
	if status >= http.StatusInternalServerError {
		utils.Error(r.Context(), "Request failed", map[string]interface{}{
			"path":  r.URL.Path,
			"error": err,
		})
		writeJSON(w, status, ErrorResponse{Error: "Internal server error"})
		return
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

type listResponse struct {
	Items  interface{} `json:"items"`
	Total  int64       `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}
