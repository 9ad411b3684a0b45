package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/malwarebo/paygate/models"
	"github.com/malwarebo/paygate/services"
	"github.com/malwarebo/paygate/utils"
)

type PaymentHandler struct {
	dispatcher services.Dispatcher
}

func CreatePaymentHandler(dispatcher services.Dispatcher) *PaymentHandler {
	return &PaymentHandler{dispatcher: dispatcher}
}

func (h *PaymentHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	fields, ok := decodeFields(w, r)
	if !ok {
		return
	}
	env, err := h.dispatcher.Process(r.Context(), fields)
	writeEnvelope(w, env, err)
}

func (h *PaymentHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	fields, ok := decodeFields(w, r)
	if !ok {
		return
	}
	env, err := h.dispatcher.Status(r.Context(), fields)
	writeEnvelope(w, env, err)
}

func decodeFields(w http.ResponseWriter, r *http.Request) (models.RequestFields, bool) {
	var raw map[string]interface{}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, &models.Envelope{
			Status:  strconv.Itoa(http.StatusBadRequest),
			Type:    "string",
			Message: "Invalid request body",
			Version: "1.0.0",
			Action:  models.ActionError,
		})
		return nil, false
	}
	return models.NewRequestFields(raw), true
}

// writeEnvelope answers routed requests with 200 and pre-routing rejections
// with the rejection's own status.
func writeEnvelope(w http.ResponseWriter, env *models.Envelope, err error) {
	if err != nil {
		writeJSON(w, utils.StatusCode(err), env)
		return
	}
	writeJSON(w, http.StatusOK, env)
}
