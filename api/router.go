package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

type Handlers struct {
	Payment  *PaymentHandler
	Security *SecurityHandler
	Alerts   *AlertHandler
	Health   *HealthHandler
	Metrics  http.Handler
}

// RegisterRoutes mounts every endpoint on router. paymentGuards wrap only the
// payment routes.
func RegisterRoutes(router *mux.Router, h Handlers, paymentGuards ...mux.MiddlewareFunc) {
	if h.Metrics != nil {
		router.Handle("/metrics", h.Metrics).Methods("GET")
	}

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.HandleFunc("/health", h.Health.HandleHealth).Methods("GET")

	paymentRouter := apiRouter.PathPrefix("/payment").Subrouter()
	for _, mw := range paymentGuards {
		paymentRouter.Use(mw)
	}
	paymentRouter.HandleFunc("/process", h.Payment.HandleProcess).Methods("POST")
	paymentRouter.HandleFunc("/status", h.Payment.HandleStatus).Methods("POST")

	apiRouter.HandleFunc("/security/summary", h.Security.HandleSummary).Methods("GET")
	apiRouter.HandleFunc("/security/events", h.Security.HandleEvents).Methods("GET")
	apiRouter.HandleFunc("/security/events/{id}/resolve", h.Security.HandleResolveEvent).Methods("POST")
	apiRouter.HandleFunc("/security/ip-blocks", h.Security.HandleListBlocks).Methods("GET")
	apiRouter.HandleFunc("/security/ip-blocks", h.Security.HandleBlockIP).Methods("POST")
	apiRouter.HandleFunc("/security/ip-blocks/{ip}", h.Security.HandleUnblockIP).Methods("DELETE")

	apiRouter.HandleFunc("/alerts/rules", h.Alerts.HandleRules).Methods("GET", "POST")
	apiRouter.HandleFunc("/alerts/rules/{id}", h.Alerts.HandleUpdateRule).Methods("PATCH")
	apiRouter.HandleFunc("/alerts/evaluate", h.Alerts.HandleEvaluate).Methods("POST")
	apiRouter.HandleFunc("/alerts", h.Alerts.HandleList).Methods("GET")
	apiRouter.HandleFunc("/alerts/{id}/acknowledge", h.Alerts.HandleAcknowledge).Methods("POST")
	apiRouter.HandleFunc("/alerts/{id}/resolve", h.Alerts.HandleResolve).Methods("POST")
}
