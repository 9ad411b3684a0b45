package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/malwarebo/paygate/models"
	"github.com/malwarebo/paygate/monitoring"
	"github.com/malwarebo/paygate/security"
	"github.com/malwarebo/paygate/services"
	"github.com/malwarebo/paygate/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGuard struct {
	services.SecurityGuard
	blocked map[string]string
	limited map[string]bool
	checked []string
}

func (s *stubGuard) CheckIPBlacklist(ctx context.Context, ip string) services.Decision {
	if reason, ok := s.blocked[ip]; ok {
		return services.Decision{Allowed: false, Reason: "IP blocked: " + reason}
	}
	return services.Decision{Allowed: true}
}

func (s *stubGuard) CheckRateLimit(ctx context.Context, identifier, identifierType, endpoint string, limit int, window time.Duration) services.Decision {
	s.checked = append(s.checked, identifierType+"|"+identifier+"|"+endpoint)
	if s.limited[identifier] {
		until := time.Now().Add(time.Hour)
		return services.Decision{Allowed: false, Reason: "Rate limit exceeded. Blocked until " + until.Format(time.RFC3339), BlockedUntil: &until}
	}
	return services.Decision{Allowed: true}
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func TestGuard_Middleware(t *testing.T) {
	stub := &stubGuard{
		blocked: map[string]string{"203.0.113.9": "fraud ring"},
		limited: map[string]bool{"203.0.113.5": true},
	}
	guard := CreateGuard(stub, utils.CreateIPResolver(), 100, time.Hour, true)
	handler := guard.Middleware(http.HandlerFunc(okHandler))

	tests := []struct {
		name    string
		remote  string
		code    int
		message string
	}{
		{name: "allowed", remote: "198.51.100.1:4000", code: http.StatusOK},
		{name: "blacklisted", remote: "203.0.113.9:4000", code: http.StatusForbidden, message: "IP blocked: fraud ring"},
		{name: "rate limited", remote: "203.0.113.5:4000", code: http.StatusTooManyRequests, message: "Rate limit exceeded. Blocked until"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payment/process", strings.NewReader("{}"))
			req.RemoteAddr = tt.remote
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.code, w.Code)
			if tt.message == "" {
				return
			}
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Contains(t, body["message"], tt.message)
		})
	}

	assert.Contains(t, stub.checked, models.IdentifierIP+"|198.51.100.1|/api/v1/payment/process")
	assert.NotContains(t, stub.checked, models.IdentifierIP+"|203.0.113.9|/api/v1/payment/process")
}

func TestGuard_RateLimitDisabled(t *testing.T) {
	stub := &stubGuard{limited: map[string]bool{"203.0.113.5": true}}
	handler := CreateGuard(stub, utils.CreateIPResolver(), 1, time.Hour, false).Middleware(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payment/process", nil)
	req.RemoteAddr = "203.0.113.5:4000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, stub.checked)
}

func TestBurstLimitMiddleware(t *testing.T) {
	limiter := security.CreateBurstLimiter(0.001, 2)
	defer limiter.Close()
	handler := BurstLimitMiddleware(limiter, utils.CreateIPResolver())(http.HandlerFunc(okHandler))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.20:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			assert.NotEmpty(t, w.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestLoggingMiddleware_CorrelationAndMetrics(t *testing.T) {
	metrics := monitoring.NewMetrics()
	router := mux.NewRouter()
	router.Use(LoggingMiddleware(metrics))

	var seen string
	router.HandleFunc("/api/v1/alerts/{id}/acknowledge", func(w http.ResponseWriter, r *http.Request) {
		seen = utils.GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}).Methods(http.MethodPost)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/abc/acknowledge", nil)
	req.Header.Set(CorrelationHeader, "corr-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "corr-123", w.Header().Get(CorrelationHeader))
	assert.Equal(t, "corr-123", seen)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/alerts/abc/acknowledge", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get(CorrelationHeader))

	out := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(out, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, out.Body.String(), `route="/api/v1/alerts/{id}/acknowledge"`)
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"500"`)
}

func TestCORSMiddleware(t *testing.T) {
	handler := CORSMiddleware([]string{"https://dashboard.example.com"})(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/alerts", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://dashboard.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "ok", w.Body.String())
}

func TestRequestSizeLimitMiddleware(t *testing.T) {
	handler := RequestSizeLimitMiddleware(8)(http.HandlerFunc(okHandler))
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"f000":"too long"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
