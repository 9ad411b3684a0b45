package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/malwarebo/paygate/models"
	"github.com/malwarebo/paygate/monitoring"
	"github.com/malwarebo/paygate/services"
	"github.com/malwarebo/paygate/utils"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	services.Dispatcher
	got models.RequestFields
}

func (f *fakeDispatcher) Process(ctx context.Context, fields models.RequestFields) (*models.Envelope, error) {
	f.got = fields
	if fields[models.FieldAppID] == "UNKNOWN" {
		err := utils.NewValidationError("Invalid app ID: UNKNOWN")
		return &models.Envelope{Status: "400", Message: err.Error(), Action: models.ActionError}, err
	}
	return &models.Envelope{Status: "200", Message: "Request processed successfully", Action: models.ActionOutput, Command: fields[models.FieldRoute]}, nil
}

func (f *fakeDispatcher) Status(ctx context.Context, fields models.RequestFields) (*models.Envelope, error) {
	f.got = fields
	return &models.Envelope{Status: "404", Message: "Transaction not found", Action: models.ActionError, StatusQuery: true}, nil
}

type fakeGuard struct {
	services.SecurityGuard
	resolved map[string]bool
	blocked  []*models.BlockIPRequest
}

func (f *fakeGuard) Summary(ctx context.Context, hours int) (*models.SecuritySummary, error) {
	return &models.SecuritySummary{PeriodHours: hours, ActiveIPBlocks: 2}, nil
}

func (f *fakeGuard) ListEvents(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, int64, error) {
	return []*models.SecurityEvent{{ID: "ev-1", EventType: filter.EventType}}, 1, nil
}

func (f *fakeGuard) ResolveEvent(ctx context.Context, id, by string) error {
	if f.resolved[id] {
		return pkgerrors.Wrap(utils.ErrInvalidTransition, "already resolved")
	}
	f.resolved[id] = true
	return nil
}

func (f *fakeGuard) BlockIP(ctx context.Context, req *models.BlockIPRequest) (*models.IPBlockEntry, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	f.blocked = append(f.blocked, req)
	return &models.IPBlockEntry{IPAddress: req.IPAddress, Reason: req.Reason, IsActive: true, EventCount: 1}, nil
}

func (f *fakeGuard) ListBlocks(ctx context.Context) ([]*models.IPBlockEntry, error) {
	entries := make([]*models.IPBlockEntry, 0, len(f.blocked))
	for _, req := range f.blocked {
		entries = append(entries, &models.IPBlockEntry{IPAddress: req.IPAddress, Reason: req.Reason, IsActive: true})
	}
	return entries, nil
}

func (f *fakeGuard) UnblockIP(ctx context.Context, ip string) error {
	return pkgerrors.Wrapf(utils.ErrNotFound, "no active block for %s", ip)
}

type fakeEngine struct {
	services.AlertEngine
	rules []*models.AlertRule
}

func (f *fakeEngine) CreateRule(ctx context.Context, rule *models.AlertRule) (*models.AlertRule, error) {
	if err := utils.ValidateStruct(rule); err != nil {
		return nil, err
	}
	rule.ID = "rule-1"
	f.rules = append(f.rules, rule)
	return rule, nil
}

func (f *fakeEngine) ListRules(ctx context.Context) ([]*models.AlertRule, error) {
	return f.rules, nil
}

func (f *fakeEngine) SetRuleActive(ctx context.Context, id string, active bool) (*models.AlertRule, error) {
	for _, rule := range f.rules {
		if rule.ID == id {
			rule.IsActive = active
			return rule, nil
		}
	}
	return nil, pkgerrors.Wrapf(utils.ErrNotFound, "alert rule %s", id)
}

func (f *fakeEngine) Evaluate(ctx context.Context) ([]*models.Alert, error) {
	return []*models.Alert{{ID: "alert-1", Severity: models.AlertError}}, nil
}

func (f *fakeEngine) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, int64, error) {
	return nil, 0, errors.New("replica unavailable")
}

func (f *fakeEngine) Acknowledge(ctx context.Context, id, by string) (*models.Alert, error) {
	if by == "" {
		return nil, utils.NewValidationError("actor is required")
	}
	return &models.Alert{ID: id, Status: models.AlertAcknowledged, AcknowledgedBy: &by}, nil
}

type testServer struct {
	router     *mux.Router
	dispatcher *fakeDispatcher
	guard      *fakeGuard
	engine     *fakeEngine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		router:     mux.NewRouter(),
		dispatcher: &fakeDispatcher{},
		guard:      &fakeGuard{resolved: map[string]bool{}},
		engine:     &fakeEngine{},
	}
	health := monitoring.CreateHealthService("test")
	health.AddCheck("database", true, func(context.Context) error { return nil })

	RegisterRoutes(ts.router, Handlers{
		Payment:  CreatePaymentHandler(ts.dispatcher),
		Security: CreateSecurityHandler(ts.guard),
		Alerts:   CreateAlertHandler(ts.engine),
		Health:   CreateHealthHandler(health),
		Metrics:  monitoring.NewMetrics().Handler(),
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestPaymentRoutes(t *testing.T) {
	ts := newTestServer(t)

	t.Run("routed envelope", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/v1/payment/process", map[string]interface{}{
			"f000": "mtnmomo", "f002": "collection", "f003": "APP1", "f004": 1500.5,
		})
		assert.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "OUTPUT", body["action"])
		assert.Equal(t, "collection", body["command"])
		assert.Equal(t, "1500.5", ts.dispatcher.got[models.FieldAmount])
	})

	t.Run("rejection keeps envelope shape", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/v1/payment/process", map[string]interface{}{"f003": "UNKNOWN"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decode(t, w)
		assert.Equal(t, "400", body["status"])
		assert.Equal(t, "Invalid app ID: UNKNOWN", body["message"])
	})

	t.Run("malformed body", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/v1/payment/process", "{not json")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Invalid request body", decode(t, w)["message"])
	})

	t.Run("status query", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/v1/payment/status", map[string]interface{}{"f010": "U-1"})
		assert.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "404", body["status"])
		data, present := body["transaction_data"]
		assert.True(t, present)
		assert.Nil(t, data)
	})

	t.Run("wrong method", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/v1/payment/process", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestSecurityRoutes(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/security/summary?hours=6", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(6), decode(t, w)["period_hours"])

	w = ts.do(t, http.MethodGet, "/api/v1/security/events?event_type=ip_blocked&limit=500", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["total"])
	assert.Equal(t, float64(maxPageLimit), body["limit"])

	w = ts.do(t, http.MethodGet, "/api/v1/security/events?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/security/events/ev-1/resolve", map[string]string{"resolved_by": "analyst"})
	assert.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodPost, "/api/v1/security/events/ev-1/resolve", map[string]string{"resolved_by": "analyst"})
	assert.Equal(t, http.StatusConflict, w.Code)
	w = ts.do(t, http.MethodPost, "/api/v1/security/events/ev-2/resolve", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	w = ts.do(t, http.MethodPost, "/api/v1/security/ip-blocks", models.BlockIPRequest{IPAddress: "192.0.2.44", Reason: "scraping", ExpiresAt: &expires})
	assert.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, ts.guard.blocked, 1)
	assert.True(t, ts.guard.blocked[0].ExpiresAt.Equal(expires))

	w = ts.do(t, http.MethodPost, "/api/v1/security/ip-blocks", models.BlockIPRequest{IPAddress: "nope", Reason: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/security/ip-blocks", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, float64(1), body["total"])
	items := body["items"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "192.0.2.44", items[0].(map[string]interface{})["ip_address"])

	w = ts.do(t, http.MethodDelete, "/api/v1/security/ip-blocks/192.0.2.44", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAlertRoutes(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/alerts/rules", map[string]interface{}{
		"name": "Low success", "alert_type": "low_success_rate", "metric": "success_rate",
		"threshold_value": 70, "threshold_operator": "<", "time_window": 24,
	})
	assert.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, ts.engine.rules, 1)
	assert.True(t, ts.engine.rules[0].IsActive)

	w = ts.do(t, http.MethodPost, "/api/v1/alerts/rules", map[string]interface{}{"name": "bad", "metric": "latency"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/alerts/rules", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPatch, "/api/v1/alerts/rules/rule-1", map[string]bool{"is_active": false})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["is_active"])
	w = ts.do(t, http.MethodPatch, "/api/v1/alerts/rules/rule-9", map[string]bool{"is_active": true})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(t, http.MethodPatch, "/api/v1/alerts/rules/rule-1", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/alerts/evaluate", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["created"])

	w = ts.do(t, http.MethodGet, "/api/v1/alerts?status=active", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal server error", decode(t, w)["error"])

	w = ts.do(t, http.MethodPost, "/api/v1/alerts/alert-1/acknowledge", map[string]string{"acknowledged_by": "oncall"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "acknowledged", decode(t, w)["status"])

	w = ts.do(t, http.MethodPost, "/api/v1/alerts/alert-1/acknowledge", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	w = ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestHealth_CriticalFailure(t *testing.T) {
	health := monitoring.CreateHealthService("test")
	health.AddCheck("database", true, func(context.Context) error { return errors.New("down") })
	handler := CreateHealthHandler(health)

	w := httptest.NewRecorder()
	handler.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
