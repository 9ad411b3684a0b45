package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/malwarebo/paygate/models"
	"github.com/malwarebo/paygate/providers"
	"github.com/malwarebo/paygate/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatcherHarness struct {
	*fixture
	dispatcher Dispatcher
	calls      *int64
	client     *models.Client
	service    *models.Service
}

func newDispatcherHarness(t *testing.T, handler http.HandlerFunc) *dispatcherHarness {
	t.Helper()
	f := newFixture(t)

	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client := f.seedClient(t, "APP1", testNow.Add(-30*24*time.Hour))
	service := f.seedService(t, "mtnmomo", client)

	registry := CreateRuleRegistry(f.rules, f.transactions, nil, server.URL+"/provider/api/{route}")
	scorer := CreateFraudScorer(FraudScorerDeps{
		Assessments: f.assessments,
		Ledger:      f.transactions,
		Clients:     f.clients,
		Events:      f.events,
		Clock:       fixedClock(testNow),
	}, defaultFraudConfig())

	d := CreateDispatcher(DispatcherDeps{
		Registry: registry,
		Ledger:   f.transactions,
		Clients:  f.clients,
		Provider: providers.CreateHTTPProviderClient(2*time.Second, nil),
		Scorer:   scorer,
	})
	t.Cleanup(d.Wait)

	return &dispatcherHarness{fixture: f, dispatcher: d, calls: &calls, client: client, service: service}
}

func okProvider(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func TestDispatcher_ForwardsUnseenRoute(t *testing.T) {
	var received []models.ServicePair
	h := newDispatcherHarness(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		okProvider(w, r)
	})
	ctx := context.Background()

	env, err := h.dispatcher.Process(ctx, paymentFields("APP1", "mtnmomo", "collection", "U-100"))
	require.NoError(t, err)
	h.dispatcher.Wait()

	assert.Equal(t, models.ActionOutput, env.Action)
	assert.Equal(t, "Request processed successfully", env.Message)
	require.NotNil(t, env.ProviderResponse)
	assert.Equal(t, http.StatusOK, env.ProviderResponse.StatusCode)
	assert.Equal(t, map[string]interface{}{"ok": true}, env.ProviderResponse.Data)
	assert.Equal(t, int64(1), atomic.LoadInt64(h.calls))
	require.Len(t, received, 5)
	assert.Equal(t, "mtnmomo", received[3].V)

	tx, err := h.transactions.GetByUniqueID(ctx, "U-100")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, tx.Status)
	assert.Equal(t, "********", tx.RequestPayload[models.FieldPassword])
	assert.Equal(t, "********", tx.RequestPayload[models.FieldEncryptedPassword])
	assert.Equal(t, "OUTPUT", tx.ResponsePayload["action"])

	assessment, err := h.assessments.GetByTransactionID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssessmentApproved, assessment.Status)

	rule, err := h.rules.Get(ctx, models.RuleKey{AppID: "APP1", ServiceName: "mtnmomo", RouteName: "collection", Phase: models.PhaseRequest})
	require.NoError(t, err)
	assert.Equal(t, models.ActionForward, rule.Action)
}

func TestDispatcher_ProviderFailureStillCompletes(t *testing.T) {
	h := newDispatcherHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	})
	ctx := context.Background()

	env, err := h.dispatcher.Process(ctx, paymentFields("APP1", "mtnmomo", "collection", "U-200"))
	require.NoError(t, err)
	h.dispatcher.Wait()

	require.NotNil(t, env.ProviderResponse)
	assert.Equal(t, http.StatusServiceUnavailable, env.ProviderResponse.StatusCode)
	assert.Equal(t, "maintenance", env.ProviderResponse.Data)

	tx, err := h.transactions.GetByUniqueID(ctx, "U-200")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, tx.Status)
}

func TestDispatcher_StatusQueryForUnknownTransaction(t *testing.T) {
	h := newDispatcherHarness(t, okProvider)
	ctx := context.Background()

	env, err := h.dispatcher.Process(ctx, paymentFields("APP1", "mtnmomo", "collectionStatus", "U-NONE"))
	require.NoError(t, err)

	assert.Equal(t, "404", env.Status)
	assert.Equal(t, models.ActionError, env.Action)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"transaction_data":null`)
	assert.Equal(t, int64(0), atomic.LoadInt64(h.calls))

	exists, err := h.transactions.ExistsByUniqueID(ctx, "U-NONE")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDispatcher_StatusRewritesRoute(t *testing.T) {
	h := newDispatcherHarness(t, okProvider)
	ctx := context.Background()

	_, err := h.dispatcher.Process(ctx, paymentFields("APP1", "mtnmomo", "collection", "U-300"))
	require.NoError(t, err)
	h.dispatcher.Wait()

	env, err := h.dispatcher.Status(ctx, paymentFields("APP1", "mtnmomo", "collection", "U-300"))
	require.NoError(t, err)
	assert.Equal(t, "collectionStatus", env.Command)
	assert.Equal(t, "200", env.Status)
	require.NotNil(t, env.TransactionData)
	assert.Equal(t, models.TransactionStatusCompleted, env.TransactionData["status"])
}

func TestDispatcher_Rejections(t *testing.T) {
	h := newDispatcherHarness(t, okProvider)
	ctx := context.Background()

	inactive := h.seedClient(t, "SLEEPY", testNow)
	require.NoError(t, h.db.Model(inactive).Update("is_active", false).Error)
	h.seedService(t, "airtel")

	tests := []struct {
		name    string
		mutate  func(models.RequestFields)
		status  int
		message string
	}{
		{
			name:    "missing fields",
			mutate:  func(f models.RequestFields) { delete(f, models.FieldDeviceID); f[models.FieldUsername] = " " },
			status:  http.StatusBadRequest,
			message: "Missing required fields: f006, f009",
		},
		{
			name:    "negative amount",
			mutate:  func(f models.RequestFields) { f[models.FieldAmount] = "-5" },
			status:  http.StatusBadRequest,
			message: "Invalid amount: -5",
		},
		{
			name:    "unknown app",
			mutate:  func(f models.RequestFields) { f[models.FieldAppID] = "NOPE" },
			status:  http.StatusBadRequest,
			message: "Invalid app ID: NOPE",
		},
		{
			name:    "inactive client",
			mutate:  func(f models.RequestFields) { f[models.FieldAppID] = "SLEEPY" },
			status:  http.StatusBadRequest,
			message: "Client SLEEPY is inactive",
		},
		{
			name:    "unknown service",
			mutate:  func(f models.RequestFields) { f[models.FieldService] = "ghost" },
			status:  http.StatusBadRequest,
			message: "Invalid service: ghost",
		},
		{
			name:    "service not granted",
			mutate:  func(f models.RequestFields) { f[models.FieldService] = "airtel" },
			status:  http.StatusForbidden,
			message: "Client not authorized for service: airtel",
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := paymentFields("APP1", "mtnmomo", "collection", "U-REJ-"+string(rune('a'+i)))
			tt.mutate(fields)

			env, err := h.dispatcher.Process(ctx, fields)
			require.Error(t, err)
			assert.Equal(t, tt.status, utils.StatusCode(err))
			assert.Equal(t, tt.message, env.Message)
			assert.Equal(t, models.ActionError, env.Action)
		})
	}

	var total int64
	require.NoError(t, h.db.Model(&models.Transaction{}).Count(&total).Error)
	assert.Zero(t, total)
	assert.Equal(t, int64(0), atomic.LoadInt64(h.calls))
}

func TestDispatcher_RejectsReusedUniqueID(t *testing.T) {
	h := newDispatcherHarness(t, okProvider)
	ctx := context.Background()

	_, err := h.dispatcher.Process(ctx, paymentFields("APP1", "mtnmomo", "collection", "U-DUP"))
	require.NoError(t, err)

	env, err := h.dispatcher.Process(ctx, paymentFields("APP1", "mtnmomo", "collection", "U-DUP"))
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, utils.StatusCode(err))
	assert.Equal(t, "409", env.Status)
	assert.Equal(t, int64(1), atomic.LoadInt64(h.calls))
}

type brokenResponseRegistry struct {
	RuleRegistry
}

func (r brokenResponseRegistry) Resolve(ctx context.Context, key models.RuleKey) (*models.Rule, error) {
	if key.Phase == models.PhaseResponse {
		return nil, &utils.RoutingError{Op: "resolve rule " + key.String(), Err: errors.New("database is locked")}
	}
	return r.RuleRegistry.Resolve(ctx, key)
}

func TestDispatcher_RoutingErrorFailsTransaction(t *testing.T) {
	h := newDispatcherHarness(t, okProvider)
	ctx := context.Background()

	inner := h.dispatcher.(*dispatcher)
	inner.registry = brokenResponseRegistry{RuleRegistry: inner.registry}

	env, err := h.dispatcher.Process(ctx, paymentFields("APP1", "mtnmomo", "collection", "U-500"))
	require.NoError(t, err)
	h.dispatcher.Wait()

	assert.Equal(t, "500", env.Status)
	assert.Equal(t, models.ActionOutput, env.Action)
	assert.Contains(t, env.Message, "Payment processing error: ")
	assert.Contains(t, env.Message, "database is locked")

	tx, err := h.transactions.GetByUniqueID(ctx, "U-500")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusFailed, tx.Status)
}
