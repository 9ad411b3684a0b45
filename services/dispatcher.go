package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/malwarebo/paygate/models"
	"github.com/malwarebo/paygate/monitoring"
	"github.com/malwarebo/paygate/providers"
	"github.com/malwarebo/paygate/utils"
	"github.com/shopspring/decimal"
)

const (
	envelopeVersion = "1.0.0"
	envelopeType    = "string"
	passwordMask    = "********"
)

// Dispatcher runs the two-phase routing flow for payment and status requests.
// A non-nil error means the request was rejected before a rule was consulted.
type Dispatcher interface {
	Process(ctx context.Context, fields models.RequestFields) (*models.Envelope, error)
	Status(ctx context.Context, fields models.RequestFields) (*models.Envelope, error)
	Wait()
}

type DispatcherDeps struct {
	Registry RuleRegistry
	Ledger   TransactionLedger
	Clients  ClientDirectory
	Provider providers.ProviderClient
	Scorer   FraudScorer
	Metrics  *monitoring.Metrics
}

type dispatcher struct {
	registry RuleRegistry
	ledger   TransactionLedger
	clients  ClientDirectory
	provider providers.ProviderClient
	scorer   FraudScorer
	metrics  *monitoring.Metrics
	scoring  sync.WaitGroup
}

func CreateDispatcher(deps DispatcherDeps) Dispatcher {
	return &dispatcher{
		registry: deps.Registry,
		ledger:   deps.Ledger,
		clients:  deps.Clients,
		provider: deps.Provider,
		scorer:   deps.Scorer,
		metrics:  deps.Metrics,
	}
}

type authorizedRequest struct {
	client  *models.Client
	service *models.Service
	amount  decimal.Decimal
}

func (d *dispatcher) Process(ctx context.Context, fields models.RequestFields) (*models.Envelope, error) {
	if isStatusRequest(fields) {
		return d.Status(ctx, fields)
	}

	route := fields[models.FieldRoute]
	auth, err := d.authorize(ctx, fields)
	if err != nil {
		return rejection(route, err), err
	}
	ctx = utils.WithClientID(ctx, auth.client.ID)

	uniqueID := fields[models.FieldUniqueID]
	exists, err := d.ledger.ExistsByUniqueID(ctx, uniqueID)
	if err != nil {
		err = utils.NewPersistenceError("check unique id", err)
		return rejection(route, err), err
	}
	if exists {
		err = utils.NewConflictError(fmt.Sprintf("Transaction %s already exists", uniqueID))
		return rejection(route, err), err
	}

	tx := &models.Transaction{
		UniqueID:       uniqueID,
		ClientID:       auth.client.ID,
		ServiceID:      auth.service.ID,
		Status:         models.TransactionStatusPending,
		Amount:         auth.amount,
		MobileNumber:   fields[models.FieldMobileNumber],
		DeviceID:       fields[models.FieldDeviceID],
		RequestPayload: maskSecrets(fields),
	}
	if err := d.ledger.Create(ctx, tx); err != nil {
		if errors.Is(err, utils.ErrDuplicate) {
			err = utils.NewConflictError(fmt.Sprintf("Transaction %s already exists", uniqueID))
		} else {
			err = utils.NewPersistenceError("create transaction", err)
		}
		return rejection(route, err), err
	}

	utils.Info(ctx, "Transaction created", map[string]interface{}{
		"transaction_id": tx.ID,
		"unique_id":      uniqueID,
		"service":        auth.service.Name,
		"route":          route,
	})
	d.scoreAsync(ctx, tx)

	env, err := d.route(ctx, fields)
	if err != nil {
		utils.Error(ctx, "Payment routing failed", map[string]interface{}{
			"transaction_id": tx.ID,
			"error":          err,
		})
		env = &models.Envelope{
			Status:  strconv.Itoa(http.StatusInternalServerError),
			Type:    envelopeType,
			Message: "Payment processing error: " + err.Error(),
			Version: envelopeVersion,
			Action:  models.ActionOutput,
			Command: route,
		}
		d.finalize(ctx, tx, models.TransactionStatusFailed, env)
		return env, nil
	}

	d.finalize(ctx, tx, models.TransactionStatusCompleted, env)
	return env, nil
}

// route executes the request-phase rule and, for FORWARD, the provider call and
// the response-phase rule.
func (d *dispatcher) route(ctx context.Context, fields models.RequestFields) (*models.Envelope, error) {
	key := requestKey(fields, models.PhaseRequest)
	rule, err := d.registry.Resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	env, err := d.registry.Execute(ctx, rule, fields)
	if err != nil {
		return nil, err
	}
	if env.Action != models.ActionForward {
		return env, nil
	}

	result := d.provider.Call(ctx, env.ServiceURL, env.ServicePayload)
	if result.StatusCode >= http.StatusBadRequest {
		utils.Warn(ctx, "Provider returned an error", map[string]interface{}{
			"provider_url": env.ServiceURL,
			"status_code":  result.StatusCode,
		})
	}

	key.Phase = models.PhaseResponse
	responseRule, err := d.registry.Resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	return d.registry.Reconcile(ctx, responseRule, fields, result), nil
}

// Status answers a status query from the ledger. It never creates a transaction.
func (d *dispatcher) Status(ctx context.Context, fields models.RequestFields) (*models.Envelope, error) {
	fields = fields.Clone()
	fields[models.FieldMarker] = models.StatusMarker
	if route := fields[models.FieldRoute]; !strings.HasSuffix(route, models.StatusSuffix) {
		fields[models.FieldRoute] = route + models.StatusSuffix
	}
	route := fields[models.FieldRoute]

	auth, err := d.authorize(ctx, fields)
	if err != nil {
		return rejection(route, err), err
	}
	ctx = utils.WithClientID(ctx, auth.client.ID)

	rule, err := d.registry.Resolve(ctx, requestKey(fields, models.PhaseRequest))
	if err == nil {
		var env *models.Envelope
		if env, err = d.registry.Execute(ctx, rule, fields); err == nil {
			return env, nil
		}
	}

	utils.Error(ctx, "Status query failed", map[string]interface{}{
		"unique_id": fields[models.FieldUniqueID],
		"error":     err,
	})
	return &models.Envelope{
		Status:  strconv.Itoa(http.StatusInternalServerError),
		Type:    envelopeType,
		Message: "Status check error: " + err.Error(),
		Version: envelopeVersion,
		Action:  models.ActionOutput,
		Command: route,
	}, nil
}

func (d *dispatcher) authorize(ctx context.Context, fields models.RequestFields) (*authorizedRequest, error) {
	if missing := fields.Missing(); len(missing) > 0 {
		return nil, utils.NewValidationError("Missing required fields: %s", strings.Join(missing, ", "))
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(fields[models.FieldAmount]))
	if err != nil || amount.IsNegative() {
		return nil, utils.NewValidationError("Invalid amount: %s", fields[models.FieldAmount])
	}

	appID := fields[models.FieldAppID]
	client, err := d.clients.GetByAppID(ctx, appID)
	switch {
	case errors.Is(err, utils.ErrNotFound):
		return nil, utils.NewValidationError("Invalid app ID: %s", appID)
	case err != nil:
		return nil, utils.NewPersistenceError("load client", err)
	case !client.IsActive:
		return nil, utils.NewValidationError("Client %s is inactive", appID)
	}

	serviceName := fields[models.FieldService]
	service, err := d.clients.GetServiceByName(ctx, serviceName)
	switch {
	case errors.Is(err, utils.ErrNotFound):
		return nil, utils.NewValidationError("Invalid service: %s", serviceName)
	case err != nil:
		return nil, utils.NewPersistenceError("load service", err)
	case !service.IsActive:
		return nil, utils.NewValidationError("Service %s is inactive", serviceName)
	}

	granted, err := d.clients.HasGrant(ctx, client.ID, service.ID)
	if err != nil {
		return nil, utils.NewPersistenceError("check service grant", err)
	}
	if !granted {
		return nil, utils.NewAuthorizationError("Client not authorized for service: %s", serviceName)
	}

	return &authorizedRequest{client: client, service: service, amount: amount}, nil
}

func (d *dispatcher) finalize(ctx context.Context, tx *models.Transaction, status models.TransactionStatus, env *models.Envelope) {
	if err := d.ledger.Finalize(ctx, tx.ID, status, env.ToMap()); err != nil {
		utils.Error(ctx, "Failed to finalize transaction", map[string]interface{}{
			"transaction_id": tx.ID,
			"status":         status,
			"error":          err,
		})
		return
	}
	d.metrics.ObserveTransaction(string(status))
	utils.Info(ctx, "Transaction finalized", map[string]interface{}{
		"transaction_id": tx.ID,
		"status":         status,
		"envelope":       env.Status,
	})
}

// scoreAsync runs fraud scoring off the request path. The request context may
// be gone by the time it runs.
func (d *dispatcher) scoreAsync(ctx context.Context, tx *models.Transaction) {
	if d.scorer == nil {
		return
	}
	scoreCtx := context.WithoutCancel(ctx)
	snapshot := *tx

	d.scoring.Add(1)
	go func() {
		defer d.scoring.Done()
		start := time.Now()
		if _, err := d.scorer.Score(scoreCtx, &snapshot); err != nil {
			utils.Error(scoreCtx, "Fraud scoring failed", map[string]interface{}{
				"transaction_id": snapshot.ID,
				"error":          err,
			})
			return
		}
		utils.Debug(scoreCtx, "Fraud scoring finished", map[string]interface{}{
			"transaction_id": snapshot.ID,
			"duration_ms":    time.Since(start).Milliseconds(),
		})
	}()
}

// Wait blocks until scheduled fraud scoring has finished.
func (d *dispatcher) Wait() {
	d.scoring.Wait()
}

func isStatusRequest(fields models.RequestFields) bool {
	return fields[models.FieldMarker] == models.StatusMarker ||
		strings.HasSuffix(fields[models.FieldRoute], models.StatusSuffix)
}

func requestKey(fields models.RequestFields, phase models.RulePhase) models.RuleKey {
	return models.RuleKey{
		AppID:       fields[models.FieldAppID],
		ServiceName: fields[models.FieldService],
		RouteName:   fields[models.FieldRoute],
		Phase:       phase,
	}
}

// rejection flattens a pre-routing error into an envelope.
func rejection(route string, err error) *models.Envelope {
	return &models.Envelope{
		Status:  strconv.Itoa(utils.StatusCode(err)),
		Type:    envelopeType,
		Message: err.Error(),
		Version: envelopeVersion,
		Action:  models.ActionError,
		Command: route,
	}
}

func maskSecrets(fields models.RequestFields) map[string]interface{} {
	payload := fields.ToMap()
	for _, code := range []string{models.FieldEncryptedPassword, models.FieldPassword} {
		if _, ok := payload[code]; ok {
			payload[code] = passwordMask
		}
	}
	return payload
}
