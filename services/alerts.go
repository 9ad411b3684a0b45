package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/malwarebo/paygate/models"
	"github.com/malwarebo/paygate/monitoring"
	"github.com/malwarebo/paygate/utils"
	pkgerrors "github.com/pkg/errors"
)

type AlertEngine interface {
	Evaluate(ctx context.Context) ([]*models.Alert, error)
	Acknowledge(ctx context.Context, id, by string) (*models.Alert, error)
	Resolve(ctx context.Context, id, by string) (*models.Alert, error)
	CreateRule(ctx context.Context, rule *models.AlertRule) (*models.AlertRule, error)
	ListRules(ctx context.Context) ([]*models.AlertRule, error)
	SetRuleActive(ctx context.Context, id string, active bool) (*models.AlertRule, error)
	ListAlerts(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, int64, error)
}

type AlertEngineDeps struct {
	Rules    AlertRuleRepository
	Alerts   AlertRepository
	Clients  ClientDirectory
	Ledger   TransactionLedger
	Notifier *monitoring.Notifier
	Metrics  *monitoring.Metrics
	Clock    func() time.Time
}

type alertEngine struct {
	rules      AlertRuleRepository
	alerts     AlertRepository
	clients    ClientDirectory
	ledger     TransactionLedger
	notifier   *monitoring.Notifier
	metrics    *monitoring.Metrics
	severities *SeverityClassifier
	now        func() time.Time
}

func CreateAlertEngine(deps AlertEngineDeps, severities *SeverityClassifier) AlertEngine {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &alertEngine{
		rules:      deps.Rules,
		alerts:     deps.Alerts,
		clients:    deps.Clients,
		ledger:     deps.Ledger,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		severities: severities,
		now:        clock,
	}
}

var operatorNames = map[string]string{
	">":  "greater than",
	"<":  "less than",
	">=": "greater than or equal to",
	"<=": "less than or equal to",
	"==": "equal to",
	"!=": "not equal to",
}

func compare(value float64, operator string, threshold float64) bool {
	switch operator {
	case ">":
		return value > threshold
	case "<":
		return value < threshold
	case ">=":
		return value >= threshold
	case "<=":
		return value <= threshold
	case "==":
		return value == threshold
	case "!=":
		return value != threshold
	default:
		return false
	}
}

// Evaluate checks every active rule against every client in its scope and
// raises at most one active alert per (alert type, client) inside the rule window.
// Failures on one rule or client are logged and skipped.
func (e *alertEngine) Evaluate(ctx context.Context) ([]*models.Alert, error) {
	rules, err := e.rules.ListActive(ctx)
	if err != nil {
		return nil, utils.NewPersistenceError("list alert rules", err)
	}

	var activeClients []*models.Client
	created := make([]*models.Alert, 0)

	for _, rule := range rules {
		var clients []*models.Client
		if rule.ClientID != nil {
			client, err := e.clients.GetByID(ctx, *rule.ClientID)
			if err != nil {
				utils.Warn(ctx, "Alert rule client unavailable", map[string]interface{}{"rule_id": rule.ID, "client_id": *rule.ClientID, "error": err})
				continue
			}
			clients = []*models.Client{client}
		} else {
			if activeClients == nil {
				activeClients, err = e.clients.ListActive(ctx)
				if err != nil {
					return created, utils.NewPersistenceError("list active clients", err)
				}
			}
			clients = activeClients
		}

		for _, client := range clients {
			alert, err := e.evaluateClient(ctx, rule, client)
			if err != nil {
				utils.Error(ctx, "Alert evaluation failed", map[string]interface{}{
					"rule_id":   rule.ID,
					"client_id": client.ID,
					"error":     err,
				})
				continue
			}
			if alert != nil {
				created = append(created, alert)
			}
		}
	}

	utils.Info(ctx, "Alert evaluation finished", map[string]interface{}{
		"rules":   len(rules),
		"created": len(created),
	})
	return created, nil
}

func (e *alertEngine) evaluateClient(ctx context.Context, rule *models.AlertRule, client *models.Client) (*models.Alert, error) {
	now := e.now().UTC()
	since := now.Add(-rule.Window())

	value, ok, err := e.metricValue(ctx, rule.Metric, client, since, now)
	if err != nil || !ok {
		return nil, err
	}
	if !compare(value, rule.ThresholdOperator, rule.ThresholdValue) {
		return nil, nil
	}

	_, err = e.alerts.FindActiveSince(ctx, rule.AlertType, client.ID, since)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, utils.ErrNotFound) {
		return nil, err
	}

	severity := e.severities.Classify(rule.Metric, value)
	alert := &models.Alert{
		AlertType: rule.AlertType,
		ClientID:  client.ID,
		RuleID:    rule.ID,
		Title:     fmt.Sprintf("%s - %s", client.CompanyName, rule.Name),
		Message:   alertMessage(rule, value),
		Severity:  severity,
		Status:    models.AlertActive,
		CreatedAt: now,
		AlertData: map[string]interface{}{
			"rule_id":            rule.ID,
			"rule_name":          rule.Name,
			"metric":             rule.Metric,
			"metric_value":       value,
			"threshold_value":    rule.ThresholdValue,
			"threshold_operator": rule.ThresholdOperator,
			"time_window":        rule.TimeWindow,
		},
	}
	if err := e.alerts.Create(ctx, alert); err != nil {
		return nil, err
	}

	utils.Info(ctx, "Alert created", map[string]interface{}{
		"alert_id":  alert.ID,
		"client_id": client.ID,
		"rule_id":   rule.ID,
		"severity":  severity,
	})
	e.metrics.ObserveAlert(string(rule.Metric), string(severity))
	e.notifier.NotifyAlert(ctx, alert)
	return alert, nil
}

// metricValue reports ok=false when the metric has no meaningful value, e.g. a
// success rate over zero transactions.
func (e *alertEngine) metricValue(ctx context.Context, metric models.AlertMetric, client *models.Client, since, now time.Time) (float64, bool, error) {
	switch metric {
	case models.MetricSuccessRate, models.MetricTransactionCount, models.MetricRevenue:
		activity, err := e.ledger.Activity(ctx, client.ID, since)
		if err != nil {
			return 0, false, err
		}
		switch metric {
		case models.MetricSuccessRate:
			if activity.Total == 0 {
				return 0, false, nil
			}
			return float64(activity.Completed*100) / float64(activity.Total), true, nil
		case models.MetricTransactionCount:
			return float64(activity.Total), true, nil
		default:
			revenue, _ := activity.Revenue.Float64()
			return revenue, true, nil
		}
	case models.MetricInactivity:
		last, err := e.ledger.LastActivityAt(ctx, client.ID)
		if err != nil {
			return 0, false, err
		}
		ref := client.CreatedAt
		if last != nil {
			ref = *last
		}
		return now.Sub(ref).Hours(), true, nil
	default:
		return 0, false, fmt.Errorf("unknown metric %q", metric)
	}
}

func alertMessage(rule *models.AlertRule, value float64) string {
	op := operatorNames[rule.ThresholdOperator]
	threshold := strconv.FormatFloat(rule.ThresholdValue, 'f', -1, 64)

	switch rule.Metric {
	case models.MetricSuccessRate:
		return fmt.Sprintf("Success rate is %.1f%% (threshold: %s %s%%)", value, op, threshold)
	case models.MetricTransactionCount:
		return fmt.Sprintf("Transaction count is %d (threshold: %s %s)", int64(value), op, threshold)
	case models.MetricRevenue:
		return fmt.Sprintf("Revenue is $%.2f (threshold: %s $%s)", value, op, threshold)
	case models.MetricInactivity:
		return fmt.Sprintf("Client inactive for %.1f hours (threshold: %s %s hours)", value, op, threshold)
	default:
		return fmt.Sprintf("%s is %v (threshold: %s %s)", rule.Metric, value, op, threshold)
	}
}

func (e *alertEngine) Acknowledge(ctx context.Context, id, by string) (*models.Alert, error) {
	return e.transition(ctx, id, models.AlertAcknowledged, by)
}

func (e *alertEngine) Resolve(ctx context.Context, id, by string) (*models.Alert, error) {
	return e.transition(ctx, id, models.AlertResolved, by)
}

func (e *alertEngine) transition(ctx context.Context, id string, to models.AlertStatus, by string) (*models.Alert, error) {
	if by == "" {
		return nil, utils.NewValidationError("actor is required")
	}
	alert, err := e.alerts.Transition(ctx, id, to, by, e.now().UTC())
	if err != nil {
		return nil, pkgerrors.WithMessagef(err, "move alert %s to %s", id, to)
	}
	utils.Info(ctx, "Alert status changed", map[string]interface{}{
		"alert_id": id,
		"status":   to,
		"actor":    by,
	})
	return alert, nil
}

func (e *alertEngine) CreateRule(ctx context.Context, rule *models.AlertRule) (*models.AlertRule, error) {
	if err := utils.ValidateStruct(rule); err != nil {
		return nil, err
	}
	if rule.ClientID != nil {
		if _, err := e.clients.GetByID(ctx, *rule.ClientID); err != nil {
			if errors.Is(err, utils.ErrNotFound) {
				return nil, utils.NewValidationError("client %s does not exist", *rule.ClientID)
			}
			return nil, utils.NewPersistenceError("load client", err)
		}
	}
	if err := e.rules.Create(ctx, rule); err != nil {
		return nil, utils.NewPersistenceError("create alert rule", err)
	}
	return rule, nil
}

func (e *alertEngine) ListRules(ctx context.Context) ([]*models.AlertRule, error) {
	return e.rules.List(ctx)
}

// SetRuleActive pauses or resumes a rule. Alerts it already raised are untouched.
func (e *alertEngine) SetRuleActive(ctx context.Context, id string, active bool) (*models.AlertRule, error) {
	rule, err := e.rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule.IsActive == active {
		return rule, nil
	}
	if err := e.rules.SetActive(ctx, id, active); err != nil {
		return nil, err
	}
	rule.IsActive = active
	utils.Info(ctx, "Alert rule updated", map[string]interface{}{
		"rule_id":   id,
		"is_active": active,
	})
	return rule, nil
}

func (e *alertEngine) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, int64, error) {
	return e.alerts.List(ctx, filter)
}
