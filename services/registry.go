package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/malwarebo/paygate/models"
	"github.com/malwarebo/paygate/utils"
)

const (
	DefaultProviderURLPattern = "http://{service}:8080/provider/api/{route}"

	messageForward       = "Service call initiated"
	messageResponse      = "Request processed successfully"
	messageStatus        = "Transaction status retrieved"
	messageNotFound      = "Transaction not found"
	statusURLPlaceholder = "N/A"
)

var defaultTemplate = models.ResponseTemplate{
	Status:     "200",
	Type:       "object",
	Version:    "1.0.0",
	AppName:    "Default Client",
	EntityName: "Default Entity",
	Country:    "Default Country",
}

// RuleRegistry resolves routing rules, provisions defaults for unseen keys and
// interprets the OUTPUT/FORWARD action model.
type RuleRegistry interface {
	Resolve(ctx context.Context, key models.RuleKey) (*models.Rule, error)
	Upsert(ctx context.Context, rule *models.Rule) (*models.Rule, error)
	Execute(ctx context.Context, rule *models.Rule, fields models.RequestFields) (*models.Envelope, error)
	Reconcile(ctx context.Context, rule *models.Rule, fields models.RequestFields, result models.ProviderResult) *models.Envelope
}

type ruleRegistry struct {
	rules      RuleRepository
	ledger     TransactionLedger
	cache      RuleCache
	urlPattern string
}

// CreateRuleRegistry builds a registry. cache may be nil.
func CreateRuleRegistry(rules RuleRepository, ledger TransactionLedger, cache RuleCache, urlPattern string) RuleRegistry {
	if urlPattern == "" {
		urlPattern = DefaultProviderURLPattern
	}
	return &ruleRegistry{
		rules:      rules,
		ledger:     ledger,
		cache:      cache,
		urlPattern: urlPattern,
	}
}

func (r *ruleRegistry) Resolve(ctx context.Context, key models.RuleKey) (*models.Rule, error) {
	if r.cache != nil {
		if rule, ok := r.cache.Get(ctx, key); ok {
			return rule, nil
		}
	}

	rule, err := r.rules.Get(ctx, key)
	switch {
	case err == nil:
	case errors.Is(err, utils.ErrNotFound):
		rule, err = r.Upsert(ctx, r.defaultRule(key))
		if err != nil {
			return nil, err
		}
		utils.Info(ctx, "Provisioned default routing rule", map[string]interface{}{
			"rule_key": key.String(),
			"action":   rule.Action,
			"target":   rule.Target,
		})
		return rule, nil
	default:
		return nil, &utils.RoutingError{Op: "resolve rule " + key.String(), Err: err}
	}

	if r.cache != nil {
		r.cache.Set(ctx, rule)
	}
	return rule, nil
}

// Upsert stores rule under its key and returns the stored definition, which may
// carry the id of an earlier writer.
func (r *ruleRegistry) Upsert(ctx context.Context, rule *models.Rule) (*models.Rule, error) {
	key := rule.Key()
	if err := r.rules.Upsert(ctx, rule); err != nil {
		return nil, &utils.RoutingError{Op: "upsert rule " + key.String(), Err: err}
	}

	stored, err := r.rules.Get(ctx, key)
	if err != nil {
		return nil, &utils.RoutingError{Op: "reload rule " + key.String(), Err: err}
	}
	if r.cache != nil {
		r.cache.Set(ctx, stored)
	}
	return stored, nil
}

func (r *ruleRegistry) providerURL(key models.RuleKey) string {
	return strings.NewReplacer(
		"{service}", key.ServiceName,
		"{route}", key.RouteName,
		"{app}", key.AppID,
	).Replace(r.urlPattern)
}

func (r *ruleRegistry) defaultRule(key models.RuleKey) *models.Rule {
	rule := &models.Rule{
		AppID:       key.AppID,
		ServiceName: key.ServiceName,
		RouteName:   key.RouteName,
		Phase:       key.Phase,
		Template:    defaultTemplate,
	}

	switch {
	case key.Phase == models.PhaseResponse:
		rule.Action = models.ActionOutput
		rule.Target = r.providerURL(key)
		rule.Template.Message = messageResponse
	case key.IsStatusQuery():
		rule.Action = models.ActionOutput
		rule.Target = models.TargetLocal
		rule.Template.Message = messageStatus
	default:
		rule.Action = models.ActionForward
		rule.Target = r.providerURL(key)
		rule.Template.Message = messageForward
	}
	return rule
}

func (r *ruleRegistry) Execute(ctx context.Context, rule *models.Rule, fields models.RequestFields) (*models.Envelope, error) {
	switch rule.Action {
	case models.ActionOutput:
		if rule.Target == models.TargetLocal {
			return r.lookupTransaction(ctx, rule, fields[models.FieldUniqueID])
		}
		env := envelopeFor(rule, models.ActionOutput)
		env.ServiceURL = rule.Target
		return env, nil
	case models.ActionForward:
		if rule.Target == "" || rule.Target == models.TargetLocal {
			return nil, &utils.RoutingError{Op: "execute rule " + rule.Key().String(), Err: fmt.Errorf("forward rule has no provider url")}
		}
		env := envelopeFor(rule, models.ActionForward)
		env.ServiceURL = rule.Target
		return env, nil
	default:
		return nil, &utils.RoutingError{Op: "execute rule " + rule.Key().String(), Err: fmt.Errorf("unsupported action %q", rule.Action)}
	}
}

func (r *ruleRegistry) lookupTransaction(ctx context.Context, rule *models.Rule, uniqueID string) (*models.Envelope, error) {
	env := envelopeFor(rule, models.ActionOutput)
	env.ServiceURL = statusURLPlaceholder
	env.StatusQuery = true

	tx, err := r.ledger.GetByUniqueID(ctx, uniqueID)
	switch {
	case err == nil:
		env.TransactionData = tx.Snapshot()
	case errors.Is(err, utils.ErrNotFound):
		env.Status = "404"
		env.Message = messageNotFound
		env.Action = models.ActionError
	default:
		return nil, &utils.RoutingError{Op: "lookup transaction " + uniqueID, Err: err}
	}
	return env, nil
}

// Reconcile merges a captured provider result into the response-phase envelope.
// A failed provider call is logged but still produces an OUTPUT envelope.
func (r *ruleRegistry) Reconcile(ctx context.Context, rule *models.Rule, fields models.RequestFields, result models.ProviderResult) *models.Envelope {
	env := envelopeFor(rule, models.ActionOutput)
	env.ServiceURL = rule.Target
	env.ProviderResponse = &result

	logFields := map[string]interface{}{
		"unique_id":       fields[models.FieldUniqueID],
		"rule_key":        rule.Key().String(),
		"provider_status": result.StatusCode,
	}
	if result.StatusCode >= 400 {
		utils.Warn(ctx, "Provider call failed, reconciling anyway", logFields)
	} else {
		utils.Debug(ctx, "Provider response reconciled", logFields)
	}
	return env
}

func envelopeFor(rule *models.Rule, action models.RuleAction) *models.Envelope {
	tpl := rule.Template
	return &models.Envelope{
		Status:  tpl.Status,
		Type:    tpl.Type,
		Message: tpl.Message,
		Version: tpl.Version,
		Action:  action,
		Command: rule.RouteName,
		AppName: tpl.AppName,
		ServicePayload: []models.ServicePair{
			{I: 0, V: rule.AppID},
			{I: 1, V: tpl.AppName},
			{I: 2, V: tpl.EntityName},
			{I: 3, V: rule.ServiceName},
			{I: 4, V: tpl.Country},
		},
	}
}
