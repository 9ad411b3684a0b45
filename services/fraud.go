package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/malwarebo/paygate/config"
	"github.com/malwarebo/paygate/models"
	"github.com/malwarebo/paygate/monitoring"
	"github.com/malwarebo/paygate/utils"
	"github.com/shopspring/decimal"
)

type FraudScorer interface {
	Score(ctx context.Context, tx *models.Transaction) (*models.FraudAssessment, error)
}

type fraudScorer struct {
	assessments FraudRepository
	ledger      TransactionLedger
	clients     ClientDirectory
	recorder    *eventRecorder
	cfg         config.FraudConfig
	metrics     *monitoring.Metrics
	now         func() time.Time
}

type FraudScorerDeps struct {
	Assessments FraudRepository
	Ledger      TransactionLedger
	Clients     ClientDirectory
	Events      SecurityEventRepository
	Notifier    *monitoring.Notifier
	Metrics     *monitoring.Metrics
	Clock       func() time.Time
}

func CreateFraudScorer(deps FraudScorerDeps, cfg config.FraudConfig) FraudScorer {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &fraudScorer{
		assessments: deps.Assessments,
		ledger:      deps.Ledger,
		clients:     deps.Clients,
		recorder:    &eventRecorder{events: deps.Events, notifier: deps.Notifier, metrics: deps.Metrics, now: clock},
		cfg:         cfg,
		metrics:     deps.Metrics,
		now:         clock,
	}
}

// Score assesses a transaction once. A second call returns the stored assessment.
func (s *fraudScorer) Score(ctx context.Context, tx *models.Transaction) (*models.FraudAssessment, error) {
	existing, err := s.assessments.GetByTransactionID(ctx, tx.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, utils.ErrNotFound) {
		return nil, utils.NewPersistenceError("load fraud assessment", err)
	}

	now := s.now().UTC()
	factors, err := s.indicators(ctx, tx, now)
	if err != nil {
		return nil, err
	}

	score := decimal.Zero
	for _, f := range factors {
		score = score.Add(f.Weight)
	}
	score = decimal.Min(score, decimal.NewFromInt(1))

	status := models.AssessmentApproved
	review := decimal.NewFromFloat(s.cfg.ReviewThreshold)
	if score.GreaterThan(review) {
		status = models.AssessmentPending
	}

	assessment := &models.FraudAssessment{
		TransactionID: tx.ID,
		ClientID:      tx.ClientID,
		RiskScore:     score,
		RiskFactors:   factors,
		Status:        status,
	}
	if err := s.assessments.Create(ctx, assessment); err != nil {
		if errors.Is(err, utils.ErrDuplicate) {
			return s.assessments.GetByTransactionID(ctx, tx.ID)
		}
		return nil, utils.NewPersistenceError("store fraud assessment", err)
	}
	s.metrics.ObserveFraudAssessment(string(status))

	utils.Info(ctx, "Transaction scored", map[string]interface{}{
		"transaction_id": tx.ID,
		"unique_id":      tx.UniqueID,
		"risk_score":     score.StringFixed(2),
		"indicators":     assessment.Indicators(),
		"status":         status,
	})

	if status == models.AssessmentPending {
		s.flag(ctx, tx, assessment)
	}
	return assessment, nil
}

func (s *fraudScorer) indicators(ctx context.Context, tx *models.Transaction, now time.Time) ([]models.RiskFactor, error) {
	w := s.cfg.Weights
	var factors []models.RiskFactor

	if tx.Amount.GreaterThan(decimal.NewFromFloat(s.cfg.HighAmountThreshold)) {
		factors = append(factors, models.RiskFactor{
			Indicator:   models.IndicatorHighAmount,
			Description: fmt.Sprintf("High amount: $%s", tx.Amount.String()),
			Weight:      decimal.NewFromFloat(w.HighAmount),
		})
	}

	recent, err := s.ledger.CountSince(ctx, tx.ClientID, now.Add(-s.cfg.RapidWindow))
	if err != nil {
		return nil, utils.NewPersistenceError("count recent transactions", err)
	}
	if recent > int64(s.cfg.RapidCount) {
		factors = append(factors, models.RiskFactor{
			Indicator:   models.IndicatorRapidTransactions,
			Description: fmt.Sprintf("Rapid transactions: %d in %ds", recent, int(s.cfg.RapidWindow.Seconds())),
			Weight:      decimal.NewFromFloat(w.RapidTransactions),
		})
	}

	if s.unusualHour(now.Hour()) {
		factors = append(factors, models.RiskFactor{
			Indicator:   models.IndicatorUnusualHours,
			Description: fmt.Sprintf("Unusual hours: %d:00", now.Hour()),
			Weight:      decimal.NewFromFloat(w.UnusualHours),
		})
	}

	client, err := s.clients.GetByID(ctx, tx.ClientID)
	switch {
	case err == nil:
		if now.Sub(client.CreatedAt) < s.cfg.NewClientAge {
			factors = append(factors, models.RiskFactor{
				Indicator:   models.IndicatorNewClient,
				Description: fmt.Sprintf("New client: %s", client.CompanyName),
				Weight:      decimal.NewFromFloat(w.NewClient),
			})
		}
	case errors.Is(err, utils.ErrNotFound):
	default:
		return nil, utils.NewPersistenceError("load client", err)
	}

	return factors, nil
}

// unusualHour handles ranges that wrap midnight, e.g. 22..6.
func (s *fraudScorer) unusualHour(hour int) bool {
	start, end := s.cfg.UnusualHourStart, s.cfg.UnusualHourEnd
	if start <= end {
		return hour >= start && hour <= end
	}
	return hour >= start || hour <= end
}

func (s *fraudScorer) flag(ctx context.Context, tx *models.Transaction, assessment *models.FraudAssessment) {
	// a score sitting exactly on the high-risk threshold counts as high
	severity := models.SeverityMedium
	if assessment.RiskScore.GreaterThanOrEqual(decimal.NewFromFloat(s.cfg.HighRiskThreshold)) {
		severity = models.SeverityHigh
	}

	descriptions := make([]string, 0, len(assessment.RiskFactors))
	for _, f := range assessment.RiskFactors {
		descriptions = append(descriptions, f.Description)
	}

	clientID, txID := tx.ClientID, tx.ID
	event := &models.SecurityEvent{
		EventType:     models.EventSuspiciousTransaction,
		Severity:      severity,
		Title:         fmt.Sprintf("High-risk transaction detected: %s", tx.UniqueID),
		Description:   fmt.Sprintf("Transaction %s flagged for fraud. Risk score: %s", tx.UniqueID, assessment.RiskScore.StringFixed(2)),
		ClientID:      &clientID,
		TransactionID: &txID,
		EventData: map[string]interface{}{
			"transaction_id":  tx.ID,
			"risk_score":      assessment.RiskScore.StringFixed(2),
			"risk_factors":    descriptions,
			"triggered_rules": assessment.Indicators(),
		},
	}
	if err := s.recorder.record(ctx, event); err != nil {
		utils.Error(ctx, "Failed to record suspicious transaction", map[string]interface{}{
			"transaction_id": tx.ID,
			"error":          err,
		})
	}
}
