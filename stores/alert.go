package stores

import (
	"context"
	"time"

	"github.com/malwarebo/paygate/models"
	"github.com/malwarebo/paygate/utils"
	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
)

type AlertRuleStore struct {
	BaseStore
}

func CreateAlertRuleStore(db *gorm.DB) *AlertRuleStore {
	return &AlertRuleStore{BaseStore: BaseStore{db: db}}
}

func (s *AlertRuleStore) Create(ctx context.Context, rule *models.AlertRule) error {
	return translate(s.GetDB(ctx).Create(rule).Error, "create alert rule %s", rule.Name)
}

func (s *AlertRuleStore) GetByID(ctx context.Context, id string) (*models.AlertRule, error) {
	var rule models.AlertRule
	if err := s.GetDB(ctx).First(&rule, "id = ?", id).Error; err != nil {
		return nil, translate(err, "alert rule %s", id)
	}
	return &rule, nil
}

func (s *AlertRuleStore) SetActive(ctx context.Context, id string, active bool) error {
	result := s.GetDB(ctx).Model(&models.AlertRule{}).Where("id = ?", id).Update("is_active", active)
	if result.Error != nil {
		return translate(result.Error, "update alert rule %s", id)
	}
	if result.RowsAffected == 0 {
		return pkgerrors.Wrapf(utils.ErrNotFound, "alert rule %s", id)
	}
	return nil
}

func (s *AlertRuleStore) ListActive(ctx context.Context) ([]*models.AlertRule, error) {
	var rules []*models.AlertRule
	if err := s.GetDB(ctx).Where("is_active = ?", true).Order("created_at").Find(&rules).Error; err != nil {
		return nil, translate(err, "list active alert rules")
	}
	return rules, nil
}

func (s *AlertRuleStore) List(ctx context.Context) ([]*models.AlertRule, error) {
	var rules []*models.AlertRule
	if err := s.GetDB(ctx).Order("created_at").Find(&rules).Error; err != nil {
		return nil, translate(err, "list alert rules")
	}
	return rules, nil
}

type AlertStore struct {
	BaseStore
}

func CreateAlertStore(db *gorm.DB) *AlertStore {
	return &AlertStore{BaseStore: BaseStore{db: db}}
}

func (s *AlertStore) Create(ctx context.Context, alert *models.Alert) error {
	return translate(s.GetDB(ctx).Create(alert).Error, "create alert %s", alert.Title)
}

func (s *AlertStore) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	var alert models.Alert
	if err := s.GetDB(ctx).First(&alert, "id = ?", id).Error; err != nil {
		return nil, translate(err, "alert %s", id)
	}
	return &alert, nil
}

// FindActiveSince returns the newest active alert for (alertType, clientID) created at or after since.
func (s *AlertStore) FindActiveSince(ctx context.Context, alertType, clientID string, since time.Time) (*models.Alert, error) {
	var alert models.Alert
	err := s.GetDB(ctx).
		Where("alert_type = ? AND client_id = ? AND status = ? AND created_at >= ?", alertType, clientID, models.AlertActive, since).
		Order("created_at DESC").
		First(&alert).Error
	if err != nil {
		return nil, translate(err, "active %s alert for client %s", alertType, clientID)
	}
	return &alert, nil
}

// Transition applies a lifecycle change only if the stored status still allows it.
func (s *AlertStore) Transition(ctx context.Context, id string, to models.AlertStatus, actor string, at time.Time) (*models.Alert, error) {
	var updated *models.Alert

	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		alert, err := s.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !alert.Status.CanTransition(to) {
			return pkgerrors.Wrapf(utils.ErrInvalidTransition, "alert %s: %s -> %s", id, alert.Status, to)
		}

		changes := map[string]interface{}{"status": to}
		switch to {
		case models.AlertAcknowledged:
			changes["acknowledged_at"] = at
			changes["acknowledged_by"] = actor
		case models.AlertResolved:
			changes["resolved_at"] = at
			changes["resolved_by"] = actor
		}

		result := s.GetDB(ctx).Model(&models.Alert{}).
			Where("id = ? AND status = ?", id, alert.Status).
			Updates(changes)
		if result.Error != nil {
			return translate(result.Error, "transition alert %s", id)
		}
		if result.RowsAffected == 0 {
			return pkgerrors.Wrapf(utils.ErrInvalidTransition, "alert %s changed concurrently", id)
		}

		updated, err = s.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *AlertStore) List(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, int64, error) {
	var alerts []*models.Alert
	var total int64

	query := s.GetDB(ctx).Model(&models.Alert{})

	if filter.ClientID != "" {
		query = query.Where("client_id = ?", filter.ClientID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if filter.AlertType != "" {
		query = query.Where("alert_type = ?", filter.AlertType)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translate(err, "count alerts")
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	if err := query.Order("created_at DESC").Find(&alerts).Error; err != nil {
		return nil, 0, translate(err, "list alerts")
	}

	return alerts, total, nil
}
