package services

import (
	"context"
	"time"

	"github.com/malwarebo/paygate/models"
)

// Storage contracts consumed by the services. The gorm stores satisfy them.

type RuleRepository interface {
	Get(ctx context.Context, key models.RuleKey) (*models.Rule, error)
	Upsert(ctx context.Context, rule *models.Rule) error
}

type RuleCache interface {
	Get(ctx context.Context, key models.RuleKey) (*models.Rule, bool)
	Set(ctx context.Context, rule *models.Rule)
	Invalidate(ctx context.Context, key models.RuleKey)
}

type TransactionLedger interface {
	Create(ctx context.Context, tx *models.Transaction) error
	GetByUniqueID(ctx context.Context, uniqueID string) (*models.Transaction, error)
	ExistsByUniqueID(ctx context.Context, uniqueID string) (bool, error)
	Finalize(ctx context.Context, id string, status models.TransactionStatus, response map[string]interface{}) error
	CountSince(ctx context.Context, clientID string, since time.Time) (int64, error)
	Activity(ctx context.Context, clientID string, since time.Time) (*models.ClientActivity, error)
	LastActivityAt(ctx context.Context, clientID string) (*time.Time, error)
}

type ClientDirectory interface {
	GetByID(ctx context.Context, id string) (*models.Client, error)
	GetByAppID(ctx context.Context, appID string) (*models.Client, error)
	ListActive(ctx context.Context) ([]*models.Client, error)
	GetServiceByName(ctx context.Context, name string) (*models.Service, error)
	HasGrant(ctx context.Context, clientID, serviceID string) (bool, error)
}

type FraudRepository interface {
	Create(ctx context.Context, assessment *models.FraudAssessment) error
	GetByTransactionID(ctx context.Context, transactionID string) (*models.FraudAssessment, error)
	CountByStatus(ctx context.Context, status models.AssessmentStatus) (int64, error)
}

type IPBlockRepository interface {
	GetActive(ctx context.Context, ip string) (*models.IPBlockEntry, error)
	GetByIP(ctx context.Context, ip string) (*models.IPBlockEntry, error)
	Save(ctx context.Context, entry *models.IPBlockEntry) error
	Deactivate(ctx context.Context, ip string) (bool, error)
	ListActive(ctx context.Context) ([]*models.IPBlockEntry, error)
	CountActive(ctx context.Context) (int64, error)
}

type SecurityEventRepository interface {
	Create(ctx context.Context, event *models.SecurityEvent) error
	Resolve(ctx context.Context, id, resolvedBy string, at time.Time) error
	List(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, int64, error)
	CountByType(ctx context.Context, since time.Time) (map[models.SecurityEventType]int64, error)
	CountBySeverity(ctx context.Context, since time.Time) (map[models.Severity]int64, error)
}

type AlertRuleRepository interface {
	Create(ctx context.Context, rule *models.AlertRule) error
	GetByID(ctx context.Context, id string) (*models.AlertRule, error)
	SetActive(ctx context.Context, id string, active bool) error
	ListActive(ctx context.Context) ([]*models.AlertRule, error)
	List(ctx context.Context) ([]*models.AlertRule, error)
}

type AlertRepository interface {
	Create(ctx context.Context, alert *models.Alert) error
	FindActiveSince(ctx context.Context, alertType, clientID string, since time.Time) (*models.Alert, error)
	Transition(ctx context.Context, id string, to models.AlertStatus, actor string, at time.Time) (*models.Alert, error)
	List(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, int64, error)
}
