package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AlertMetric string

const (
	MetricSuccessRate      AlertMetric = "success_rate"
	MetricTransactionCount AlertMetric = "transaction_count"
	MetricRevenue          AlertMetric = "revenue"
	MetricInactivity       AlertMetric = "inactivity"
)

type AlertSeverity string

const (
	AlertInfo     AlertSeverity = "info"
	AlertWarning  AlertSeverity = "warning"
	AlertError    AlertSeverity = "error"
	AlertCritical AlertSeverity = "critical"
)

type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// CanTransition reports whether an alert may move from s to next.
func (s AlertStatus) CanTransition(next AlertStatus) bool {
	switch s {
	case AlertActive:
		return next == AlertAcknowledged || next == AlertResolved
	case AlertAcknowledged:
		return next == AlertResolved
	default:
		return false
	}
}

type AlertRule struct {
	ID                string      `json:"id" gorm:"primaryKey;type:uuid"`
	Name              string      `json:"name" gorm:"not null" validate:"required,max=100"`
	AlertType         string      `json:"alert_type" gorm:"not null;index" validate:"required,max=50"`
	Metric            AlertMetric `json:"metric" gorm:"not null" validate:"required,oneof=success_rate transaction_count revenue inactivity"`
	ThresholdValue    float64     `json:"threshold_value" gorm:"not null"`
	ThresholdOperator string      `json:"threshold_operator" gorm:"not null" validate:"required,oneof=> < >= <= == !="`
	TimeWindow        int         `json:"time_window" gorm:"not null" validate:"required,min=1"`
	ClientID          *string     `json:"client_id" gorm:"index"`
	IsActive          bool        `json:"is_active" gorm:"not null"`
	CreatedAt         time.Time   `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time   `json:"updated_at" gorm:"autoUpdateTime"`
}

func (r *AlertRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

func (r *AlertRule) Window() time.Duration {
	return time.Duration(r.TimeWindow) * time.Hour
}

type Alert struct {
	ID             string            `json:"id" gorm:"primaryKey;type:uuid"`
	AlertType      string            `json:"alert_type" gorm:"not null;index:idx_alert_dedup"`
	ClientID       string            `json:"client_id" gorm:"not null;index:idx_alert_dedup"`
	RuleID         string            `json:"rule_id" gorm:"index"`
	Title          string            `json:"title" gorm:"not null"`
	Message        string            `json:"message" gorm:"not null"`
	Severity       AlertSeverity     `json:"severity" gorm:"not null"`
	Status         AlertStatus       `json:"status" gorm:"not null;index:idx_alert_dedup"`
	AlertData      datatypes.JSONMap `json:"alert_data"`
	CreatedAt      time.Time         `json:"created_at" gorm:"index"`
	UpdatedAt      time.Time         `json:"updated_at"`
	AcknowledgedAt *time.Time        `json:"acknowledged_at"`
	AcknowledgedBy *string           `json:"acknowledged_by"`
	ResolvedAt     *time.Time        `json:"resolved_at"`
	ResolvedBy     *string           `json:"resolved_by"`
}

func (a *Alert) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

type AlertFilter struct {
	ClientID  string
	Status    AlertStatus
	Severity  AlertSeverity
	AlertType string
	Limit     int
	Offset    int
}
