package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	IdentifierIP     = "ip"
	IdentifierClient = "client"
	IdentifierUser   = "user"
)

// RateLimitWindow counts requests for one (identifier, type, endpoint) key.
type RateLimitWindow struct {
	ID             string     `json:"id" gorm:"primaryKey;type:uuid"`
	Identifier     string     `json:"identifier" gorm:"not null;uniqueIndex:idx_rate_limit_key"`
	IdentifierType string     `json:"identifier_type" gorm:"not null;uniqueIndex:idx_rate_limit_key"`
	Endpoint       string     `json:"endpoint" gorm:"not null;uniqueIndex:idx_rate_limit_key"`
	RequestCount   int        `json:"request_count" gorm:"not null"`
	WindowStart    time.Time  `json:"window_start" gorm:"not null"`
	WindowDuration int        `json:"window_duration" gorm:"not null"`
	LimitThreshold int        `json:"limit_threshold" gorm:"not null"`
	IsBlocked      bool       `json:"is_blocked" gorm:"not null"`
	BlockedUntil   *time.Time `json:"blocked_until"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (w *RateLimitWindow) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	return nil
}

type IPBlockEntry struct {
	ID         string     `json:"id" gorm:"primaryKey;type:uuid"`
	IPAddress  string     `json:"ip_address" gorm:"uniqueIndex;not null"`
	Reason     string     `json:"reason" gorm:"not null"`
	BlockedBy  string     `json:"blocked_by"`
	BlockedAt  time.Time  `json:"blocked_at" gorm:"not null"`
	ExpiresAt  *time.Time `json:"expires_at"`
	IsActive   bool       `json:"is_active" gorm:"not null;index"`
	EventCount int        `json:"event_count" gorm:"not null"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (IPBlockEntry) TableName() string {
	return "ip_blacklist"
}

func (e *IPBlockEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

func (e *IPBlockEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

type SecurityEventType string

const (
	EventRateLimitExceeded     SecurityEventType = "rate_limit_exceeded"
	EventIPBlocked             SecurityEventType = "ip_blocked"
	EventSuspiciousTransaction SecurityEventType = "suspicious_transaction"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SecurityEvent is append-only; resolution is its only mutation.
type SecurityEvent struct {
	ID            string            `json:"id" gorm:"primaryKey;type:uuid"`
	EventType     SecurityEventType `json:"event_type" gorm:"not null;index"`
	Severity      Severity          `json:"severity" gorm:"not null;index"`
	Title         string            `json:"title" gorm:"not null"`
	Description   string            `json:"description"`
	IPAddress     string            `json:"ip_address" gorm:"index"`
	ClientID      *string           `json:"client_id" gorm:"index"`
	TransactionID *string           `json:"transaction_id"`
	EventData     datatypes.JSONMap `json:"event_data"`
	CreatedAt     time.Time         `json:"created_at" gorm:"index"`
	ResolvedAt    *time.Time        `json:"resolved_at"`
	ResolvedBy    *string           `json:"resolved_by"`
}

func (e *SecurityEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

func (e *SecurityEvent) IsResolved() bool {
	return e.ResolvedAt != nil
}

type SecurityEventFilter struct {
	EventType  SecurityEventType
	Severity   Severity
	ClientID   string
	Unresolved bool
	Since      *time.Time
	Limit      int
	Offset     int
}

type SecuritySummary struct {
	PeriodHours         int                         `json:"period_hours"`
	EventsByType        map[SecurityEventType]int64 `json:"events_by_type"`
	EventsBySeverity    map[Severity]int64          `json:"events_by_severity"`
	ActiveIPBlocks      int64                       `json:"active_ip_blocks"`
	BlockedWindows      int64                       `json:"blocked_rate_limit_windows"`
	PendingFraudReviews int64                       `json:"pending_fraud_reviews"`
	RecentEvents        []*SecurityEvent            `json:"recent_events"`
}

type BlockIPRequest struct {
	IPAddress string     `json:"ip_address" validate:"required,ip"`
	Reason    string     `json:"reason" validate:"required,max=255"`
	BlockedBy string     `json:"blocked_by" validate:"max=100"`
	ExpiresAt *time.Time `json:"expires_at"`
}
