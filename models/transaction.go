package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

type Transaction struct {
	ID              string            `json:"id" gorm:"primaryKey;type:uuid"`
	UniqueID        string            `json:"unique_id" gorm:"uniqueIndex;not null"`
	ClientID        string            `json:"client_id" gorm:"not null;index"`
	ServiceID       string            `json:"service_id" gorm:"not null;index"`
	Status          TransactionStatus `json:"status" gorm:"not null;index"`
	Amount          decimal.Decimal   `json:"amount" gorm:"type:numeric(12,2);not null"`
	MobileNumber    string            `json:"mobile_number"`
	DeviceID        string            `json:"device_id"`
	RequestPayload  datatypes.JSONMap `json:"request_payload"`
	ResponsePayload datatypes.JSONMap `json:"response_payload"`
	CreatedAt       time.Time         `json:"created_at" gorm:"index"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// Snapshot is the view of a stored transaction returned by status queries.
func (t *Transaction) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"unique_id":        t.UniqueID,
		"status":           t.Status,
		"amount":           t.Amount.StringFixed(2),
		"mobile_number":    t.MobileNumber,
		"device_id":        t.DeviceID,
		"created_at":       t.CreatedAt,
		"updated_at":       t.UpdatedAt,
		"request_payload":  t.RequestPayload,
		"response_payload": t.ResponsePayload,
	}
}

// ClientActivity aggregates a client's transactions over a time window.
type ClientActivity struct {
	Total     int64
	Completed int64
	Revenue   decimal.Decimal
}
