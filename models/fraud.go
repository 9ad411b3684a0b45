package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AssessmentStatus string

const (
	AssessmentApproved AssessmentStatus = "approved"
	AssessmentPending  AssessmentStatus = "pending"
)

const (
	IndicatorHighAmount        = "high_amount"
	IndicatorRapidTransactions = "rapid_transactions"
	IndicatorUnusualHours      = "unusual_hours"
	IndicatorNewClient         = "new_client"
)

type RiskFactor struct {
	Indicator   string          `json:"indicator"`
	Description string          `json:"description"`
	Weight      decimal.Decimal `json:"weight"`
}

type FraudAssessment struct {
	ID            string                          `json:"id" gorm:"primaryKey;type:uuid"`
	TransactionID string                          `json:"transaction_id" gorm:"not null;uniqueIndex"`
	ClientID      string                          `json:"client_id" gorm:"not null;index"`
	RiskScore     decimal.Decimal                 `json:"risk_score" gorm:"type:numeric(3,2);not null"`
	RiskFactors   datatypes.JSONSlice[RiskFactor] `json:"risk_factors"`
	Status        AssessmentStatus                `json:"status" gorm:"not null;index"`
	CreatedAt     time.Time                       `json:"created_at" gorm:"autoCreateTime"`
}

func (a *FraudAssessment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

func (a *FraudAssessment) Indicators() []string {
	names := make([]string, 0, len(a.RiskFactors))
	for _, f := range a.RiskFactors {
		names = append(names, f.Indicator)
	}
	return names
}
