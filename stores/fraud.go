package stores

import (
	"context"

	"github.com/malwarebo/paygate/models"
	"gorm.io/gorm"
)

type FraudStore struct {
	BaseStore
}

func CreateFraudStore(db *gorm.DB) *FraudStore {
	return &FraudStore{BaseStore: BaseStore{db: db}}
}

func (s *FraudStore) Create(ctx context.Context, assessment *models.FraudAssessment) error {
	return translate(s.GetDB(ctx).Create(assessment).Error, "save assessment for transaction %s", assessment.TransactionID)
}

func (s *FraudStore) GetByTransactionID(ctx context.Context, transactionID string) (*models.FraudAssessment, error) {
	var assessment models.FraudAssessment
	if err := s.GetDB(ctx).First(&assessment, "transaction_id = ?", transactionID).Error; err != nil {
		return nil, translate(err, "assessment for transaction %s", transactionID)
	}
	return &assessment, nil
}

func (s *FraudStore) CountByStatus(ctx context.Context, status models.AssessmentStatus) (int64, error) {
	var count int64
	err := s.GetDB(ctx).Model(&models.FraudAssessment{}).Where("status = ?", status).Count(&count).Error
	if err != nil {
		return 0, translate(err, "count %s assessments", status)
	}
	return count, nil
}
