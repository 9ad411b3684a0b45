package stores

import (
	"context"
	"time"

	"github.com/malwarebo/paygate/models"
	"github.com/malwarebo/paygate/utils"
	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"
)

type TransactionStore struct {
	BaseStore
}

func CreateTransactionStore(db *gorm.DB) *TransactionStore {
	return &TransactionStore{BaseStore: BaseStore{db: db}}
}

func (s *TransactionStore) Create(ctx context.Context, tx *models.Transaction) error {
	return translate(s.GetDB(ctx).Create(tx).Error, "create transaction %s", tx.UniqueID)
}

func (s *TransactionStore) GetByUniqueID(ctx context.Context, uniqueID string) (*models.Transaction, error) {
	var tx models.Transaction
	if err := s.GetDB(ctx).Clauses(dbresolver.Write).First(&tx, "unique_id = ?", uniqueID).Error; err != nil {
		return nil, translate(err, "transaction %s", uniqueID)
	}
	return &tx, nil
}

func (s *TransactionStore) ExistsByUniqueID(ctx context.Context, uniqueID string) (bool, error) {
	var count int64
	err := s.GetDB(ctx).Clauses(dbresolver.Write).Model(&models.Transaction{}).
		Where("unique_id = ?", uniqueID).
		Count(&count).Error
	if err != nil {
		return false, translate(err, "check transaction %s", uniqueID)
	}
	return count > 0, nil
}

// Finalize moves a pending transaction to a terminal status. Terminal rows are never touched.
func (s *TransactionStore) Finalize(ctx context.Context, id string, status models.TransactionStatus, response map[string]interface{}) error {
	if !status.IsTerminal() {
		return pkgerrors.Wrapf(utils.ErrInvalidTransition, "finalize transaction %s to %s", id, status)
	}

	result := s.GetDB(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, models.TransactionStatusPending).
		Updates(map[string]interface{}{
			"status":           status,
			"response_payload": datatypes.JSONMap(response),
		})
	if result.Error != nil {
		return translate(result.Error, "finalize transaction %s", id)
	}
	if result.RowsAffected == 0 {
		return pkgerrors.Wrapf(utils.ErrInvalidTransition, "transaction %s is not pending", id)
	}
	return nil
}

// CountSince counts a client's transactions created at or after since, read from the primary.
func (s *TransactionStore) CountSince(ctx context.Context, clientID string, since time.Time) (int64, error) {
	var count int64
	err := s.GetDB(ctx).Clauses(dbresolver.Write).Model(&models.Transaction{}).
		Where("client_id = ? AND created_at >= ?", clientID, since).
		Count(&count).Error
	if err != nil {
		return 0, translate(err, "count transactions for client %s", clientID)
	}
	return count, nil
}

// Activity aggregates totals for the alert metrics; served by a replica when one is configured.
func (s *TransactionStore) Activity(ctx context.Context, clientID string, since time.Time) (*models.ClientActivity, error) {
	var row struct {
		Total     int64
		Completed int64
		Revenue   decimal.NullDecimal
	}

	err := s.GetDB(ctx).Clauses(dbresolver.Read).Model(&models.Transaction{}).
		Select(
			"COUNT(*) AS total, "+
				"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed, "+
				"SUM(CASE WHEN status = ? THEN amount END) AS revenue",
			models.TransactionStatusCompleted, models.TransactionStatusCompleted,
		).
		Where("client_id = ? AND created_at >= ?", clientID, since).
		Scan(&row).Error
	if err != nil {
		return nil, translate(err, "activity for client %s", clientID)
	}

	activity := &models.ClientActivity{Total: row.Total, Completed: row.Completed, Revenue: decimal.Zero}
	if row.Revenue.Valid {
		activity.Revenue = row.Revenue.Decimal
	}
	return activity, nil
}

// LastActivityAt returns the newest transaction time for a client, or nil when it has none.
func (s *TransactionStore) LastActivityAt(ctx context.Context, clientID string) (*time.Time, error) {
	var tx models.Transaction
	err := s.GetDB(ctx).Clauses(dbresolver.Read).
		Select("created_at").
		Where("client_id = ?", clientID).
		Order("created_at DESC").
		Limit(1).
		Find(&tx).Error
	if err != nil {
		return nil, translate(err, "last activity for client %s", clientID)
	}
	if tx.CreatedAt.IsZero() {
		return nil, nil
	}
	return &tx.CreatedAt, nil
}
