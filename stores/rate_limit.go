package stores

import (
	"context"
	"time"

	"github.com/malwarebo/paygate/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RateLimitKey struct {
	Identifier     string
	IdentifierType string
	Endpoint       string
}

// RateLimitStore is the shared counter behind the fixed-window limiter.
// Hit must count atomically and report the window state after counting.
type RateLimitStore interface {
	Hit(ctx context.Context, key RateLimitKey, limit int, window, blockFor time.Duration, now time.Time) (*models.RateLimitWindow, error)
	CountBlocked(ctx context.Context, now time.Time) (int64, error)
	PurgeStale(ctx context.Context, before time.Time) (int64, error)
}

type SQLRateLimitStore struct {
	BaseStore
}

func CreateSQLRateLimitStore(db *gorm.DB) *SQLRateLimitStore {
	return &SQLRateLimitStore{BaseStore: BaseStore{db: db}}
}

var rateLimitKeyColumns = []clause.Column{
	{Name: "identifier"},
	{Name: "identifier_type"},
	{Name: "endpoint"},
}

func (s *SQLRateLimitStore) Hit(ctx context.Context, key RateLimitKey, limit int, window, blockFor time.Duration, now time.Time) (*models.RateLimitWindow, error) {
	var current models.RateLimitWindow

	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		db := s.GetDB(ctx)

		seed := &models.RateLimitWindow{
			Identifier:     key.Identifier,
			IdentifierType: key.IdentifierType,
			Endpoint:       key.Endpoint,
			WindowStart:    now,
			WindowDuration: int(window.Seconds()),
			LimitThreshold: limit,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := db.Clauses(clause.OnConflict{Columns: rateLimitKeyColumns, DoNothing: true}).Create(seed).Error; err != nil {
			return err
		}

		// every CASE reads the pre-update row, so reset and increment are one atomic step
		expired := now.Add(-window)
		err := db.Model(&models.RateLimitWindow{}).
			Where("identifier = ? AND identifier_type = ? AND endpoint = ?", key.Identifier, key.IdentifierType, key.Endpoint).
			Updates(map[string]interface{}{
				"request_count":   gorm.Expr("CASE WHEN window_start < ? THEN 1 ELSE request_count + 1 END", expired),
				"window_start":    gorm.Expr("CASE WHEN window_start < ? THEN ? ELSE window_start END", expired, now),
				"is_blocked":      gorm.Expr("CASE WHEN window_start < ? THEN ? ELSE is_blocked END", expired, false),
				"blocked_until":   gorm.Expr("CASE WHEN window_start < ? THEN NULL ELSE blocked_until END", expired),
				"window_duration": int(window.Seconds()),
				"limit_threshold": limit,
				"updated_at":      now,
			}).Error
		if err != nil {
			return err
		}

		if err := db.Where("identifier = ? AND identifier_type = ? AND endpoint = ?", key.Identifier, key.IdentifierType, key.Endpoint).
			First(&current).Error; err != nil {
			return err
		}

		if current.RequestCount <= limit {
			return nil
		}

		blockedUntil := now.Add(blockFor)
		current.IsBlocked = true
		current.BlockedUntil = &blockedUntil
		return db.Model(&models.RateLimitWindow{}).
			Where("id = ?", current.ID).
			Updates(map[string]interface{}{"is_blocked": true, "blocked_until": blockedUntil}).Error
	})
	if err != nil {
		return nil, translate(err, "rate limit hit for %s/%s", key.IdentifierType, key.Identifier)
	}

	return &current, nil
}

func (s *SQLRateLimitStore) CountBlocked(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := s.GetDB(ctx).Model(&models.RateLimitWindow{}).
		Where("is_blocked = ? AND blocked_until > ?", true, now).
		Count(&count).Error
	if err != nil {
		return 0, translate(err, "count blocked windows")
	}
	return count, nil
}

func (s *SQLRateLimitStore) PurgeStale(ctx context.Context, before time.Time) (int64, error) {
	result := s.GetDB(ctx).Where("window_start < ?", before).Delete(&models.RateLimitWindow{})
	if result.Error != nil {
		return 0, translate(result.Error, "purge rate limit windows")
	}
	return result.RowsAffected, nil
}
