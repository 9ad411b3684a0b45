package stores

import (
	"context"

	"github.com/malwarebo/paygate/models"
	"gorm.io/gorm"
)

type IPBlockStore struct {
	BaseStore
}

func CreateIPBlockStore(db *gorm.DB) *IPBlockStore {
	return &IPBlockStore{BaseStore: BaseStore{db: db}}
}

func (s *IPBlockStore) GetActive(ctx context.Context, ip string) (*models.IPBlockEntry, error) {
	var entry models.IPBlockEntry
	if err := s.GetDB(ctx).First(&entry, "ip_address = ? AND is_active = ?", ip, true).Error; err != nil {
		return nil, translate(err, "active block for %s", ip)
	}
	return &entry, nil
}

func (s *IPBlockStore) GetByIP(ctx context.Context, ip string) (*models.IPBlockEntry, error) {
	var entry models.IPBlockEntry
	if err := s.GetDB(ctx).First(&entry, "ip_address = ?", ip).Error; err != nil {
		return nil, translate(err, "block entry for %s", ip)
	}
	return &entry, nil
}

func (s *IPBlockStore) Save(ctx context.Context, entry *models.IPBlockEntry) error {
	return translate(s.GetDB(ctx).Save(entry).Error, "save block entry for %s", entry.IPAddress)
}

// Deactivate clears an active entry; it reports whether a row changed.
func (s *IPBlockStore) Deactivate(ctx context.Context, ip string) (bool, error) {
	result := s.GetDB(ctx).Model(&models.IPBlockEntry{}).
		Where("ip_address = ? AND is_active = ?", ip, true).
		Update("is_active", false)
	if result.Error != nil {
		return false, translate(result.Error, "deactivate block for %s", ip)
	}
	return result.RowsAffected > 0, nil
}

func (s *IPBlockStore) CountActive(ctx context.Context) (int64, error) {
	var count int64
	if err := s.GetDB(ctx).Model(&models.IPBlockEntry{}).Where("is_active = ?", true).Count(&count).Error; err != nil {
		return 0, translate(err, "count active blocks")
	}
	return count, nil
}

func (s *IPBlockStore) ListActive(ctx context.Context) ([]*models.IPBlockEntry, error) {
	var entries []*models.IPBlockEntry
	if err := s.GetDB(ctx).Where("is_active = ?", true).Order("blocked_at DESC").Find(&entries).Error; err != nil {
		return nil, translate(err, "list active blocks")
	}
	return entries, nil
}
