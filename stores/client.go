package stores

import (
	"context"

	"github.com/malwarebo/paygate/models"
	"gorm.io/gorm"
)

type ClientStore struct {
	BaseStore
}

func CreateClientStore(db *gorm.DB) *ClientStore {
	return &ClientStore{BaseStore: BaseStore{db: db}}
}

func (s *ClientStore) Create(ctx context.Context, client *models.Client) error {
	return translate(s.GetDB(ctx).Create(client).Error, "create client %s", client.AppID)
}

func (s *ClientStore) GetByID(ctx context.Context, id string) (*models.Client, error) {
	var client models.Client
	if err := s.GetDB(ctx).First(&client, "id = ?", id).Error; err != nil {
		return nil, translate(err, "client %s", id)
	}
	return &client, nil
}

func (s *ClientStore) GetByAppID(ctx context.Context, appID string) (*models.Client, error) {
	var client models.Client
	if err := s.GetDB(ctx).First(&client, "app_id = ?", appID).Error; err != nil {
		return nil, translate(err, "client with app id %s", appID)
	}
	return &client, nil
}

func (s *ClientStore) ListActive(ctx context.Context) ([]*models.Client, error) {
	var clients []*models.Client
	if err := s.GetDB(ctx).Where("is_active = ?", true).Order("created_at").Find(&clients).Error; err != nil {
		return nil, translate(err, "list active clients")
	}
	return clients, nil
}

func (s *ClientStore) CreateService(ctx context.Context, service *models.Service) error {
	return translate(s.GetDB(ctx).Create(service).Error, "create service %s", service.Name)
}

func (s *ClientStore) GetServiceByName(ctx context.Context, name string) (*models.Service, error) {
	var service models.Service
	if err := s.GetDB(ctx).First(&service, "name = ?", name).Error; err != nil {
		return nil, translate(err, "service %s", name)
	}
	return &service, nil
}

func (s *ClientStore) Grant(ctx context.Context, clientID, serviceID string) error {
	grant := &models.ClientService{ClientID: clientID, ServiceID: serviceID, IsActive: true}
	return translate(s.GetDB(ctx).Create(grant).Error, "grant service %s to client %s", serviceID, clientID)
}

func (s *ClientStore) HasGrant(ctx context.Context, clientID, serviceID string) (bool, error) {
	var count int64
	err := s.GetDB(ctx).Model(&models.ClientService{}).
		Where("client_id = ? AND service_id = ? AND is_active = ?", clientID, serviceID, true).
		Count(&count).Error
	if err != nil {
		return false, translate(err, "check grant")
	}
	return count > 0, nil
}
