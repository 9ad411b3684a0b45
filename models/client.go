package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Client is a merchant application allowed to route requests through the gateway.
type Client struct {
	ID          string    `json:"id" gorm:"primaryKey;type:uuid"`
	AppID       string    `json:"app_id" gorm:"uniqueIndex;not null"`
	CompanyName string    `json:"company_name" gorm:"not null"`
	IsActive    bool      `json:"is_active" gorm:"not null"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

type Service struct {
	ID          string    `json:"id" gorm:"primaryKey;type:uuid"`
	Name        string    `json:"name" gorm:"uniqueIndex;not null"`
	DisplayName string    `json:"display_name"`
	IsActive    bool      `json:"is_active" gorm:"not null"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// ClientService grants a client access to a service.
type ClientService struct {
	ID        string    `json:"id" gorm:"primaryKey;type:uuid"`
	ClientID  string    `json:"client_id" gorm:"not null;uniqueIndex:idx_client_service"`
	ServiceID string    `json:"service_id" gorm:"not null;uniqueIndex:idx_client_service"`
	IsActive  bool      `json:"is_active" gorm:"not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (c *Client) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

func (s *Service) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

func (cs *ClientService) BeforeCreate(tx *gorm.DB) error {
	if cs.ID == "" {
		cs.ID = uuid.NewString()
	}
	return nil
}
