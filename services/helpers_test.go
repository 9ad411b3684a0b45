package services

import (
	"context"
	"testing"
	"time"

	"github.com/malwarebo/paygate/config"
	"github.com/malwarebo/paygate/db"
	"github.com/malwarebo/paygate/models"
	"github.com/malwarebo/paygate/stores"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:"), db.GormConfig(false))
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.CreateSchemaMigrator(gdb).Up())
	return gdb
}

type fixture struct {
	db           *gorm.DB
	clients      *stores.ClientStore
	transactions *stores.TransactionStore
	rules        *stores.RuleStore
	assessments  *stores.FraudStore
	events       *stores.SecurityEventStore
	blocks       *stores.IPBlockStore
	windows      *stores.SQLRateLimitStore
	alertRules   *stores.AlertRuleStore
	alerts       *stores.AlertStore
}

func newFixture(t *testing.T) *fixture {
	gdb := setupTestDB(t)
	return &fixture{
		db:           gdb,
		clients:      stores.CreateClientStore(gdb),
		transactions: stores.CreateTransactionStore(gdb),
		rules:        stores.CreateRuleStore(gdb),
		assessments:  stores.CreateFraudStore(gdb),
		events:       stores.CreateSecurityEventStore(gdb),
		blocks:       stores.CreateIPBlockStore(gdb),
		windows:      stores.CreateSQLRateLimitStore(gdb),
		alertRules:   stores.CreateAlertRuleStore(gdb),
		alerts:       stores.CreateAlertStore(gdb),
	}
}

func (f *fixture) seedClient(t *testing.T, appID string, createdAt time.Time) *models.Client {
	t.Helper()
	client := &models.Client{AppID: appID, CompanyName: "Acme " + appID, IsActive: true, CreatedAt: createdAt}
	require.NoError(t, f.clients.Create(context.Background(), client))
	return client
}

func (f *fixture) seedService(t *testing.T, name string, grantTo ...*models.Client) *models.Service {
	t.Helper()
	ctx := context.Background()
	service := &models.Service{Name: name, DisplayName: name, IsActive: true}
	require.NoError(t, f.clients.CreateService(ctx, service))
	for _, c := range grantTo {
		require.NoError(t, f.clients.Grant(ctx, c.ID, service.ID))
	}
	return service
}

func (f *fixture) seedTransaction(t *testing.T, client *models.Client, service *models.Service, uniqueID, amount string, createdAt time.Time, status models.TransactionStatus) *models.Transaction {
	t.Helper()
	ctx := context.Background()
	tx := &models.Transaction{
		UniqueID:  uniqueID,
		ClientID:  client.ID,
		ServiceID: service.ID,
		Status:    models.TransactionStatusPending,
		Amount:    decimal.RequireFromString(amount),
		CreatedAt: createdAt,
	}
	require.NoError(t, f.transactions.Create(ctx, tx))
	if status.IsTerminal() {
		require.NoError(t, f.transactions.Finalize(ctx, tx.ID, status, map[string]interface{}{"status": "200"}))
		tx.Status = status
	}
	return tx
}

func defaultFraudConfig() config.FraudConfig {
	return config.FraudConfig{
		HighAmountThreshold: 10000,
		RapidCount:          5,
		RapidWindow:         300 * time.Second,
		UnusualHourStart:    22,
		UnusualHourEnd:      6,
		NewClientAge:        7 * 24 * time.Hour,
		Weights: config.FraudWeights{
			HighAmount:        0.3,
			RapidTransactions: 0.4,
			UnusualHours:      0.2,
			NewClient:         0.3,
		},
		ReviewThreshold:   0.5,
		HighRiskThreshold: 0.8,
	}
}

func paymentFields(appID, service, route, uniqueID string) models.RequestFields {
	return models.RequestFields{
		models.FieldService:           service,
		models.FieldMarker:            "PAY",
		models.FieldRoute:             route,
		models.FieldAppID:             appID,
		models.FieldAmount:            "250.00",
		models.FieldMobileNumber:      "256700000001",
		models.FieldUsername:          "merchant",
		models.FieldEncryptedPassword: "enc-secret",
		models.FieldPassword:          "secret",
		models.FieldDeviceID:          "device-1",
		models.FieldUniqueID:          uniqueID,
	}
}
