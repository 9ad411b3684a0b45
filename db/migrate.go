package db

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/malwarebo/paygate/models"
	"gorm.io/gorm"
)

type Migration struct {
	Version string
	Name    string
	Up      func(*gorm.DB) error
	Down    func(*gorm.DB) error
}

type Migrator struct {
	db         *gorm.DB
	migrations []Migration
}

func CreateNewMigrator(db *gorm.DB) *Migrator {
	return &Migrator{
		db:         db,
		migrations: make([]Migration, 0),
	}
}

// CreateSchemaMigrator returns a migrator preloaded with the gateway schema.
func CreateSchemaMigrator(db *gorm.DB) *Migrator {
	m := CreateNewMigrator(db)

	m.AddMigration("0001", "clients_and_services", func(tx *gorm.DB) error {
		return tx.AutoMigrate(&models.Client{}, &models.Service{}, &models.ClientService{})
	}, func(tx *gorm.DB) error {
		return tx.Migrator().DropTable(&models.ClientService{}, &models.Service{}, &models.Client{})
	})

	m.AddMigration("0002", "transactions_and_routing_rules", func(tx *gorm.DB) error {
		return tx.AutoMigrate(&models.Transaction{}, &models.Rule{})
	}, func(tx *gorm.DB) error {
		return tx.Migrator().DropTable(&models.Rule{}, &models.Transaction{})
	})

	m.AddMigration("0003", "risk_controls", func(tx *gorm.DB) error {
		return tx.AutoMigrate(
			&models.FraudAssessment{},
			&models.RateLimitWindow{},
			&models.IPBlockEntry{},
			&models.SecurityEvent{},
		)
	}, func(tx *gorm.DB) error {
		return tx.Migrator().DropTable(
			&models.SecurityEvent{},
			&models.IPBlockEntry{},
			&models.RateLimitWindow{},
			&models.FraudAssessment{},
		)
	})

	m.AddMigration("0004", "alerting", func(tx *gorm.DB) error {
		return tx.AutoMigrate(&models.AlertRule{}, &models.Alert{})
	}, func(tx *gorm.DB) error {
		return tx.Migrator().DropTable(&models.Alert{}, &models.AlertRule{})
	})

	return m
}

func (m *Migrator) AddMigration(version, name string, up, down func(*gorm.DB) error) {
	m.migrations = append(m.migrations, Migration{
		Version: version,
		Name:    name,
		Up:      up,
		Down:    down,
	})
}

// LoadMigrationsFromDir appends NNNN_name.sql files after the built-in schema.
func (m *Migrator) LoadMigrationsFromDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}

	sort.Strings(files)

	for _, file := range files {
		filename := filepath.Base(file)
		parts := strings.Split(filename, "_")
		if len(parts) < 2 {
			continue
		}

		version := parts[0]
		name := strings.TrimSuffix(strings.Join(parts[1:], "_"), ".sql")

		content, err := os.ReadFile(file)
		if err != nil {
			return err
		}

		sql := string(content)
		m.AddMigration(version, name, func(db *gorm.DB) error {
			return db.Exec(sql).Error
		}, func(db *gorm.DB) error {
			return nil
		})
	}

	return nil
}

func (m *Migrator) Up() error {
	if err := m.createMigrationsTable(); err != nil {
		return err
	}

	applied, err := m.getAppliedMigrations()
	if err != nil {
		return err
	}

	for _, migration := range m.migrations {
		if applied[migration.Version] {
			continue
		}

		err := m.db.Transaction(func(tx *gorm.DB) error {
			if err := migration.Up(tx); err != nil {
				return err
			}
			return recordMigration(tx, migration.Version, migration.Name)
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %s: %v", migration.Version, err)
		}
	}

	return nil
}

// Down rolls back every applied migration newer than version. version must
// name a known migration.
func (m *Migrator) Down(version string) error {
	known := false
	for _, migration := range m.migrations {
		if migration.Version == version {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown migration version %q", version)
	}

	applied, err := m.getAppliedMigrations()
	if err != nil {
		return err
	}

	for i := len(m.migrations) - 1; i >= 0; i-- {
		migration := m.migrations[i]
		if migration.Version == version {
			break
		}

		if !applied[migration.Version] {
			continue
		}

		if err := migration.Down(m.db); err != nil {
			return fmt.Errorf("failed to rollback migration %s: %v", migration.Version, err)
		}

		if err := m.db.Exec("DELETE FROM schema_migrations WHERE version = ?", migration.Version).Error; err != nil {
			return err
		}
	}

	return nil
}

func (m *Migrator) createMigrationsTable() error {
	return m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`).Error
}

func (m *Migrator) getAppliedMigrations() (map[string]bool, error) {
	var results []struct {
		Version string
	}

	if err := m.db.Table("schema_migrations").Select("version").Find(&results).Error; err != nil {
		return nil, err
	}

	applied := make(map[string]bool)
	for _, result := range results {
		applied[result.Version] = true
	}

	return applied, nil
}

func recordMigration(tx *gorm.DB, version, name string) error {
	return tx.Exec(`
		INSERT INTO schema_migrations (version, name)
		VALUES (?, ?)
		ON CONFLICT (version) DO NOTHING
	`, version, name).Error
}

func (m *Migrator) Status() ([]MigrationStatus, error) {
	if err := m.createMigrationsTable(); err != nil {
		return nil, err
	}

	applied, err := m.getAppliedMigrations()
	if err != nil {
		return nil, err
	}

	var statuses []MigrationStatus
	for _, migration := range m.migrations {
		statuses = append(statuses, MigrationStatus{
			Version: migration.Version,
			Name:    migration.Name,
			Applied: applied[migration.Version],
		})
	}

	return statuses, nil
}

type MigrationStatus struct {
	Version string
	Name    string
	Applied bool
}
