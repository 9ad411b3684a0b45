package stores

import (
	"context"

	"github.com/malwarebo/paygate/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/dbresolver"
)

type RuleStore struct {
	BaseStore
}

func CreateRuleStore(db *gorm.DB) *RuleStore {
	return &RuleStore{BaseStore: BaseStore{db: db}}
}

var ruleKeyColumns = []clause.Column{
	{Name: "app_id"},
	{Name: "service_name"},
	{Name: "route_name"},
	{Name: "phase"},
}

var ruleDefinitionColumns = []string{
	"action",
	"target",
	"tpl_status",
	"tpl_type",
	"tpl_message",
	"tpl_version",
	"tpl_app_name",
	"tpl_entity_name",
	"tpl_country",
	"updated_at",
}

func (s *RuleStore) Get(ctx context.Context, key models.RuleKey) (*models.Rule, error) {
	var rule models.Rule
	err := s.GetDB(ctx).Clauses(dbresolver.Write).
		Where("app_id = ? AND service_name = ? AND route_name = ? AND phase = ?",
			key.AppID, key.ServiceName, key.RouteName, key.Phase).
		First(&rule).Error
	if err != nil {
		return nil, translate(err, "rule %s", key)
	}
	return &rule, nil
}

// Upsert inserts the rule or replaces the definition stored under its key in one statement.
func (s *RuleStore) Upsert(ctx context.Context, rule *models.Rule) error {
	err := s.GetDB(ctx).Clauses(clause.OnConflict{
		Columns:   ruleKeyColumns,
		DoUpdates: clause.AssignmentColumns(ruleDefinitionColumns),
	}).Create(rule).Error
	return translate(err, "upsert rule %s", rule.Key())
}
