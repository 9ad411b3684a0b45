package cache

import (
	"context"
	"sync/atomic"

	"github.com/malwarebo/paygate/models"
	"github.com/malwarebo/paygate/utils"
)

type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Sets    int64 `json:"sets"`
	Deletes int64 `json:"deletes"`
}

// RuleCache is a read-through cache of routing rules keyed by rule key.
// Cache failures are logged and treated as misses so routing never depends on redis.
type RuleCache struct {
	redis  *RedisCache
	prefix string

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
}

func CreateRuleCache(redis *RedisCache) *RuleCache {
	return &RuleCache{redis: redis, prefix: "paygate:rule:"}
}

func (rc *RuleCache) key(k models.RuleKey) string {
	return rc.prefix + k.String()
}

func (rc *RuleCache) Get(ctx context.Context, key models.RuleKey) (*models.Rule, bool) {
	var rule models.Rule
	found, err := rc.redis.GetJSON(ctx, rc.key(key), &rule)
	if err != nil {
		utils.Warn(ctx, "Rule cache read failed", map[string]interface{}{"rule_key": key.String(), "error": err})
	}
	if !found || err != nil {
		rc.misses.Add(1)
		return nil, false
	}
	rc.hits.Add(1)
	return &rule, true
}

func (rc *RuleCache) Set(ctx context.Context, rule *models.Rule) {
	if err := rc.redis.SetJSON(ctx, rc.key(rule.Key()), rule); err != nil {
		utils.Warn(ctx, "Rule cache write failed", map[string]interface{}{"rule_key": rule.Key().String(), "error": err})
		return
	}
	rc.sets.Add(1)
}

func (rc *RuleCache) Invalidate(ctx context.Context, key models.RuleKey) {
	if err := rc.redis.Delete(ctx, rc.key(key)); err != nil {
		utils.Warn(ctx, "Rule cache invalidation failed", map[string]interface{}{"rule_key": key.String(), "error": err})
		return
	}
	rc.deletes.Add(1)
}

func (rc *RuleCache) Stats() CacheStats {
	return CacheStats{
		Hits:    rc.hits.Load(),
		Misses:  rc.misses.Load(),
		Sets:    rc.sets.Load(),
		Deletes: rc.deletes.Load(),
	}
}

func (rc *RuleCache) HitRate() float64 {
	hits, misses := rc.hits.Load(), rc.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}
