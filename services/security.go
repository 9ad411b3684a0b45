package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/malwarebo/paygate/config"
	"github.com/malwarebo/paygate/models"
	"github.com/malwarebo/paygate/monitoring"
	"github.com/malwarebo/paygate/stores"
	"github.com/malwarebo/paygate/utils"
	pkgerrors "github.com/pkg/errors"
)

// Decision is the verdict of a guard check. Reason is user-facing.
type Decision struct {
	Allowed      bool       `json:"allowed"`
	Reason       string     `json:"reason"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}

func allow(reason string) Decision {
	return Decision{Allowed: true, Reason: reason}
}

type SecurityGuard interface {
	CheckRateLimit(ctx context.Context, identifier, identifierType, endpoint string, limit int, window time.Duration) Decision
	CheckIPBlacklist(ctx context.Context, ip string) Decision
	BlockIP(ctx context.Context, req *models.BlockIPRequest) (*models.IPBlockEntry, error)
	UnblockIP(ctx context.Context, ip string) error
	ListBlocks(ctx context.Context) ([]*models.IPBlockEntry, error)
	ResolveEvent(ctx context.Context, id, resolvedBy string) error
	ListEvents(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, int64, error)
	Summary(ctx context.Context, hours int) (*models.SecuritySummary, error)
	PurgeStaleWindows(ctx context.Context, olderThan time.Duration) (int64, error)
}

type SecurityGuardDeps struct {
	Windows     stores.RateLimitStore
	Blocks      IPBlockRepository
	Events      SecurityEventRepository
	Assessments FraudRepository
	Notifier    *monitoring.Notifier
	Metrics     *monitoring.Metrics
	Clock       func() time.Time
}

type securityGuard struct {
	windows     stores.RateLimitStore
	blocks      IPBlockRepository
	events      SecurityEventRepository
	assessments FraudRepository
	recorder    *eventRecorder
	metrics     *monitoring.Metrics
	cfg         config.SecurityConfig
	now         func() time.Time
}

func CreateSecurityGuard(deps SecurityGuardDeps, cfg config.SecurityConfig) SecurityGuard {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	if cfg.RateLimitRequests <= 0 {
		cfg.RateLimitRequests = 100
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Hour
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = time.Hour
	}
	return &securityGuard{
		windows:     deps.Windows,
		blocks:      deps.Blocks,
		events:      deps.Events,
		assessments: deps.Assessments,
		recorder:    &eventRecorder{events: deps.Events, notifier: deps.Notifier, metrics: deps.Metrics, now: clock},
		metrics:     deps.Metrics,
		cfg:         cfg,
		now:         clock,
	}
}

// CheckRateLimit counts one request against the fixed window for the key. A
// non-positive limit or window falls back to the configured default. Storage
// failures allow the request.
func (g *securityGuard) CheckRateLimit(ctx context.Context, identifier, identifierType, endpoint string, limit int, window time.Duration) Decision {
	if limit <= 0 {
		limit = g.cfg.RateLimitRequests
	}
	if window <= 0 {
		window = g.cfg.RateLimitWindow
	}

	now := g.now().UTC()
	key := stores.RateLimitKey{Identifier: identifier, IdentifierType: identifierType, Endpoint: endpoint}
	w, err := g.windows.Hit(ctx, key, limit, window, g.cfg.BlockDuration, now)
	if err != nil {
		utils.Error(ctx, "Rate limit check failed, allowing request", map[string]interface{}{
			"identifier":      identifier,
			"identifier_type": identifierType,
			"endpoint":        endpoint,
			"error":           err,
		})
		return allow("Rate limit check failed - allowing request")
	}

	if w.RequestCount <= limit {
		return allow("Rate limit OK")
	}

	blockedUntil := now.Add(g.cfg.BlockDuration)
	if w.BlockedUntil != nil {
		blockedUntil = w.BlockedUntil.UTC()
	}
	g.metrics.ObserveRateLimitRejection(identifierType)

	event := &models.SecurityEvent{
		EventType:   models.EventRateLimitExceeded,
		Severity:    models.SeverityHigh,
		Title:       fmt.Sprintf("Rate limit exceeded for %s: %s", identifierType, identifier),
		Description: fmt.Sprintf("Rate limit of %d requests per %d seconds exceeded. Current count: %d", limit, int(window.Seconds()), w.RequestCount),
		EventData: map[string]interface{}{
			"identifier":      identifier,
			"identifier_type": identifierType,
			"endpoint":        endpoint,
			"request_count":   w.RequestCount,
			"limit":           limit,
			"window_duration": int(window.Seconds()),
		},
	}
	if identifierType == models.IdentifierIP {
		event.IPAddress = identifier
	}
	if err := g.recorder.record(ctx, event); err != nil {
		utils.Error(ctx, "Failed to record rate limit event", map[string]interface{}{"identifier": identifier, "error": err})
	}

	return Decision{
		Allowed:      false,
		Reason:       fmt.Sprintf("Rate limit exceeded. Blocked until %s", blockedUntil.Format(time.RFC3339)),
		BlockedUntil: &blockedUntil,
	}
}

// CheckIPBlacklist rejects active blocks. An expired block is deactivated on the spot.
func (g *securityGuard) CheckIPBlacklist(ctx context.Context, ip string) Decision {
	entry, err := g.blocks.GetActive(ctx, ip)
	if errors.Is(err, utils.ErrNotFound) {
		return allow("IP not blacklisted")
	}
	if err != nil {
		utils.Error(ctx, "IP blacklist check failed, allowing request", map[string]interface{}{"ip": ip, "error": err})
		return allow("Blacklist check failed")
	}

	if entry.Expired(g.now()) {
		if _, err := g.blocks.Deactivate(ctx, ip); err != nil {
			utils.Warn(ctx, "Failed to deactivate expired IP block", map[string]interface{}{"ip": ip, "error": err})
		}
		return allow("Block expired")
	}

	g.metrics.ObserveIPBlockRejection()
	return Decision{Allowed: false, Reason: fmt.Sprintf("IP blocked: %s", entry.Reason), BlockedUntil: entry.ExpiresAt}
}

func (g *securityGuard) BlockIP(ctx context.Context, req *models.BlockIPRequest) (*models.IPBlockEntry, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}

	now := g.now().UTC()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, utils.NewValidationError("expires_at must be in the future")
	}

	entry, err := g.blocks.GetByIP(ctx, req.IPAddress)
	switch {
	case err == nil:
		if entry.IsActive && !entry.Expired(now) {
			return nil, pkgerrors.Wrapf(utils.ErrAlreadyExists, "IP %s already blocked", req.IPAddress)
		}
		entry.EventCount++
	case errors.Is(err, utils.ErrNotFound):
		entry = &models.IPBlockEntry{IPAddress: req.IPAddress, EventCount: 1}
	default:
		return nil, utils.NewPersistenceError("load ip block", err)
	}

	entry.Reason = req.Reason
	entry.BlockedBy = req.BlockedBy
	entry.BlockedAt = now
	entry.ExpiresAt = req.ExpiresAt
	entry.IsActive = true
	if err := g.blocks.Save(ctx, entry); err != nil {
		return nil, utils.NewPersistenceError("save ip block", err)
	}

	var expires interface{}
	if req.ExpiresAt != nil {
		expires = req.ExpiresAt.UTC().Format(time.RFC3339)
	}
	event := &models.SecurityEvent{
		EventType:   models.EventIPBlocked,
		Severity:    models.SeverityHigh,
		Title:       fmt.Sprintf("IP address blocked: %s", req.IPAddress),
		Description: fmt.Sprintf("IP address %s has been blocked. Reason: %s", req.IPAddress, req.Reason),
		IPAddress:   req.IPAddress,
		EventData: map[string]interface{}{
			"ip_address": req.IPAddress,
			"reason":     req.Reason,
			"blocked_by": req.BlockedBy,
			"expires_at": expires,
		},
	}
	if err := g.recorder.record(ctx, event); err != nil {
		utils.Error(ctx, "Failed to record ip block event", map[string]interface{}{"ip": req.IPAddress, "error": err})
	}
	return entry, nil
}

func (g *securityGuard) UnblockIP(ctx context.Context, ip string) error {
	changed, err := g.blocks.Deactivate(ctx, ip)
	if err != nil {
		return utils.NewPersistenceError("deactivate ip block", err)
	}
	if !changed {
		return pkgerrors.Wrapf(utils.ErrNotFound, "no active block for %s", ip)
	}
	utils.Info(ctx, "IP unblocked", map[string]interface{}{"ip": ip})
	return nil
}

// ListBlocks returns the blocks still in force. Expired entries are deactivated
// on the way, as CheckIPBlacklist would.
func (g *securityGuard) ListBlocks(ctx context.Context) ([]*models.IPBlockEntry, error) {
	entries, err := g.blocks.ListActive(ctx)
	if err != nil {
		return nil, utils.NewPersistenceError("list ip blocks", err)
	}

	now := g.now()
	live := make([]*models.IPBlockEntry, 0, len(entries))
	for _, entry := range entries {
		if !entry.Expired(now) {
			live = append(live, entry)
			continue
		}
		if _, err := g.blocks.Deactivate(ctx, entry.IPAddress); err != nil {
			utils.Warn(ctx, "Failed to deactivate expired IP block", map[string]interface{}{"ip": entry.IPAddress, "error": err})
		}
	}
	return live, nil
}

func (g *securityGuard) ResolveEvent(ctx context.Context, id, resolvedBy string) error {
	return g.events.Resolve(ctx, id, resolvedBy, g.now().UTC())
}

func (g *securityGuard) ListEvents(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, int64, error) {
	return g.events.List(ctx, filter)
}

func (g *securityGuard) Summary(ctx context.Context, hours int) (*models.SecuritySummary, error) {
	if hours <= 0 {
		hours = 24
	}
	now := g.now().UTC()
	since := now.Add(-time.Duration(hours) * time.Hour)

	byType, err := g.events.CountByType(ctx, since)
	if err != nil {
		return nil, utils.NewPersistenceError("count events by type", err)
	}
	bySeverity, err := g.events.CountBySeverity(ctx, since)
	if err != nil {
		return nil, utils.NewPersistenceError("count events by severity", err)
	}
	activeBlocks, err := g.blocks.CountActive(ctx)
	if err != nil {
		return nil, utils.NewPersistenceError("count ip blocks", err)
	}
	blockedWindows, err := g.windows.CountBlocked(ctx, now)
	if err != nil {
		return nil, utils.NewPersistenceError("count blocked windows", err)
	}
	pending, err := g.assessments.CountByStatus(ctx, models.AssessmentPending)
	if err != nil {
		return nil, utils.NewPersistenceError("count pending assessments", err)
	}
	recent, _, err := g.events.List(ctx, models.SecurityEventFilter{Since: &since, Limit: 10})
	if err != nil {
		return nil, utils.NewPersistenceError("list recent events", err)
	}

	return &models.SecuritySummary{
		PeriodHours:         hours,
		EventsByType:        byType,
		EventsBySeverity:    bySeverity,
		ActiveIPBlocks:      activeBlocks,
		BlockedWindows:      blockedWindows,
		PendingFraudReviews: pending,
		RecentEvents:        recent,
	}, nil
}

func (g *securityGuard) PurgeStaleWindows(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = g.cfg.StaleWindowMaxAge
	}
	if olderThan <= 0 {
		olderThan = 24 * time.Hour
	}
	purged, err := g.windows.PurgeStale(ctx, g.now().UTC().Add(-olderThan))
	if err != nil {
		return 0, utils.NewPersistenceError("purge rate limit windows", err)
	}
	utils.Info(ctx, "Purged stale rate limit windows", map[string]interface{}{"purged": purged})
	return purged, nil
}
