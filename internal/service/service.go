package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"shopkeeper/backend/internal/cache"
	"shopkeeper/backend/internal/domain"
	"shopkeeper/backend/internal/lock"
	"shopkeeper/backend/internal/logging"
	"shopkeeper/backend/internal/store"
	"shopkeeper/backend/internal/xid"
)

var ErrForbidden = errors.New("admin role required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Logger       logrus.FieldLogger
	DashboardTTL time.Duration
	// PhoneRegion is the fallback ISO region for phone numbers when the shop
	// settings do not name one.
	PhoneRegion string
}

type Service struct {
	repo         store.Repository
	cache        cache.DashboardCache
	locker       lock.Locker
	logger       logrus.FieldLogger
	dashboardTTL time.Duration
	phoneRegion  string
	now          func() time.Time
	// dashboardGen counts invalidations; a dashboard computed across one is not cached.
	dashboardGen atomic.Int64
}

func New(repo store.Repository, dashboardCache cache.DashboardCache, locker lock.Locker, opts Options) *Service {
	if dashboardCache == nil {
		dashboardCache = cache.NoopDashboardCache{}
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.DashboardTTL <= 0 {
		opts.DashboardTTL = 30 * time.Second
	}
	if opts.PhoneRegion == "" {
		opts.PhoneRegion = "BD"
	}

	return &Service{
		repo:         repo,
		cache:        dashboardCache,
		locker:       locker,
		logger:       opts.Logger.WithField("component", "service"),
		dashboardTTL: opts.DashboardTTL,
		phoneRegion:  strings.ToUpper(opts.PhoneRegion),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.Username
	}
	return "system"
}

// withPartyLock runs fn while holding the ledger lock of one customer or supplier.
func (s *Service) withPartyLock(ctx context.Context, partyType string, partyID string, fn func() error) error {
	if partyID == "" {
		return fn()
	}
	return s.withLock(ctx, lock.PartyKey(partyType, partyID), fn)
}

func (s *Service) withLock(ctx context.Context, key string, fn func() error) error {
	release, err := s.locker.Acquire(ctx, key)
	if err != nil {
		logging.LogError(s.logger, "service", "withLock", "acquire lock", key, err)
		return err
	}
	defer release()
	return fn()
}

func (s *Service) GetShop(ctx context.Context) (domain.Shop, error) {
	shop, err := s.repo.GetShop(ctx)
	if err != nil {
		return domain.Shop{}, err
	}
	return *shop, nil
}

func (s *Service) UpdateShop(ctx context.Context, req domain.ShopUpdateRequest) (domain.Shop, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Shop{}, err
	}
	if err := validateStruct(req); err != nil {
		return domain.Shop{}, err
	}

	current, err := s.repo.GetShop(ctx)
	if err != nil {
		return domain.Shop{}, err
	}
	updated := *current
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
	}
	if req.Address != nil {
		updated.Address = strings.TrimSpace(*req.Address)
	}
	if req.Currency != nil {
		updated.Currency = strings.TrimSpace(*req.Currency)
	}
	if req.TaxRatePercent != nil {
		updated.TaxRatePercent = *req.TaxRatePercent
	}
	if req.TaxInclusive != nil {
		updated.TaxInclusive = *req.TaxInclusive
	}
	if req.Language != nil {
		updated.Language = *req.Language
	}
	if req.PhoneRegion != nil {
		updated.PhoneRegion = strings.ToUpper(*req.PhoneRegion)
	}
	if req.Phone != nil {
		phone, err := normalizePhone(*req.Phone, s.regionFor(&updated))
		if err != nil {
			return domain.Shop{}, err
		}
		updated.Phone = phone
	}

	saved, err := s.repo.SaveShop(ctx, updated)
	if err != nil {
		return domain.Shop{}, err
	}
	s.logAudit(ctx, "shop_update", "shop", "settings", fmt.Sprintf("tax=%.2f,inclusive=%t,currency=%s", saved.TaxRatePercent, saved.TaxInclusive, saved.Currency))
	return *saved, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fieldError("date", "must be YYYY-MM-DD")
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.WithFields(logrus.Fields{
			"action": action,
			"entity": entityType + "/" + entityID,
		}).WithError(err).Warn("failed to write audit log")
	}
}

// invalidateDashboard drops cached dashboard figures after a write. Failures
// only cost freshness for one TTL, so they are logged and ignored.
func (s *Service) invalidateDashboard(ctx context.Context) {
	s.dashboardGen.Add(1)
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.WithError(err).Warn("failed to invalidate dashboard cache")
	}
}

// parseRange reads optional YYYY-MM-DD bounds. Both bounds are inclusive days;
// the returned interval is [from, to+1day). Without bounds the range is the last
// month up to now.
func (s *Service) parseRange(fromRaw string, toRaw string) (time.Time, time.Time, error) {
	now := s.now()
	to := now
	from := now.AddDate(0, -1, 0)
	if strings.TrimSpace(toRaw) != "" {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(toRaw))
		if err != nil {
			return time.Time{}, time.Time{}, fieldError("to", "must be YYYY-MM-DD")
		}
		to = parsed.UTC().Add(24 * time.Hour)
	}
	if strings.TrimSpace(fromRaw) != "" {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(fromRaw))
		if err != nil {
			return time.Time{}, time.Time{}, fieldError("from", "must be YYYY-MM-DD")
		}
		from = parsed.UTC()
	} else if strings.TrimSpace(toRaw) != "" {
		from = to.AddDate(0, -1, 0)
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fieldError("from", "must be before to")
	}
	return from, to, nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
