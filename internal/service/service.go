package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"stockledger/backend/internal/calendar"
	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/ledger"
	"stockledger/backend/internal/store"
	"stockledger/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	CreditPolicy   domain.CreditPolicy
	CreditTermDays int
	MaxAmount      int64
}

// Service is the only writer of stock and credit state. Policy decisions
// (credit limits, payment status, due dates) live here; the repository
// applies their effects atomically.
type Service struct {
	repo     store.Repository
	cal      *calendar.Calendar
	bounds   ledger.Bounds
	policy   domain.CreditPolicy
	termDays int
	logger   logrus.FieldLogger
}

func New(repo store.Repository, cal *calendar.Calendar, opts Options, logger logrus.FieldLogger) *Service {
	if opts.CreditPolicy == "" {
		opts.CreditPolicy = domain.CreditPolicyStrict
	}
	if opts.CreditTermDays < 0 {
		opts.CreditTermDays = 0
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Service{
		repo:     repo,
		cal:      cal,
		bounds:   ledger.NewBounds(opts.MaxAmount),
		policy:   opts.CreditPolicy,
		termDays: opts.CreditTermDays,
		logger:   logger.WithField("module", "service"),
	}
}

func (s *Service) CreditPolicy() domain.CreditPolicy {
	return s.policy
}

func (s *Service) ListAuditLogs(ctx context.Context, entityID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, entityID, limit)
}

func (s *Service) now() time.Time {
	return s.cal.Now().UTC()
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
