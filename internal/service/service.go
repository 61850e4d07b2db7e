package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"excisepos/backend/internal/billing"
	"excisepos/backend/internal/cache"
	"excisepos/backend/internal/cart"
	"excisepos/backend/internal/catalog"
	"excisepos/backend/internal/domain"
	"excisepos/backend/internal/store"
)

const defaultDuplicateWindow = 5 * time.Second

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service owns checkout, the stock ledger and its archive.
type Service struct {
	repo             store.Repository
	catalog          catalog.ItemCatalog
	carts            cart.Store
	guard            cache.SubmissionGuard
	caps             billing.CapProvider
	allocator        *billing.Allocator
	logger           *zap.Logger
	now              func() time.Time
	location         *time.Location
	defaultCompanyID string
	duplicateWindow  time.Duration
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the time zone that decides which calendar day and month
// a moment belongs to.
func WithLocation(location *time.Location) Option {
	return func(s *Service) {
		if location != nil {
			s.location = location
		}
	}
}

func WithCatalog(itemCatalog catalog.ItemCatalog) Option {
	return func(s *Service) {
		if itemCatalog != nil {
			s.catalog = itemCatalog
		}
	}
}

func WithCartStore(carts cart.Store) Option {
	return func(s *Service) {
		if carts != nil {
			s.carts = carts
		}
	}
}

func WithSubmissionGuard(guard cache.SubmissionGuard, window time.Duration) Option {
	return func(s *Service) {
		if guard != nil {
			s.guard = guard
		}
		if window > 0 {
			s.duplicateWindow = window
		}
	}
}

func New(repo store.Repository, caps billing.CapProvider, allocator *billing.Allocator, defaultCompanyID string, opts ...Option) *Service {
	if defaultCompanyID == "" {
		defaultCompanyID = "main-store"
	}
	if caps == nil {
		caps = billing.CapTable{}
	}

	s := &Service{
		repo:             repo,
		caps:             caps,
		allocator:        allocator,
		logger:           zap.NewNop(),
		now:              time.Now,
		location:         time.UTC,
		defaultCompanyID: defaultCompanyID,
		duplicateWindow:  defaultDuplicateWindow,
		guard:            cache.NoopSubmissionGuard{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.allocator == nil {
		s.allocator = billing.NewAllocator(billing.NumberFormat{Prefix: billing.DefaultPrefix}, billing.DefaultMaxAttempts, s.logger)
	}
	if s.catalog == nil {
		s.catalog = catalog.New(repo, nil, 0, s.logger)
	}
	if s.carts == nil {
		s.carts = cart.NewMemoryStore(cart.DefaultTTL)
	}
	return s
}

// companyFor picks the company of the authenticated actor, then the
// explicit value, then the default.
func (s *Service) companyFor(ctx context.Context, explicit string) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.CompanyID != "" {
		return actor.CompanyID
	}
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	return s.defaultCompanyID
}

// today is the current business day.
func (s *Service) today() time.Time {
	return domain.Day(s.now().In(s.location))
}

func (s *Service) currentPeriod() domain.Period {
	return domain.PeriodOf(s.today())
}

// dayOrToday parses an optional YYYY-MM-DD date.
func (s *Service) dayOrToday(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s.today(), nil
	}
	return domain.ParseDay(raw)
}

func normalizeCode(code string) string {
	return strings.TrimSpace(code)
}
