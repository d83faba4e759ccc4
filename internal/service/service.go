package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/OasisMate/cartpos-sub000/internal/cache"
	"github.com/OasisMate/cartpos-sub000/internal/domain"
	"github.com/OasisMate/cartpos-sub000/internal/permission"
	"github.com/OasisMate/cartpos-sub000/internal/store"
	"github.com/OasisMate/cartpos-sub000/internal/xid"
)

// totalEpsilon is how far a client-computed sale total may drift from the
// server's sum of lines minus discount.
var totalEpsilon = decimal.New(1, -2)

type principalContextKey struct{}

func WithPrincipal(ctx context.Context, principal domain.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(domain.Principal)
	return principal, ok
}

// Service is the domain transaction layer. Every mutating call authorizes the
// principal, validates the payload, and applies its effect as one store unit.
type Service struct {
	repo        store.Repository
	gate        *permission.Gate
	projections cache.ProjectionCache
	cacheTTL    time.Duration
	log         *logrus.Entry
}

func New(repo store.Repository, projections cache.ProjectionCache, cacheTTL time.Duration, logger *logrus.Logger) *Service {
	if projections == nil {
		projections = cache.NoopProjectionCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Service{
		repo:        repo,
		gate:        permission.NewGate(repo),
		projections: projections,
		cacheTTL:    cacheTTL,
		log:         logger.WithField("component", "service"),
	}
}

func (s *Service) Gate() *permission.Gate {
	return s.gate
}

// afterLedgerWrite runs the best-effort side effects of a committed unit.
// Failures are logged, never returned: the ledger write already happened.
func (s *Service) afterLedgerWrite(ctx context.Context, shopID string, principal domain.Principal, action string, entityType string, entityID string, detail string) {
	if err := s.projections.Invalidate(ctx, shopID); err != nil {
		s.log.WithFields(logrus.Fields{"shop_id": shopID, "action": action}).WithError(err).Warn("stock cache invalidation failed")
	}
	s.logAudit(ctx, shopID, principal, action, entityType, entityID, detail)
}

func (s *Service) logAudit(ctx context.Context, shopID string, principal domain.Principal, action string, entityType string, entityID string, detail string) {
	actor := principal.ID
	if actor == "" {
		actor = "system"
	}

	entry := domain.AuditLog{
		ID:         xid.New("aud"),
		ShopID:     shopID,
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  xid.Stamp(),
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.log.WithFields(logrus.Fields{"shop_id": shopID, "action": action, "entity_id": entityID}).WithError(err).Warn("audit write failed")
	}
}

func (s *Service) AuditLogs(ctx context.Context, shopID string, limit int, principal domain.Principal) ([]domain.AuditLog, error) {
	if err := s.gate.Authorize(ctx, principal, shopID, permission.ManagerOrAbove...); err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, shopID, limit)
}

// lookupShop maps a missing shop to a not-found error naming it.
func lookupShop(ctx context.Context, r store.Reader, shopID string) (*domain.Shop, error) {
	shop, err := r.GetShop(ctx, shopID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.NotFound("shop %s not found", shopID)
	}
	return shop, err
}

func requireProducts(products map[string]domain.Product, productIDs []string) error {
	for _, id := range productIDs {
		product, ok := products[id]
		if !ok {
			return store.NotFound("product %s not found in shop", id)
		}
		if !product.Active {
			return store.Invalid("product %s is inactive", id)
		}
	}
	return nil
}

// negativeAfter compares stock levels before and after a unit and reports the
// products that end below zero because of it.
func negativeAfter(productIDs []string, products map[string]domain.Product, before map[string]decimal.Decimal, after map[string]decimal.Decimal) []domain.StockWarning {
	warnings := make([]domain.StockWarning, 0)
	for _, id := range productIDs {
		level := after[id]
		if !level.IsNegative() || !level.LessThan(before[id]) {
			continue
		}
		warnings = append(warnings, domain.StockWarning{
			ProductID:   id,
			ProductName: products[id].Name,
			Available:   before[id],
			Requested:   before[id].Sub(level),
		})
	}
	return warnings
}

func trackedIDs(products map[string]domain.Product, productIDs []string) []string {
	tracked := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		if products[id].TrackStock {
			tracked = append(tracked, id)
		}
	}
	return tracked
}

func uniqueIDs(ids []string) []string {
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(result, id) {
			result = append(result, id)
		}
	}
	return result
}

func normalizeID(id string) string {
	return strings.TrimSpace(id)
}
