package service

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/OasisMate/cartpos-sub000/internal/domain"
	"github.com/OasisMate/cartpos-sub000/internal/permission"
	"github.com/OasisMate/cartpos-sub000/internal/store"
)

const defaultLedgerLimit = 200

// StockLevel sums every ledger entry for one product.
func (s *Service) StockLevel(ctx context.Context, shopID string, productID string, principal domain.Principal) (domain.StockLevel, error) {
	if err := s.gate.Authorize(ctx, principal, shopID, permission.AnyRole...); err != nil {
		return domain.StockLevel{}, err
	}
	productID = normalizeID(productID)
	if _, err := s.repo.GetProduct(ctx, shopID, productID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.StockLevel{}, store.NotFound("product %s not found in shop", productID)
		}
		return domain.StockLevel{}, err
	}

	levels, err := s.repo.StockLevels(ctx, shopID, []string{productID})
	if err != nil {
		return domain.StockLevel{}, err
	}
	return domain.StockLevel{ProductID: productID, Quantity: levels[productID]}, nil
}

// StockLevels is the batch projection used by product listings: one grouped
// aggregation, served from the projection cache while the shop's ledger is
// unchanged. An empty productIDs returns every product with ledger entries.
func (s *Service) StockLevels(ctx context.Context, shopID string, productIDs []string, principal domain.Principal) ([]domain.StockLevel, error) {
	if err := s.gate.Authorize(ctx, principal, shopID, permission.AnyRole...); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		if id = normalizeID(id); id != "" {
			ids = append(ids, id)
		}
	}
	ids = uniqueIDs(ids)

	levels, gen, hit, cacheErr := s.projections.GetStock(ctx, shopID, ids)
	if cacheErr != nil {
		s.log.WithFields(logrus.Fields{"shop_id": shopID}).WithError(cacheErr).Warn("stock cache read failed")
	}
	if !hit {
		var err error
		levels, err = s.repo.StockLevels(ctx, shopID, ids)
		if err != nil {
			return nil, err
		}
		// Without a generation from the read there is nothing safe to fill.
		if cacheErr != nil {
			return stockLevelList(ids, levels), nil
		}
		if err := s.projections.SetStock(ctx, shopID, gen, ids, levels, s.cacheTTL); err != nil {
			s.log.WithFields(logrus.Fields{"shop_id": shopID}).WithError(err).Warn("stock cache write failed")
		}
	}

	return stockLevelList(ids, levels), nil
}

// stockLevelList reports every product in levels plus any requested id with
// no entries at zero, sorted by product id.
func stockLevelList(ids []string, levels map[string]decimal.Decimal) []domain.StockLevel {
	result := make([]domain.StockLevel, 0, len(levels))
	for id, qty := range levels {
		result = append(result, domain.StockLevel{ProductID: id, Quantity: qty})
	}
	for _, id := range ids {
		if _, ok := levels[id]; !ok {
			result = append(result, domain.StockLevel{ProductID: id, Quantity: decimal.Zero})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ProductID < result[j].ProductID
	})
	return result
}

func (s *Service) CreditBalance(ctx context.Context, shopID string, customerID string, principal domain.Principal) (domain.CreditBalance, error) {
	if err := s.gate.Authorize(ctx, principal, shopID, permission.AnyRole...); err != nil {
		return domain.CreditBalance{}, err
	}
	customerID = normalizeID(customerID)
	if _, err := s.repo.GetCustomer(ctx, shopID, customerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CreditBalance{}, store.NotFound("customer %s not found in shop", customerID)
		}
		return domain.CreditBalance{}, err
	}
	return creditBalance(ctx, s.repo, shopID, customerID)
}

func (s *Service) StockLedger(ctx context.Context, shopID string, productID string, limit int, principal domain.Principal) ([]domain.StockLedgerEntry, error) {
	if err := s.gate.Authorize(ctx, principal, shopID, permission.AnyRole...); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLedgerLimit
	}
	return s.repo.ListStockEntries(ctx, shopID, normalizeID(productID), limit)
}

func (s *Service) CustomerLedger(ctx context.Context, shopID string, customerID string, limit int, principal domain.Principal) ([]domain.CustomerLedgerEntry, error) {
	if err := s.gate.Authorize(ctx, principal, shopID, permission.AnyRole...); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLedgerLimit
	}
	return s.repo.ListCustomerEntries(ctx, shopID, normalizeID(customerID), limit)
}

func creditBalance(ctx context.Context, r store.Reader, shopID string, customerID string) (domain.CreditBalance, error) {
	debit, credit, err := r.CreditTotals(ctx, shopID, customerID)
	if err != nil {
		return domain.CreditBalance{}, err
	}
	return domain.CreditBalance{
		CustomerID: customerID,
		Debit:      debit,
		Credit:     credit,
		Balance:    debit.Sub(credit),
	}, nil
}
