package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OasisMate/cartpos-sub000/internal/domain"
	"github.com/OasisMate/cartpos-sub000/internal/permission"
	"github.com/OasisMate/cartpos-sub000/internal/store"
	"github.com/OasisMate/cartpos-sub000/internal/xid"
)

var adjustmentTypes = []domain.StockEntryType{
	domain.StockAdjustment,
	domain.StockDamage,
	domain.StockExpiry,
	domain.StockReturn,
	domain.StockSelfUse,
}

// RecordStockAdjustment posts one signed ledger entry with no header row.
// The shop's negative-stock policy does not apply: adjustments record what
// physically happened.
func (s *Service) RecordStockAdjustment(ctx context.Context, shopID string, req domain.StockAdjustmentRequest, principal domain.Principal) (domain.StockAdjustmentResult, error) {
	if err := s.gate.Authorize(ctx, principal, shopID, permission.ManagerOrAbove...); err != nil {
		return domain.StockAdjustmentResult{}, err
	}

	req.ID = normalizeID(req.ID)
	req.ProductID = normalizeID(req.ProductID)
	req.Note = strings.TrimSpace(req.Note)
	req.Type = domain.StockEntryType(strings.ToUpper(strings.TrimSpace(string(req.Type))))
	if req.Type == "" {
		req.Type = domain.StockAdjustment
	}
	if req.ProductID == "" {
		return domain.StockAdjustmentResult{}, store.Invalid("product_id is required")
	}
	if req.Quantity.IsZero() {
		return domain.StockAdjustmentResult{}, store.Invalid("quantity must not be zero")
	}
	if !isAdjustmentType(req.Type) {
		return domain.StockAdjustmentResult{}, store.Invalid("unsupported adjustment type %q", req.Type)
	}
	if req.ID == "" {
		req.ID = xid.New("adj")
	}

	var result domain.StockAdjustmentResult
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		result = domain.StockAdjustmentResult{}

		existing, err := tx.GetStockEntry(ctx, shopID, req.ID)
		if err == nil {
			levels, err := tx.StockLevels(ctx, shopID, []string{existing.ProductID})
			if err != nil {
				return err
			}
			current := levels[existing.ProductID]
			result = domain.StockAdjustmentResult{
				Entry:         *existing,
				PreviousStock: current.Sub(existing.ChangeQty),
				NewStock:      current,
				Duplicate:     true,
			}
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		products, err := tx.LockProducts(ctx, shopID, []string{req.ProductID})
		if err != nil {
			return err
		}
		if err := requireProducts(products, []string{req.ProductID}); err != nil {
			return err
		}
		if !products[req.ProductID].TrackStock {
			return store.Invalid("product %s does not track stock", req.ProductID)
		}

		levels, err := tx.StockLevels(ctx, shopID, []string{req.ProductID})
		if err != nil {
			return err
		}
		previous := levels[req.ProductID]

		entry := domain.StockLedgerEntry{
			ID:        req.ID,
			ShopID:    shopID,
			ProductID: req.ProductID,
			ChangeQty: req.Quantity,
			Type:      req.Type,
			RefType:   domain.RefAdjustment,
			Note:      req.Note,
			CreatedBy: principal.ID,
			CreatedAt: xid.Stamp(),
		}
		if err := tx.InsertStockEntries(ctx, []domain.StockLedgerEntry{entry}); err != nil {
			return err
		}

		result = domain.StockAdjustmentResult{
			Entry:         entry,
			PreviousStock: previous,
			NewStock:      previous.Add(req.Quantity),
		}
		return nil
	})
	if errors.Is(err, store.ErrConflict) {
		existing, lookupErr := s.repo.GetStockEntry(ctx, shopID, req.ID)
		if lookupErr != nil {
			return domain.StockAdjustmentResult{}, store.Conflict("stock entry id %s is already in use", req.ID)
		}
		levels, lookupErr := s.repo.StockLevels(ctx, shopID, []string{existing.ProductID})
		if lookupErr != nil {
			return domain.StockAdjustmentResult{}, lookupErr
		}
		current := levels[existing.ProductID]
		return domain.StockAdjustmentResult{Entry: *existing, PreviousStock: current.Sub(existing.ChangeQty), NewStock: current, Duplicate: true}, nil
	}
	if err != nil {
		return domain.StockAdjustmentResult{}, err
	}
	if result.Duplicate {
		return result, nil
	}

	s.afterLedgerWrite(ctx, shopID, principal, "stock_adjust", "product", req.ProductID,
		fmt.Sprintf("type=%s,qty=%s,before=%s,after=%s", result.Entry.Type, result.Entry.ChangeQty, result.PreviousStock, result.NewStock))
	return result, nil
}

func isAdjustmentType(t domain.StockEntryType) bool {
	for _, allowed := range adjustmentTypes {
		if t == allowed {
			return true
		}
	}
	return false
}
