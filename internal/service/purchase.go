package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/OasisMate/cartpos-sub000/internal/domain"
	"github.com/OasisMate/cartpos-sub000/internal/permission"
	"github.com/OasisMate/cartpos-sub000/internal/store"
	"github.com/OasisMate/cartpos-sub000/internal/xid"
)

func (s *Service) RecordPurchase(ctx context.Context, shopID string, req domain.PurchaseRequest, principal domain.Principal) (domain.PurchaseResult, error) {
	if err := s.gate.Authorize(ctx, principal, shopID, permission.ManagerOrAbove...); err != nil {
		return domain.PurchaseResult{}, err
	}
	if err := normalizePurchase(&req); err != nil {
		return domain.PurchaseResult{}, err
	}
	if req.ID == "" {
		req.ID = xid.New("pur")
	}

	var result domain.PurchaseResult
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		result = domain.PurchaseResult{}

		existing, err := tx.GetPurchase(ctx, shopID, req.ID)
		if err == nil {
			result = domain.PurchaseResult{Purchase: *existing, Duplicate: true}
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if _, err := lookupShop(ctx, tx, shopID); err != nil {
			return err
		}

		purchase := domain.Purchase{
			ID:        req.ID,
			ShopID:    shopID,
			Reference: req.Reference,
			Notes:     req.Notes,
			TotalCost: decimal.Zero,
			CreatedBy: principal.ID,
			CreatedAt: xid.Stamp(),
			Lines:     make([]domain.PurchaseLine, 0, len(req.Lines)),
		}

		if req.SupplierID != "" {
			supplier, err := tx.GetSupplier(ctx, shopID, req.SupplierID)
			if errors.Is(err, store.ErrNotFound) {
				return store.NotFound("supplier %s not found in shop", req.SupplierID)
			}
			if err != nil {
				return err
			}
			purchase.SupplierID = supplier.ID
			purchase.SupplierName = supplier.Name
		}

		productIDs := make([]string, 0, len(req.Lines))
		for _, line := range req.Lines {
			productIDs = append(productIDs, line.ProductID)
		}
		productIDs = uniqueIDs(productIDs)
		products, err := tx.LockProducts(ctx, shopID, productIDs)
		if err != nil {
			return err
		}
		if err := requireProducts(products, productIDs); err != nil {
			return err
		}

		latestCost := make(map[string]decimal.Decimal)
		entries := make([]domain.StockLedgerEntry, 0, len(req.Lines))
		for i, lineReq := range req.Lines {
			product := products[lineReq.ProductID]
			cost := product.CostPrice
			if lineReq.UnitCost.Valid {
				cost = lineReq.UnitCost.Decimal
				latestCost[product.ID] = cost
			}

			line := domain.PurchaseLine{
				ID:          xid.Line(purchase.ID, i),
				PurchaseID:  purchase.ID,
				ProductID:   product.ID,
				ProductName: product.Name,
				Quantity:    lineReq.Quantity,
				UnitCost:    lineReq.UnitCost,
				LineTotal:   lineReq.Quantity.Mul(cost),
			}
			purchase.Lines = append(purchase.Lines, line)
			purchase.TotalCost = purchase.TotalCost.Add(line.LineTotal)

			entries = append(entries, domain.StockLedgerEntry{
				ID:        xid.New("stk"),
				ShopID:    shopID,
				ProductID: product.ID,
				ChangeQty: lineReq.Quantity,
				Type:      domain.StockPurchase,
				RefType:   domain.RefPurchaseLine,
				RefID:     line.ID,
				CreatedBy: principal.ID,
				CreatedAt: purchase.CreatedAt,
			})
		}

		if err := tx.InsertPurchase(ctx, purchase); err != nil {
			return err
		}
		if err := tx.InsertStockEntries(ctx, entries); err != nil {
			return err
		}
		for _, id := range productIDs {
			cost, ok := latestCost[id]
			if !ok {
				continue
			}
			if err := tx.UpdateProductCost(ctx, shopID, id, cost); err != nil {
				return err
			}
		}

		result = domain.PurchaseResult{Purchase: purchase}
		return nil
	})
	if errors.Is(err, store.ErrConflict) {
		return s.replayedPurchase(ctx, shopID, req.ID)
	}
	if err != nil {
		return domain.PurchaseResult{}, err
	}
	if result.Duplicate {
		return result, nil
	}

	s.afterLedgerWrite(ctx, shopID, principal, "purchase_record", "purchase", result.Purchase.ID,
		fmt.Sprintf("lines=%d,total_cost=%s,supplier=%s", len(result.Purchase.Lines), result.Purchase.TotalCost, result.Purchase.SupplierID))
	return result, nil
}

func (s *Service) replayedPurchase(ctx context.Context, shopID string, id string) (domain.PurchaseResult, error) {
	existing, err := s.repo.GetPurchase(ctx, shopID, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.PurchaseResult{}, store.Conflict("purchase id %s is already in use", id)
	}
	if err != nil {
		return domain.PurchaseResult{}, err
	}
	return domain.PurchaseResult{Purchase: *existing, Duplicate: true}, nil
}

func (s *Service) GetPurchase(ctx context.Context, shopID string, purchaseID string, principal domain.Principal) (domain.Purchase, error) {
	if err := s.gate.Authorize(ctx, principal, shopID, permission.AnyRole...); err != nil {
		return domain.Purchase{}, err
	}
	purchase, err := s.repo.GetPurchase(ctx, shopID, normalizeID(purchaseID))
	if errors.Is(err, store.ErrNotFound) {
		return domain.Purchase{}, store.NotFound("purchase %s not found", purchaseID)
	}
	if err != nil {
		return domain.Purchase{}, err
	}
	return *purchase, nil
}

func normalizePurchase(req *domain.PurchaseRequest) error {
	req.ID = normalizeID(req.ID)
	req.SupplierID = normalizeID(req.SupplierID)
	req.Reference = strings.TrimSpace(req.Reference)
	req.Notes = strings.TrimSpace(req.Notes)

	if len(req.Lines) == 0 {
		return store.Invalid("purchase requires at least one line")
	}
	for i := range req.Lines {
		line := &req.Lines[i]
		line.ProductID = normalizeID(line.ProductID)
		if line.ProductID == "" {
			return store.Invalid("line %d: product_id is required", i+1)
		}
		if !line.Quantity.IsPositive() {
			return store.Invalid("line %d: quantity must be greater than zero", i+1)
		}
		if line.UnitCost.Valid && line.UnitCost.Decimal.IsNegative() {
			return store.Invalid("line %d: unit_cost must not be negative", i+1)
		}
	}
	return nil
}
