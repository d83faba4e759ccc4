package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/OasisMate/cartpos-sub000/internal/domain"
	"github.com/OasisMate/cartpos-sub000/internal/permission"
	"github.com/OasisMate/cartpos-sub000/internal/store"
)

// errPreviewRollback aborts a delete unit after computing its effect so a
// preview never commits.
var errPreviewRollback = errors.New("preview rollback")

var (
	invoiceRefTypes  = []string{domain.RefInvoice, domain.RefInvoiceLine, domain.RefInvoiceVoid}
	purchaseRefTypes = []string{domain.RefPurchaseLine}
)

// DeleteSale hard-deletes an invoice with its lines, payments and every ledger
// row referring to it.
func (s *Service) DeleteSale(ctx context.Context, shopID string, invoiceID string, principal domain.Principal) (domain.DeleteResult, error) {
	return s.deleteSale(ctx, shopID, invoiceID, principal, false)
}

func (s *Service) PreviewDeleteSale(ctx context.Context, shopID string, invoiceID string, principal domain.Principal) (domain.DeleteResult, error) {
	return s.deleteSale(ctx, shopID, invoiceID, principal, true)
}

// DeletePurchase hard-deletes a purchase and its stock entries. It stays
// permissive: stock already consumed by later sales may end negative, and the
// affected products come back as warnings.
func (s *Service) DeletePurchase(ctx context.Context, shopID string, purchaseID string, principal domain.Principal) (domain.DeleteResult, error) {
	return s.deletePurchase(ctx, shopID, purchaseID, principal, false)
}

func (s *Service) PreviewDeletePurchase(ctx context.Context, shopID string, purchaseID string, principal domain.Principal) (domain.DeleteResult, error) {
	return s.deletePurchase(ctx, shopID, purchaseID, principal, true)
}

func (s *Service) deleteSale(ctx context.Context, shopID string, invoiceID string, principal domain.Principal, preview bool) (domain.DeleteResult, error) {
	if err := s.gate.Authorize(ctx, principal, shopID, permission.ManagerOrAbove...); err != nil {
		return domain.DeleteResult{}, err
	}
	invoiceID = normalizeID(invoiceID)

	var result domain.DeleteResult
	var number int64
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		invoice, err := tx.LockInvoice(ctx, shopID, invoiceID)
		if errors.Is(err, store.ErrNotFound) {
			return store.NotFound("invoice %s not found", invoiceID)
		}
		if err != nil {
			return err
		}
		number = invoice.Number

		refIDs := []string{invoice.ID}
		productIDs := make([]string, 0, len(invoice.Lines))
		for _, line := range invoice.Lines {
			refIDs = append(refIDs, line.ID)
			productIDs = append(productIDs, line.ProductID)
		}

		warnings, err := deleteWithWarnings(ctx, tx, shopID, refIDs, uniqueIDs(productIDs), invoiceRefTypes, func() error {
			return tx.DeleteInvoice(ctx, shopID, invoice.ID)
		})
		if err != nil {
			return err
		}
		result = domain.DeleteResult{ID: invoice.ID, Deleted: !preview, Warnings: warnings}
		if preview {
			return errPreviewRollback
		}
		return nil
	})
	if errors.Is(err, errPreviewRollback) {
		return result, nil
	}
	if err != nil {
		return domain.DeleteResult{}, err
	}

	s.afterLedgerWrite(ctx, shopID, principal, "sale_delete", "invoice", invoiceID,
		fmt.Sprintf("number=%d,warnings=%d", number, len(result.Warnings)))
	return result, nil
}

func (s *Service) deletePurchase(ctx context.Context, shopID string, purchaseID string, principal domain.Principal, preview bool) (domain.DeleteResult, error) {
	if err := s.gate.Authorize(ctx, principal, shopID, permission.ManagerOrAbove...); err != nil {
		return domain.DeleteResult{}, err
	}
	purchaseID = normalizeID(purchaseID)

	var result domain.DeleteResult
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		purchase, err := tx.GetPurchase(ctx, shopID, purchaseID)
		if errors.Is(err, store.ErrNotFound) {
			return store.NotFound("purchase %s not found", purchaseID)
		}
		if err != nil {
			return err
		}

		refIDs := []string{purchase.ID}
		productIDs := make([]string, 0, len(purchase.Lines))
		for _, line := range purchase.Lines {
			refIDs = append(refIDs, line.ID)
			productIDs = append(productIDs, line.ProductID)
		}

		warnings, err := deleteWithWarnings(ctx, tx, shopID, refIDs, uniqueIDs(productIDs), purchaseRefTypes, func() error {
			return tx.DeletePurchase(ctx, shopID, purchase.ID)
		})
		if err != nil {
			return err
		}
		result = domain.DeleteResult{ID: purchase.ID, Deleted: !preview, Warnings: warnings}
		if preview {
			return errPreviewRollback
		}
		return nil
	})
	if errors.Is(err, errPreviewRollback) {
		return result, nil
	}
	if err != nil {
		return domain.DeleteResult{}, err
	}

	if len(result.Warnings) > 0 {
		s.log.WithField("shop_id", shopID).WithField("purchase_id", purchaseID).
			Warnf("purchase delete left %d product(s) with negative stock", len(result.Warnings))
	}
	s.afterLedgerWrite(ctx, shopID, principal, "purchase_delete", "purchase", purchaseID,
		fmt.Sprintf("warnings=%d", len(result.Warnings)))
	return result, nil
}

// deleteWithWarnings refuses when a row references the record with an
// unexpected ref type, runs del, and reports products that end negative.
func deleteWithWarnings(ctx context.Context, tx store.Tx, shopID string, refIDs []string, productIDs []string, allowedRefs []string, del func() error) ([]domain.StockWarning, error) {
	refs, err := tx.RefsTo(ctx, shopID, refIDs)
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		if !slices.Contains(allowedRefs, ref) {
			return nil, store.Conflict("record is referenced by %s entries and cannot be deleted", ref)
		}
	}

	products, err := tx.GetProducts(ctx, shopID, productIDs)
	if err != nil {
		return nil, err
	}
	tracked := trackedIDs(products, productIDs)
	if len(tracked) == 0 {
		return nil, del()
	}
	before, err := tx.StockLevels(ctx, shopID, tracked)
	if err != nil {
		return nil, err
	}

	if err := del(); err != nil {
		return nil, err
	}

	after, err := tx.StockLevels(ctx, shopID, tracked)
	if err != nil {
		return nil, err
	}
	return negativeAfter(tracked, products, before, after), nil
}
