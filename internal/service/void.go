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

// VoidSale reverses a completed sale with compensating rows. The original
// SALE entries, customer debit and payment stay as they are.
func (s *Service) VoidSale(ctx context.Context, shopID string, invoiceID string, req domain.VoidRequest, principal domain.Principal) (domain.VoidResult, error) {
	if err := s.gate.Authorize(ctx, principal, shopID, permission.ManagerOrAbove...); err != nil {
		return domain.VoidResult{}, err
	}
	invoiceID = normalizeID(invoiceID)
	if invoiceID == "" {
		return domain.VoidResult{}, store.Invalid("invoice id is required")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "voided"
	}

	var result domain.VoidResult
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		result = domain.VoidResult{}

		invoice, err := tx.LockInvoice(ctx, shopID, invoiceID)
		if errors.Is(err, store.ErrNotFound) {
			return store.NotFound("invoice %s not found", invoiceID)
		}
		if err != nil {
			return err
		}
		if invoice.Status == domain.InvoiceVoid {
			result = domain.VoidResult{Invoice: *invoice, AlreadyVoided: true}
			return nil
		}

		now := xid.Stamp()
		invoice.Status = domain.InvoiceVoid
		invoice.VoidReason = reason
		invoice.VoidedAt = &now
		if err := tx.MarkInvoiceVoid(ctx, *invoice); err != nil {
			return err
		}

		entries := make([]domain.StockLedgerEntry, 0, len(invoice.Lines))
		for _, line := range invoice.Lines {
			entries = append(entries, domain.StockLedgerEntry{
				ID:        xid.New("stk"),
				ShopID:    shopID,
				ProductID: line.ProductID,
				ChangeQty: line.Quantity,
				Type:      domain.StockAdjustment,
				RefType:   domain.RefInvoiceVoid,
				RefID:     line.ID,
				Note:      reason,
				CreatedBy: principal.ID,
				CreatedAt: now,
			})
		}
		if err := tx.InsertStockEntries(ctx, entries); err != nil {
			return err
		}

		switch invoice.PaymentStatus {
		case domain.PaymentStatusCredit:
			err := tx.InsertCustomerEntry(ctx, domain.CustomerLedgerEntry{
				ID:         xid.New("cle"),
				ShopID:     shopID,
				CustomerID: invoice.CustomerID,
				Type:       domain.CustomerAdjustment,
				Direction:  domain.Credit,
				Amount:     invoice.Total,
				RefType:    domain.RefInvoiceVoid,
				RefID:      invoice.ID,
				Note:       reason,
				CreatedBy:  principal.ID,
				CreatedAt:  now,
			})
			if err != nil {
				return err
			}
		case domain.PaymentStatusPaid:
			err := tx.InsertPayment(ctx, domain.Payment{
				ID:        xid.New("pay"),
				ShopID:    shopID,
				InvoiceID: invoice.ID,
				Amount:    invoice.Total.Neg(),
				Method:    invoice.PaymentMethod,
				Reversal:  true,
				Note:      fmt.Sprintf("reversal of invoice %d", invoice.Number),
				CreatedAt: now,
			})
			if err != nil {
				return err
			}
		}

		voided, err := tx.GetInvoice(ctx, shopID, invoiceID)
		if err != nil {
			return err
		}
		result = domain.VoidResult{Invoice: *voided}
		return nil
	})
	if err != nil {
		return domain.VoidResult{}, err
	}
	if result.AlreadyVoided {
		return result, nil
	}

	s.afterLedgerWrite(ctx, shopID, principal, "sale_void", "invoice", invoiceID,
		fmt.Sprintf("number=%d,total=%s,reason=%s", result.Invoice.Number, result.Invoice.Total, reason))
	return result, nil
}
