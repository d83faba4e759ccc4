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

var supportedPaymentMethods = []string{"cash", "card", "transfer", "qris", "other"}

func (s *Service) RecordSale(ctx context.Context, shopID string, req domain.SaleRequest, principal domain.Principal) (domain.SaleResult, error) {
	if err := s.gate.Authorize(ctx, principal, shopID, permission.SellRoles...); err != nil {
		return domain.SaleResult{}, err
	}

	subtotal, total, err := normalizeSale(&req)
	if err != nil {
		return domain.SaleResult{}, err
	}
	if req.ID == "" {
		req.ID = xid.New("inv")
	}

	var result domain.SaleResult
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		result = domain.SaleResult{}

		existing, err := tx.GetInvoice(ctx, shopID, req.ID)
		if err == nil {
			result = domain.SaleResult{Invoice: *existing, Duplicate: true}
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		shop, err := lookupShop(ctx, tx, shopID)
		if err != nil {
			return err
		}

		productIDs := make([]string, 0, len(req.Items))
		requested := make(map[string]decimal.Decimal, len(req.Items))
		for _, item := range req.Items {
			productIDs = append(productIDs, item.ProductID)
			requested[item.ProductID] = requested[item.ProductID].Add(item.Quantity)
		}
		productIDs = uniqueIDs(productIDs)

		products, err := tx.LockProducts(ctx, shopID, productIDs)
		if err != nil {
			return err
		}
		if err := requireProducts(products, productIDs); err != nil {
			return err
		}

		if req.CustomerID != "" {
			if _, err := tx.GetCustomer(ctx, shopID, req.CustomerID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return store.NotFound("customer %s not found in shop", req.CustomerID)
				}
				return err
			}
		}

		warnings := make([]domain.StockWarning, 0)
		tracked := trackedIDs(products, productIDs)
		if len(tracked) > 0 {
			levels, err := tx.StockLevels(ctx, shopID, tracked)
			if err != nil {
				return err
			}
			for _, id := range tracked {
				if levels[id].Sub(requested[id]).IsNegative() {
					warnings = append(warnings, domain.StockWarning{
						ProductID:   id,
						ProductName: products[id].Name,
						Available:   levels[id],
						Requested:   requested[id],
					})
				}
			}
		}
		if len(warnings) > 0 && !shop.AllowNegativeStock {
			return insufficientStock(warnings)
		}

		number, err := tx.NextInvoiceNumber(ctx, shopID)
		if err != nil {
			return err
		}

		now := xid.Stamp()
		invoice := domain.Invoice{
			ID:            req.ID,
			ShopID:        shopID,
			Number:        number,
			CustomerID:    req.CustomerID,
			Subtotal:      subtotal,
			Discount:      req.Discount,
			Total:         total,
			PaymentStatus: req.PaymentStatus,
			PaymentMethod: req.PaymentMethod,
			Status:        domain.InvoiceCompleted,
			CreatedBy:     principal.ID,
			CreatedAt:     now,
			Lines:         make([]domain.InvoiceLine, 0, len(req.Items)),
		}
		entries := make([]domain.StockLedgerEntry, 0, len(req.Items))
		for i, item := range req.Items {
			product := products[item.ProductID]
			line := domain.InvoiceLine{
				ID:          xid.Line(invoice.ID, i),
				InvoiceID:   invoice.ID,
				ProductID:   item.ProductID,
				ProductName: product.Name,
				Quantity:    item.Quantity,
				UnitPrice:   item.UnitPrice,
				LineTotal:   item.Quantity.Mul(item.UnitPrice),
				UnitCost:    product.CostPrice,
			}
			invoice.Lines = append(invoice.Lines, line)
			entries = append(entries, domain.StockLedgerEntry{
				ID:        xid.New("stk"),
				ShopID:    shopID,
				ProductID: item.ProductID,
				ChangeQty: item.Quantity.Neg(),
				Type:      domain.StockSale,
				RefType:   domain.RefInvoiceLine,
				RefID:     line.ID,
				CreatedBy: principal.ID,
				CreatedAt: now,
			})
		}

		if err := tx.InsertInvoice(ctx, invoice); err != nil {
			return err
		}
		if err := tx.InsertStockEntries(ctx, entries); err != nil {
			return err
		}

		switch invoice.PaymentStatus {
		case domain.PaymentStatusPaid:
			payment := domain.Payment{
				ID:        xid.New("pay"),
				ShopID:    shopID,
				InvoiceID: invoice.ID,
				Amount:    total,
				Method:    invoice.PaymentMethod,
				CreatedAt: now,
			}
			if err := tx.InsertPayment(ctx, payment); err != nil {
				return err
			}
			invoice.Payments = []domain.Payment{payment}
		case domain.PaymentStatusCredit:
			err := tx.InsertCustomerEntry(ctx, domain.CustomerLedgerEntry{
				ID:         xid.New("cle"),
				ShopID:     shopID,
				CustomerID: invoice.CustomerID,
				Type:       domain.CustomerSaleUdhaar,
				Direction:  domain.Debit,
				Amount:     total,
				RefType:    domain.RefInvoice,
				RefID:      invoice.ID,
				CreatedBy:  principal.ID,
				CreatedAt:  now,
			})
			if err != nil {
				return err
			}
		}

		result = domain.SaleResult{Invoice: invoice, Warnings: warnings}
		return nil
	})
	if errors.Is(err, store.ErrConflict) {
		return s.replayedSale(ctx, shopID, req.ID)
	}
	if err != nil {
		return domain.SaleResult{}, err
	}
	if result.Duplicate {
		return result, nil
	}

	s.afterLedgerWrite(ctx, shopID, principal, "sale_record", "invoice", result.Invoice.ID,
		fmt.Sprintf("number=%d,total=%s,status=%s,warnings=%d", result.Invoice.Number, result.Invoice.Total, result.Invoice.PaymentStatus, len(result.Warnings)))
	return result, nil
}

// replayedSale resolves a primary key collision: the same id in this shop is
// an already-applied replay, anywhere else it is a genuine conflict.
func (s *Service) replayedSale(ctx context.Context, shopID string, id string) (domain.SaleResult, error) {
	existing, err := s.repo.GetInvoice(ctx, shopID, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.SaleResult{}, store.Conflict("invoice id %s is already in use", id)
	}
	if err != nil {
		return domain.SaleResult{}, err
	}
	return domain.SaleResult{Invoice: *existing, Duplicate: true}, nil
}

func (s *Service) GetInvoice(ctx context.Context, shopID string, invoiceID string, principal domain.Principal) (domain.Invoice, error) {
	if err := s.gate.Authorize(ctx, principal, shopID, permission.AnyRole...); err != nil {
		return domain.Invoice{}, err
	}
	invoice, err := s.repo.GetInvoice(ctx, shopID, normalizeID(invoiceID))
	if errors.Is(err, store.ErrNotFound) {
		return domain.Invoice{}, store.NotFound("invoice %s not found", invoiceID)
	}
	if err != nil {
		return domain.Invoice{}, err
	}
	return *invoice, nil
}

// normalizeSale validates the request shape and returns the server-side
// subtotal and total. The total kept is subtotal minus discount.
func normalizeSale(req *domain.SaleRequest) (decimal.Decimal, decimal.Decimal, error) {
	req.ID = normalizeID(req.ID)
	req.CustomerID = normalizeID(req.CustomerID)
	req.PaymentStatus = strings.ToLower(strings.TrimSpace(req.PaymentStatus))
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))

	if len(req.Items) == 0 {
		return decimal.Zero, decimal.Zero, store.Invalid("sale requires at least one item")
	}

	subtotal := decimal.Zero
	for i := range req.Items {
		item := &req.Items[i]
		item.ProductID = normalizeID(item.ProductID)
		if item.ProductID == "" {
			return decimal.Zero, decimal.Zero, store.Invalid("item %d: product_id is required", i+1)
		}
		if !item.Quantity.IsPositive() {
			return decimal.Zero, decimal.Zero, store.Invalid("item %d: quantity must be greater than zero", i+1)
		}
		if item.UnitPrice.IsNegative() {
			return decimal.Zero, decimal.Zero, store.Invalid("item %d: unit_price must not be negative", i+1)
		}
		subtotal = subtotal.Add(item.Quantity.Mul(item.UnitPrice))
	}

	if req.Discount.IsNegative() {
		return decimal.Zero, decimal.Zero, store.Invalid("discount must not be negative")
	}
	total := subtotal.Sub(req.Discount)
	if total.IsNegative() {
		return decimal.Zero, decimal.Zero, store.Invalid("discount %s exceeds subtotal %s", req.Discount, subtotal)
	}
	if total.Sub(req.Total).Abs().GreaterThan(totalEpsilon) {
		return decimal.Zero, decimal.Zero, store.Invalid("total %s does not match items %s minus discount %s", req.Total, subtotal, req.Discount)
	}

	switch req.PaymentStatus {
	case domain.PaymentStatusCredit:
		if req.CustomerID == "" {
			return decimal.Zero, decimal.Zero, store.Invalid("credit sale requires customer_id")
		}
	case domain.PaymentStatusPaid:
		if req.PaymentMethod == "" {
			return decimal.Zero, decimal.Zero, store.Invalid("paid sale requires payment_method")
		}
		if !isSupportedPaymentMethod(req.PaymentMethod) {
			return decimal.Zero, decimal.Zero, store.Invalid("unsupported payment_method %q", req.PaymentMethod)
		}
	default:
		return decimal.Zero, decimal.Zero, store.Invalid("payment_status must be paid or credit")
	}

	return subtotal, total, nil
}

func isSupportedPaymentMethod(method string) bool {
	for _, supported := range supportedPaymentMethods {
		if method == supported {
			return true
		}
	}
	return false
}

func insufficientStock(warnings []domain.StockWarning) error {
	parts := make([]string, 0, len(warnings))
	for _, w := range warnings {
		parts = append(parts, fmt.Sprintf("%s (available %s, requested %s)", w.ProductName, w.Available, w.Requested))
	}
	return store.InsufficientStock("insufficient stock: %s", strings.Join(parts, "; "))
}
