package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/OasisMate/cartpos-sub000/internal/domain"
	"github.com/OasisMate/cartpos-sub000/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("CARTPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set CARTPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func provisionShop(t *testing.T, s *Store) (string, string) {
	t.Helper()
	ctx := context.Background()
	stamp := time.Now().UnixNano()
	shopID := fmt.Sprintf("shop-it-%d", stamp)
	productID := fmt.Sprintf("prd-it-%d", stamp)

	if err := s.CreateShop(ctx, domain.Shop{ID: shopID, Name: "Integration"}); err != nil {
		t.Fatalf("create shop: %v", err)
	}
	if err := s.CreateProduct(ctx, domain.Product{
		ID:         productID,
		ShopID:     shopID,
		Name:       "Mie Instan",
		SalePrice:  decimal.RequireFromString("3500"),
		CostPrice:  decimal.RequireFromString("2700"),
		TrackStock: true,
		Active:     true,
	}); err != nil {
		t.Fatalf("create product: %v", err)
	}
	return shopID, productID
}

func TestLedgerSumsAndInvoiceDeleteRemovesEntries(t *testing.T) {
	s := openTestStore(t)
	shopID, productID := provisionShop(t, s)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertStockEntries(ctx, []domain.StockLedgerEntry{{
			ID: shopID + "-open", ShopID: shopID, ProductID: productID, ChangeQty: decimal.NewFromInt(10),
			Type: domain.StockAdjustment, RefType: domain.RefAdjustment, CreatedBy: "it", CreatedAt: now,
		}})
	})
	if err != nil {
		t.Fatalf("opening stock: %v", err)
	}

	invoiceID := shopID + "-inv"
	lineID := invoiceID + ":1"
	err = s.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockProducts(ctx, shopID, []string{productID}); err != nil {
			return err
		}
		number, err := tx.NextInvoiceNumber(ctx, shopID)
		if err != nil {
			return err
		}
		if number != 1 {
			return fmt.Errorf("expected first invoice number 1, got %d", number)
		}
		inv := domain.Invoice{
			ID: invoiceID, ShopID: shopID, Number: number,
			Subtotal: decimal.NewFromInt(10500), Discount: decimal.Zero, Total: decimal.NewFromInt(10500),
			PaymentStatus: domain.PaymentStatusPaid, PaymentMethod: "cash", Status: domain.InvoiceCompleted,
			CreatedBy: "it", CreatedAt: now,
			Lines: []domain.InvoiceLine{{
				ID: lineID, InvoiceID: invoiceID, ProductID: productID, ProductName: "Mie Instan",
				Quantity: decimal.NewFromInt(3), UnitPrice: decimal.NewFromInt(3500), LineTotal: decimal.NewFromInt(10500),
				UnitCost: decimal.NewFromInt(2700),
			}},
		}
		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}
		return tx.InsertStockEntries(ctx, []domain.StockLedgerEntry{{
			ID: lineID, ShopID: shopID, ProductID: productID, ChangeQty: decimal.NewFromInt(-3),
			Type: domain.StockSale, RefType: domain.RefInvoiceLine, RefID: lineID, CreatedBy: "it", CreatedAt: now,
		}})
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}

	levels, err := s.StockLevels(ctx, shopID, []string{productID})
	if err != nil {
		t.Fatalf("stock levels: %v", err)
	}
	if !levels[productID].Equal(decimal.NewFromInt(7)) {
		t.Fatalf("expected stock 7 after sale, got %s", levels[productID])
	}

	err = s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertInvoice(ctx, domain.Invoice{ID: invoiceID, ShopID: shopID, Number: 99, CreatedAt: now})
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on duplicate invoice id, got %v", err)
	}

	err = s.WithTx(ctx, func(tx store.Tx) error {
		return tx.DeleteInvoice(ctx, shopID, invoiceID)
	})
	if err != nil {
		t.Fatalf("delete invoice: %v", err)
	}
	if _, err := s.GetInvoice(ctx, shopID, invoiceID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected invoice to be gone, got %v", err)
	}
	levels, err = s.StockLevels(ctx, shopID, []string{productID})
	if err != nil {
		t.Fatalf("stock levels: %v", err)
	}
	if !levels[productID].Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected stock 10 after delete, got %s", levels[productID])
	}
}

func TestFailedUnitLeavesNoRows(t *testing.T) {
	s := openTestStore(t)
	shopID, productID := provisionShop(t, s)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertStockEntries(ctx, []domain.StockLedgerEntry{{
			ID: shopID + "-partial", ShopID: shopID, ProductID: productID, ChangeQty: decimal.NewFromInt(5),
			Type: domain.StockPurchase, RefType: domain.RefPurchaseLine, CreatedBy: "it", CreatedAt: time.Now().UTC(),
		}}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected unit error to surface unchanged, got %v", err)
	}
	if _, err := s.GetStockEntry(ctx, shopID, shopID+"-partial"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected rolled back entry to be absent, got %v", err)
	}
}
