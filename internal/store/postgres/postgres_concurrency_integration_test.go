package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/OasisMate/cartpos-sub000/internal/cache"
	"github.com/OasisMate/cartpos-sub000/internal/domain"
	"github.com/OasisMate/cartpos-sub000/internal/logging"
	"github.com/OasisMate/cartpos-sub000/internal/service"
	"github.com/OasisMate/cartpos-sub000/internal/store"
)

func provisionCashier(t *testing.T, s *Store, shopID string, productID string, opening int64) domain.Principal {
	t.Helper()
	ctx := context.Background()
	cashier := domain.Principal{ID: shopID + "-cashier"}
	if err := s.GrantRole(ctx, domain.Membership{PrincipalID: cashier.ID, ShopID: shopID, Role: domain.RoleCashier, Active: true}); err != nil {
		t.Fatalf("grant role: %v", err)
	}
	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertStockEntries(ctx, []domain.StockLedgerEntry{{
			ID: shopID + "-opening", ShopID: shopID, ProductID: productID, ChangeQty: decimal.NewFromInt(opening),
			Type: domain.StockAdjustment, RefType: domain.RefAdjustment, CreatedBy: "it", CreatedAt: time.Now().UTC(),
		}})
	})
	if err != nil {
		t.Fatalf("opening stock: %v", err)
	}
	return cashier
}

func oneUnitSale(id string, productID string) domain.SaleRequest {
	return domain.SaleRequest{
		ID:            id,
		Items:         []domain.SaleItemRequest{{ProductID: productID, Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(3500)}},
		Total:         decimal.NewFromInt(3500),
		PaymentStatus: domain.PaymentStatusPaid,
		PaymentMethod: "cash",
	}
}

func TestConcurrentSalesKeepStockAndInvoiceNumbers(t *testing.T) {
	s := openTestStore(t)
	shopID, productID := provisionShop(t, s)
	cashier := provisionCashier(t, s, shopID, productID, 4)
	svc := service.New(s, cache.NoopProjectionCache{}, 0, logging.Discard())

	const buyers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int64
		short   int
		failed  []error
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := svc.RecordSale(context.Background(), shopID, oneUnitSale(fmt.Sprintf("%s-inv-%d", shopID, i), productID), cashier)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				numbers = append(numbers, result.Invoice.Number)
			case errors.Is(err, store.ErrInsufficientStock):
				short++
			default:
				failed = append(failed, err)
			}
		}(i)
	}
	wg.Wait()

	if len(failed) > 0 {
		t.Fatalf("unexpected errors: %v", failed)
	}
	if len(numbers) != 4 || short != buyers-4 {
		t.Fatalf("expected 4 sales and %d shortages, got %d and %d", buyers-4, len(numbers), short)
	}
	slices.Sort(numbers)
	if !slices.Equal(numbers, []int64{1, 2, 3, 4}) {
		t.Fatalf("expected invoice numbers 1..4, got %v", numbers)
	}
	levels, err := s.StockLevels(context.Background(), shopID, []string{productID})
	if err != nil {
		t.Fatalf("stock levels: %v", err)
	}
	if !levels[productID].IsZero() {
		t.Fatalf("expected stock 0, got %s", levels[productID])
	}
}

func TestConcurrentReplayResolvesToOneInvoice(t *testing.T) {
	s := openTestStore(t)
	shopID, productID := provisionShop(t, s)
	cashier := provisionCashier(t, s, shopID, productID, 10)
	svc := service.New(s, cache.NoopProjectionCache{}, 0, logging.Discard())
	invoiceID := shopID + "-replayed"

	const attempts = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
		failed  []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.RecordSale(context.Background(), shopID, oneUnitSale(invoiceID, productID), cashier)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, err)
				return
			}
			if !result.Duplicate {
				applied++
			}
		}()
	}
	wg.Wait()

	if len(failed) > 0 || applied != 1 {
		t.Fatalf("expected exactly one applied sale, got applied=%d errors=%v", applied, failed)
	}
	levels, err := s.StockLevels(context.Background(), shopID, []string{productID})
	if err != nil {
		t.Fatalf("stock levels: %v", err)
	}
	if !levels[productID].Equal(decimal.NewFromInt(9)) {
		t.Fatalf("expected stock 9, got %s", levels[productID])
	}

	next, err := svc.RecordSale(context.Background(), shopID, oneUnitSale(shopID+"-after", productID), cashier)
	if err != nil {
		t.Fatalf("follow-up sale: %v", err)
	}
	if next.Invoice.Number != 2 {
		t.Fatalf("expected replays not to consume invoice numbers, got %d", next.Invoice.Number)
	}
}
