package service

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
	"github.com/OasisMate/cartpos-sub000/internal/store"
	"github.com/OasisMate/cartpos-sub000/internal/store/memory"
)

func stockProduct(t *testing.T, svc *Service, repo *memory.Store, productID string, qty string) {
	t.Helper()
	addProduct(t, repo, shop, productID, "10", true)
	_, err := svc.RecordPurchase(context.Background(), shop, domain.PurchaseRequest{
		SupplierID: "sup-grosir",
		Lines:      []domain.PurchaseLineRequest{{ProductID: productID, Quantity: dec(qty)}},
	}, manager)
	if err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	svc, repo := newTestService()
	stockProduct(t, svc, repo, "prd-rush", "5")

	const buyers = 12
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
			result, err := svc.RecordSale(context.Background(), shop, paidSale(fmt.Sprintf("inv-rush-%d", i), "prd-rush", "1", "10"), cashier)
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
	if len(numbers) != 5 || short != buyers-5 {
		t.Fatalf("expected 5 sales and %d shortages, got %d and %d", buyers-5, len(numbers), short)
	}
	slices.Sort(numbers)
	if !slices.Equal(numbers, []int64{1, 2, 3, 4, 5}) {
		t.Fatalf("expected invoice numbers 1..5 without gaps or duplicates, got %v", numbers)
	}
	if got := stockOf(t, svc, shop, "prd-rush"); !got.IsZero() {
		t.Fatalf("expected stock 0, got %s", got)
	}
	if got := ledgerSum(t, repo, shop, "prd-rush"); !got.IsZero() {
		t.Fatalf("expected ledger sum 0, got %s", got)
	}
}

func TestConcurrentReplayOfOneSaleAppliesOnce(t *testing.T) {
	svc, repo := newTestService()
	stockProduct(t, svc, repo, "prd-replay", "10")

	const attempts = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		applied    int
		duplicates int
		failed     []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.RecordSale(context.Background(), shop, paidSale("inv-replayed", "prd-replay", "2", "10"), cashier)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failed = append(failed, err)
			case result.Duplicate:
				duplicates++
			default:
				applied++
			}
		}()
	}
	wg.Wait()

	if len(failed) > 0 || applied != 1 || duplicates != attempts-1 {
		t.Fatalf("expected one applied and %d duplicates, got applied=%d duplicates=%d errors=%v", attempts-1, applied, duplicates, failed)
	}
	if got := stockOf(t, svc, shop, "prd-replay"); !got.Equal(dec("8")) {
		t.Fatalf("expected stock 8, got %s", got)
	}
}

// generationCache keys entries by generation like the redis cache does.
// beforeSet runs between the miss and the fill.
type generationCache struct {
	gen       cache.Generation
	entries   map[cache.Generation]map[string]decimal.Decimal
	beforeSet func()
}

func (c *generationCache) GetStock(_ context.Context, _ string, _ []string) (map[string]decimal.Decimal, cache.Generation, bool, error) {
	levels, ok := c.entries[c.gen]
	return levels, c.gen, ok, nil
}

func (c *generationCache) SetStock(_ context.Context, _ string, gen cache.Generation, _ []string, levels map[string]decimal.Decimal, _ time.Duration) error {
	if c.beforeSet != nil {
		hook := c.beforeSet
		c.beforeSet = nil
		hook()
	}
	c.entries[gen] = levels
	return nil
}

func (c *generationCache) Invalidate(_ context.Context, _ string) error {
	c.gen++
	return nil
}

func TestStockLevelsFillDoesNotOutliveConcurrentWrite(t *testing.T) {
	repo := memory.NewSeeded()
	projections := &generationCache{entries: map[cache.Generation]map[string]decimal.Decimal{}}
	svc := New(repo, projections, 0, logging.Discard())
	ctx := context.Background()

	projections.beforeSet = func() {
		if _, err := svc.RecordSale(ctx, shop, paidSale("", "prd-telur", "4", "26500"), cashier); err != nil {
			t.Errorf("sale failed: %v", err)
		}
	}
	first, err := svc.StockLevels(ctx, shop, []string{"prd-telur"}, cashier)
	if err != nil {
		t.Fatalf("stock levels failed: %v", err)
	}
	if !first[0].Quantity.Equal(dec("120")) {
		t.Fatalf("expected the read that raced the sale to see 120, got %s", first[0].Quantity)
	}

	second, err := svc.StockLevels(ctx, shop, []string{"prd-telur"}, cashier)
	if err != nil {
		t.Fatalf("stock levels failed: %v", err)
	}
	if !second[0].Quantity.Equal(dec("116")) {
		t.Fatalf("expected committed stock 116 after the sale, got %s", second[0].Quantity)
	}
}
