package terminal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/OasisMate/cartpos-sub000/internal/cache"
	"github.com/OasisMate/cartpos-sub000/internal/domain"
	"github.com/OasisMate/cartpos-sub000/internal/httpapi"
	"github.com/OasisMate/cartpos-sub000/internal/logging"
	"github.com/OasisMate/cartpos-sub000/internal/pending"
	"github.com/OasisMate/cartpos-sub000/internal/service"
	"github.com/OasisMate/cartpos-sub000/internal/store/memory"
	"github.com/OasisMate/cartpos-sub000/internal/syncclient"
)

type harness struct {
	terminal *Terminal
	outbox   *pending.Store
	service  *service.Service
	online   *atomic.Bool
}

// newHarness wires a terminal to a real API over the seeded memory store. The
// server answers 503 while online is false.
func newHarness(t *testing.T) *harness {
	t.Helper()

	svc := service.New(memory.NewSeeded(), cache.NoopProjectionCache{}, 0, logging.Discard())
	auth := httpapi.NewAuthManager("terminal-test-secret", time.Hour, "482913")
	api := httpapi.New(svc, auth, "*", logging.Discard())

	online := &atomic.Bool{}
	online.Store(true)
	handler := api.Handler()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !online.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	token, _, err := auth.IssueToken(domain.Principal{ID: "cashier"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	client := syncclient.New(server.URL, token, time.Second, logging.Discard(), syncclient.WithRetry(1, time.Millisecond))

	outbox, err := pending.Open(context.Background(), filepath.Join(t.TempDir(), "terminal.db"))
	if err != nil {
		t.Fatalf("open outbox: %v", err)
	}
	t.Cleanup(func() {
		_ = outbox.Close()
	})

	return &harness{
		terminal: New("main-shop", outbox, client, logging.Discard()),
		outbox:   outbox,
		service:  svc,
		online:   online,
	}
}

func (h *harness) serverStock(t *testing.T, productID string) decimal.Decimal {
	t.Helper()
	level, err := h.service.StockLevel(context.Background(), "main-shop", productID, domain.Principal{ID: "cashier"})
	if err != nil {
		t.Fatalf("stock level: %v", err)
	}
	return level.Quantity
}

func salePayload(id string, qty int64) json.RawMessage {
	return json.RawMessage(`{"id":"` + id + `","items":[{"product_id":"prd-telur","quantity":` +
		decimal.NewFromInt(qty).String() + `,"unit_price":26500}],"total":` +
		decimal.NewFromInt(qty*26500).String() + `,"payment_status":"paid","payment_method":"cash"}`)
}

func TestRecordSyncsInBackground(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	op, err := h.terminal.Record(ctx, domain.SyncSale, salePayload("sale-term-1", 3))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	h.terminal.Wait()

	got, err := h.outbox.Get(ctx, op.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != pending.StatusSynced {
		t.Fatalf("expected synced after background run, got %+v", got)
	}
	if !h.serverStock(t, "prd-telur").Equal(decimal.NewFromInt(117)) {
		t.Fatalf("expected server stock 117, got %s", h.serverStock(t, "prd-telur"))
	}

	levels, _, found, err := h.terminal.CachedStock(ctx)
	if err != nil || !found || len(levels) == 0 {
		t.Fatalf("expected cached stock snapshot, found=%v err=%v", found, err)
	}
}

func TestOfflineRecordConvergesWhenServerReturns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.online.Store(false)

	first, err := h.terminal.Record(ctx, domain.SyncSale, salePayload("sale-off-1", 2))
	if err != nil {
		t.Fatalf("record offline: %v", err)
	}
	h.terminal.Wait()
	if _, err := h.terminal.Record(ctx, domain.SyncSale, salePayload("sale-off-2", 1)); err != nil {
		t.Fatalf("record offline: %v", err)
	}
	h.terminal.Wait()

	got, _ := h.outbox.Get(ctx, first.ID)
	if got.Status != pending.StatusPending || got.Attempts == 0 || got.LastError == "" {
		t.Fatalf("expected pending op with recorded failure, got %+v", got)
	}
	if !h.serverStock(t, "prd-telur").Equal(decimal.NewFromInt(120)) {
		t.Fatalf("server must not see offline sales yet")
	}

	h.online.Store(true)
	if !h.terminal.Sync(ctx) {
		t.Fatalf("expected sync run")
	}

	pendingSales, err := h.terminal.Pending(ctx, domain.SyncSale, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pendingSales) != 0 {
		t.Fatalf("expected outbox drained, got %d", len(pendingSales))
	}
	if !h.serverStock(t, "prd-telur").Equal(decimal.NewFromInt(117)) {
		t.Fatalf("expected server stock 117, got %s", h.serverStock(t, "prd-telur"))
	}
}

func TestRejectedItemStaysPendingWithReason(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	op, err := h.terminal.Record(ctx, domain.SyncSale, salePayload("sale-too-big", 500))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	h.terminal.Wait()

	got, _ := h.outbox.Get(ctx, op.ID)
	if got.Status != pending.StatusPending || got.LastError == "" {
		t.Fatalf("expected rejected sale to stay pending with reason, got %+v", got)
	}

	summary, err := h.terminal.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(summary) != 1 || summary[0].Kind != domain.SyncSale || summary[0].Count != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestPurgeKeepsPendingRows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.online.Store(false)

	if _, err := h.terminal.Record(ctx, domain.SyncSale, salePayload("sale-keep", 1)); err != nil {
		t.Fatalf("record: %v", err)
	}
	h.terminal.Wait()

	removed, err := h.terminal.Purge(ctx, 0)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected pending rows kept, removed %d", removed)
	}
}
