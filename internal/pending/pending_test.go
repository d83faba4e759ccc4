package pending

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/OasisMate/cartpos-sub000/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "terminal.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestEnqueueAssignsClientIDIntoPayload(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	op, err := s.Enqueue(ctx, "main-shop", domain.SyncSale, json.RawMessage(`{"items":[],"total":"0"}`))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if !strings.HasPrefix(op.ID, "sale_") {
		t.Fatalf("expected generated sale id, got %q", op.ID)
	}
	if op.Status != StatusPending || op.Attempts != 0 {
		t.Fatalf("unexpected initial state %+v", op)
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(op.Payload, &body); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if body.ID != op.ID {
		t.Fatalf("expected payload id %q, got %q", op.ID, body.ID)
	}
}

func TestEnqueueKeepsCallerID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	op, err := s.Enqueue(ctx, "main-shop", domain.SyncCustomer, json.RawMessage(`{"id":"cus-local-1","name":"Bu Rina"}`))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if op.ID != "cus-local-1" {
		t.Fatalf("expected caller id to be kept, got %q", op.ID)
	}

	if _, err := s.Enqueue(ctx, "main-shop", domain.SyncCustomer, json.RawMessage(`{"id":"cus-local-1","name":"again"}`)); err == nil {
		t.Fatalf("expected duplicate id to be refused")
	}
}

func TestEnqueueRejectsBadInput(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, "", domain.SyncSale, json.RawMessage(`{}`)); err == nil {
		t.Fatalf("expected missing shop to fail")
	}
	if _, err := s.Enqueue(ctx, "main-shop", domain.SyncKind("REFUND"), json.RawMessage(`{}`)); err == nil {
		t.Fatalf("expected unknown kind to fail")
	}
	for _, payload := range []string{`[1,2]`, `null`, `"sale"`} {
		if _, err := s.Enqueue(ctx, "main-shop", domain.SyncSale, json.RawMessage(payload)); err == nil {
			t.Fatalf("expected payload %s to fail", payload)
		}
	}
}

func TestOutboxStateMachine(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		op, err := s.Enqueue(ctx, "main-shop", domain.SyncSale, json.RawMessage(`{}`))
		if err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
		ids = append(ids, op.ID)
	}
	if _, err := s.Enqueue(ctx, "main-shop", domain.SyncPurchase, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("enqueue purchase failed: %v", err)
	}

	listed, err := s.ListPending(ctx, "main-shop", domain.SyncSale, 10)
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 pending sales, got %d", len(listed))
	}
	for i, op := range listed {
		if op.ID != ids[i] {
			t.Fatalf("expected oldest-first order, position %d got %s want %s", i, op.ID, ids[i])
		}
	}

	if err := s.MarkFailed(ctx, ids[0], "connection refused"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	failed, err := s.Get(ctx, ids[0])
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if failed.Status != StatusPending || failed.Attempts != 1 || failed.LastError != "connection refused" {
		t.Fatalf("expected failed op to stay pending with error, got %+v", failed)
	}

	if err := s.MarkSynced(ctx, ids[1:]); err != nil {
		t.Fatalf("mark synced failed: %v", err)
	}
	listed, err = s.ListPending(ctx, "main-shop", domain.SyncSale, 10)
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != ids[0] {
		t.Fatalf("expected only the failed sale pending, got %+v", listed)
	}
	synced, err := s.Get(ctx, ids[1])
	if err != nil {
		t.Fatalf("get synced failed: %v", err)
	}
	if synced.Status != StatusSynced || synced.SyncedAt == nil {
		t.Fatalf("expected synced state, got %+v", synced)
	}

	if err := s.MarkFailed(ctx, ids[1], "late"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected synced op to be immune to MarkFailed, got %v", err)
	}

	summary, err := s.Summary(ctx, "main-shop")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	counts := map[string]int{}
	for _, row := range summary {
		counts[string(row.Kind)+"/"+string(row.Status)] = row.Count
	}
	if counts["SALE/PENDING"] != 1 || counts["SALE/SYNCED"] != 2 || counts["PURCHASE/PENDING"] != 1 {
		t.Fatalf("unexpected summary %v", counts)
	}
}

func TestPurgeSyncedNeverTouchesPending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	kept, err := s.Enqueue(ctx, "main-shop", domain.SyncSale, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	done, err := s.Enqueue(ctx, "main-shop", domain.SyncSale, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := s.MarkSynced(ctx, []string{done.ID}); err != nil {
		t.Fatalf("mark synced failed: %v", err)
	}

	removed, err := s.PurgeSynced(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 purged row, got %d", removed)
	}
	if _, err := s.Get(ctx, kept.ID); err != nil {
		t.Fatalf("expected pending op to survive purge: %v", err)
	}
	if _, err := s.Get(ctx, done.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected synced op to be purged, got %v", err)
	}
}

func TestSnapshotCacheRoundTripAndEvict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	levels := map[string]string{"prd-mie": "118"}
	if err := s.PutSnapshot(ctx, "main-shop", "stock", levels); err != nil {
		t.Fatalf("put snapshot failed: %v", err)
	}
	if err := s.PutSnapshot(ctx, "main-shop", "stock", map[string]string{"prd-mie": "117"}); err != nil {
		t.Fatalf("overwrite snapshot failed: %v", err)
	}

	var got map[string]string
	fetchedAt, found, err := s.Snapshot(ctx, "main-shop", "stock", &got)
	if err != nil || !found {
		t.Fatalf("expected snapshot, found=%v err=%v", found, err)
	}
	if got["prd-mie"] != "117" || fetchedAt.IsZero() {
		t.Fatalf("unexpected snapshot %v at %s", got, fetchedAt)
	}

	if err := s.EvictSnapshots(ctx, "main-shop"); err != nil {
		t.Fatalf("evict failed: %v", err)
	}
	if _, found, err := s.Snapshot(ctx, "main-shop", "stock", &got); err != nil || found {
		t.Fatalf("expected evicted snapshot, found=%v err=%v", found, err)
	}
}
