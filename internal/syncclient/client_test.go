package syncclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/OasisMate/cartpos-sub000/internal/domain"
	"github.com/OasisMate/cartpos-sub000/internal/logging"
)

func newTestClient(url string) *Client {
	return New(url, "token-1", time.Second, logging.Discard(), WithRetry(3, time.Millisecond))
}

func TestPushBatchPostsItemsWithBearer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/shops/main-shop/sync/sales" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer token-1" {
			t.Errorf("missing bearer token")
		}
		var req domain.SyncBatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(domain.SyncBatchResponse{
			Synced: len(req.Items) - 1,
			Errors: []domain.SyncItemError{{ID: "b", Error: "bad", Code: "validation"}},
		})
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).PushBatch(context.Background(), "main-shop", domain.SyncSale,
		[]json.RawMessage{json.RawMessage(`{"id":"a"}`), json.RawMessage(`{"id":"b"}`)})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if resp.Synced != 1 || len(resp.Errors) != 1 || resp.Errors[0].ID != "b" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestPushBatchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(domain.SyncBatchResponse{Synced: 1})
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).PushBatch(context.Background(), "main-shop", domain.SyncPurchase,
		[]json.RawMessage{json.RawMessage(`{"id":"p"}`)})
	if err != nil {
		t.Fatalf("expected third attempt to succeed, got %v", err)
	}
	if resp.Synced != 1 || calls.Load() != 3 {
		t.Fatalf("expected 3 calls and 1 synced, got calls=%d resp=%+v", calls.Load(), resp)
	}
}

func TestPushBatchGivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).PushBatch(context.Background(), "main-shop", domain.SyncSale,
		[]json.RawMessage{json.RawMessage(`{"id":"a"}`)})
	if err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid or expired token"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).PushBatch(context.Background(), "main-shop", domain.SyncSale,
		[]json.RawMessage{json.RawMessage(`{"id":"a"}`)})
	if !IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestFetchStockDecodesLevels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"levels":[{"product_id":"prd-mie","quantity":"118"}]}`))
	}))
	defer server.Close()

	levels, err := newTestClient(server.URL).FetchStock(context.Background(), "main-shop")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(levels) != 1 || !levels[0].Quantity.Equal(decimal.NewFromInt(118)) {
		t.Fatalf("unexpected levels %+v", levels)
	}
}
