package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/OasisMate/cartpos-sub000/internal/domain"
)

func TestParseKindAcceptsPathsAndNames(t *testing.T) {
	cases := map[string]domain.SyncKind{
		"sales":            domain.SyncSale,
		"Credit-Payments":  domain.SyncCreditPayment,
		"STOCK_ADJUSTMENT": domain.SyncStockAdjustment,
		"customer":         domain.SyncCustomer,
		"purchases":        domain.SyncPurchase,
	}
	for raw, want := range cases {
		got, err := parseKind(raw)
		if err != nil || got != want {
			t.Fatalf("parseKind(%q) = %q, %v; want %q", raw, got, err, want)
		}
	}
	if _, err := parseKind("refunds"); err == nil {
		t.Fatalf("expected unknown kind to be rejected")
	}
}

func TestReadPayloadFromFileAndInline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sale.json")
	if err := os.WriteFile(path, []byte(`{"id":"sale-1"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	payload, err := readPayload("@" + path)
	if err != nil || string(payload) != `{"id":"sale-1"}` {
		t.Fatalf("unexpected file payload %s, %v", payload, err)
	}
	if _, err := readPayload(`{"id":`); err == nil {
		t.Fatalf("expected invalid JSON to be rejected")
	}
}
