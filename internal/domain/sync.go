package domain

import "encoding/json"

type SyncKind string

const (
	SyncSale            SyncKind = "SALE"
	SyncPurchase        SyncKind = "PURCHASE"
	SyncCustomer        SyncKind = "CUSTOMER"
	SyncCreditPayment   SyncKind = "CREDIT_PAYMENT"
	SyncStockAdjustment SyncKind = "STOCK_ADJUSTMENT"
)

// SyncKinds is the order the terminal registers push tasks in.
var SyncKinds = []SyncKind{SyncCustomer, SyncPurchase, SyncSale, SyncCreditPayment, SyncStockAdjustment}

// Path returns the endpoint segment a kind is pushed to.
func (k SyncKind) Path() string {
	switch k {
	case SyncSale:
		return "sales"
	case SyncPurchase:
		return "purchases"
	case SyncCustomer:
		return "customers"
	case SyncCreditPayment:
		return "credit-payments"
	case SyncStockAdjustment:
		return "stock-adjustments"
	}
	return ""
}

func SyncKindFromPath(path string) (SyncKind, bool) {
	for _, kind := range SyncKinds {
		if kind.Path() == path {
			return kind, true
		}
	}
	return "", false
}

type SyncBatchRequest struct {
	Items []json.RawMessage `json:"items"`
}

type SyncItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type SyncBatchResponse struct {
	Synced int             `json:"synced"`
	Errors []SyncItemError `json:"errors"`
}
