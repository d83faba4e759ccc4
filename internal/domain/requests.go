package domain

import "github.com/shopspring/decimal"

// Request payloads double as batch sync items: ID carries the client-generated
// id which becomes the server primary key.

type PurchaseRequest struct {
	ID         string                `json:"id,omitempty"`
	SupplierID string                `json:"supplier_id,omitempty"`
	Reference  string                `json:"reference,omitempty"`
	Notes      string                `json:"notes,omitempty"`
	Lines      []PurchaseLineRequest `json:"lines"`
}

type PurchaseLineRequest struct {
	ProductID string              `json:"product_id"`
	Quantity  decimal.Decimal     `json:"quantity"`
	UnitCost  decimal.NullDecimal `json:"unit_cost"`
}

type SaleRequest struct {
	ID            string            `json:"id,omitempty"`
	CustomerID    string            `json:"customer_id,omitempty"`
	Items         []SaleItemRequest `json:"items"`
	Discount      decimal.Decimal   `json:"discount"`
	Total         decimal.Decimal   `json:"total"`
	PaymentStatus string            `json:"payment_status"`
	PaymentMethod string            `json:"payment_method,omitempty"`
}

type SaleItemRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type StockWarning struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Available   decimal.Decimal `json:"available"`
	Requested   decimal.Decimal `json:"requested"`
}

type SaleResult struct {
	Invoice   Invoice        `json:"invoice"`
	Warnings  []StockWarning `json:"warnings,omitempty"`
	Duplicate bool           `json:"duplicate,omitempty"`
}

type PurchaseResult struct {
	Purchase  Purchase `json:"purchase"`
	Duplicate bool     `json:"duplicate,omitempty"`
}

type StockAdjustmentRequest struct {
	ID        string          `json:"id,omitempty"`
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Type      StockEntryType  `json:"type,omitempty"`
	Note      string          `json:"note,omitempty"`
}

type StockAdjustmentResult struct {
	Entry         StockLedgerEntry `json:"entry"`
	PreviousStock decimal.Decimal  `json:"previous_stock"`
	NewStock      decimal.Decimal  `json:"new_stock"`
	Duplicate     bool             `json:"duplicate,omitempty"`
}

type VoidRequest struct {
	Reason string `json:"reason"`
}

type VoidResult struct {
	Invoice       Invoice `json:"invoice"`
	AlreadyVoided bool    `json:"already_voided,omitempty"`
}

// DeleteResult lists products whose derived stock is (or would be) negative
// once the record's ledger rows are gone.
type DeleteResult struct {
	ID       string         `json:"id"`
	Deleted  bool           `json:"deleted"`
	Warnings []StockWarning `json:"warnings,omitempty"`
}

type CustomerRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

type CustomerResult struct {
	Customer  Customer `json:"customer"`
	Duplicate bool     `json:"duplicate,omitempty"`
}

type CreditPaymentRequest struct {
	ID         string          `json:"id,omitempty"`
	CustomerID string          `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method,omitempty"`
	Note       string          `json:"note,omitempty"`
}

type CreditAdjustmentRequest struct {
	ID         string          `json:"id,omitempty"`
	CustomerID string          `json:"customer_id"`
	Direction  Direction       `json:"direction"`
	Amount     decimal.Decimal `json:"amount"`
	Note       string          `json:"note,omitempty"`
}

type CreditEntryResult struct {
	Entry     CustomerLedgerEntry `json:"entry"`
	Balance   decimal.Decimal     `json:"balance"`
	Duplicate bool                `json:"duplicate,omitempty"`
}

type StockLevel struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type CreditBalance struct {
	CustomerID string          `json:"customer_id"`
	Debit      decimal.Decimal `json:"debit"`
	Credit     decimal.Decimal `json:"credit"`
	Balance    decimal.Decimal `json:"balance"`
}
