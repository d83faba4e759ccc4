package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

// Shop roles. Platform admins hold no shop role; see Principal.PlatformAdmin.
const (
	RoleManager Role = "store_manager"
	RoleCashier Role = "cashier"
)

// Principal is the authenticated caller as resolved from the bearer token.
type Principal struct {
	ID            string `json:"id"`
	PlatformAdmin bool   `json:"platform_admin"`
}

type Membership struct {
	PrincipalID string `json:"principal_id"`
	ShopID      string `json:"shop_id"`
	Role        Role   `json:"role"`
	Active      bool   `json:"active"`
}

type Shop struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	AllowNegativeStock bool   `json:"allow_negative_stock"`
}

type Product struct {
	ID         string          `json:"id"`
	ShopID     string          `json:"shop_id"`
	Name       string          `json:"name"`
	SKU        string          `json:"sku"`
	SalePrice  decimal.Decimal `json:"sale_price"`
	CostPrice  decimal.Decimal `json:"cost_price"`
	TrackStock bool            `json:"track_stock"`
	Active     bool            `json:"active"`
}

type Supplier struct {
	ID     string `json:"id"`
	ShopID string `json:"shop_id"`
	Name   string `json:"name"`
	Phone  string `json:"phone,omitempty"`
}

type Customer struct {
	ID        string    `json:"id"`
	ShopID    string    `json:"shop_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type StockEntryType string

const (
	StockPurchase   StockEntryType = "PURCHASE"
	StockSale       StockEntryType = "SALE"
	StockAdjustment StockEntryType = "ADJUSTMENT"
	StockDamage     StockEntryType = "DAMAGE"
	StockExpiry     StockEntryType = "EXPIRY"
	StockReturn     StockEntryType = "RETURN"
	StockSelfUse    StockEntryType = "SELF_USE"
)

// Ref types tag the record kind a ledger row originates from.
const (
	RefPurchaseLine = "purchase_line"
	RefInvoiceLine  = "invoice_line"
	RefInvoice      = "invoice"
	RefInvoiceVoid  = "invoice_void"
	RefAdjustment   = "adjustment"
	RefPayment      = "payment"
)

type StockLedgerEntry struct {
	ID        string          `json:"id"`
	ShopID    string          `json:"shop_id"`
	ProductID string          `json:"product_id"`
	ChangeQty decimal.Decimal `json:"change_qty"`
	Type      StockEntryType  `json:"type"`
	RefType   string          `json:"ref_type"`
	RefID     string          `json:"ref_id,omitempty"`
	Note      string          `json:"note,omitempty"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

type CustomerEntryType string

const (
	CustomerSaleUdhaar CustomerEntryType = "SALE_UDHAAR"
	CustomerAdjustment CustomerEntryType = "ADJUSTMENT"
	CustomerPayment    CustomerEntryType = "PAYMENT"
)

type Direction string

const (
	Debit  Direction = "DEBIT"
	Credit Direction = "CREDIT"
)

type CustomerLedgerEntry struct {
	ID         string            `json:"id"`
	ShopID     string            `json:"shop_id"`
	CustomerID string            `json:"customer_id"`
	Type       CustomerEntryType `json:"type"`
	Direction  Direction         `json:"direction"`
	Amount     decimal.Decimal   `json:"amount"`
	RefType    string            `json:"ref_type"`
	RefID      string            `json:"ref_id,omitempty"`
	Note       string            `json:"note,omitempty"`
	CreatedBy  string            `json:"created_by"`
	CreatedAt  time.Time         `json:"created_at"`
}

type Purchase struct {
	ID           string          `json:"id"`
	ShopID       string          `json:"shop_id"`
	SupplierID   string          `json:"supplier_id,omitempty"`
	SupplierName string          `json:"supplier_name,omitempty"`
	Reference    string          `json:"reference,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	Lines        []PurchaseLine  `json:"lines"`
}

type PurchaseLine struct {
	ID          string              `json:"id"`
	PurchaseID  string              `json:"purchase_id"`
	ProductID   string              `json:"product_id"`
	ProductName string              `json:"product_name,omitempty"`
	Quantity    decimal.Decimal     `json:"quantity"`
	UnitCost    decimal.NullDecimal `json:"unit_cost"`
	LineTotal   decimal.Decimal     `json:"line_total"`
}

const (
	PaymentStatusPaid   = "paid"
	PaymentStatusCredit = "credit"

	InvoiceCompleted = "COMPLETED"
	InvoiceVoid      = "VOID"
)

type Invoice struct {
	ID            string          `json:"id"`
	ShopID        string          `json:"shop_id"`
	Number        int64           `json:"number"`
	CustomerID    string          `json:"customer_id,omitempty"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	PaymentStatus string          `json:"payment_status"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Status        string          `json:"status"`
	VoidReason    string          `json:"void_reason,omitempty"`
	VoidedAt      *time.Time      `json:"voided_at,omitempty"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	Lines         []InvoiceLine   `json:"lines"`
	Payments      []Payment       `json:"payments,omitempty"`
}

type InvoiceLine struct {
	ID          string          `json:"id"`
	InvoiceID   string          `json:"invoice_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

type Payment struct {
	ID        string          `json:"id"`
	ShopID    string          `json:"shop_id"`
	InvoiceID string          `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reversal  bool            `json:"reversal"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	ShopID     string    `json:"shop_id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}
