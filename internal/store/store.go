package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/OasisMate/cartpos-sub000/internal/domain"
)

// Reader holds the lookups shared by the repository and an open transaction.
// Inside a Tx they observe the transaction's own writes.
type Reader interface {
	GetShop(ctx context.Context, shopID string) (*domain.Shop, error)
	GetProduct(ctx context.Context, shopID string, productID string) (*domain.Product, error)
	GetProducts(ctx context.Context, shopID string, productIDs []string) (map[string]domain.Product, error)
	GetSupplier(ctx context.Context, shopID string, supplierID string) (*domain.Supplier, error)
	GetCustomer(ctx context.Context, shopID string, customerID string) (*domain.Customer, error)
	GetPurchase(ctx context.Context, shopID string, purchaseID string) (*domain.Purchase, error)
	GetInvoice(ctx context.Context, shopID string, invoiceID string) (*domain.Invoice, error)
	GetStockEntry(ctx context.Context, shopID string, entryID string) (*domain.StockLedgerEntry, error)
	GetCustomerEntry(ctx context.Context, shopID string, entryID string) (*domain.CustomerLedgerEntry, error)

	// StockLevels sums the stock ledger grouped by product. An empty productIDs
	// slice means every product of the shop with at least one entry.
	StockLevels(ctx context.Context, shopID string, productIDs []string) (map[string]decimal.Decimal, error)
	CreditTotals(ctx context.Context, shopID string, customerID string) (debit decimal.Decimal, credit decimal.Decimal, err error)
	ListStockEntries(ctx context.Context, shopID string, productID string, limit int) ([]domain.StockLedgerEntry, error)
	ListCustomerEntries(ctx context.Context, shopID string, customerID string, limit int) ([]domain.CustomerLedgerEntry, error)

	// RefsTo returns the ref types of every ledger or payment row pointing at one of refIDs.
	RefsTo(ctx context.Context, shopID string, refIDs []string) ([]string, error)
}

// Tx is one atomic unit of ledger work. Nothing written through it is visible
// to other callers until WithTx returns nil.
type Tx interface {
	Reader

	// LockProducts is GetProducts with row locks held until the unit ends.
	LockProducts(ctx context.Context, shopID string, productIDs []string) (map[string]domain.Product, error)
	// LockInvoice is GetInvoice with the header row locked.
	LockInvoice(ctx context.Context, shopID string, invoiceID string) (*domain.Invoice, error)
	NextInvoiceNumber(ctx context.Context, shopID string) (int64, error)

	InsertPurchase(ctx context.Context, purchase domain.Purchase) error
	InsertInvoice(ctx context.Context, invoice domain.Invoice) error
	InsertPayment(ctx context.Context, payment domain.Payment) error
	InsertStockEntries(ctx context.Context, entries []domain.StockLedgerEntry) error
	InsertCustomerEntry(ctx context.Context, entry domain.CustomerLedgerEntry) error
	InsertCustomer(ctx context.Context, customer domain.Customer) error
	UpdateProductCost(ctx context.Context, shopID string, productID string, cost decimal.Decimal) error
	MarkInvoiceVoid(ctx context.Context, invoice domain.Invoice) error

	// DeleteInvoice and DeletePurchase remove the header, its lines, and every
	// ledger or payment row whose ref points at them.
	DeleteInvoice(ctx context.Context, shopID string, invoiceID string) error
	DeletePurchase(ctx context.Context, shopID string, purchaseID string) error
}

type Repository interface {
	Reader

	// WithTx runs fn as one atomic unit. A duplicate primary key surfaces as ErrConflict.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	ShopRole(ctx context.Context, principalID string, shopID string) (domain.Role, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, shopID string, limit int) ([]domain.AuditLog, error)

	// Provisioning. Shops, catalog and memberships are managed elsewhere; these
	// exist for seeding and tests.
	CreateShop(ctx context.Context, shop domain.Shop) error
	CreateProduct(ctx context.Context, product domain.Product) error
	CreateSupplier(ctx context.Context, supplier domain.Supplier) error
	GrantRole(ctx context.Context, membership domain.Membership) error
}
