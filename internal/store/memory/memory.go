package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/OasisMate/cartpos-sub000/internal/domain"
	"github.com/OasisMate/cartpos-sub000/internal/store"
)

// Store keeps every table in process memory. WithTx runs against a private
// copy of the data and swaps it in on success, so a failed unit leaves no trace.
type Store struct {
	mu   sync.RWMutex
	data *dataset
}

type dataset struct {
	shops           map[string]domain.Shop
	members         map[string]domain.Membership
	products        map[string]domain.Product
	suppliers       map[string]domain.Supplier
	customers       map[string]domain.Customer
	purchases       map[string]domain.Purchase
	invoices        map[string]domain.Invoice
	payments        []domain.Payment
	stockEntries    []domain.StockLedgerEntry
	customerEntries []domain.CustomerLedgerEntry
	invoiceCounters map[string]int64
	auditLogs       []domain.AuditLog
}

func New() *Store {
	return &Store{data: &dataset{
		shops:           make(map[string]domain.Shop),
		members:         make(map[string]domain.Membership),
		products:        make(map[string]domain.Product),
		suppliers:       make(map[string]domain.Supplier),
		customers:       make(map[string]domain.Customer),
		purchases:       make(map[string]domain.Purchase),
		invoices:        make(map[string]domain.Invoice),
		invoiceCounters: make(map[string]int64),
	}}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.data.clone()
	if err := fn(&memTx{dataset: staged}); err != nil {
		return err
	}
	s.data = staged
	return nil
}

func (s *Store) read() *dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

// Committed datasets are never mutated after the swap, so readers can use the
// pointer they got without holding the lock.

func (s *Store) GetShop(ctx context.Context, shopID string) (*domain.Shop, error) {
	return s.read().GetShop(ctx, shopID)
}

func (s *Store) GetProduct(ctx context.Context, shopID string, productID string) (*domain.Product, error) {
	return s.read().GetProduct(ctx, shopID, productID)
}

func (s *Store) GetProducts(ctx context.Context, shopID string, productIDs []string) (map[string]domain.Product, error) {
	return s.read().GetProducts(ctx, shopID, productIDs)
}

func (s *Store) GetSupplier(ctx context.Context, shopID string, supplierID string) (*domain.Supplier, error) {
	return s.read().GetSupplier(ctx, shopID, supplierID)
}

func (s *Store) GetCustomer(ctx context.Context, shopID string, customerID string) (*domain.Customer, error) {
	return s.read().GetCustomer(ctx, shopID, customerID)
}

func (s *Store) GetPurchase(ctx context.Context, shopID string, purchaseID string) (*domain.Purchase, error) {
	return s.read().GetPurchase(ctx, shopID, purchaseID)
}

func (s *Store) GetInvoice(ctx context.Context, shopID string, invoiceID string) (*domain.Invoice, error) {
	return s.read().GetInvoice(ctx, shopID, invoiceID)
}

func (s *Store) GetStockEntry(ctx context.Context, shopID string, entryID string) (*domain.StockLedgerEntry, error) {
	return s.read().GetStockEntry(ctx, shopID, entryID)
}

func (s *Store) GetCustomerEntry(ctx context.Context, shopID string, entryID string) (*domain.CustomerLedgerEntry, error) {
	return s.read().GetCustomerEntry(ctx, shopID, entryID)
}

func (s *Store) StockLevels(ctx context.Context, shopID string, productIDs []string) (map[string]decimal.Decimal, error) {
	return s.read().StockLevels(ctx, shopID, productIDs)
}

func (s *Store) CreditTotals(ctx context.Context, shopID string, customerID string) (decimal.Decimal, decimal.Decimal, error) {
	return s.read().CreditTotals(ctx, shopID, customerID)
}

func (s *Store) ListStockEntries(ctx context.Context, shopID string, productID string, limit int) ([]domain.StockLedgerEntry, error) {
	return s.read().ListStockEntries(ctx, shopID, productID, limit)
}

func (s *Store) ListCustomerEntries(ctx context.Context, shopID string, customerID string, limit int) ([]domain.CustomerLedgerEntry, error) {
	return s.read().ListCustomerEntries(ctx, shopID, customerID, limit)
}

func (s *Store) RefsTo(ctx context.Context, shopID string, refIDs []string) ([]string, error) {
	return s.read().RefsTo(ctx, shopID, refIDs)
}

func (s *Store) ShopRole(_ context.Context, principalID string, shopID string) (domain.Role, error) {
	member, ok := s.read().members[memberKey(principalID, shopID)]
	if !ok || !member.Active {
		return "", store.ErrNotFound
	}
	return member.Role, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.data.clone()
	next.auditLogs = append(next.auditLogs, entry)
	s.data = next
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, shopID string, limit int) ([]domain.AuditLog, error) {
	logs := s.read().auditLogs
	result := make([]domain.AuditLog, 0, len(logs))
	for i := len(logs) - 1; i >= 0; i-- {
		if logs[i].ShopID != shopID {
			continue
		}
		result = append(result, logs[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateShop(_ context.Context, shop domain.Shop) error {
	return s.mutate(func(d *dataset) error {
		if _, exists := d.shops[shop.ID]; exists {
			return store.ErrConflict
		}
		d.shops[shop.ID] = shop
		return nil
	})
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) error {
	return s.mutate(func(d *dataset) error {
		if _, exists := d.products[product.ID]; exists {
			return store.ErrConflict
		}
		d.products[product.ID] = product
		return nil
	})
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) error {
	return s.mutate(func(d *dataset) error {
		if _, exists := d.suppliers[supplier.ID]; exists {
			return store.ErrConflict
		}
		d.suppliers[supplier.ID] = supplier
		return nil
	})
}

func (s *Store) GrantRole(_ context.Context, membership domain.Membership) error {
	return s.mutate(func(d *dataset) error {
		d.members[memberKey(membership.PrincipalID, membership.ShopID)] = membership
		return nil
	})
}

func (s *Store) mutate(fn func(d *dataset) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.data.clone()
	if err := fn(next); err != nil {
		return err
	}
	s.data = next
	return nil
}

func (d *dataset) GetShop(_ context.Context, shopID string) (*domain.Shop, error) {
	shop, ok := d.shops[shopID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &shop, nil
}

func (d *dataset) GetProduct(_ context.Context, shopID string, productID string) (*domain.Product, error) {
	product, ok := d.products[productID]
	if !ok || product.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (d *dataset) GetProducts(_ context.Context, shopID string, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		product, ok := d.products[id]
		if ok && product.ShopID == shopID {
			result[id] = product
		}
	}
	return result, nil
}

func (d *dataset) GetSupplier(_ context.Context, shopID string, supplierID string) (*domain.Supplier, error) {
	supplier, ok := d.suppliers[supplierID]
	if !ok || supplier.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	return &supplier, nil
}

func (d *dataset) GetCustomer(_ context.Context, shopID string, customerID string) (*domain.Customer, error) {
	customer, ok := d.customers[customerID]
	if !ok || customer.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (d *dataset) GetPurchase(_ context.Context, shopID string, purchaseID string) (*domain.Purchase, error) {
	purchase, ok := d.purchases[purchaseID]
	if !ok || purchase.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	cloned := clonePurchase(purchase)
	return &cloned, nil
}

func (d *dataset) GetInvoice(_ context.Context, shopID string, invoiceID string) (*domain.Invoice, error) {
	invoice, ok := d.invoices[invoiceID]
	if !ok || invoice.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	cloned := cloneInvoice(invoice)
	cloned.Payments = nil
	for _, payment := range d.payments {
		if payment.InvoiceID == invoiceID {
			cloned.Payments = append(cloned.Payments, payment)
		}
	}
	return &cloned, nil
}

func (d *dataset) GetStockEntry(_ context.Context, shopID string, entryID string) (*domain.StockLedgerEntry, error) {
	for _, entry := range d.stockEntries {
		if entry.ID == entryID && entry.ShopID == shopID {
			return &entry, nil
		}
	}
	return nil, store.ErrNotFound
}

func (d *dataset) GetCustomerEntry(_ context.Context, shopID string, entryID string) (*domain.CustomerLedgerEntry, error) {
	for _, entry := range d.customerEntries {
		if entry.ID == entryID && entry.ShopID == shopID {
			return &entry, nil
		}
	}
	return nil, store.ErrNotFound
}

func (d *dataset) StockLevels(_ context.Context, shopID string, productIDs []string) (map[string]decimal.Decimal, error) {
	result := make(map[string]decimal.Decimal, len(productIDs))
	for _, id := range productIDs {
		result[id] = decimal.Zero
	}
	for _, entry := range d.stockEntries {
		if entry.ShopID != shopID {
			continue
		}
		if len(productIDs) > 0 && !slices.Contains(productIDs, entry.ProductID) {
			continue
		}
		result[entry.ProductID] = result[entry.ProductID].Add(entry.ChangeQty)
	}
	return result, nil
}

func (d *dataset) CreditTotals(_ context.Context, shopID string, customerID string) (decimal.Decimal, decimal.Decimal, error) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, entry := range d.customerEntries {
		if entry.ShopID != shopID || entry.CustomerID != customerID {
			continue
		}
		if entry.Direction == domain.Debit {
			debit = debit.Add(entry.Amount)
		} else {
			credit = credit.Add(entry.Amount)
		}
	}
	return debit, credit, nil
}

func (d *dataset) ListStockEntries(_ context.Context, shopID string, productID string, limit int) ([]domain.StockLedgerEntry, error) {
	result := make([]domain.StockLedgerEntry, 0)
	for _, entry := range d.stockEntries {
		if entry.ShopID == shopID && entry.ProductID == productID {
			result = append(result, entry)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (d *dataset) ListCustomerEntries(_ context.Context, shopID string, customerID string, limit int) ([]domain.CustomerLedgerEntry, error) {
	result := make([]domain.CustomerLedgerEntry, 0)
	for _, entry := range d.customerEntries {
		if entry.ShopID == shopID && entry.CustomerID == customerID {
			result = append(result, entry)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (d *dataset) RefsTo(_ context.Context, shopID string, refIDs []string) ([]string, error) {
	refs := make([]string, 0)
	for _, entry := range d.stockEntries {
		if entry.ShopID == shopID && entry.RefID != "" && slices.Contains(refIDs, entry.RefID) {
			refs = append(refs, entry.RefType)
		}
	}
	for _, entry := range d.customerEntries {
		if entry.ShopID == shopID && entry.RefID != "" && slices.Contains(refIDs, entry.RefID) {
			refs = append(refs, entry.RefType)
		}
	}
	return refs, nil
}

type memTx struct {
	*dataset
}

func (t *memTx) LockProducts(ctx context.Context, shopID string, productIDs []string) (map[string]domain.Product, error) {
	return t.GetProducts(ctx, shopID, productIDs)
}

func (t *memTx) LockInvoice(ctx context.Context, shopID string, invoiceID string) (*domain.Invoice, error) {
	return t.GetInvoice(ctx, shopID, invoiceID)
}

func (t *memTx) NextInvoiceNumber(_ context.Context, shopID string) (int64, error) {
	t.invoiceCounters[shopID]++
	return t.invoiceCounters[shopID], nil
}

func (t *memTx) InsertPurchase(_ context.Context, purchase domain.Purchase) error {
	if _, exists := t.purchases[purchase.ID]; exists {
		return store.ErrConflict
	}
	t.purchases[purchase.ID] = clonePurchase(purchase)
	return nil
}

func (t *memTx) InsertInvoice(_ context.Context, invoice domain.Invoice) error {
	if _, exists := t.invoices[invoice.ID]; exists {
		return store.ErrConflict
	}
	cloned := cloneInvoice(invoice)
	cloned.Payments = nil
	t.invoices[invoice.ID] = cloned
	return nil
}

func (t *memTx) InsertPayment(_ context.Context, payment domain.Payment) error {
	for _, existing := range t.payments {
		if existing.ID == payment.ID {
			return store.ErrConflict
		}
	}
	t.payments = append(t.payments, payment)
	return nil
}

func (t *memTx) InsertStockEntries(_ context.Context, entries []domain.StockLedgerEntry) error {
	for _, entry := range entries {
		for _, existing := range t.stockEntries {
			if existing.ID == entry.ID {
				return store.ErrConflict
			}
		}
		t.stockEntries = append(t.stockEntries, entry)
	}
	return nil
}

func (t *memTx) InsertCustomerEntry(_ context.Context, entry domain.CustomerLedgerEntry) error {
	for _, existing := range t.customerEntries {
		if existing.ID == entry.ID {
			return store.ErrConflict
		}
	}
	t.customerEntries = append(t.customerEntries, entry)
	return nil
}

func (t *memTx) InsertCustomer(_ context.Context, customer domain.Customer) error {
	if _, exists := t.customers[customer.ID]; exists {
		return store.ErrConflict
	}
	t.customers[customer.ID] = customer
	return nil
}

func (t *memTx) UpdateProductCost(_ context.Context, shopID string, productID string, cost decimal.Decimal) error {
	product, ok := t.products[productID]
	if !ok || product.ShopID != shopID {
		return store.ErrNotFound
	}
	product.CostPrice = cost
	t.products[productID] = product
	return nil
}

func (t *memTx) MarkInvoiceVoid(_ context.Context, invoice domain.Invoice) error {
	existing, ok := t.invoices[invoice.ID]
	if !ok || existing.ShopID != invoice.ShopID {
		return store.ErrNotFound
	}
	existing.Status = domain.InvoiceVoid
	existing.VoidReason = invoice.VoidReason
	existing.VoidedAt = invoice.VoidedAt
	t.invoices[invoice.ID] = existing
	return nil
}

func (t *memTx) DeleteInvoice(_ context.Context, shopID string, invoiceID string) error {
	invoice, ok := t.invoices[invoiceID]
	if !ok || invoice.ShopID != shopID {
		return store.ErrNotFound
	}
	refs := []string{invoiceID}
	for _, line := range invoice.Lines {
		refs = append(refs, line.ID)
	}
	t.dropRefs(shopID, refs)
	t.payments = slices.DeleteFunc(t.payments, func(p domain.Payment) bool {
		return p.InvoiceID == invoiceID
	})
	delete(t.invoices, invoiceID)
	return nil
}

func (t *memTx) DeletePurchase(_ context.Context, shopID string, purchaseID string) error {
	purchase, ok := t.purchases[purchaseID]
	if !ok || purchase.ShopID != shopID {
		return store.ErrNotFound
	}
	refs := []string{purchaseID}
	for _, line := range purchase.Lines {
		refs = append(refs, line.ID)
	}
	t.dropRefs(shopID, refs)
	delete(t.purchases, purchaseID)
	return nil
}

func (t *memTx) dropRefs(shopID string, refs []string) {
	t.stockEntries = slices.DeleteFunc(t.stockEntries, func(e domain.StockLedgerEntry) bool {
		return e.ShopID == shopID && e.RefID != "" && slices.Contains(refs, e.RefID)
	})
	t.customerEntries = slices.DeleteFunc(t.customerEntries, func(e domain.CustomerLedgerEntry) bool {
		return e.ShopID == shopID && e.RefID != "" && slices.Contains(refs, e.RefID)
	})
}

func (d *dataset) clone() *dataset {
	next := &dataset{
		shops:           cloneMap(d.shops),
		members:         cloneMap(d.members),
		products:        cloneMap(d.products),
		suppliers:       cloneMap(d.suppliers),
		customers:       cloneMap(d.customers),
		purchases:       make(map[string]domain.Purchase, len(d.purchases)),
		invoices:        make(map[string]domain.Invoice, len(d.invoices)),
		payments:        slices.Clone(d.payments),
		stockEntries:    slices.Clone(d.stockEntries),
		customerEntries: slices.Clone(d.customerEntries),
		invoiceCounters: cloneMap(d.invoiceCounters),
		auditLogs:       slices.Clone(d.auditLogs),
	}
	for id, purchase := range d.purchases {
		next.purchases[id] = clonePurchase(purchase)
	}
	for id, invoice := range d.invoices {
		next.invoices[id] = cloneInvoice(invoice)
	}
	return next
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func clonePurchase(src domain.Purchase) domain.Purchase {
	dst := src
	dst.Lines = slices.Clone(src.Lines)
	return dst
}

func cloneInvoice(src domain.Invoice) domain.Invoice {
	dst := src
	dst.Lines = slices.Clone(src.Lines)
	dst.Payments = slices.Clone(src.Payments)
	if src.VoidedAt != nil {
		at := *src.VoidedAt
		dst.VoidedAt = &at
	}
	return dst
}

func memberKey(principalID string, shopID string) string {
	return principalID + "|" + shopID
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
