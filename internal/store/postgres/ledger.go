package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/OasisMate/cartpos-sub000/internal/domain"
	"github.com/OasisMate/cartpos-sub000/internal/store"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type reader struct {
	q         querier
	forUpdate bool
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r reader) GetShop(ctx context.Context, shopID string) (*domain.Shop, error) {
	var shop domain.Shop
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, allow_negative_stock FROM shops WHERE id = $1
	`, shopID).Scan(&shop.ID, &shop.Name, &shop.AllowNegativeStock)
	if err != nil {
		return nil, notFoundOr(err)
	}
	return &shop, nil
}

const productColumns = `id, shop_id, name, sku, sale_price, cost_price, track_stock, active`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.ShopID, &p.Name, &p.SKU, &p.SalePrice, &p.CostPrice, &p.TrackStock, &p.Active)
	return p, err
}

func (r reader) GetProduct(ctx context.Context, shopID string, productID string) (*domain.Product, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE shop_id = $1 AND id = $2`, shopID, productID)
	p, err := scanProduct(row)
	if err != nil {
		return nil, notFoundOr(err)
	}
	return &p, nil
}

func (r reader) GetProducts(ctx context.Context, shopID string, productIDs []string) (map[string]domain.Product, error) {
	return r.products(ctx, shopID, productIDs, false)
}

func (r reader) products(ctx context.Context, shopID string, productIDs []string, lock bool) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE shop_id = $1 AND id = ANY($2) ORDER BY id`
	if lock && r.forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := r.q.QueryContext(ctx, query, shopID, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	return result, rows.Err()
}

func (r reader) GetSupplier(ctx context.Context, shopID string, supplierID string) (*domain.Supplier, error) {
	var s domain.Supplier
	err := r.q.QueryRowContext(ctx, `
		SELECT id, shop_id, name, phone FROM suppliers WHERE shop_id = $1 AND id = $2
	`, shopID, supplierID).Scan(&s.ID, &s.ShopID, &s.Name, &s.Phone)
	if err != nil {
		return nil, notFoundOr(err)
	}
	return &s, nil
}

func (r reader) GetCustomer(ctx context.Context, shopID string, customerID string) (*domain.Customer, error) {
	var c domain.Customer
	err := r.q.QueryRowContext(ctx, `
		SELECT id, shop_id, name, phone, created_at FROM customers WHERE shop_id = $1 AND id = $2
	`, shopID, customerID).Scan(&c.ID, &c.ShopID, &c.Name, &c.Phone, &c.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (r reader) GetPurchase(ctx context.Context, shopID string, purchaseID string) (*domain.Purchase, error) {
	var (
		p            domain.Purchase
		supplierID   sql.NullString
		supplierName sql.NullString
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT p.id, p.shop_id, p.supplier_id, s.name, p.reference, p.notes, p.total_cost, p.created_by, p.created_at
		FROM purchases p
		LEFT JOIN suppliers s ON s.id = p.supplier_id
		WHERE p.shop_id = $1 AND p.id = $2
	`, shopID, purchaseID).Scan(&p.ID, &p.ShopID, &supplierID, &supplierName, &p.Reference, &p.Notes, &p.TotalCost, &p.CreatedBy, &p.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err)
	}
	p.SupplierID = supplierID.String
	p.SupplierName = supplierName.String
	p.CreatedAt = p.CreatedAt.UTC()

	rows, err := r.q.QueryContext(ctx, `
		SELECT l.id, l.purchase_id, l.product_id, pr.name, l.quantity, l.unit_cost, l.line_total
		FROM purchase_lines l
		JOIN products pr ON pr.id = l.product_id
		WHERE l.purchase_id = $1
		ORDER BY l.line_no
	`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	p.Lines = make([]domain.PurchaseLine, 0, 8)
	for rows.Next() {
		var line domain.PurchaseLine
		if err := rows.Scan(&line.ID, &line.PurchaseID, &line.ProductID, &line.ProductName, &line.Quantity, &line.UnitCost, &line.LineTotal); err != nil {
			return nil, err
		}
		p.Lines = append(p.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r reader) GetInvoice(ctx context.Context, shopID string, invoiceID string) (*domain.Invoice, error) {
	return r.invoice(ctx, shopID, invoiceID, false)
}

func (r reader) invoice(ctx context.Context, shopID string, invoiceID string, lock bool) (*domain.Invoice, error) {
	query := `
		SELECT id, shop_id, number, customer_id, subtotal, discount, total, payment_status,
			payment_method, status, void_reason, voided_at, created_by, created_at
		FROM invoices
		WHERE shop_id = $1 AND id = $2`
	if lock && r.forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		inv        domain.Invoice
		customerID sql.NullString
		voidedAt   sql.NullTime
	)
	err := r.q.QueryRowContext(ctx, query, shopID, invoiceID).Scan(
		&inv.ID, &inv.ShopID, &inv.Number, &customerID, &inv.Subtotal, &inv.Discount, &inv.Total, &inv.PaymentStatus,
		&inv.PaymentMethod, &inv.Status, &inv.VoidReason, &voidedAt, &inv.CreatedBy, &inv.CreatedAt,
	)
	if err != nil {
		return nil, notFoundOr(err)
	}
	inv.CustomerID = customerID.String
	inv.CreatedAt = inv.CreatedAt.UTC()
	if voidedAt.Valid {
		at := voidedAt.Time.UTC()
		inv.VoidedAt = &at
	}

	lineRows, err := r.q.QueryContext(ctx, `
		SELECT id, invoice_id, product_id, product_name, quantity, unit_price, line_total, unit_cost
		FROM invoice_lines
		WHERE invoice_id = $1
		ORDER BY line_no
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()

	inv.Lines = make([]domain.InvoiceLine, 0, 8)
	for lineRows.Next() {
		var line domain.InvoiceLine
		if err := lineRows.Scan(&line.ID, &line.InvoiceID, &line.ProductID, &line.ProductName, &line.Quantity, &line.UnitPrice, &line.LineTotal, &line.UnitCost); err != nil {
			return nil, err
		}
		inv.Lines = append(inv.Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	payRows, err := r.q.QueryContext(ctx, `
		SELECT id, shop_id, invoice_id, amount, method, reversal, note, created_at
		FROM payments
		WHERE invoice_id = $1
		ORDER BY created_at, id
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer payRows.Close()

	for payRows.Next() {
		var pay domain.Payment
		if err := payRows.Scan(&pay.ID, &pay.ShopID, &pay.InvoiceID, &pay.Amount, &pay.Method, &pay.Reversal, &pay.Note, &pay.CreatedAt); err != nil {
			return nil, err
		}
		pay.CreatedAt = pay.CreatedAt.UTC()
		inv.Payments = append(inv.Payments, pay)
	}
	if err := payRows.Err(); err != nil {
		return nil, err
	}
	return &inv, nil
}

const stockEntryColumns = `id, shop_id, product_id, change_qty, type, ref_type, ref_id, note, created_by, created_at`

func scanStockEntry(row rowScanner) (domain.StockLedgerEntry, error) {
	var (
		e     domain.StockLedgerEntry
		typ   string
		refID sql.NullString
	)
	if err := row.Scan(&e.ID, &e.ShopID, &e.ProductID, &e.ChangeQty, &typ, &e.RefType, &refID, &e.Note, &e.CreatedBy, &e.CreatedAt); err != nil {
		return e, err
	}
	e.Type = domain.StockEntryType(typ)
	e.RefID = refID.String
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func (r reader) GetStockEntry(ctx context.Context, shopID string, entryID string) (*domain.StockLedgerEntry, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+stockEntryColumns+` FROM stock_ledger_entries WHERE shop_id = $1 AND id = $2`, shopID, entryID)
	e, err := scanStockEntry(row)
	if err != nil {
		return nil, notFoundOr(err)
	}
	return &e, nil
}

const customerEntryColumns = `id, shop_id, customer_id, type, direction, amount, ref_type, ref_id, note, created_by, created_at`

func scanCustomerEntry(row rowScanner) (domain.CustomerLedgerEntry, error) {
	var (
		e         domain.CustomerLedgerEntry
		typ       string
		direction string
		refID     sql.NullString
	)
	if err := row.Scan(&e.ID, &e.ShopID, &e.CustomerID, &typ, &direction, &e.Amount, &e.RefType, &refID, &e.Note, &e.CreatedBy, &e.CreatedAt); err != nil {
		return e, err
	}
	e.Type = domain.CustomerEntryType(typ)
	e.Direction = domain.Direction(direction)
	e.RefID = refID.String
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func (r reader) GetCustomerEntry(ctx context.Context, shopID string, entryID string) (*domain.CustomerLedgerEntry, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+customerEntryColumns+` FROM customer_ledger_entries WHERE shop_id = $1 AND id = $2`, shopID, entryID)
	e, err := scanCustomerEntry(row)
	if err != nil {
		return nil, notFoundOr(err)
	}
	return &e, nil
}

func (r reader) StockLevels(ctx context.Context, shopID string, productIDs []string) (map[string]decimal.Decimal, error) {
	result := make(map[string]decimal.Decimal, len(productIDs))
	for _, id := range productIDs {
		result[id] = decimal.Zero
	}

	var (
		rows *sql.Rows
		err  error
	)
	if len(productIDs) == 0 {
		rows, err = r.q.QueryContext(ctx, `
			SELECT product_id, COALESCE(SUM(change_qty), 0)
			FROM stock_ledger_entries
			WHERE shop_id = $1
			GROUP BY product_id
		`, shopID)
	} else {
		rows, err = r.q.QueryContext(ctx, `
			SELECT product_id, COALESCE(SUM(change_qty), 0)
			FROM stock_ledger_entries
			WHERE shop_id = $1 AND product_id = ANY($2)
			GROUP BY product_id
		`, shopID, productIDs)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			productID string
			qty       decimal.Decimal
		)
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, err
		}
		result[productID] = qty
	}
	return result, rows.Err()
}

func (r reader) CreditTotals(ctx context.Context, shopID string, customerID string) (decimal.Decimal, decimal.Decimal, error) {
	var debit, credit decimal.Decimal
	err := r.q.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE direction = 'DEBIT'), 0),
			COALESCE(SUM(amount) FILTER (WHERE direction = 'CREDIT'), 0)
		FROM customer_ledger_entries
		WHERE shop_id = $1 AND customer_id = $2
	`, shopID, customerID).Scan(&debit, &credit)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return debit, credit, nil
}

func (r reader) ListStockEntries(ctx context.Context, shopID string, productID string, limit int) ([]domain.StockLedgerEntry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+stockEntryColumns+`
		FROM stock_ledger_entries
		WHERE shop_id = $1 AND product_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, shopID, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.StockLedgerEntry, 0, limit)
	for rows.Next() {
		e, err := scanStockEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r reader) ListCustomerEntries(ctx context.Context, shopID string, customerID string, limit int) ([]domain.CustomerLedgerEntry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+customerEntryColumns+`
		FROM customer_ledger_entries
		WHERE shop_id = $1 AND customer_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, shopID, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.CustomerLedgerEntry, 0, limit)
	for rows.Next() {
		e, err := scanCustomerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r reader) RefsTo(ctx context.Context, shopID string, refIDs []string) ([]string, error) {
	refs := make([]string, 0)
	if len(refIDs) == 0 {
		return refs, nil
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT ref_type FROM stock_ledger_entries WHERE shop_id = $1 AND ref_id = ANY($2)
		UNION ALL
		SELECT ref_type FROM customer_ledger_entries WHERE shop_id = $1 AND ref_id = ANY($2)
	`, shopID, refIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var refType string
		if err := rows.Scan(&refType); err != nil {
			return nil, err
		}
		refs = append(refs, refType)
	}
	return refs, rows.Err()
}

type pgTx struct {
	reader
}

func (t *pgTx) LockProducts(ctx context.Context, shopID string, productIDs []string) (map[string]domain.Product, error) {
	return t.products(ctx, shopID, productIDs, true)
}

func (t *pgTx) LockInvoice(ctx context.Context, shopID string, invoiceID string) (*domain.Invoice, error) {
	return t.invoice(ctx, shopID, invoiceID, true)
}

// NextInvoiceNumber takes the shop's counter row lock for the rest of the
// transaction, so concurrent sales get consecutive numbers.
func (t *pgTx) NextInvoiceNumber(ctx context.Context, shopID string) (int64, error) {
	var next int64
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO invoice_counters (shop_id, last_number) VALUES ($1, 1)
		ON CONFLICT (shop_id) DO UPDATE SET last_number = invoice_counters.last_number + 1
		RETURNING last_number
	`, shopID).Scan(&next)
	return next, err
}

func (t *pgTx) InsertPurchase(ctx context.Context, p domain.Purchase) error {
	if _, err := t.q.ExecContext(ctx, `
		INSERT INTO purchases (id, shop_id, supplier_id, reference, notes, total_cost, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.ShopID, nullIfEmpty(p.SupplierID), p.Reference, p.Notes, p.TotalCost, p.CreatedBy, p.CreatedAt); err != nil {
		return conflictOr(err)
	}
	for i, line := range p.Lines {
		if _, err := t.q.ExecContext(ctx, `
			INSERT INTO purchase_lines (id, purchase_id, line_no, product_id, quantity, unit_cost, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, line.ID, p.ID, i+1, line.ProductID, line.Quantity, line.UnitCost, line.LineTotal); err != nil {
			return conflictOr(err)
		}
	}
	return nil
}

func (t *pgTx) InsertInvoice(ctx context.Context, inv domain.Invoice) error {
	if _, err := t.q.ExecContext(ctx, `
		INSERT INTO invoices (
			id, shop_id, number, customer_id, subtotal, discount, total, payment_status,
			payment_method, status, void_reason, voided_at, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, inv.ID, inv.ShopID, inv.Number, nullIfEmpty(inv.CustomerID), inv.Subtotal, inv.Discount, inv.Total, inv.PaymentStatus,
		inv.PaymentMethod, inv.Status, inv.VoidReason, nullTime(inv.VoidedAt), inv.CreatedBy, inv.CreatedAt); err != nil {
		return conflictOr(err)
	}
	for i, line := range inv.Lines {
		if _, err := t.q.ExecContext(ctx, `
			INSERT INTO invoice_lines (id, invoice_id, line_no, product_id, product_name, quantity, unit_price, line_total, unit_cost)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, line.ID, inv.ID, i+1, line.ProductID, line.ProductName, line.Quantity, line.UnitPrice, line.LineTotal, line.UnitCost); err != nil {
			return conflictOr(err)
		}
	}
	return nil
}

func (t *pgTx) InsertPayment(ctx context.Context, pay domain.Payment) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO payments (id, shop_id, invoice_id, amount, method, reversal, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, pay.ID, pay.ShopID, pay.InvoiceID, pay.Amount, pay.Method, pay.Reversal, pay.Note, pay.CreatedAt)
	return conflictOr(err)
}

func (t *pgTx) InsertStockEntries(ctx context.Context, entries []domain.StockLedgerEntry) error {
	for _, e := range entries {
		if _, err := t.q.ExecContext(ctx, `
			INSERT INTO stock_ledger_entries (`+stockEntryColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, e.ID, e.ShopID, e.ProductID, e.ChangeQty, string(e.Type), e.RefType, nullIfEmpty(e.RefID), e.Note, e.CreatedBy, e.CreatedAt); err != nil {
			return conflictOr(err)
		}
	}
	return nil
}

func (t *pgTx) InsertCustomerEntry(ctx context.Context, e domain.CustomerLedgerEntry) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO customer_ledger_entries (`+customerEntryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, e.ShopID, e.CustomerID, string(e.Type), string(e.Direction), e.Amount, e.RefType, nullIfEmpty(e.RefID), e.Note, e.CreatedBy, e.CreatedAt)
	return conflictOr(err)
}

func (t *pgTx) InsertCustomer(ctx context.Context, c domain.Customer) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO customers (id, shop_id, name, phone, created_at) VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.ShopID, c.Name, c.Phone, c.CreatedAt)
	return conflictOr(err)
}

func (t *pgTx) UpdateProductCost(ctx context.Context, shopID string, productID string, cost decimal.Decimal) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE products SET cost_price = $3 WHERE shop_id = $1 AND id = $2
	`, shopID, productID, cost)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (t *pgTx) MarkInvoiceVoid(ctx context.Context, inv domain.Invoice) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE invoices SET status = $3, void_reason = $4, voided_at = $5
		WHERE shop_id = $1 AND id = $2
	`, inv.ShopID, inv.ID, domain.InvoiceVoid, inv.VoidReason, nullTime(inv.VoidedAt))
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (t *pgTx) DeleteInvoice(ctx context.Context, shopID string, invoiceID string) error {
	for _, query := range []string{
		`DELETE FROM stock_ledger_entries WHERE shop_id = $1
			AND (ref_id = $2 OR ref_id IN (SELECT id FROM invoice_lines WHERE invoice_id = $2))`,
		`DELETE FROM customer_ledger_entries WHERE shop_id = $1
			AND (ref_id = $2 OR ref_id IN (SELECT id FROM invoice_lines WHERE invoice_id = $2))`,
		`DELETE FROM payments WHERE shop_id = $1 AND invoice_id = $2`,
	} {
		if _, err := t.q.ExecContext(ctx, query, shopID, invoiceID); err != nil {
			return err
		}
	}
	res, err := t.q.ExecContext(ctx, `DELETE FROM invoices WHERE shop_id = $1 AND id = $2`, shopID, invoiceID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (t *pgTx) DeletePurchase(ctx context.Context, shopID string, purchaseID string) error {
	for _, query := range []string{
		`DELETE FROM stock_ledger_entries WHERE shop_id = $1
			AND (ref_id = $2 OR ref_id IN (SELECT id FROM purchase_lines WHERE purchase_id = $2))`,
		`DELETE FROM customer_ledger_entries WHERE shop_id = $1
			AND (ref_id = $2 OR ref_id IN (SELECT id FROM purchase_lines WHERE purchase_id = $2))`,
	} {
		if _, err := t.q.ExecContext(ctx, query, shopID, purchaseID); err != nil {
			return err
		}
	}
	res, err := t.q.ExecContext(ctx, `DELETE FROM purchases WHERE shop_id = $1 AND id = $2`, shopID, purchaseID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func notFoundOr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
