package postgres

import (
	"context"
	"fmt"
)

// schema is applied in order by Migrate. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS shops (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		allow_negative_stock BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS shop_members (
		principal_id TEXT NOT NULL,
		shop_id TEXT NOT NULL REFERENCES shops(id),
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		PRIMARY KEY (principal_id, shop_id)
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		shop_id TEXT NOT NULL REFERENCES shops(id),
		name TEXT NOT NULL,
		sku TEXT NOT NULL DEFAULT '',
		sale_price NUMERIC NOT NULL DEFAULT 0,
		cost_price NUMERIC NOT NULL DEFAULT 0,
		track_stock BOOLEAN NOT NULL DEFAULT true,
		active BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE TABLE IF NOT EXISTS suppliers (
		id TEXT PRIMARY KEY,
		shop_id TEXT NOT NULL REFERENCES shops(id),
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		shop_id TEXT NOT NULL REFERENCES shops(id),
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS purchases (
		id TEXT PRIMARY KEY,
		shop_id TEXT NOT NULL REFERENCES shops(id),
		supplier_id TEXT REFERENCES suppliers(id),
		reference TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		total_cost NUMERIC NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS purchase_lines (
		id TEXT PRIMARY KEY,
		purchase_id TEXT NOT NULL REFERENCES purchases(id) ON DELETE CASCADE,
		line_no INT NOT NULL,
		product_id TEXT NOT NULL REFERENCES products(id),
		quantity NUMERIC NOT NULL,
		unit_cost NUMERIC,
		line_total NUMERIC NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		shop_id TEXT NOT NULL REFERENCES shops(id),
		number BIGINT NOT NULL,
		customer_id TEXT REFERENCES customers(id),
		subtotal NUMERIC NOT NULL,
		discount NUMERIC NOT NULL DEFAULT 0,
		total NUMERIC NOT NULL,
		payment_status TEXT NOT NULL,
		payment_method TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		void_reason TEXT NOT NULL DEFAULT '',
		voided_at TIMESTAMPTZ,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (shop_id, number)
	)`,
	`CREATE TABLE IF NOT EXISTS invoice_lines (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
		line_no INT NOT NULL,
		product_id TEXT NOT NULL REFERENCES products(id),
		product_name TEXT NOT NULL,
		quantity NUMERIC NOT NULL,
		unit_price NUMERIC NOT NULL,
		line_total NUMERIC NOT NULL,
		unit_cost NUMERIC NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		shop_id TEXT NOT NULL REFERENCES shops(id),
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		amount NUMERIC NOT NULL,
		method TEXT NOT NULL,
		reversal BOOLEAN NOT NULL DEFAULT false,
		note TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stock_ledger_entries (
		id TEXT PRIMARY KEY,
		shop_id TEXT NOT NULL REFERENCES shops(id),
		product_id TEXT NOT NULL REFERENCES products(id),
		change_qty NUMERIC NOT NULL,
		type TEXT NOT NULL,
		ref_type TEXT NOT NULL,
		ref_id TEXT,
		note TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS stock_ledger_shop_product_idx ON stock_ledger_entries (shop_id, product_id)`,
	`CREATE INDEX IF NOT EXISTS stock_ledger_ref_idx ON stock_ledger_entries (ref_id)`,
	`CREATE TABLE IF NOT EXISTS customer_ledger_entries (
		id TEXT PRIMARY KEY,
		shop_id TEXT NOT NULL REFERENCES shops(id),
		customer_id TEXT NOT NULL REFERENCES customers(id),
		type TEXT NOT NULL,
		direction TEXT NOT NULL CHECK (direction IN ('DEBIT', 'CREDIT')),
		amount NUMERIC NOT NULL CHECK (amount >= 0),
		ref_type TEXT NOT NULL,
		ref_id TEXT,
		note TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS customer_ledger_shop_customer_idx ON customer_ledger_entries (shop_id, customer_id)`,
	`CREATE INDEX IF NOT EXISTS customer_ledger_ref_idx ON customer_ledger_entries (ref_id)`,
	`CREATE TABLE IF NOT EXISTS invoice_counters (
		shop_id TEXT PRIMARY KEY REFERENCES shops(id),
		last_number BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		shop_id TEXT NOT NULL,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_logs_shop_idx ON audit_logs (shop_id, created_at DESC)`,
}

func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
