package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/OasisMate/cartpos-sub000/internal/domain"
	"github.com/OasisMate/cartpos-sub000/internal/store"
)

const (
	defaultTxAttempts = 3
	defaultTxBackoff  = 50 * time.Millisecond
)

type Store struct {
	reader
	db *sql.DB

	txAttempts int
	txBackoff  time.Duration
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		reader:     reader{q: db},
		db:         db,
		txAttempts: defaultTxAttempts,
		txBackoff:  defaultTxBackoff,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn in a READ COMMITTED transaction. Serialization failures,
// deadlocks and dropped connections are retried with exponential backoff;
// once attempts run out the caller gets a store.ErrTransient.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < s.txAttempts; attempt++ {
		if attempt > 0 {
			wait := s.txBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}
	return store.Transient(lastErr)
}

func (s *Store) runTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&pgTx{reader: reader{q: tx, forUpdate: true}}); err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ShopRole(ctx context.Context, principalID string, shopID string) (domain.Role, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM shop_members
		WHERE principal_id = $1 AND shop_id = $2 AND active = true
	`, principalID, shopID).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return domain.Role(role), nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, shop_id, actor, action, entity_type, entity_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.ShopID, entry.Actor, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, shopID string, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, actor, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE shop_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, shopID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ShopID, &entry.Actor, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateShop(ctx context.Context, shop domain.Shop) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shops (id, name, allow_negative_stock) VALUES ($1, $2, $3)
	`, shop.ID, shop.Name, shop.AllowNegativeStock)
	return conflictOr(err)
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, shop_id, name, sku, sale_price, cost_price, track_stock, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, product.ID, product.ShopID, product.Name, product.SKU, product.SalePrice, product.CostPrice, product.TrackStock, product.Active)
	return conflictOr(err)
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, shop_id, name, phone) VALUES ($1, $2, $3, $4)
	`, supplier.ID, supplier.ShopID, supplier.Name, supplier.Phone)
	return conflictOr(err)
}

func (s *Store) GrantRole(ctx context.Context, membership domain.Membership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shop_members (principal_id, shop_id, role, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (principal_id, shop_id) DO UPDATE
		SET role = EXCLUDED.role, active = EXCLUDED.active
	`, membership.PrincipalID, membership.ShopID, string(membership.Role), membership.Active)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	if errors.Is(err, driver.ErrBadConn) || pgconn.SafeToRetry(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func conflictOr(err error) error {
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
