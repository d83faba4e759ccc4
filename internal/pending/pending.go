package pending

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/OasisMate/cartpos-sub000/internal/domain"
	"github.com/OasisMate/cartpos-sub000/internal/xid"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSynced  Status = "SYNCED"
)

var ErrNotFound = errors.New("pending operation not found")

// Operation is one locally committed write waiting to reach the server. ID is
// the client-generated id carried inside Payload.
type Operation struct {
	ID        string          `json:"id"`
	ShopID    string          `json:"shop_id"`
	Kind      domain.SyncKind `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Status    Status          `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	SyncedAt  *time.Time      `json:"synced_at,omitempty"`
}

type KindSummary struct {
	Kind   domain.SyncKind `db:"kind" json:"kind"`
	Status Status          `db:"status" json:"status"`
	Count  int             `db:"count" json:"count"`
}

type operationRow struct {
	ID        string         `db:"id"`
	ShopID    string         `db:"shop_id"`
	Kind      string         `db:"kind"`
	Payload   string         `db:"payload"`
	Status    string         `db:"status"`
	Attempts  int            `db:"attempts"`
	LastError sql.NullString `db:"last_error"`
	CreatedAt int64          `db:"created_at"`
	UpdatedAt int64          `db:"updated_at"`
	SyncedAt  sql.NullInt64  `db:"synced_at"`
}

func (r operationRow) operation() Operation {
	op := Operation{
		ID:        r.ID,
		ShopID:    r.ShopID,
		Kind:      domain.SyncKind(r.Kind),
		Payload:   json.RawMessage(r.Payload),
		Status:    Status(r.Status),
		Attempts:  r.Attempts,
		LastError: r.LastError.String,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(r.UpdatedAt).UTC(),
	}
	if r.SyncedAt.Valid {
		at := time.UnixMilli(r.SyncedAt.Int64).UTC()
		op.SyncedAt = &at
	}
	return op
}

const operationColumns = `id, shop_id, kind, payload, status, attempts, last_error, created_at, updated_at, synced_at`

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pending_operations (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		shop_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		synced_at INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS pending_operations_queue_idx ON pending_operations (shop_id, kind, status, seq)`,
	`CREATE TABLE IF NOT EXISTS snapshot_cache (
		shop_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		fetched_at INTEGER NOT NULL,
		PRIMARY KEY (shop_id, key)
	)`,
}

// Store is the terminal's durable outbox plus an evictable cache of server
// projections, both in one sqlite file.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; a single connection also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{`PRAGMA journal_mode = WAL`, `PRAGMA busy_timeout = 5000`, `PRAGMA synchronous = FULL`} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("local migration %d failed: %w", i+1, err)
		}
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue durably records an operation before it is synced. The payload's "id"
// becomes the operation id; when it is absent a UUIDv7 id is generated and
// written into the payload so the server stores the same key.
func (s *Store) Enqueue(ctx context.Context, shopID string, kind domain.SyncKind, payload json.RawMessage) (Operation, error) {
	shopID = strings.TrimSpace(shopID)
	if shopID == "" {
		return Operation{}, errors.New("shop id is required")
	}
	if kind.Path() == "" {
		return Operation{}, fmt.Errorf("unsupported sync kind %q", kind)
	}

	id, payload, err := withClientID(payload, kind)
	if err != nil {
		return Operation{}, err
	}

	now := s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_operations (id, shop_id, kind, payload, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`, id, shopID, string(kind), string(payload), string(StatusPending), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return Operation{}, fmt.Errorf("enqueue %s %s: %w", kind, id, err)
	}
	return s.Get(ctx, id)
}

func (s *Store) Get(ctx context.Context, id string) (Operation, error) {
	var row operationRow
	err := s.db.GetContext(ctx, &row, `SELECT `+operationColumns+` FROM pending_operations WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Operation{}, ErrNotFound
		}
		return Operation{}, err
	}
	return row.operation(), nil
}

// ListPending returns the oldest pending operations of one kind first.
func (s *Store) ListPending(ctx context.Context, shopID string, kind domain.SyncKind, limit int) ([]Operation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows := make([]operationRow, 0, limit)
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+operationColumns+`
		FROM pending_operations
		WHERE shop_id = ? AND kind = ? AND status = ?
		ORDER BY seq
		LIMIT ?
	`, shopID, string(kind), string(StatusPending), limit)
	if err != nil {
		return nil, err
	}
	ops := make([]Operation, 0, len(rows))
	for _, row := range rows {
		ops = append(ops, row.operation())
	}
	return ops, nil
}

func (s *Store) MarkSynced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := s.now().UnixMilli()
	query, args, err := sqlx.In(`
		UPDATE pending_operations
		SET status = ?, last_error = NULL, updated_at = ?, synced_at = ?
		WHERE id IN (?)
	`, string(StatusSynced), now, now, ids)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return err
}

// MarkFailed records a failed attempt. The operation stays pending.
func (s *Store) MarkFailed(ctx context.Context, id string, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_operations
		SET attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, reason, s.now().UnixMilli(), id, string(StatusPending))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Summary(ctx context.Context, shopID string) ([]KindSummary, error) {
	summary := make([]KindSummary, 0, 8)
	err := s.db.SelectContext(ctx, &summary, `
		SELECT kind, status, COUNT(*) AS count
		FROM pending_operations
		WHERE shop_id = ?
		GROUP BY kind, status
		ORDER BY kind, status
	`, shopID)
	return summary, err
}

// PurgeSynced removes synced operations older than cutoff. Pending rows are
// never removed.
func (s *Store) PurgeSynced(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_operations WHERE status = ? AND synced_at < ?
	`, string(StatusSynced), cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) PutSnapshot(ctx context.Context, shopID string, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshot_cache (shop_id, key, value, fetched_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (shop_id, key) DO UPDATE SET value = excluded.value, fetched_at = excluded.fetched_at
	`, shopID, key, string(encoded), s.now().UnixMilli())
	return err
}

// Snapshot decodes a cached projection into dest and reports when it was
// fetched. found is false when nothing is cached under key.
func (s *Store) Snapshot(ctx context.Context, shopID string, key string, dest any) (fetchedAt time.Time, found bool, err error) {
	var row struct {
		Value     string `db:"value"`
		FetchedAt int64  `db:"fetched_at"`
	}
	err = s.db.GetContext(ctx, &row, `SELECT value, fetched_at FROM snapshot_cache WHERE shop_id = ? AND key = ?`, shopID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	if err := json.Unmarshal([]byte(row.Value), dest); err != nil {
		return time.Time{}, false, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return time.UnixMilli(row.FetchedAt).UTC(), true, nil
}

func (s *Store) EvictSnapshots(ctx context.Context, shopID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshot_cache WHERE shop_id = ?`, shopID)
	return err
}

var idPrefixes = map[domain.SyncKind]string{
	domain.SyncSale:            "sale",
	domain.SyncPurchase:        "pur",
	domain.SyncCustomer:        "cus",
	domain.SyncCreditPayment:   "pay",
	domain.SyncStockAdjustment: "adj",
}

func withClientID(payload json.RawMessage, kind domain.SyncKind) (string, json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return "", nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	if fields == nil {
		return "", nil, errors.New("payload must be a JSON object")
	}

	var id string
	if raw, ok := fields["id"]; ok {
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", nil, fmt.Errorf("payload id must be a string: %w", err)
		}
	}
	id = strings.TrimSpace(id)
	if id != "" {
		return id, payload, nil
	}

	id = xid.New(idPrefixes[kind])
	encodedID, err := json.Marshal(id)
	if err != nil {
		return "", nil, err
	}
	fields["id"] = encodedID
	rewritten, err := json.Marshal(fields)
	if err != nil {
		return "", nil, err
	}
	return id, rewritten, nil
}
