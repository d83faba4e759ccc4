package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OasisMate/cartpos-sub000/internal/domain"
	"github.com/OasisMate/cartpos-sub000/internal/pending"
)

// StockSnapshotKey is where SnapshotTask keeps the shop's stock projection.
const StockSnapshotKey = "stock_levels"

type Outbox interface {
	ListPending(ctx context.Context, shopID string, kind domain.SyncKind, limit int) ([]pending.Operation, error)
	MarkSynced(ctx context.Context, ids []string) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

type SnapshotCache interface {
	PutSnapshot(ctx context.Context, shopID string, key string, value any) error
}

type Pusher interface {
	PushBatch(ctx context.Context, shopID string, kind domain.SyncKind, items []json.RawMessage) (domain.SyncBatchResponse, error)
}

type StockFetcher interface {
	FetchStock(ctx context.Context, shopID string) ([]domain.StockLevel, error)
}

// ErrCredentialsRejected marks a push the server refused because of the
// terminal's token. The batch is left untouched.
var ErrCredentialsRejected = errors.New("server rejected terminal credentials")

type PushOption func(*pushConfig)

type pushConfig struct {
	credentialsRejected func(error) bool
}

// WithCredentialCheck makes PushTask leave a batch untouched, without counting
// an attempt, when rejected reports that the push failed on credentials.
func WithCredentialCheck(rejected func(error) bool) PushOption {
	return func(c *pushConfig) {
		c.credentialsRejected = rejected
	}
}

// PushTask sends one batch of pending operations of kind. Items the server
// accepted, including replays of already applied ids, are marked synced;
// rejected items stay pending with the server's error. A transport failure
// marks the whole batch failed, and so does a response whose counts do not
// account for every item sent.
func PushTask(outbox Outbox, pusher Pusher, kind domain.SyncKind, batchSize int, opts ...PushOption) Task {
	var cfg pushConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(ctx context.Context, shopID string) error {
		ops, err := outbox.ListPending(ctx, shopID, kind, batchSize)
		if err != nil {
			return fmt.Errorf("list pending %s: %w", kind, err)
		}
		if len(ops) == 0 {
			return nil
		}

		items := make([]json.RawMessage, 0, len(ops))
		for _, op := range ops {
			items = append(items, op.Payload)
		}

		resp, err := pusher.PushBatch(ctx, shopID, kind, items)
		if err != nil {
			if cfg.credentialsRejected != nil && cfg.credentialsRejected(err) {
				return fmt.Errorf("push %s batch: %w: %v", kind, ErrCredentialsRejected, err)
			}
			if markErr := markAllFailed(ctx, outbox, ops, nil, err.Error()); markErr != nil {
				return markErr
			}
			return fmt.Errorf("push %s batch: %w", kind, err)
		}

		sent := make(map[string]bool, len(ops))
		for _, op := range ops {
			sent[op.ID] = true
		}
		rejected := make(map[string]string, len(resp.Errors))
		for _, itemErr := range resp.Errors {
			rejected[itemErr.ID] = itemErr.Error
		}
		accounted := len(rejected) == len(resp.Errors) && resp.Synced+len(rejected) == len(ops)
		for id := range rejected {
			accounted = accounted && sent[id]
		}
		if !accounted {
			reason := fmt.Sprintf("server response covered %d synced and %d rejected of %d items", resp.Synced, len(resp.Errors), len(ops))
			if markErr := markAllFailed(ctx, outbox, ops, rejected, reason); markErr != nil {
				return markErr
			}
			return fmt.Errorf("push %s batch: %s", kind, reason)
		}

		synced := make([]string, 0, len(ops))
		for _, op := range ops {
			reason, failed := rejected[op.ID]
			if !failed {
				synced = append(synced, op.ID)
				continue
			}
			if err := outbox.MarkFailed(ctx, op.ID, reason); err != nil {
				return fmt.Errorf("mark %s failed: %w", op.ID, err)
			}
		}
		if err := outbox.MarkSynced(ctx, synced); err != nil {
			return fmt.Errorf("mark %s batch synced: %w", kind, err)
		}
		if len(rejected) > 0 {
			return fmt.Errorf("%d of %d %s items rejected", len(rejected), len(ops), kind)
		}
		return nil
	}
}

// markAllFailed records a failed attempt on every op, using the server's own
// reason where it gave one.
func markAllFailed(ctx context.Context, outbox Outbox, ops []pending.Operation, reasons map[string]string, fallback string) error {
	for _, op := range ops {
		reason, ok := reasons[op.ID]
		if !ok {
			reason = fallback
		}
		if err := outbox.MarkFailed(ctx, op.ID, reason); err != nil {
			return fmt.Errorf("mark %s failed: %w", op.ID, err)
		}
	}
	return nil
}

// SnapshotTask refreshes the locally cached stock projection.
func SnapshotTask(cache SnapshotCache, fetcher StockFetcher) Task {
	return func(ctx context.Context, shopID string) error {
		levels, err := fetcher.FetchStock(ctx, shopID)
		if err != nil {
			return fmt.Errorf("fetch stock: %w", err)
		}
		return cache.PutSnapshot(ctx, shopID, StockSnapshotKey, levels)
	}
}
