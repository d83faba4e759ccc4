package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/OasisMate/cartpos-sub000/internal/domain"
	"github.com/OasisMate/cartpos-sub000/internal/orchestrator"
	"github.com/OasisMate/cartpos-sub000/internal/pending"
	"github.com/OasisMate/cartpos-sub000/internal/syncclient"
)

const defaultBatchSize = 50

// Remote is the server side of sync as seen by a terminal.
type Remote interface {
	orchestrator.Pusher
	orchestrator.StockFetcher
}

// Terminal records operations locally first and pushes them in the
// background. A record call never waits on the network.
type Terminal struct {
	shopID string
	outbox *pending.Store
	orch   *orchestrator.Orchestrator
	log    *logrus.Entry
}

func New(shopID string, outbox *pending.Store, remote Remote, logger *logrus.Logger) *Terminal {
	orch := orchestrator.New(logger)
	for _, kind := range domain.SyncKinds {
		orch.Register("push_"+kind.Path(), orchestrator.PushTask(outbox, remote, kind, defaultBatchSize,
			orchestrator.WithCredentialCheck(syncclient.IsAuthError)))
	}
	orch.Register("stock_snapshot", orchestrator.SnapshotTask(outbox, remote))

	return &Terminal{
		shopID: shopID,
		outbox: outbox,
		orch:   orch,
		log:    logger.WithFields(logrus.Fields{"component": "terminal", "shop_id": shopID}),
	}
}

// Record commits the operation to the outbox and then triggers a sync run.
func (t *Terminal) Record(ctx context.Context, kind domain.SyncKind, payload json.RawMessage) (pending.Operation, error) {
	op, err := t.outbox.Enqueue(ctx, t.shopID, kind, payload)
	if err != nil {
		return pending.Operation{}, fmt.Errorf("record %s locally: %w", kind, err)
	}
	t.log.WithFields(logrus.Fields{"kind": kind, "id": op.ID}).Info("operation recorded")
	t.orch.Trigger(ctx, t.shopID)
	return op, nil
}

// Sync runs every sync task once and waits for it. It reports false when a
// run was already in flight.
func (t *Terminal) Sync(ctx context.Context) bool {
	return t.orch.RunAll(ctx, t.shopID)
}

// Watch syncs on interval until ctx is cancelled.
func (t *Terminal) Watch(ctx context.Context, interval time.Duration) {
	t.orch.Start(ctx, t.shopID, interval)
}

func (t *Terminal) Status(ctx context.Context) ([]pending.KindSummary, error) {
	return t.outbox.Summary(ctx, t.shopID)
}

func (t *Terminal) Pending(ctx context.Context, kind domain.SyncKind, limit int) ([]pending.Operation, error) {
	return t.outbox.ListPending(ctx, t.shopID, kind, limit)
}

// CachedStock returns the last stock projection fetched from the server.
func (t *Terminal) CachedStock(ctx context.Context) ([]domain.StockLevel, time.Time, bool, error) {
	var levels []domain.StockLevel
	fetchedAt, found, err := t.outbox.Snapshot(ctx, t.shopID, orchestrator.StockSnapshotKey, &levels)
	if err != nil || !found {
		return nil, time.Time{}, found, err
	}
	return levels, fetchedAt, true, nil
}

// Purge drops synced operations older than retention.
func (t *Terminal) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	return t.outbox.PurgeSynced(ctx, time.Now().UTC().Add(-retention))
}

// Wait blocks until background runs started by Record have finished.
func (t *Terminal) Wait() {
	t.orch.Wait()
}
