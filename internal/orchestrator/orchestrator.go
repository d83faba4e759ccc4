package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Task is one unit of background sync work for a shop.
type Task func(ctx context.Context, shopID string) error

type namedTask struct {
	name string
	run  Task
}

// Orchestrator runs registered sync tasks for a shop. At most one run per shop
// is in flight; tasks of a run execute concurrently and their failures are
// logged, never returned, so the terminal's local writes are never blocked.
type Orchestrator struct {
	mu       sync.Mutex
	tasks    []namedTask
	inFlight map[string]bool
	limit    int
	log      *logrus.Entry
	bg       sync.WaitGroup
}

func New(logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		inFlight: make(map[string]bool),
		limit:    4,
		log:      logger.WithField("component", "orchestrator"),
	}
}

func (o *Orchestrator) Register(name string, task Task) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tasks = append(o.tasks, namedTask{name: name, run: task})
}

// RunAll runs every registered task once for shopID and waits for them. It
// returns false without doing anything when a run for the shop is already in
// flight.
func (o *Orchestrator) RunAll(ctx context.Context, shopID string) bool {
	o.mu.Lock()
	if o.inFlight[shopID] {
		o.mu.Unlock()
		o.log.WithField("shop_id", shopID).Debug("sync already running, skipped")
		return false
	}
	o.inFlight[shopID] = true
	tasks := append([]namedTask(nil), o.tasks...)
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.inFlight, shopID)
		o.mu.Unlock()
	}()

	startedAt := time.Now()
	var credentialsWarned sync.Once
	var g errgroup.Group
	g.SetLimit(o.limit)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			err := task.run(ctx, shopID)
			switch {
			case err == nil:
			case errors.Is(err, ErrCredentialsRejected):
				credentialsWarned.Do(func() {
					o.log.WithField("shop_id", shopID).WithError(err).Warn("access token rejected, pending operations kept until it is replaced")
				})
			default:
				o.log.WithFields(logrus.Fields{"shop_id": shopID, "task": task.name}).WithError(err).Warn("sync task failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	o.log.WithFields(logrus.Fields{
		"shop_id":     shopID,
		"tasks":       len(tasks),
		"duration_ms": time.Since(startedAt).Milliseconds(),
	}).Debug("sync run finished")
	return true
}

// Trigger starts a run in the background and returns immediately.
func (o *Orchestrator) Trigger(ctx context.Context, shopID string) {
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		o.RunAll(context.WithoutCancel(ctx), shopID)
	}()
}

// Wait blocks until every triggered background run has finished.
func (o *Orchestrator) Wait() {
	o.bg.Wait()
}

// Start runs immediately and then every interval until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context, shopID string, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.RunAll(ctx, shopID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.RunAll(ctx, shopID)
		}
	}
}
