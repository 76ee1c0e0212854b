// Package syncer drains the offline queues against the remote system.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stampsync/internal/domain"
	"stampsync/internal/notify"
	"stampsync/internal/processor"
	"stampsync/internal/worker"
)

const (
	MsgSynced     = "Offline actions synced"
	MsgSyncFailed = "Failed to sync offline actions"
)

type Lister interface {
	Keys() []domain.QueueKey
	List(ctx context.Context, key domain.QueueKey) ([]domain.Operation, error)
}

type Runner interface {
	Run(ctx context.Context, key domain.QueueKey, id string) processor.Outcome
}

type Subscriber interface {
	Subscribe(onOnline, onOffline func()) (unsubscribe func())
}

// Report counts the outcomes of one queue drain.
type Report struct {
	Queue       domain.QueueKey `json:"queue"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	Exhausted   int             `json:"exhausted"`
	Unsupported int             `json:"unsupported"`
	Skipped     int             `json:"skipped"`
}

func (r *Report) add(o processor.Outcome) {
	switch o {
	case processor.Succeeded:
		r.Succeeded++
	case processor.Failed:
		r.Failed++
	case processor.Exhausted:
		r.Exhausted++
	case processor.Unsupported:
		r.Unsupported++
	case processor.Skipped:
		r.Skipped++
	}
}

// Orchestrator runs full sync passes. Queues drain concurrently; operations
// inside a queue run one at a time in snapshot order. Passes may overlap:
// the processor's lease keeps each operation to one attempt at a time.
type Orchestrator struct {
	store  Lister
	runner Runner
	pool   *worker.Pool
	notify notify.Notifier
	log    zerolog.Logger

	mu     sync.Mutex
	closed bool
	bg     sync.WaitGroup
}

func New(store Lister, runner Runner, pool *worker.Pool, n notify.Notifier) *Orchestrator {
	if pool == nil {
		pool = worker.NewPool(len(store.Keys()))
	}
	return &Orchestrator{
		store:  store,
		runner: runner,
		pool:   pool,
		notify: n,
		log:    log.Logger.With().Str("component", "syncer").Logger(),
	}
}

// SyncAll runs one pass and sends exactly one aggregate notification.
// Individual operation failures never surface here.
func (o *Orchestrator) SyncAll(ctx context.Context) error {
	_, err := o.Sync(ctx)
	return err
}

// Sync is SyncAll with per-queue reports.
func (o *Orchestrator) Sync(ctx context.Context) (reports []Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &worker.PanicError{Value: r}
		}
		if err != nil {
			o.log.Error().Err(err).Msg("sync pass failed")
			o.notify.Failure(MsgSyncFailed)
			return
		}
		o.notify.Success(MsgSynced)
	}()

	keys := o.store.Keys()
	reports = make([]Report, len(keys))
	jobs := make([]worker.Job, len(keys))
	for i, key := range keys {
		i, key := i, key
		jobs[i] = func(ctx context.Context) error {
			r, err := o.SyncQueue(ctx, key)
			reports[i] = r
			return err
		}
	}

	var errs []error
	for i, e := range o.pool.Run(ctx, jobs...) {
		if e != nil {
			errs = append(errs, fmt.Errorf("queue %s: %w", keys[i], e))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return reports, err
	}

	o.log.Info().Interface("reports", reports).Msg("sync pass complete")
	return reports, nil
}

// SyncQueue drains one queue from a snapshot. A failing operation does not
// stop the ones after it.
func (o *Orchestrator) SyncQueue(ctx context.Context, key domain.QueueKey) (Report, error) {
	rep := Report{Queue: key}
	ops, err := o.store.List(ctx, key)
	if err != nil {
		return rep, err
	}
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.add(o.runner.Run(ctx, key, op.ID))
	}
	return rep, nil
}

// Watch starts a background pass on every offline→online transition without
// blocking the signal. Call the returned function on teardown.
func (o *Orchestrator) Watch(ctx context.Context, s Subscriber) (unsubscribe func()) {
	return s.Subscribe(func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.closed {
			return
		}
		o.bg.Add(1)
		go func() {
			defer o.bg.Done()
			_ = o.SyncAll(ctx)
		}()
	}, nil)
}

// Wait blocks until background passes started by Watch have returned. Once
// Wait is called, later reconnects start no new passes.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.bg.Wait()
}
