package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stampsync/internal/domain"
	"stampsync/internal/rpc"
)

const (
	MaxRetries     = 3
	RetryDelay     = 5 * time.Second
	AttemptTimeout = 30 * time.Second
)

var (
	ErrUnsupported      = errors.New("unsupported operation type")
	ErrRejectedNoReason = fmt.Errorf("%w: no reason given", rpc.ErrRejected)
)

// Outcome is the result of one attempt.
type Outcome int

const (
	Succeeded Outcome = iota
	// Failed: the attempt failed. A retry is scheduled only if the bumped
	// retry count was saved.
	Failed
	// Exhausted: the attempt failed with no retries left. The record stays queued.
	Exhausted
	// Unsupported: no handler for the type. Never retried, never removed.
	Unsupported
	// Skipped: the operation was in flight, waiting on a scheduled retry, or
	// no longer queued.
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Exhausted:
		return "exhausted"
	case Unsupported:
		return "unsupported"
	case Skipped:
		return "skipped"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Handler sends one payload to the remote system.
type Handler func(ctx context.Context, payload json.RawMessage) (domain.RPCResult, error)

type Store interface {
	Get(ctx context.Context, key domain.QueueKey, id string) (domain.Operation, bool, error)
	Update(ctx context.Context, key domain.QueueKey, id string, p domain.Patch) error
	Remove(ctx context.Context, key domain.QueueKey, id string) error
}

type Scheduler interface {
	Schedule(id string, delay time.Duration, fn func())
	// Scheduled reports whether a retry for id is waiting to fire. A firing
	// retry is no longer pending when fn runs.
	Scheduled(id string) bool
}

type Option func(*Processor)

func WithMaxRetries(n int) Option {
	return func(p *Processor) { p.maxRetries = n }
}

func WithRetryDelay(d time.Duration) Option {
	return func(p *Processor) { p.retryDelay = d }
}

func WithAttemptTimeout(d time.Duration) Option {
	return func(p *Processor) { p.attemptTimeout = d }
}

// WithHandler registers or replaces the handler for t.
func WithHandler(t domain.OperationType, h Handler) Option {
	return func(p *Processor) { p.handlers[t] = h }
}

// Processor dispatches queued operations to the remote system and decides
// between success, retry and give-up. It holds a lease per operation id so
// no id is ever attempted twice at the same time.
type Processor struct {
	store    Store
	sched    Scheduler
	handlers map[domain.OperationType]Handler

	maxRetries     int
	retryDelay     time.Duration
	attemptTimeout time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}

	counts [Skipped + 1]atomic.Int64
	log    zerolog.Logger
}

func New(store Store, sched Scheduler, client rpc.Client, opts ...Option) *Processor {
	p := &Processor{
		store:          store,
		sched:          sched,
		handlers:       make(map[domain.OperationType]Handler),
		maxRetries:     MaxRetries,
		retryDelay:     RetryDelay,
		attemptTimeout: AttemptTimeout,
		inflight:       make(map[string]struct{}),
		log:            log.Logger.With().Str("component", "processor").Logger(),
	}
	if client != nil {
		p.handlers[domain.OpStamp] = client.IssueStamp
		p.handlers[domain.OpRedemption] = client.RedeemReward
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Lease marks id as in flight. ok is false when another attempt holds it.
func (p *Processor) Lease(id string) (release func(), ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[id]; busy {
		return nil, false
	}
	p.inflight[id] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.inflight, id)
			p.mu.Unlock()
		})
	}, true
}

// InFlight reports whether id is currently leased.
func (p *Processor) InFlight(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[id]
	return ok
}

// Run is the guarded attempt used by sync passes and timer retries: lease the
// id, re-read the current record, process it, and remove it on success while
// the lease is still held. An id with a retry waiting to fire is left to that
// retry so failed attempts stay RetryDelay apart.
func (p *Processor) Run(ctx context.Context, key domain.QueueKey, id string) Outcome {
	release, ok := p.Lease(id)
	if !ok {
		p.log.Debug().Str("queue", string(key)).Str("op_id", id).Msg("already in flight")
		return p.count(Skipped)
	}
	defer release()

	if p.sched.Scheduled(id) {
		p.log.Debug().Str("queue", string(key)).Str("op_id", id).Msg("retry pending")
		return p.count(Skipped)
	}

	op, found, err := p.store.Get(ctx, key, id)
	if err != nil {
		p.log.Error().Err(err).Str("queue", string(key)).Str("op_id", id).Msg("read operation")
		return p.count(Skipped)
	}
	if !found {
		return p.count(Skipped)
	}

	out := p.Process(ctx, key, op)
	if out == Succeeded {
		// The remote has applied it, so removal outlives the caller's ctx.
		if err := p.store.Remove(context.WithoutCancel(ctx), key, id); err != nil {
			p.log.Error().Err(err).Str("queue", string(key)).Str("op_id", id).Msg("remove after success")
		}
	}
	return out
}

// Process makes one remote attempt for op. It never removes the record; on
// a retryable failure it bumps the stored retry count and schedules Run.
func (p *Processor) Process(ctx context.Context, key domain.QueueKey, op domain.Operation) Outcome {
	l := p.log.With().Str("queue", string(key)).Str("op_id", op.ID).Str("op_type", string(op.Type)).Int("retry_count", op.RetryCount).Logger()

	h, ok := p.handlers[op.Type]
	if !ok {
		l.Error().Err(ErrUnsupported).Msg("operation left in queue")
		return p.count(Unsupported)
	}

	err := p.call(ctx, h, op.Payload)
	if err == nil {
		l.Info().Msg("operation synced")
		return p.count(Succeeded)
	}

	if op.RetryCount >= p.maxRetries {
		l.Warn().Err(err).Msg("retries exhausted, operation stays queued")
		return p.count(Exhausted)
	}

	next := op.RetryCount + 1
	if uerr := p.store.Update(ctx, key, op.ID, domain.Patch{RetryCount: &next}); uerr != nil {
		// Without the bump the retry budget never runs out.
		l.Error().Err(uerr).AnErr("attempt_err", err).Msg("bump retry count, retry not scheduled")
		return p.count(Failed)
	}
	retryCtx := context.WithoutCancel(ctx)
	p.sched.Schedule(op.ID, p.retryDelay, func() { p.Run(retryCtx, key, op.ID) })
	l.Warn().Err(err).Dur("retry_in", p.retryDelay).Msg("operation failed, retry scheduled")
	return p.count(Failed)
}

// call normalizes transport errors and success=false into one error path.
func (p *Processor) call(ctx context.Context, h Handler, payload json.RawMessage) error {
	if p.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.attemptTimeout)
		defer cancel()
	}
	res, err := h(ctx, payload)
	if err != nil {
		return err
	}
	if !res.Success {
		if res.Error == "" {
			return ErrRejectedNoReason
		}
		return fmt.Errorf("%w: %s", rpc.ErrRejected, res.Error)
	}
	return nil
}

func (p *Processor) count(o Outcome) Outcome {
	p.counts[o].Add(1)
	return o
}

// Counts returns totals per outcome since start.
func (p *Processor) Counts() map[string]int64 {
	out := make(map[string]int64, len(p.counts))
	for o := Succeeded; o <= Skipped; o++ {
		out[o.String()] = p.counts[o].Load()
	}
	return out
}
