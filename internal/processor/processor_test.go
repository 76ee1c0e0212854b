package processor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stampsync/internal/domain"
	"stampsync/internal/queue"
)

type scheduled struct {
	id    string
	delay time.Duration
	fn    func()
}

// recordingScheduler keeps every scheduled retry. Calling a recorded fn
// fires it: the id stops being pending before fn runs.
type recordingScheduler struct {
	mu      sync.Mutex
	calls   []scheduled
	pending map[string]bool
}

func (r *recordingScheduler) Schedule(id string, delay time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		r.pending = make(map[string]bool)
	}
	r.pending[id] = true
	r.calls = append(r.calls, scheduled{id: id, delay: delay, fn: func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		fn()
	}})
}

func (r *recordingScheduler) Scheduled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending[id]
}

func (r *recordingScheduler) last() scheduled {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func (r *recordingScheduler) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fakeRemote struct {
	mu       sync.Mutex
	calls    []string
	payloads []string
	result   domain.RPCResult
	err      error
}

func (f *fakeRemote) handler(name string) Handler {
	return func(_ context.Context, payload json.RawMessage) (domain.RPCResult, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls = append(f.calls, name)
		f.payloads = append(f.payloads, string(payload))
		return f.result, f.err
	}
}

func (f *fakeRemote) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func setup(t *testing.T, remote *fakeRemote) (*Processor, *queue.Store, *recordingScheduler) {
	t.Helper()
	store := queue.NewStore(queue.NewMemoryBackend())
	sched := &recordingScheduler{}
	p := New(store, sched, nil,
		WithHandler(domain.OpStamp, remote.handler("stamp")),
		WithHandler(domain.OpRedemption, remote.handler("redemption")),
	)
	return p, store, sched
}

func enqueueStamp(t *testing.T, store *queue.Store, id string) domain.Operation {
	t.Helper()
	op, err := store.Enqueue(context.Background(), domain.QueueStamps, domain.Operation{
		ID: id, Type: domain.OpStamp, Payload: json.RawMessage(`{"customerId":"c1","cardId":"k1","stamps":1}`),
	})
	require.NoError(t, err)
	return op
}

func retryCount(t *testing.T, store *queue.Store, id string) int {
	t.Helper()
	op, ok, err := store.Get(context.Background(), domain.QueueStamps, id)
	require.NoError(t, err)
	require.True(t, ok, "operation %s should still be queued", id)
	return op.RetryCount
}

func TestProcess_SuccessDoesNotMutateStore(t *testing.T) {
	remote := &fakeRemote{result: domain.RPCResult{Success: true}}
	p, store, sched := setup(t, remote)
	op := enqueueStamp(t, store, "op-1")

	out := p.Process(context.Background(), domain.QueueStamps, op)

	assert.Equal(t, Succeeded, out)
	assert.Equal(t, 0, retryCount(t, store, "op-1"))
	assert.Equal(t, 0, sched.len())
	assert.Equal(t, []string{`{"customerId":"c1","cardId":"k1","stamps":1}`}, remote.payloads)
}

func TestRun_SuccessRemoves(t *testing.T) {
	remote := &fakeRemote{result: domain.RPCResult{Success: true}}
	p, store, _ := setup(t, remote)
	enqueueStamp(t, store, "op-1")

	out := p.Run(context.Background(), domain.QueueStamps, "op-1")

	assert.Equal(t, Succeeded, out)
	_, ok, err := store.Get(context.Background(), domain.QueueStamps, "op-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, p.InFlight("op-1"))
}

func TestProcess_ApplicationFailureSchedulesRetry(t *testing.T) {
	remote := &fakeRemote{result: domain.RPCResult{Success: false, Error: "card not found"}}
	p, store, sched := setup(t, remote)
	op := enqueueStamp(t, store, "op-1")

	out := p.Process(context.Background(), domain.QueueStamps, op)

	assert.Equal(t, Failed, out)
	assert.Equal(t, 1, retryCount(t, store, "op-1"))
	require.Equal(t, 1, sched.len())
	assert.Equal(t, "op-1", sched.last().id)
	assert.Equal(t, 5000*time.Millisecond, sched.last().delay)
}

func TestProcess_TransportFailureTakesSamePath(t *testing.T) {
	remote := &fakeRemote{err: errors.New("dial tcp: connection refused")}
	p, store, sched := setup(t, remote)
	op := enqueueStamp(t, store, "op-1")

	out := p.Process(context.Background(), domain.QueueStamps, op)

	assert.Equal(t, Failed, out)
	assert.Equal(t, 1, retryCount(t, store, "op-1"))
	assert.Equal(t, 1, sched.len())
}

func TestProcess_RetriesCapAtMax(t *testing.T) {
	remote := &fakeRemote{result: domain.RPCResult{Success: false, Error: "card not found"}}
	p, store, sched := setup(t, remote)
	op := enqueueStamp(t, store, "op-1")

	require.Equal(t, Failed, p.Process(context.Background(), domain.QueueStamps, op))
	sched.last().fn()
	sched.last().fn()
	require.Equal(t, 3, sched.len())
	assert.Equal(t, 3, retryCount(t, store, "op-1"))

	// Fourth attempt: no more scheduling, record stays.
	sched.last().fn()

	assert.Equal(t, 4, remote.count())
	assert.Equal(t, 3, sched.len())
	assert.Equal(t, 3, retryCount(t, store, "op-1"))
	assert.Equal(t, int64(1), p.Counts()["exhausted"])
}

func TestProcess_UnknownTypeIsNotRetried(t *testing.T) {
	remote := &fakeRemote{result: domain.RPCResult{Success: true}}
	p, store, sched := setup(t, remote)
	op, err := store.Enqueue(context.Background(), domain.QueueStamps, domain.Operation{ID: "odd", Type: "voucher", Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)

	out := p.Run(context.Background(), domain.QueueStamps, op.ID)

	assert.Equal(t, Unsupported, out)
	assert.Equal(t, 0, remote.count())
	assert.Equal(t, 0, sched.len())
	assert.Equal(t, 0, retryCount(t, store, "odd"))
}

func TestRun_SkipsWhileLeased(t *testing.T) {
	remote := &fakeRemote{result: domain.RPCResult{Success: true}}
	p, store, _ := setup(t, remote)
	enqueueStamp(t, store, "op-1")

	release, ok := p.Lease("op-1")
	require.True(t, ok)
	_, again := p.Lease("op-1")
	assert.False(t, again)

	assert.Equal(t, Skipped, p.Run(context.Background(), domain.QueueStamps, "op-1"))
	assert.Equal(t, 0, remote.count())

	release()
	release()
	assert.Equal(t, Succeeded, p.Run(context.Background(), domain.QueueStamps, "op-1"))
}

func TestRun_RetryAfterRemovalIsNoop(t *testing.T) {
	remote := &fakeRemote{result: domain.RPCResult{Success: false, Error: "offline"}}
	p, store, sched := setup(t, remote)
	enqueueStamp(t, store, "op-1")

	require.Equal(t, Failed, p.Run(context.Background(), domain.QueueStamps, "op-1"))
	require.NoError(t, store.Remove(context.Background(), domain.QueueStamps, "op-1"))

	sched.last().fn()

	assert.Equal(t, 1, remote.count())
	assert.Equal(t, 1, sched.len())
}

func TestRun_UsesCurrentRetryCount(t *testing.T) {
	remote := &fakeRemote{result: domain.RPCResult{Success: false, Error: "offline"}}
	p, store, sched := setup(t, remote)
	enqueueStamp(t, store, "op-1")
	n := 3
	require.NoError(t, store.Update(context.Background(), domain.QueueStamps, "op-1", domain.Patch{RetryCount: &n}))

	assert.Equal(t, Exhausted, p.Run(context.Background(), domain.QueueStamps, "op-1"))
	assert.Equal(t, 0, sched.len())
}

func TestRun_SkipsWhileRetryPending(t *testing.T) {
	remote := &fakeRemote{result: domain.RPCResult{Success: false, Error: "card not found"}}
	p, store, sched := setup(t, remote)
	enqueueStamp(t, store, "op-1")

	require.Equal(t, Failed, p.Run(context.Background(), domain.QueueStamps, "op-1"))
	assert.Equal(t, Skipped, p.Run(context.Background(), domain.QueueStamps, "op-1"))
	assert.Equal(t, 1, remote.count())
	assert.Equal(t, 1, retryCount(t, store, "op-1"))

	sched.last().fn()

	assert.Equal(t, 2, remote.count())
	assert.Equal(t, 2, retryCount(t, store, "op-1"))
}

func TestRun_RemovesAfterSuccessWhenCallerCancels(t *testing.T) {
	store := queue.NewStore(queue.NewMemoryBackend())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	p := New(store, &recordingScheduler{}, nil,
		WithHandler(domain.OpStamp, func(context.Context, json.RawMessage) (domain.RPCResult, error) {
			calls++
			cancel()
			return domain.RPCResult{Success: true}, nil
		}),
	)
	enqueueStamp(t, store, "op-1")

	assert.Equal(t, Succeeded, p.Run(ctx, domain.QueueStamps, "op-1"))

	_, ok, err := store.Get(context.Background(), domain.QueueStamps, "op-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Skipped, p.Run(context.Background(), domain.QueueStamps, "op-1"))
	assert.Equal(t, 1, calls)
}

// failingSaves wraps a memory backend whose saves can be switched off.
type failingSaves struct {
	*queue.MemoryBackend
	fail atomic.Bool
}

func (f *failingSaves) Save(ctx context.Context, name string, data []byte) error {
	if f.fail.Load() {
		return errors.New("disk full")
	}
	return f.MemoryBackend.Save(ctx, name, data)
}

func TestProcess_UnsavedRetryCountSchedulesNothing(t *testing.T) {
	backend := &failingSaves{MemoryBackend: queue.NewMemoryBackend()}
	store := queue.NewStore(backend)
	sched := &recordingScheduler{}
	remote := &fakeRemote{result: domain.RPCResult{Success: false, Error: "card not found"}}
	p := New(store, sched, nil, WithHandler(domain.OpStamp, remote.handler("stamp")))
	enqueueStamp(t, store, "op-1")
	backend.fail.Store(true)

	assert.Equal(t, Failed, p.Run(context.Background(), domain.QueueStamps, "op-1"))

	assert.Equal(t, 0, sched.len())
	assert.Equal(t, 1, remote.count())
	assert.Equal(t, 0, retryCount(t, store, "op-1"))
}

func TestProcess_RejectedWithoutReason(t *testing.T) {
	remote := &fakeRemote{result: domain.RPCResult{Success: false}}
	p, store, _ := setup(t, remote)
	op := enqueueStamp(t, store, "op-1")

	assert.Equal(t, Failed, p.Process(context.Background(), domain.QueueStamps, op))
}

type stubClient struct{ stamps, redemptions int }

func (s *stubClient) IssueStamp(context.Context, json.RawMessage) (domain.RPCResult, error) {
	s.stamps++
	return domain.RPCResult{Success: true}, nil
}

func (s *stubClient) RedeemReward(context.Context, json.RawMessage) (domain.RPCResult, error) {
	s.redemptions++
	return domain.RPCResult{Success: true}, nil
}

func TestNew_RegistersClientHandlers(t *testing.T) {
	client := &stubClient{}
	p := New(queue.NewStore(queue.NewMemoryBackend()), &recordingScheduler{}, client)

	assert.Equal(t, Succeeded, p.Process(context.Background(), domain.QueueStamps, domain.Operation{ID: "a", Type: domain.OpStamp}))
	assert.Equal(t, Succeeded, p.Process(context.Background(), domain.QueueRedemptions, domain.Operation{ID: "b", Type: domain.OpRedemption}))
	assert.Equal(t, 1, client.stamps)
	assert.Equal(t, 1, client.redemptions)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "exhausted", Exhausted.String())
	assert.Equal(t, "outcome(42)", Outcome(42).String())
}
