package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stampsync/internal/domain"
)

var ErrUnknownQueue = errors.New("unknown queue")

// Backend persists one serialized collection per name. Load returns nil data
// for a collection that was never saved.
type Backend interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
}

// CollectionName is the durable collection that holds a queue.
func CollectionName(key domain.QueueKey) string {
	return string(key) + "_queue"
}

// Store owns the persisted offline operations. Every method reads the
// collection from the backend, so returned slices are snapshots. Mutations
// of one queue are serialized by that queue's lock.
type Store struct {
	backend Backend
	locks   map[domain.QueueKey]*sync.Mutex
	keys    []domain.QueueKey
	now     func() time.Time
	log     zerolog.Logger
}

func NewStore(backend Backend, keys ...domain.QueueKey) *Store {
	if len(keys) == 0 {
		keys = domain.AllQueues()
	}
	s := &Store{
		backend: backend,
		locks:   make(map[domain.QueueKey]*sync.Mutex, len(keys)),
		now:     time.Now,
		log:     log.Logger.With().Str("component", "queue").Logger(),
	}
	for _, k := range keys {
		if _, dup := s.locks[k]; dup {
			continue
		}
		s.locks[k] = &sync.Mutex{}
		s.keys = append(s.keys, k)
	}
	return s
}

// Keys returns the registered queue keys in registration order.
func (s *Store) Keys() []domain.QueueKey {
	out := make([]domain.QueueKey, len(s.keys))
	copy(out, s.keys)
	return out
}

// Enqueue appends op to the queue. An empty ID is generated; an ID already
// present overwrites the existing record in place.
func (s *Store) Enqueue(ctx context.Context, key domain.QueueKey, op domain.Operation) (domain.Operation, error) {
	if op.ID == "" {
		op.ID = "op_" + uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = s.now().UTC()
	}
	if op.RetryCount < 0 {
		op.RetryCount = 0
	}
	err := s.mutate(ctx, key, func(ops []domain.Operation) []domain.Operation {
		for i := range ops {
			if ops[i].ID == op.ID {
				ops[i] = op
				return ops
			}
		}
		return append(ops, op)
	})
	if err != nil {
		return domain.Operation{}, err
	}
	s.log.Debug().Str("queue", string(key)).Str("op_id", op.ID).Str("op_type", string(op.Type)).Msg("enqueued")
	return op, nil
}

// List returns the queue in insertion order.
func (s *Store) List(ctx context.Context, key domain.QueueKey) ([]domain.Operation, error) {
	mu, err := s.lock(key)
	if err != nil {
		return nil, err
	}
	mu.Lock()
	defer mu.Unlock()
	return s.load(ctx, key)
}

// Get returns the current record for id.
func (s *Store) Get(ctx context.Context, key domain.QueueKey, id string) (domain.Operation, bool, error) {
	ops, err := s.List(ctx, key)
	if err != nil {
		return domain.Operation{}, false, err
	}
	for _, op := range ops {
		if op.ID == id {
			return op, true, nil
		}
	}
	return domain.Operation{}, false, nil
}

// Remove deletes id from the queue. Removing an absent id is a no-op.
func (s *Store) Remove(ctx context.Context, key domain.QueueKey, id string) error {
	return s.mutate(ctx, key, func(ops []domain.Operation) []domain.Operation {
		for i := range ops {
			if ops[i].ID == id {
				return append(ops[:i], ops[i+1:]...)
			}
		}
		return nil
	})
}

// Update merges p into the record for id. Absent ids are ignored.
func (s *Store) Update(ctx context.Context, key domain.QueueKey, id string, p domain.Patch) error {
	return s.mutate(ctx, key, func(ops []domain.Operation) []domain.Operation {
		for i := range ops {
			if ops[i].ID != id {
				continue
			}
			if p.RetryCount != nil {
				ops[i].RetryCount = *p.RetryCount
			}
			return ops
		}
		return nil
	})
}

// Stats reports the length of every queue.
func (s *Store) Stats(ctx context.Context) (map[domain.QueueKey]int, error) {
	out := make(map[domain.QueueKey]int, len(s.keys))
	for _, k := range s.keys {
		ops, err := s.List(ctx, k)
		if err != nil {
			return nil, err
		}
		out[k] = len(ops)
	}
	return out, nil
}

func (s *Store) lock(key domain.QueueKey) (*sync.Mutex, error) {
	mu, ok := s.locks[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownQueue, key)
	}
	return mu, nil
}

// mutate runs fn under the queue lock and saves its result. A nil result
// means nothing changed and skips the write.
func (s *Store) mutate(ctx context.Context, key domain.QueueKey, fn func([]domain.Operation) []domain.Operation) error {
	mu, err := s.lock(key)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()

	ops, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	next := fn(ops)
	if next == nil {
		return nil
	}
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.backend.Save(ctx, CollectionName(key), data); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// load decodes the collection. Unreadable or corrupt data degrades to an
// empty queue.
func (s *Store) load(ctx context.Context, key domain.QueueKey) ([]domain.Operation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.backend.Load(ctx, CollectionName(key))
	if err != nil {
		s.log.Warn().Err(err).Str("queue", string(key)).Msg("load failed, treating queue as empty")
		return []domain.Operation{}, nil
	}
	if len(data) == 0 {
		return []domain.Operation{}, nil
	}
	var ops []domain.Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		s.log.Warn().Err(err).Str("queue", string(key)).Msg("corrupt collection, treating queue as empty")
		return []domain.Operation{}, nil
	}
	if ops == nil {
		ops = []domain.Operation{}
	}
	return ops, nil
}
