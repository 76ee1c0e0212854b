// Package connectivity tracks online/offline state and notifies subscribers
// on transitions.
package connectivity

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type subscriber struct {
	onOnline  func()
	onOffline func()
}

// Monitor holds the current connectivity state. Callbacks run only on a
// state change, once per transition, outside the monitor lock.
type Monitor struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]subscriber
	log    zerolog.Logger
}

func NewMonitor(initiallyOnline bool) *Monitor {
	return &Monitor{
		online: initiallyOnline,
		subs:   make(map[int]subscriber),
		log:    log.Logger.With().Str("component", "connectivity").Logger(),
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a callback pair. Either may be nil. The returned
// function releases the subscription and is safe to call more than once.
func (m *Monitor) Subscribe(onOnline, onOffline func()) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = subscriber{onOnline: onOnline, onOffline: onOffline}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Set applies a platform signal. It returns true when the state changed.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	fns := make([]func(), 0, len(m.subs))
	for _, s := range m.subs {
		fn := s.onOffline
		if online {
			fn = s.onOnline
		}
		if fn != nil {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	m.log.Info().Bool("online", online).Msg("connectivity changed")
	for _, fn := range fns {
		fn()
	}
	return true
}
