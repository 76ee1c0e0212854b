// Package notify is the user-facing sink for aggregate sync outcomes.
package notify

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelFailure Level = "failure"
)

type Notification struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type Notifier interface {
	Success(msg string)
	Failure(msg string)
}

// Recorder logs every notification and keeps the most recent ones for the
// API to show.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
	max   int
	now   func() time.Time
	log   zerolog.Logger
}

func NewRecorder(max int) *Recorder {
	if max <= 0 {
		max = 50
	}
	return &Recorder{
		max: max,
		now: time.Now,
		log: log.Logger.With().Str("component", "notify").Logger(),
	}
}

func (r *Recorder) Success(msg string) {
	r.log.Info().Msg(msg)
	r.add(LevelSuccess, msg)
}

func (r *Recorder) Failure(msg string) {
	r.log.Error().Msg(msg)
	r.add(LevelFailure, msg)
}

// Recent returns stored notifications, oldest first.
func (r *Recorder) Recent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

func (r *Recorder) add(l Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, Notification{Level: l, Message: msg, At: r.now().UTC()})
	if len(r.items) > r.max {
		r.items = append([]Notification(nil), r.items[len(r.items)-r.max:]...)
	}
}
