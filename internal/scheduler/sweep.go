package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Syncer interface {
	SyncAll(ctx context.Context) error
}

type OnlineChecker interface {
	Online() bool
}

// Sweeper periodically re-runs a full sync while online, so operations that
// exhausted their timer retries are attempted again without a reconnect.
type Sweeper struct {
	cron    *cron.Cron
	entry   cron.EntryID
	syncer  Syncer
	monitor OnlineChecker
	log     zerolog.Logger
}

// NewSweeper returns nil when the cron expression is empty.
func NewSweeper(spec string, syncer Syncer, monitor OnlineChecker) (*Sweeper, error) {
	if spec == "" {
		return nil, nil
	}
	l := log.Logger.With().Str("component", "sweep").Logger()
	s := &Sweeper{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{l}))),
		syncer:  syncer,
		monitor: monitor,
		log:     l,
	}
	id, err := s.cron.AddFunc(spec, func() { s.run(context.Background()) })
	if err != nil {
		return nil, err
	}
	s.entry = id
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
	s.log.Info().Time("next_run", s.Next()).Msg("sweep started")
}

// Stop waits for a running sweep to finish or ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Next is the time of the next scheduled sweep.
func (s *Sweeper) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

func (s *Sweeper) run(ctx context.Context) {
	if !s.monitor.Online() {
		s.log.Debug().Msg("offline, sweep skipped")
		return
	}
	if err := s.syncer.SyncAll(ctx); err != nil {
		s.log.Error().Err(err).Msg("sweep sync failed")
	}
}

// ValidateCronExpression validates a cron expression
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
