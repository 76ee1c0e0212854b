package cli

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"stampsync/internal/config"
	"stampsync/internal/connectivity"
	"stampsync/internal/notify"
	"stampsync/internal/processor"
	"stampsync/internal/queue"
	"stampsync/internal/rpc"
	"stampsync/internal/scheduler"
	"stampsync/internal/syncer"
	"stampsync/internal/worker"
)

// App is the wired sync service.
type App struct {
	Config    config.Config
	DB        *sql.DB
	Store     *queue.Store
	Retries   *scheduler.RetryScheduler
	Processor *processor.Processor
	Syncer    *syncer.Orchestrator
	Monitor   *connectivity.Monitor
	Notes     *notify.Recorder
}

func NewApp(cfg config.Config) (*App, error) {
	a := &App{Config: cfg}

	var backend queue.Backend
	if cfg.DBPath == "" || cfg.DBPath == ":memory:" {
		backend = queue.NewMemoryBackend()
	} else {
		db, err := queue.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		if err := queue.EnsureSchema(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		a.DB = db
		backend = queue.NewSQLiteBackend(db)
	}

	a.Store = queue.NewStore(backend)
	a.Retries = scheduler.NewRetryScheduler()
	client := rpc.NewHTTPClient(cfg.Backend.URL, cfg.Backend.APIKey, cfg.Backend.Timeout)
	a.Processor = processor.New(a.Store, a.Retries, client,
		processor.WithMaxRetries(cfg.Sync.MaxRetries),
		processor.WithRetryDelay(cfg.Sync.RetryDelay),
		processor.WithAttemptTimeout(cfg.Sync.AttemptTimeout),
	)
	a.Notes = notify.NewRecorder(100)
	a.Syncer = syncer.New(a.Store, a.Processor, worker.NewPool(cfg.Sync.MaxParallelQueues), a.Notes)
	a.Monitor = connectivity.NewMonitor(cfg.Connectivity.StartOnline)
	return a, nil
}

// Close stops pending retries and closes the database.
func (a *App) Close() error {
	a.Retries.Stop()
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
