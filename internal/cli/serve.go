package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"stampsync/internal/api"
	"stampsync/internal/connectivity"
	"stampsync/internal/scheduler"
)

type ServeOptions struct {
	*RootOptions
	Addr  string
	Debug bool
}

func NewServeCommand(root *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync service and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				opts.Config.Addr = opts.Addr
			}
			if cmd.Flags().Changed("debug") {
				opts.Config.Debug = opts.Debug
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts.Config.Addr, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "HTTP bind address")
	cmd.Flags().BoolVar(&opts.Debug, "debug", false, "expose pprof under /debug/pprof")
	return cmd
}

func runServe(ctx context.Context, addr string, opts *ServeOptions) error {
	cfg := opts.Config
	app, err := NewApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if stats, err := app.Store.Stats(ctx); err == nil {
		log.Info().Interface("queued", stats).Msg("offline queues loaded")
	}

	unwatch := app.Syncer.Watch(ctx, app.Monitor)

	var bg sync.WaitGroup
	if app.Monitor.Online() {
		bg.Add(1)
		go func() {
			defer bg.Done()
			_ = app.Syncer.SyncAll(ctx)
		}()
	}

	prober := connectivity.NewProber(cfg.Connectivity.ProbeURL, cfg.Connectivity.ProbeInterval, app.Monitor)
	bg.Add(1)
	go func() {
		defer bg.Done()
		prober.Run(ctx)
	}()

	sweeper, err := scheduler.NewSweeper(cfg.Sync.Sweep, app.Syncer, app.Monitor)
	if err != nil {
		unwatch()
		return err
	}
	if sweeper != nil {
		sweeper.Start()
	}

	srv := &http.Server{Addr: addr, Handler: api.NewServerWithDebug(api.Deps{
		Store:     app.Store,
		Processor: app.Processor,
		Retries:   app.Retries,
		Syncer:    app.Syncer,
		Monitor:   app.Monitor,
		Notes:     app.Notes,
	}, cfg.Debug)}
	srvErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-srvErr:
	}
	log.Info().Msg("shutting down")

	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
	if sweeper != nil {
		sweeper.Stop(ctxTimeout)
	}
	unwatch()
	app.Retries.Stop()
	app.Syncer.Wait()
	bg.Wait()
	return err
}
