package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"stampsync/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	DBPath     string
	BackendURL string
	APIKey     string
	LogLevel   string
	Format     string // "json" | "text"

	Config config.Config
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "stampsync",
		Short:         "Offline stamp and redemption queue with background sync",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.load(cmd)
		},
	}

	f := cmd.PersistentFlags()
	f.StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file")
	f.StringVar(&opts.DBPath, "db", "", "SQLite DB path (\":memory:\" for a non-durable store)")
	f.StringVar(&opts.BackendURL, "backend", "", "remote RPC base URL")
	f.StringVar(&opts.APIKey, "api-key", "", "remote API key")
	f.StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	f.StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewEnqueueCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))

	return cmd
}

// load reads the config file, applies flags that were set, and configures
// the global logger.
func (o *RootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	if f.Changed("db") {
		cfg.DBPath = o.DBPath
	}
	if f.Changed("backend") {
		cfg.Backend.URL = o.BackendURL
	}
	if f.Changed("api-key") {
		cfg.Backend.APIKey = o.APIKey
	}
	if f.Changed("log-level") {
		cfg.Log.Level = o.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.Config = cfg
	return setupLogger(cfg.Log)
}

func setupLogger(c config.Log) error {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if c.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
