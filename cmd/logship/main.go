package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/logship/internal/cliconfig"
	"github.com/bft-labs/logship/pkg/log"
	"github.com/bft-labs/logship/pkg/logship"
	"github.com/bft-labs/logship/plugins/configwatcher"
)

const helpDescription = `
Ship structured log records to CloudWatch Logs.

Records are read as JSON lines from stdin or a followed file, routed to a
log group and stream (static names or the record tag), rendered into
messages and delivered in ordered batches within the service limits.

Highlights:
  - Keeps sequence token continuity per stream and repairs stale tokens.
  - Creates missing groups and streams on demand (--auto-create-stream).
  - Configure via file, env (LOGSHIP_*), or flags; rendering options reload live.
`

var exampleUsage = strings.TrimSpace(`
  app | logship --log-group-name app --log-stream-name web-1
  logship --config /etc/logship/config.toml --use-tag-as-stream --input /var/log/app.jsonl
  logship --log-group-name app --use-tag-as-stream --input events.jsonl --once --dry-run
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// maskedConfig hides credentials before the configuration is logged.
func maskedConfig(cfg cliconfig.Config) cliconfig.Config {
	if cfg.RedisURL != "" {
		if u, err := url.Parse(cfg.RedisURL); err == nil && u.User != nil {
			u.User = url.User("*****")
			cfg.RedisURL = u.String()
		}
	}
	if len(cfg.Headers) > 0 {
		masked := make(map[string]string, len(cfg.Headers))
		for k := range cfg.Headers {
			masked[k] = "*****"
		}
		cfg.Headers = masked
	}
	return cfg
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string
	var messageKeys string

	bootLogger, _ := log.NewZerologAdapter(log.Options{})
	logger := bootLogger.Logger()

	root := &cobra.Command{
		Use:     "logship",
		Short:   "Ship structured log records to CloudWatch Logs",
		Long:    strings.TrimSpace(helpDescription),
		Example: exampleUsage,
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			// Build set of changed flags
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
			if changed["message-keys"] {
				cfg.MessageKeys = cliconfig.SplitList(messageKeys)
			}

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
				cfg.ConfigPath = cfgFile
			} else if cfgPath != "" {
				return fmt.Errorf("config file %s not found", cfgPath)
			}

			// Environment variables override the file; flags override both.
			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			adapter, err := log.NewZerologAdapter(log.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
			if err != nil {
				return err
			}
			logger = adapter.Logger()
			logger.Info().Interface("config", maskedConfig(cfg)).Msg("configuration")

			opts := []logship.Option{logship.WithLogger(adapter)}
			if cfg.ConfigPath != "" {
				opts = append(opts, configwatcher.WithConfigWatcher(configwatcher.Config{Changed: changed}))
			}

			s, err := logship.New(cfg, opts...)
			if err != nil {
				return fmt.Errorf("create shipper: %w", err)
			}
			defer s.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			if err := s.Start(ctx); err != nil {
				return fmt.Errorf("start shipper: %w", err)
			}

			select {
			case sig := <-sigCh:
				logger.Info().Str("signal", sig.String()).Msg("received signal, stopping...")
			case <-s.Done():
			}

			// Stop returns ErrNotRunning when the input ended on its own.
			if err := s.Stop(); err != nil && !errors.Is(err, logship.ErrNotRunning) {
				return fmt.Errorf("stop shipper: %w", err)
			}
			if s.Status() == logship.StateCrashed {
				if err := s.Err(); err != nil {
					return err
				}
				return errors.New("shipper crashed")
			}
			return nil
		},
	}

	f := root.Flags()
	f.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.logship/config.toml)")

	f.StringVar(&cfg.Region, "region", cfg.Region, "service region, used to derive the endpoint")
	f.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "service endpoint URL (default: https://logs.<region>.amazonaws.com)")

	f.StringVar(&cfg.LogGroupName, "log-group-name", cfg.LogGroupName, "static log group name")
	f.StringVar(&cfg.LogStreamName, "log-stream-name", cfg.LogStreamName, "static log stream name")
	f.BoolVar(&cfg.UseTagAsGroup, "use-tag-as-group", cfg.UseTagAsGroup, "use the record tag as the log group")
	f.BoolVar(&cfg.UseTagAsStream, "use-tag-as-stream", cfg.UseTagAsStream, "use the record tag as the log stream")
	f.BoolVar(&cfg.AutoCreateStream, "auto-create-stream", cfg.AutoCreateStream, "create missing log groups and streams")

	f.StringVar(&messageKeys, "message-keys", "", "comma-separated record keys joined into the message (default: whole record as JSON)")
	f.IntVar(&cfg.MaxMessageLength, "max-message-length", cfg.MaxMessageLength, "truncate messages to this many characters (-1 = no limit)")
	f.BoolVar(&cfg.IncludeTimeKey, "include-time-key", cfg.IncludeTimeKey, "add the record time to the record under time-key")
	f.StringVar(&cfg.TimeKey, "time-key", cfg.TimeKey, "record key for the included time")
	f.BoolVar(&cfg.Localtime, "localtime", cfg.Localtime, "format the included time in local time instead of UTC")

	f.StringVar(&cfg.Input, "input", cfg.Input, "input file of JSON lines, - for stdin")
	f.StringVar(&cfg.DefaultTag, "default-tag", cfg.DefaultTag, "tag for input lines without one")
	f.BoolVar(&cfg.FromBeginning, "from-beginning", cfg.FromBeginning, "read a followed file from the start")

	f.DurationVar(&cfg.FlushInterval, "flush-interval", cfg.FlushInterval, "flush buffered records at least this often")
	f.IntVar(&cfg.FlushRecords, "flush-records", cfg.FlushRecords, "flush when this many records are buffered")
	f.IntVar(&cfg.MaxBufferedRecords, "max-buffered-records", cfg.MaxBufferedRecords, "pause reading input while this many records await delivery")
	f.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "write attempts per batch on transient failures")
	f.DurationVar(&cfg.BackoffInitial, "backoff-initial", cfg.BackoffInitial, "initial retry delay")
	f.DurationVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "maximum retry delay")
	f.DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "HTTP timeout")
	f.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "streams delivered in parallel")

	f.StringVar(&cfg.StateBackend, "state-backend", cfg.StateBackend, "sequence token store: none, file or redis (default: file when state-dir is set)")
	f.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "directory for checkpoint.json")
	f.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "redis URL for the redis state backend")
	f.StringVar(&cfg.RedisPrefix, "redis-prefix", cfg.RedisPrefix, "redis key prefix")

	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	f.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: console or json")

	f.BoolVar(&cfg.Once, "once", cfg.Once, "read the input to the end and exit instead of following it")
	f.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "deliver to an in-memory service instead of the endpoint")

	if err := root.Execute(); err != nil {
		logger.Error().Err(err).Msg("logship")
		os.Exit(1)
	}
}
