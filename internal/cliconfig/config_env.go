package cliconfig

import (
	"os"
	"time"
)

// ApplyEnvConfig applies configuration from environment variables (LOGSHIP_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("region", os.Getenv("LOGSHIP_REGION"), &cfg.Region)
	s.setString("endpoint", os.Getenv("LOGSHIP_ENDPOINT"), &cfg.Endpoint)
	s.setString("log-group-name", os.Getenv("LOGSHIP_LOG_GROUP_NAME"), &cfg.LogGroupName)
	s.setString("log-stream-name", os.Getenv("LOGSHIP_LOG_STREAM_NAME"), &cfg.LogStreamName)
	if v := os.Getenv("LOGSHIP_MESSAGE_KEYS"); v != "" {
		s.setStrings("message-keys", SplitList(v), &cfg.MessageKeys)
	}
	s.setString("time-key", os.Getenv("LOGSHIP_TIME_KEY"), &cfg.TimeKey)
	s.setString("input", os.Getenv("LOGSHIP_INPUT"), &cfg.Input)
	s.setString("default-tag", os.Getenv("LOGSHIP_DEFAULT_TAG"), &cfg.DefaultTag)
	s.setString("state-backend", os.Getenv("LOGSHIP_STATE_BACKEND"), &cfg.StateBackend)
	s.setString("state-dir", os.Getenv("LOGSHIP_STATE_DIR"), &cfg.StateDir)
	s.setString("redis-url", os.Getenv("LOGSHIP_REDIS_URL"), &cfg.RedisURL)
	s.setString("redis-prefix", os.Getenv("LOGSHIP_REDIS_PREFIX"), &cfg.RedisPrefix)
	s.setString("log-level", os.Getenv("LOGSHIP_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-format", os.Getenv("LOGSHIP_LOG_FORMAT"), &cfg.LogFormat)

	durations := []struct {
		flag, env string
		dst       *time.Duration
	}{
		{"flush-interval", "LOGSHIP_FLUSH_INTERVAL", &cfg.FlushInterval},
		{"backoff-initial", "LOGSHIP_BACKOFF_INITIAL", &cfg.BackoffInitial},
		{"backoff-max", "LOGSHIP_BACKOFF_MAX", &cfg.BackoffMax},
		{"http-timeout", "LOGSHIP_HTTP_TIMEOUT", &cfg.HTTPTimeout},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, os.Getenv(d.env), d.dst); err != nil {
			return err
		}
	}

	ints := []struct {
		flag, env string
		floor     int
		dst       *int
	}{
		{"max-message-length", "LOGSHIP_MAX_MESSAGE_LENGTH", NoMessageLimit, &cfg.MaxMessageLength},
		{"flush-records", "LOGSHIP_FLUSH_RECORDS", 1, &cfg.FlushRecords},
		{"max-buffered-records", "LOGSHIP_MAX_BUFFERED_RECORDS", 1, &cfg.MaxBufferedRecords},
		{"max-attempts", "LOGSHIP_MAX_ATTEMPTS", 1, &cfg.MaxAttempts},
		{"concurrency", "LOGSHIP_CONCURRENCY", 1, &cfg.Concurrency},
	}
	for _, i := range ints {
		if err := s.setIntFromString(i.flag, os.Getenv(i.env), i.floor, i.dst); err != nil {
			return err
		}
	}

	bools := []struct {
		flag, env string
		dst       *bool
	}{
		{"use-tag-as-group", "LOGSHIP_USE_TAG_AS_GROUP", &cfg.UseTagAsGroup},
		{"use-tag-as-stream", "LOGSHIP_USE_TAG_AS_STREAM", &cfg.UseTagAsStream},
		{"auto-create-stream", "LOGSHIP_AUTO_CREATE_STREAM", &cfg.AutoCreateStream},
		{"include-time-key", "LOGSHIP_INCLUDE_TIME_KEY", &cfg.IncludeTimeKey},
		{"localtime", "LOGSHIP_LOCALTIME", &cfg.Localtime},
		{"from-beginning", "LOGSHIP_FROM_BEGINNING", &cfg.FromBeginning},
		{"once", "LOGSHIP_ONCE", &cfg.Once},
		{"dry-run", "LOGSHIP_DRY_RUN", &cfg.DryRun},
	}
	for _, b := range bools {
		if err := s.setBoolFromString(b.flag, os.Getenv(b.env), b.dst); err != nil {
			return err
		}
	}

	return nil
}
