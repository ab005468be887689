package cliconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/bft-labs/logship/internal/backoff"
	"github.com/bft-labs/logship/internal/batch"
	"github.com/bft-labs/logship/internal/delivery"
	"github.com/bft-labs/logship/internal/destination"
	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/internal/render"
	"github.com/bft-labs/logship/pkg/log"
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "us-east-1"

// MaxMessageLengthLimit is the largest max_message_length accepted: the
// request byte ceiling minus the per-event overhead.
const MaxMessageLengthLimit = batch.DefaultMaxBytes - domain.EventOverhead

// NoMessageLimit is the max_message_length that leaves messages whole.
const NoMessageLimit = -1

// State backends.
const (
	StateBackendNone  = "none"
	StateBackendFile  = "file"
	StateBackendRedis = "redis"
)

// Config holds CLI configuration for logship.
type Config struct {
	Region   string
	Endpoint string
	Headers  map[string]string

	LogGroupName     string
	LogStreamName    string
	UseTagAsGroup    bool
	UseTagAsStream   bool
	AutoCreateStream bool

	MessageKeys      []string
	MaxMessageLength int
	IncludeTimeKey   bool
	TimeKey          string
	Localtime        bool

	Input         string
	DefaultTag    string
	FromBeginning bool

	FlushInterval      time.Duration
	FlushRecords       int
	MaxBufferedRecords int
	MaxAttempts        int
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	HTTPTimeout        time.Duration
	Concurrency        int

	StateBackend string
	StateDir     string
	RedisURL     string
	RedisPrefix  string

	LogLevel  string
	LogFormat string

	Once   bool
	DryRun bool

	// ConfigPath is the file the configuration was read from, if any.
	ConfigPath string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Region:             DefaultRegion,
		TimeKey:            render.DefaultTimeKey,
		MaxMessageLength:   NoMessageLimit,
		Input:              "-",
		DefaultTag:         "logship",
		FlushInterval:      5 * time.Second,
		FlushRecords:       1000,
		MaxBufferedRecords: 10000,
		MaxAttempts:        delivery.DefaultMaxAttempts,
		BackoffInitial:     backoff.DefaultInitial,
		BackoffMax:         backoff.DefaultMax,
		HTTPTimeout:        30 * time.Second,
		Concurrency:        4,
		RedisPrefix:        "logship",
		LogLevel:           "info",
		LogFormat:          "console",
	}
}

// Validate checks the configuration for errors and sets derived defaults.
// Errors wrap domain.ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.Endpoint == "" {
		c.Endpoint = "https://logs." + c.Region + ".amazonaws.com"
	}
	c.Endpoint = strings.TrimRight(c.Endpoint, "/")

	if !c.UseTagAsGroup {
		if c.LogGroupName == "" {
			return fmt.Errorf("log-group-name is required (or use-tag-as-group)")
		}
		if err := destination.ValidateGroupName(c.LogGroupName); err != nil {
			return fmt.Errorf("log-group-name: %w", err)
		}
	}
	if !c.UseTagAsStream {
		if c.LogStreamName == "" {
			return fmt.Errorf("log-stream-name is required (or use-tag-as-stream)")
		}
		if err := destination.ValidateStreamName(c.LogStreamName); err != nil {
			return fmt.Errorf("log-stream-name: %w", err)
		}
	}

	if err := c.validateRender(); err != nil {
		return err
	}

	if c.DefaultTag == "" {
		return fmt.Errorf("default-tag must not be empty")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive")
	}
	if c.FlushRecords <= 0 {
		return fmt.Errorf("flush records must be positive")
	}
	if c.MaxBufferedRecords < c.FlushRecords {
		return fmt.Errorf("max buffered records must be at least flush records (%d)", c.FlushRecords)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.BackoffInitial <= 0 || c.BackoffMax < c.BackoffInitial {
		return fmt.Errorf("backoff must satisfy 0 < initial <= max")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}

	if c.StateBackend == "" {
		c.StateBackend = StateBackendNone
		if c.StateDir != "" {
			c.StateBackend = StateBackendFile
		}
	}
	switch c.StateBackend {
	case StateBackendNone:
	case StateBackendFile:
		if c.StateDir == "" {
			return fmt.Errorf("state-dir is required for the file state backend")
		}
	case StateBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis-url is required for the redis state backend")
		}
	default:
		return fmt.Errorf("unknown state backend %q", c.StateBackend)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

func (c *Config) validateRender() error {
	if c.MaxMessageLength != NoMessageLimit && (c.MaxMessageLength < 0 || c.MaxMessageLength > MaxMessageLengthLimit) {
		return fmt.Errorf("max-message-length must be %d (no limit) or between 0 and %d", NoMessageLimit, MaxMessageLengthLimit)
	}
	if c.TimeKey == "" {
		c.TimeKey = render.DefaultTimeKey
	}
	for _, k := range c.MessageKeys {
		if k == "" {
			return fmt.Errorf("message-keys must not contain empty keys")
		}
	}
	return nil
}

// RenderOptions returns the message rendering options.
func (c Config) RenderOptions() render.Options {
	opts := render.Options{
		MessageKeys:    append([]string(nil), c.MessageKeys...),
		IncludeTimeKey: c.IncludeTimeKey,
		TimeKey:        c.TimeKey,
		Localtime:      c.Localtime,
	}
	if c.MaxMessageLength != NoMessageLimit {
		opts.MaxMessageLength = render.Limit(c.MaxMessageLength)
	}
	return opts
}

// DestinationOptions returns the target resolution options.
func (c Config) DestinationOptions() destination.Options {
	return destination.Options{
		GroupName:      c.LogGroupName,
		StreamName:     c.LogStreamName,
		UseTagAsGroup:  c.UseTagAsGroup,
		UseTagAsStream: c.UseTagAsStream,
	}
}

// DeliveryOptions returns the delivery controller options.
func (c Config) DeliveryOptions() delivery.Options {
	return delivery.Options{
		AutoCreateStream: c.AutoCreateStream,
		MaxAttempts:      c.MaxAttempts,
		BackoffInitial:   c.BackoffInitial,
		BackoffMax:       c.BackoffMax,
	}
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
