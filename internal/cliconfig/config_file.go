package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/bft-labs/logship/internal/render"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Region   string            `toml:"region"`
	Endpoint string            `toml:"endpoint"`
	Headers  map[string]string `toml:"headers"`

	LogGroupName     string `toml:"log_group_name"`
	LogStreamName    string `toml:"log_stream_name"`
	UseTagAsGroup    *bool  `toml:"use_tag_as_group"`
	UseTagAsStream   *bool  `toml:"use_tag_as_stream"`
	AutoCreateStream *bool  `toml:"auto_create_stream"`

	// MessageKeys is either an array of strings or a comma-separated string.
	MessageKeys      any    `toml:"message_keys"`
	MaxMessageLength *int   `toml:"max_message_length"`
	IncludeTimeKey   *bool  `toml:"include_time_key"`
	TimeKey          string `toml:"time_key"`
	Localtime        *bool  `toml:"localtime"`

	Input         string `toml:"input"`
	DefaultTag    string `toml:"default_tag"`
	FromBeginning *bool  `toml:"from_beginning"`

	FlushInterval      string `toml:"flush_interval"`
	FlushRecords       int    `toml:"flush_records"`
	MaxBufferedRecords int    `toml:"max_buffered_records"`
	MaxAttempts        int    `toml:"max_attempts"`
	BackoffInitial     string `toml:"backoff_initial"`
	BackoffMax         string `toml:"backoff_max"`
	HTTPTimeout        string `toml:"http_timeout"`
	Concurrency        int    `toml:"concurrency"`

	StateBackend string `toml:"state_backend"`
	StateDir     string `toml:"state_dir"`
	RedisURL     string `toml:"redis_url"`
	RedisPrefix  string `toml:"redis_prefix"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	Once   *bool `toml:"once"`
	DryRun *bool `toml:"dry_run"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.logship/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".logship", "config.toml")
	}
	return ""
}

// messageKeys converts the decoded message_keys value into a list.
func (fc FileConfig) messageKeys() ([]string, error) {
	switch v := fc.MessageKeys.(type) {
	case nil:
		return nil, nil
	case string:
		return SplitList(v), nil
	case []any:
		keys := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("message_keys: expected string, got %T", item)
			}
			keys = append(keys, s)
		}
		return keys, nil
	default:
		return nil, fmt.Errorf("message_keys: expected array or string, got %T", v)
	}
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("region", fc.Region, &cfg.Region)
	s.setString("endpoint", fc.Endpoint, &cfg.Endpoint)
	if len(fc.Headers) > 0 {
		cfg.Headers = fc.Headers
	}

	s.setString("log-group-name", fc.LogGroupName, &cfg.LogGroupName)
	s.setString("log-stream-name", fc.LogStreamName, &cfg.LogStreamName)
	s.setBool("use-tag-as-group", fc.UseTagAsGroup, &cfg.UseTagAsGroup)
	s.setBool("use-tag-as-stream", fc.UseTagAsStream, &cfg.UseTagAsStream)
	s.setBool("auto-create-stream", fc.AutoCreateStream, &cfg.AutoCreateStream)

	keys, err := fc.messageKeys()
	if err != nil {
		return err
	}
	s.setStrings("message-keys", keys, &cfg.MessageKeys)
	s.setIntPtr("max-message-length", fc.MaxMessageLength, &cfg.MaxMessageLength)
	s.setBool("include-time-key", fc.IncludeTimeKey, &cfg.IncludeTimeKey)
	s.setString("time-key", fc.TimeKey, &cfg.TimeKey)
	s.setBool("localtime", fc.Localtime, &cfg.Localtime)

	s.setString("input", fc.Input, &cfg.Input)
	s.setString("default-tag", fc.DefaultTag, &cfg.DefaultTag)
	s.setBool("from-beginning", fc.FromBeginning, &cfg.FromBeginning)

	if err := s.setDuration("flush-interval", fc.FlushInterval, &cfg.FlushInterval); err != nil {
		return err
	}
	if err := s.setDuration("backoff-initial", fc.BackoffInitial, &cfg.BackoffInitial); err != nil {
		return err
	}
	if err := s.setDuration("backoff-max", fc.BackoffMax, &cfg.BackoffMax); err != nil {
		return err
	}
	if err := s.setDuration("http-timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}
	s.setInt("flush-records", fc.FlushRecords, &cfg.FlushRecords)
	s.setInt("max-buffered-records", fc.MaxBufferedRecords, &cfg.MaxBufferedRecords)
	s.setInt("max-attempts", fc.MaxAttempts, &cfg.MaxAttempts)
	s.setInt("concurrency", fc.Concurrency, &cfg.Concurrency)

	s.setString("state-backend", fc.StateBackend, &cfg.StateBackend)
	s.setString("state-dir", fc.StateDir, &cfg.StateDir)
	s.setString("redis-url", fc.RedisURL, &cfg.RedisURL)
	s.setString("redis-prefix", fc.RedisPrefix, &cfg.RedisPrefix)

	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-format", fc.LogFormat, &cfg.LogFormat)

	s.setBool("once", fc.Once, &cfg.Once)
	s.setBool("dry-run", fc.DryRun, &cfg.DryRun)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// ReloadRenderOptions re-reads the file at current.ConfigPath and returns the
// rendering options it now yields. Environment variables and explicitly set
// flags keep their precedence over the file.
func ReloadRenderOptions(current Config, changed map[string]bool) (render.Options, error) {
	fc, err := LoadFileConfig(current.ConfigPath)
	if err != nil {
		return render.Options{}, err
	}
	next := DefaultConfig()
	if err := ApplyFileConfig(&next, fc, changed); err != nil {
		return render.Options{}, err
	}
	if err := ApplyEnvConfig(&next, changed); err != nil {
		return render.Options{}, err
	}

	if changed["message-keys"] {
		next.MessageKeys = current.MessageKeys
	}
	if changed["max-message-length"] {
		next.MaxMessageLength = current.MaxMessageLength
	}
	if changed["include-time-key"] {
		next.IncludeTimeKey = current.IncludeTimeKey
	}
	if changed["time-key"] {
		next.TimeKey = current.TimeKey
	}
	if changed["localtime"] {
		next.Localtime = current.Localtime
	}

	if err := next.validateRender(); err != nil {
		return render.Options{}, err
	}
	return next.RenderOptions(), nil
}
