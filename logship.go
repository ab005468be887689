// Package logship ships structured log records to CloudWatch Logs.
//
// Example usage:
//
//	cfg := logship.DefaultConfig()
//	cfg.LogGroupName = "app"
//	cfg.UseTagAsStream = true
//	cfg.Input = "/var/log/app.jsonl"
//	if err := logship.Run(context.Background(), cfg); err != nil {
//	    log.Fatal(err)
//	}
//
// The embeddable API with lifecycle control and events lives in
// github.com/bft-labs/logship/pkg/logship.
package logship

import (
	"context"
	"errors"

	"github.com/bft-labs/logship/pkg/logship"
)

// Config holds the configuration of the shipper.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config = logship.Config

// Option configures optional behavior, see pkg/logship.
type Option = logship.Option

// DefaultConfig returns a Config with sensible default values.
// At minimum, a log group and a log stream source must be set.
func DefaultConfig() Config {
	return logship.DefaultConfig()
}

// Run ships records from the configured input until it is exhausted or
// ctx is cancelled, then stops gracefully. Use cfg.Once = true to read a
// file to the end instead of following it.
func Run(ctx context.Context, cfg Config, opts ...Option) error {
	s, err := logship.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-s.Done():
	}

	if err := s.Stop(); err != nil && !errors.Is(err, logship.ErrNotRunning) {
		return err
	}
	if s.Status() == logship.StateCrashed {
		if err := s.Err(); err != nil {
			return err
		}
	}
	return nil
}
