package source

import (
	"context"
	"fmt"
	"io"

	"github.com/hpcloud/tail"

	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/internal/ports"
	"github.com/bft-labs/logship/pkg/log"
)

// TailConfig configures a followed file.
type TailConfig struct {
	Path string

	// FromBeginning reads existing content instead of starting at the end.
	FromBeginning bool

	// Poll uses polling instead of inotify to detect changes.
	Poll bool
}

// Tail follows a file and yields one record per appended line. Rotated
// files are reopened. Next blocks until a line arrives.
type Tail struct {
	t       *tail.Tail
	decoder Decoder
	logger  ports.Logger
}

// NewTail starts following cfg.Path.
func NewTail(cfg TailConfig, decoder Decoder, logger ports.Logger) (*Tail, error) {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	whence := io.SeekEnd
	if cfg.FromBeginning {
		whence = io.SeekStart
	}
	t, err := tail.TailFile(cfg.Path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Poll:     cfg.Poll,
		Location: &tail.SeekInfo{Offset: 0, Whence: whence},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("tail %s: %w", cfg.Path, err)
	}
	return &Tail{t: t, decoder: decoder, logger: logger}, nil
}

// Next implements ports.RecordSource.
func (s *Tail) Next(ctx context.Context) (domain.Record, error) {
	for {
		select {
		case <-ctx.Done():
			return domain.Record{}, ctx.Err()
		case l, ok := <-s.t.Lines:
			if !ok {
				return domain.Record{}, io.EOF
			}
			if l == nil {
				continue
			}
			if l.Err != nil {
				s.logger.Warn("error reading followed file", log.String("file", s.t.Filename), log.Err(l.Err))
				continue
			}
			if len(trimLine([]byte(l.Text))) == 0 {
				continue
			}
			rec, err := s.decoder.Decode([]byte(l.Text))
			if err != nil {
				s.logger.Warn("skipping malformed input line", log.String("file", s.t.Filename), log.Err(err))
				continue
			}
			return rec, nil
		}
	}
}

// Close stops following the file.
func (s *Tail) Close() error {
	err := s.t.Stop()
	s.t.Cleanup()
	return err
}
