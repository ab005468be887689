package source

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/internal/ports"
	"github.com/bft-labs/logship/pkg/log"
)

type line struct {
	data []byte
	err  error
}

// JSONLines reads newline-delimited JSON records from a reader.
// Next returns io.EOF once the reader is exhausted.
type JSONLines struct {
	r       io.Reader
	decoder Decoder
	logger  ports.Logger

	once  sync.Once
	lines chan line
	done  chan struct{}
}

// NewJSONLines creates a source over r. Reading starts on the first Next call.
func NewJSONLines(r io.Reader, decoder Decoder, logger ports.Logger) *JSONLines {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &JSONLines{
		r:       r,
		decoder: decoder,
		logger:  logger,
		lines:   make(chan line),
		done:    make(chan struct{}),
	}
}

func (s *JSONLines) start() {
	go func() {
		defer close(s.lines)
		br := bufio.NewReader(s.r)
		for {
			data, err := br.ReadBytes('\n')
			if len(data) > 0 {
				select {
				case s.lines <- line{data: data}:
				case <-s.done:
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					select {
					case s.lines <- line{err: err}:
					case <-s.done:
					}
				}
				return
			}
		}
	}()
}

// Next implements ports.RecordSource. Malformed lines are logged and skipped.
func (s *JSONLines) Next(ctx context.Context) (domain.Record, error) {
	s.once.Do(s.start)
	for {
		select {
		case <-ctx.Done():
			return domain.Record{}, ctx.Err()
		case l, ok := <-s.lines:
			if !ok {
				return domain.Record{}, io.EOF
			}
			if l.err != nil {
				return domain.Record{}, l.err
			}
			if len(trimLine(l.data)) == 0 {
				continue
			}
			rec, err := s.decoder.Decode(l.data)
			if err != nil {
				s.logger.Warn("skipping malformed input line", log.Err(err))
				continue
			}
			return rec, nil
		}
	}
}

// Close stops the reader goroutine. It does not close the underlying reader.
func (s *JSONLines) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return nil
}

func trimLine(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r' || b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}
