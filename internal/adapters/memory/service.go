// Package memory provides an in-process log service.
//
// It keeps groups, streams, events and continuity tokens in memory and
// enforces the same token, ordering and limit rules as the remote service.
// Outcomes can be scripted to exercise failure paths. It backs tests and
// dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/internal/ports"
	"github.com/bft-labs/logship/pkg/log"
)

// Request limits enforced on PutLogEvents.
const (
	maxRequestBytes  = 1048576
	maxRequestEvents = 10000
	maxRequestSpan   = 24 * time.Hour
)

// Op names a service call whose errors can be injected with Fail.
type Op int

const (
	OpCreateGroup Op = iota
	OpCreateStream
	OpDescribe
)

// Calls counts service calls by operation.
type Calls struct {
	Put          int
	CreateGroup  int
	CreateStream int
	Describe     int
}

type stream struct {
	token  string
	events []domain.Event

	// prevToken and lastBatch detect a resend of the latest accepted batch.
	prevToken string
	lastBatch []domain.Event
}

// Service is an in-memory ports.LogService.
type Service struct {
	mu     sync.Mutex
	groups map[string]map[string]*stream
	script []domain.Outcome
	fails  map[Op][]error
	calls  Calls
	puts   []ports.PutRequest

	autoProvision bool
	hideExpected  bool
	logger        log.Logger
}

// Option configures the service.
type Option func(*Service)

// WithAutoProvision creates groups and streams on first write.
func WithAutoProvision() Option {
	return func(s *Service) { s.autoProvision = true }
}

// WithoutExpectedToken omits the expected token from stale-token outcomes,
// forcing callers to describe the stream.
func WithoutExpectedToken() Option {
	return func(s *Service) { s.hideExpected = true }
}

// WithLogger logs every accepted write at info level.
func WithLogger(logger log.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New creates an empty service.
func New(opts ...Option) *Service {
	s := &Service{
		groups: make(map[string]map[string]*stream),
		fails:  make(map[Op][]error),
		logger: log.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Script queues outcomes returned by the next PutLogEvents calls instead of
// processing them.
func (s *Service) Script(outcomes ...domain.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, outcomes...)
}

// Fail queues errors returned by the next calls of op.
func (s *Service) Fail(op Op, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails[op] = append(s.fails[op], errs...)
}

func (s *Service) injected(op Op) error {
	errs := s.fails[op]
	if len(errs) == 0 {
		return nil
	}
	s.fails[op] = errs[1:]
	return errs[0]
}

// CreateLogGroup implements ports.LogService.
func (s *Service) CreateLogGroup(ctx context.Context, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.CreateGroup++
	if err := s.injected(OpCreateGroup); err != nil {
		return err
	}
	if _, ok := s.groups[group]; ok {
		return fmt.Errorf("log group %q: %w", group, domain.ErrAlreadyExists)
	}
	s.groups[group] = make(map[string]*stream)
	return nil
}

// CreateLogStream implements ports.LogService.
func (s *Service) CreateLogStream(ctx context.Context, group, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.CreateStream++
	if err := s.injected(OpCreateStream); err != nil {
		return err
	}
	g, ok := s.groups[group]
	if !ok {
		return fmt.Errorf("log group %q does not exist", group)
	}
	if _, ok := g[name]; ok {
		return fmt.Errorf("log stream %q: %w", name, domain.ErrAlreadyExists)
	}
	g[name] = &stream{}
	return nil
}

// DescribeStream implements ports.LogService.
func (s *Service) DescribeStream(ctx context.Context, target domain.Target) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.Describe++
	if err := s.injected(OpDescribe); err != nil {
		return "", false, err
	}
	st := s.lookup(target)
	if st == nil {
		return "", false, nil
	}
	return st.token, true, nil
}

// PutLogEvents implements ports.LogService.
func (s *Service) PutLogEvents(ctx context.Context, req ports.PutRequest) domain.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.Put++
	s.puts = append(s.puts, copyRequest(req))

	if len(s.script) > 0 {
		out := s.script[0]
		s.script = s.script[1:]
		return out
	}
	if err := ctx.Err(); err != nil {
		return domain.Transient(err)
	}
	if err := validate(req.Events); err != nil {
		return domain.Permanent(err)
	}

	st := s.lookup(req.Target)
	if st == nil && s.autoProvision {
		if _, ok := s.groups[req.Target.Group]; !ok {
			s.groups[req.Target.Group] = make(map[string]*stream)
		}
		st = &stream{}
		s.groups[req.Target.Group][req.Target.Stream] = st
	}
	if st == nil {
		return domain.TargetMissing(fmt.Errorf("log stream %s does not exist", req.Target))
	}

	if req.Token != st.token {
		if st.lastBatch != nil && req.Token == st.prevToken && sameEvents(req.Events, st.lastBatch) {
			return domain.Duplicate(st.token)
		}
		err := fmt.Errorf("sequence token %q is not the expected token", req.Token)
		if s.hideExpected {
			return domain.StaleToken("", false, err)
		}
		return domain.StaleToken(st.token, true, err)
	}

	events := append([]domain.Event(nil), req.Events...)
	st.events = append(st.events, events...)
	st.prevToken = st.token
	st.lastBatch = events
	st.token = uuid.NewString()

	s.logger.Info("stored log events",
		append(log.Target(req.Target.Group, req.Target.Stream), log.Int("events", len(events)))...)
	return domain.Accepted(st.token)
}

// Rotate replaces the token of a stream, simulating a concurrent writer.
func (s *Service) Rotate(target domain.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.lookup(target); st != nil {
		st.prevToken = ""
		st.lastBatch = nil
		st.token = uuid.NewString()
	}
}

// DeleteStream removes a stream, simulating an external deletion.
func (s *Service) DeleteStream(target domain.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.groups[target.Group]; ok {
		delete(g, target.Stream)
	}
}

// Events returns the events stored in a stream, in write order.
func (s *Service) Events(target domain.Target) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.lookup(target)
	if st == nil {
		return nil
	}
	return append([]domain.Event(nil), st.events...)
}

// Targets returns all existing streams sorted by group and stream.
func (s *Service) Targets() []domain.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Target
	for g, streams := range s.groups {
		for name := range streams {
			out = append(out, domain.Target{Group: g, Stream: name})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Stream < out[j].Stream
	})
	return out
}

// Calls returns the call counters.
func (s *Service) Calls() Calls {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Requests returns every PutLogEvents request received.
func (s *Service) Requests() []ports.PutRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.PutRequest(nil), s.puts...)
}

func (s *Service) lookup(target domain.Target) *stream {
	g, ok := s.groups[target.Group]
	if !ok {
		return nil
	}
	return g[target.Stream]
}

func validate(events []domain.Event) error {
	if len(events) == 0 {
		return fmt.Errorf("request has no events")
	}
	if len(events) > maxRequestEvents {
		return fmt.Errorf("request has %d events, limit is %d", len(events), maxRequestEvents)
	}
	size := 0
	for i, e := range events {
		size += e.Size()
		if i > 0 && e.TimestampMs < events[i-1].TimestampMs {
			return fmt.Errorf("events are not in chronological order")
		}
	}
	if size > maxRequestBytes {
		return fmt.Errorf("request is %d bytes, limit is %d", size, maxRequestBytes)
	}
	span := time.Duration(events[len(events)-1].TimestampMs-events[0].TimestampMs) * time.Millisecond
	if span > maxRequestSpan {
		return fmt.Errorf("request spans %v, limit is %v", span, maxRequestSpan)
	}
	return nil
}

func sameEvents(a, b []domain.Event) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].TimestampMs != b[i].TimestampMs || a[i].Message != b[i].Message {
			return false
		}
	}
	return true
}

func copyRequest(req ports.PutRequest) ports.PutRequest {
	req.Events = append([]domain.Event(nil), req.Events...)
	return req
}
