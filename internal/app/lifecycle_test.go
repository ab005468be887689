package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/logship/internal/domain"
)

type recordingObserver struct {
	mu      sync.Mutex
	changes [][2]State
}

func (o *recordingObserver) OnStateChange(previous, current State, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changes = append(o.changes, [2]State{previous, current})
}

func (o *recordingObserver) Changes() [][2]State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([][2]State(nil), o.changes...)
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateStopped:  "Stopped",
		StateStarting: "Starting",
		StateRunning:  "Running",
		StateStopping: "Stopping",
		StateCrashed:  "Crashed",
		State(42):     "Unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %s, want %s", s, got, want)
		}
	}
}

func TestLifecycle_TransitionTo(t *testing.T) {
	tests := []struct {
		from    State
		to      State
		wantErr error
	}{
		{StateStopped, StateStarting, nil},
		{StateStarting, StateRunning, nil},
		{StateStarting, StateStopping, nil},
		{StateStarting, StateCrashed, nil},
		{StateRunning, StateStopping, nil},
		{StateRunning, StateCrashed, nil},
		{StateStopping, StateStopped, nil},
		{StateCrashed, StateStarting, nil},
		{StateStopped, StateRunning, domain.ErrNotRunning},
		{StateStopped, StateStopping, domain.ErrNotRunning},
		{StateCrashed, StateStopped, domain.ErrNotRunning},
		{StateStarting, StateStopped, domain.ErrAlreadyRunning},
		{StateRunning, StateStarting, domain.ErrAlreadyRunning},
		{StateStopping, StateRunning, domain.ErrAlreadyRunning},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			l := NewLifecycle(nil, nil)
			l.state = tt.from

			err := l.TransitionTo(tt.to, "test")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("TransitionTo() error = %v, want %v", err, tt.wantErr)
			}
			want := tt.to
			if tt.wantErr != nil {
				want = tt.from
			}
			if l.State() != want {
				t.Errorf("State() = %v, want %v", l.State(), want)
			}
		})
	}
}

func TestLifecycle_NotifiesObserver(t *testing.T) {
	obs := &recordingObserver{}
	l := NewLifecycle(nil, obs)

	_ = l.TransitionTo(StateStarting, "start")
	_ = l.TransitionTo(StateRunning, "started")
	_ = l.TransitionTo(StateStopped, "illegal")

	got := obs.Changes()
	if len(got) != 2 {
		t.Fatalf("got %d changes, want 2", len(got))
	}
	if got[1] != [2]State{StateStarting, StateRunning} {
		t.Errorf("second change = %v, want Starting->Running", got[1])
	}
}

func TestLifecycle_CanStartCanStop(t *testing.T) {
	tests := []struct {
		state    State
		canStart bool
		canStop  bool
	}{
		{StateStopped, true, false},
		{StateStarting, false, true},
		{StateRunning, false, true},
		{StateStopping, false, false},
		{StateCrashed, true, false},
	}
	for _, tt := range tests {
		l := NewLifecycle(nil, nil)
		l.state = tt.state
		if l.CanStart() != tt.canStart {
			t.Errorf("%v: CanStart() = %v, want %v", tt.state, l.CanStart(), tt.canStart)
		}
		if l.CanStop() != tt.canStop {
			t.Errorf("%v: CanStop() = %v, want %v", tt.state, l.CanStop(), tt.canStop)
		}
	}
}

func TestLifecycle_ContextCancel(t *testing.T) {
	l := NewLifecycle(nil, nil)
	l.Cancel()

	ctx := l.Context(context.Background())
	select {
	case <-ctx.Done():
		t.Fatal("context cancelled before Cancel()")
	default:
	}

	l.Cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("context not cancelled after Cancel()")
	}
}

func TestLifecycle_Wait(t *testing.T) {
	l := NewLifecycle(nil, nil)
	l.Go(func() { time.Sleep(10 * time.Millisecond) })
	if err := l.Wait(time.Second); err != nil {
		t.Errorf("Wait() = %v, want nil", err)
	}

	release := make(chan struct{})
	l.Go(func() { <-release })
	if err := l.Wait(10 * time.Millisecond); !errors.Is(err, domain.ErrShutdownTimeout) {
		t.Errorf("Wait() = %v, want ErrShutdownTimeout", err)
	}
	close(release)
}
