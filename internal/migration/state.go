package migration

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/systmms/secretops/pkg/secret"
)

// State is the progress of one transition task.
type State string

const (
	StateQueued     State = "queued"
	StateInProgress State = "in_progress"
	StateVerified   State = "verified"
	StateCommitted  State = "committed"

	// StateSkipped marks a task that found nothing to do: the record is
	// gone, already migrated or a path reference.
	StateSkipped State = "skipped"

	StateFailed State = "failed"
)

func (s State) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateCommitted || s == StateSkipped || s == StateFailed
}

// ValidTransitions lists the allowed moves. InProgress goes straight to
// Committed when the migration is not verified. A failed task is not retried
// here; the queue redelivers it as a new run.
var ValidTransitions = map[State][]State{
	StateQueued:     {StateInProgress, StateSkipped},
	StateInProgress: {StateVerified, StateCommitted, StateFailed},
	StateVerified:   {StateCommitted, StateFailed},
}

// CanTransitionTo reports whether s may move to next.
func (s State) CanTransitionTo(next State) bool {
	return slices.Contains(ValidTransitions[s], next)
}

// Transition is one recorded state change.
type Transition struct {
	From      State
	To        State
	Reason    string
	Err       error
	Timestamp time.Time
}

// Run tracks one delivery of a transition task.
type Run struct {
	mu sync.RWMutex

	Task        secret.TransitionTask
	Current     State
	StartedAt   time.Time
	CompletedAt time.Time
	Err         error
	Transitions []Transition
}

// NewRun starts a run in StateQueued.
func NewRun(task secret.TransitionTask) *Run {
	return &Run{Task: task, Current: StateQueued, StartedAt: time.Now()}
}

// TransitionTo moves the run to next.
func (r *Run) TransitionTo(next State, reason string, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.Current.CanTransitionTo(next) {
		return fmt.Errorf("invalid state transition from %s to %s", r.Current, next)
	}
	now := time.Now()
	r.Transitions = append(r.Transitions, Transition{
		From:      r.Current,
		To:        next,
		Reason:    reason,
		Err:       err,
		Timestamp: now,
	})
	r.Current = next
	if next.IsTerminal() {
		r.CompletedAt = now
		r.Err = err
	}
	return nil
}

// State returns the current state.
func (r *Run) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Current
}

// Reason returns the reason of the latest transition.
func (r *Run) Reason() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.Transitions) == 0 {
		return ""
	}
	return r.Transitions[len(r.Transitions)-1].Reason
}

// Failure returns the error that failed the run, or nil.
func (r *Run) Failure() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Err
}

// Path returns the visited states in order, starting with StateQueued.
func (r *Run) Path() []State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []State{StateQueued}
	for _, t := range r.Transitions {
		out = append(out, t.To)
	}
	return out
}

// Duration returns how long the run took, or has taken so far.
func (r *Run) Duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.CompletedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
