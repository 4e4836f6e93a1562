// Package fsm provides a typed transition table on top of looplab/fsm.
//
// A Machine is immutable once built and safe for concurrent use. Apply never
// mutates anything: it evaluates one transition against a state value and
// returns the next state. Side effects belong to the caller.
//
// Import Path: procurement.io/orchestrator/internal/pkg/fsm
package fsm

import (
	"context"
	"errors"
	"fmt"
	"sort"

	lfsm "github.com/looplab/fsm"

	apperrors "procurement.io/orchestrator/internal/pkg/errors"
)

// Guard is a business precondition evaluated before a transition fires.
// A non-nil error rejects the transition; an *AppError is returned as is,
// any other error becomes GUARD_REJECTED with its message as the reason.
type Guard[C any] func(C) error

// Transition is one row of the table. The same Name may appear in several
// rows with different From sets.
type Transition[S ~string, T ~string, C any] struct {
	Name  T
	From  []S
	To    S
	Guard Guard[C]
}

type guardKey struct {
	event string
	src   string
}

// Machine evaluates transitions for states S, transition names T and guard
// context C.
type Machine[S ~string, T ~string, C any] struct {
	name   string
	events lfsm.Events
	guards map[guardKey]Guard[C]
}

// New validates the table and builds a Machine. name is used in error
// messages ("rfq_item", "purchase_request", ...).
func New[S ~string, T ~string, C any](name string, table ...Transition[S, T, C]) (*Machine[S, T, C], error) {
	if name == "" {
		return nil, fmt.Errorf("fsm: machine name is required")
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("fsm %s: empty transition table", name)
	}

	m := &Machine[S, T, C]{
		name:   name,
		events: make(lfsm.Events, 0, len(table)),
		guards: make(map[guardKey]Guard[C]),
	}
	seen := make(map[guardKey]struct{})
	for _, t := range table {
		if t.Name == "" {
			return nil, fmt.Errorf("fsm %s: transition without name", name)
		}
		if len(t.From) == 0 {
			return nil, fmt.Errorf("fsm %s: transition %s has no source state", name, t.Name)
		}
		src := make([]string, 0, len(t.From))
		for _, from := range t.From {
			k := guardKey{event: string(t.Name), src: string(from)}
			if _, dup := seen[k]; dup {
				return nil, fmt.Errorf("fsm %s: duplicate transition %s from %s", name, t.Name, from)
			}
			seen[k] = struct{}{}
			if t.Guard != nil {
				m.guards[k] = t.Guard
			}
			src = append(src, string(from))
		}
		m.events = append(m.events, lfsm.EventDesc{Name: string(t.Name), Src: src, Dst: string(t.To)})
	}
	return m, nil
}

// MustNew is New for package-level tables; it panics on an invalid table.
func MustNew[S ~string, T ~string, C any](name string, table ...Transition[S, T, C]) *Machine[S, T, C] {
	m, err := New(name, table...)
	if err != nil {
		panic(err)
	}
	return m
}

// Name returns the machine name.
func (m *Machine[S, T, C]) Name() string {
	return m.name
}

// Apply computes the state reached by firing transition from current.
//
// Errors:
//   - INVALID_TRANSITION when the table has no row for (current, transition)
//   - GUARD_REJECTED (or the guard's own AppError) when the guard fails
//
// Self-transitions succeed and return current.
func (m *Machine[S, T, C]) Apply(ctx context.Context, current S, transition T, guardCtx C) (S, error) {
	f := lfsm.NewFSM(string(current), m.events, lfsm.Callbacks{
		"before_event": func(_ context.Context, e *lfsm.Event) {
			guard, ok := m.guards[guardKey{event: e.Event, src: e.Src}]
			if !ok {
				return
			}
			if err := guard(guardCtx); err != nil {
				e.Cancel(err)
			}
		},
	})

	err := f.Event(ctx, string(transition))
	if err == nil {
		return S(f.Current()), nil
	}
	return current, m.translate(current, transition, err)
}

func (m *Machine[S, T, C]) translate(current S, transition T, err error) error {
	var (
		noTransition lfsm.NoTransitionError
		invalid      lfsm.InvalidEventError
		unknown      lfsm.UnknownEventError
		canceled     lfsm.CanceledError
	)
	switch {
	case errors.As(err, &noTransition):
		if noTransition.Err != nil {
			return apperrors.Internal(noTransition.Err, fmt.Sprintf("%s: %s", m.name, transition))
		}
		return nil
	case errors.As(err, &invalid), errors.As(err, &unknown):
		return apperrors.InvalidTransition(m.name, string(current), string(transition))
	case errors.As(err, &canceled):
		if canceled.Err == nil {
			return apperrors.GuardRejectedf("%s: %s rejected in state %s", m.name, transition, current)
		}
		if appErr, ok := apperrors.IsAppError(canceled.Err); ok {
			return appErr
		}
		return apperrors.GuardRejected(canceled.Err.Error())
	default:
		return apperrors.Internal(err, fmt.Sprintf("%s: %s", m.name, transition))
	}
}

// Allowed returns the candidates that Apply would accept from current with
// guardCtx, sorted by name. Candidates the table does not define from
// current, or whose guard fails, are left out.
func (m *Machine[S, T, C]) Allowed(ctx context.Context, current S, guardCtx C, candidates ...T) []T {
	out := make([]T, 0, len(candidates))
	for _, t := range candidates {
		if _, err := m.Apply(ctx, current, t, guardCtx); err == nil {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
