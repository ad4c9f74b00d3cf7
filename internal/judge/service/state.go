package service

import (
	"context"
	"fmt"

	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// State is a step of judging one submission.
type State string

const (
	StateReceived      State = "received"
	StatePrepared      State = "prepared"
	StateCompiled      State = "compiled"
	StateCompileFailed State = "compileFailed"
	StateRunning       State = "running"
	StateCompleted     State = "completed"
	StateInternalError State = "internalError"
)

var transitions = map[State][]State{
	StateReceived: {StatePrepared, StateInternalError},
	StatePrepared: {StateCompiled, StateCompileFailed, StateInternalError},
	StateCompiled: {StateRunning, StateCompleted, StateInternalError},
	StateRunning:  {StateRunning, StateCompleted, StateInternalError},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// machine tracks the state of one judging run.
type machine struct {
	state State
	trail []State
}

func newMachine() *machine {
	return &machine{state: StateReceived, trail: []State{StateReceived}}
}

// enter moves to the next state. An illegal transition is a bug in the judge
// and panics; Judge recovers it as an internal error.
func (m *machine) enter(ctx context.Context, to State, fields ...zap.Field) {
	if !canTransition(m.state, to) {
		panic(fmt.Sprintf("illegal judge transition %s -> %s", m.state, to))
	}
	fields = append([]zap.Field{zap.String("from", string(m.state)), zap.String("to", string(to))}, fields...)
	logger.Debug(ctx, "judge state changed", fields...)
	m.state = to
	m.trail = append(m.trail, to)
}

// fail moves to StateInternalError from any non-terminal state.
func (m *machine) fail(ctx context.Context, err error) {
	if m.state.Terminal() {
		return
	}
	m.enter(ctx, StateInternalError, zap.Error(err))
}
