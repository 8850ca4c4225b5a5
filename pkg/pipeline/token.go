package pipeline

import (
	"sync"
	"sync/atomic"
)

// StopState is the cancellation state of a pipeline run.
type StopState int32

const (
	// Running means no stop has been requested.
	Running StopState = iota

	// GracefulStop means workers finish the in-flight identifier and
	// stop before fetching the next one.
	GracefulStop

	// ForcedStop means workers abort immediately, discarding the rest
	// of their current batch.
	ForcedStop
)

// String implements fmt.Stringer.
func (s StopState) String() string {
	switch s {
	case Running:
		return "running"
	case GracefulStop:
		return "graceful_stop"
	case ForcedStop:
		return "forced_stop"
	default:
		return "unknown"
	}
}

// Token is the process-wide cancellation token observed by the
// dispatcher and every worker. Transitions are monotonic:
// Running → GracefulStop → ForcedStop, never backwards. The token has
// no signal-handler coupling; callers bind interrupts to Interrupt()
// and tests drive the transitions directly.
type Token struct {
	state atomic.Int32

	stopping  chan struct{}
	forced    chan struct{}
	stopOnce  sync.Once
	forceOnce sync.Once
}

// NewToken returns a token in the Running state.
func NewToken() *Token {
	return &Token{
		stopping: make(chan struct{}),
		forced:   make(chan struct{}),
	}
}

// State returns the current stop state.
func (t *Token) State() StopState {
	return StopState(t.state.Load())
}

// Graceful requests a graceful stop. It only takes effect from the
// Running state; a forced stop is never downgraded.
func (t *Token) Graceful() {
	if t.state.CompareAndSwap(int32(Running), int32(GracefulStop)) {
		t.stopOnce.Do(func() { close(t.stopping) })
	}
}

// Force requests an immediate stop from any state.
func (t *Token) Force() {
	if t.state.Swap(int32(ForcedStop)) != int32(ForcedStop) {
		t.stopOnce.Do(func() { close(t.stopping) })
		t.forceOnce.Do(func() { close(t.forced) })
	}
}

// Interrupt escalates one step: the first call requests a graceful
// stop, any further call forces the stop. This is the double-SIGINT
// contract bound by the CLI.
func (t *Token) Interrupt() {
	if t.state.CompareAndSwap(int32(Running), int32(GracefulStop)) {
		t.stopOnce.Do(func() { close(t.stopping) })
		return
	}
	t.Force()
}

// Stopping is closed once any stop (graceful or forced) is requested.
// Dispatcher sends and worker receives select on it.
func (t *Token) Stopping() <-chan struct{} {
	return t.stopping
}

// Forced is closed once a forced stop is requested.
func (t *Token) Forced() <-chan struct{} {
	return t.forced
}
