package orchestrator

import (
	"sync"
	"time"
)

// IndicatorState is what the speaking indicator currently shows.
type IndicatorState struct {
	// Speaker is the id of the participant shown as speaking, or "".
	Speaker string
	// Busy is true while at least one reply is being generated.
	Busy bool
}

// Indicator tracks who is shown as speaking and whether a reply is in
// flight. It is shared by all turns of a call.
type Indicator struct {
	onChange func(IndicatorState)

	mu      sync.Mutex
	state   IndicatorState
	busy    int
	gen     uint64
	timers  map[*time.Timer]struct{}
	stopped bool
}

// NewIndicator returns an empty indicator. onChange, if non-nil, is called
// with the new state after every change. It is called with the indicator's
// lock held, so calls arrive in order and must not call back into the
// indicator.
func NewIndicator(onChange func(IndicatorState)) *Indicator {
	return &Indicator{onChange: onChange, timers: make(map[*time.Timer]struct{})}
}

// Set shows id as speaking.
func (in *Indicator) Set(id string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.gen++
	in.setLocked(id, in.state.Busy)
}

// ClearAfter clears the indicator after grace, but only if it still shows id
// and nobody was set in the meantime.
func (in *Indicator) ClearAfter(id string, grace time.Duration) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.stopped {
		return
	}
	gen := in.gen

	var t *time.Timer
	t = time.AfterFunc(grace, func() {
		in.mu.Lock()
		defer in.mu.Unlock()
		delete(in.timers, t)
		if in.stopped || in.gen != gen || in.state.Speaker != id {
			return
		}
		in.setLocked("", in.state.Busy)
	})
	in.timers[t] = struct{}{}
}

// SetBusy marks the start (true) or end (false) of a reply generation.
// Calls nest: the indicator is busy until every start has been ended.
func (in *Indicator) SetBusy(busy bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if busy {
		in.busy++
	} else if in.busy > 0 {
		in.busy--
	}
	in.setLocked(in.state.Speaker, in.busy > 0)
}

// Current returns the id shown as speaking, or "".
func (in *Indicator) Current() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state.Speaker
}

// State returns the full indicator state.
func (in *Indicator) State() IndicatorState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// Stop cancels pending clears, resets the state and ignores later
// ClearAfter calls. Set and SetBusy keep working.
func (in *Indicator) Stop() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.stopped = true
	for t := range in.timers {
		t.Stop()
	}
	clear(in.timers)
	in.busy = 0
	in.gen++
	in.setLocked("", false)
}

func (in *Indicator) setLocked(speaker string, busy bool) {
	next := IndicatorState{Speaker: speaker, Busy: busy}
	if next == in.state {
		return
	}
	in.state = next
	if in.onChange != nil {
		in.onChange(next)
	}
}
