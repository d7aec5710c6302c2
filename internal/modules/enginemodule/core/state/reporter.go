// Package state provides the lock-protected progress snapshot polled by
// hosts.
package state

import (
	"sync"

	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

// Reporter owns the live State. Every accessor holds the lock only long
// enough to copy a value in or out.
type Reporter struct {
	mu    sync.Mutex
	state types.State
	subs  map[chan types.State]struct{}
}

// NewReporter creates a reporter in the idle phase.
func NewReporter() *Reporter {
	return &Reporter{subs: make(map[chan types.State]struct{})}
}

// Snapshot copies the current state. When consume is set the one-shot
// ScanDone and WorkDone events are cleared after being reported.
func (r *Reporter) Snapshot(consume bool) types.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state
	if consume {
		r.state.ScanDone = false
		r.state.WorkDone = false
	}
	return s
}

// SetPhase moves to phase p. Paused mirrors the phase.
func (r *Reporter) SetPhase(p types.Phase) {
	r.update(func(s *types.State) {
		s.Phase = p
		s.Paused = p == types.PhasePaused
		if p == types.PhaseIdle {
			s.Muxing = false
		}
	})
}

// BeginScan resets scan progress and clears any stale scan event.
func (r *Reporter) BeginScan() {
	r.update(func(s *types.State) {
		s.Phase = types.PhaseScanning
		s.Paused = false
		s.Scan = types.ScanProgress{}
		s.ScanDone = false
		s.Error = types.WorkErrorNone
		s.Message = ""
	})
}

// UpdateScan replaces the scan progress.
func (r *Reporter) UpdateScan(p types.ScanProgress) {
	r.update(func(s *types.State) { s.Scan = p })
}

// EndScan returns to idle and raises the scan done event.
func (r *Reporter) EndScan(err types.WorkError, msg string) {
	r.update(func(s *types.State) {
		s.Phase = types.PhaseIdle
		s.Paused = false
		s.ScanDone = true
		s.Error = err
		s.Message = msg
	})
}

// BeginWork enters the working phase with fresh progress.
func (r *Reporter) BeginWork(queued int) {
	r.update(func(s *types.State) {
		s.Phase = types.PhaseWorking
		s.Paused = false
		s.Muxing = false
		s.Work = types.WorkProgress{JobsQueued: queued}
		s.WorkDone = false
		s.Error = types.WorkErrorNone
		s.Message = ""
	})
}

// UpdateWork applies fn to the work progress.
func (r *Reporter) UpdateWork(fn func(*types.WorkProgress)) {
	r.update(func(s *types.State) { fn(&s.Work) })
}

// SetMuxing flags the final output stage.
func (r *Reporter) SetMuxing(muxing bool) {
	r.update(func(s *types.State) { s.Muxing = muxing })
}

// SetError records the outcome of the last finished job.
func (r *Reporter) SetError(err types.WorkError, msg string) {
	r.update(func(s *types.State) {
		s.Error = err
		s.Message = msg
	})
}

// EndWork returns to idle and raises the work done event.
func (r *Reporter) EndWork() {
	r.update(func(s *types.State) {
		s.Phase = types.PhaseIdle
		s.Paused = false
		s.Muxing = false
		s.WorkDone = true
	})
}

// Subscribe returns a channel that receives the state after every change.
// Slow subscribers miss intermediate states rather than block the engine.
func (r *Reporter) Subscribe() (<-chan types.State, func()) {
	ch := make(chan types.State, 1)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()
	return ch, func() {
		r.mu.Lock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
		r.mu.Unlock()
	}
}

func (r *Reporter) update(fn func(*types.State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.state)
	for ch := range r.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- r.state:
		default:
		}
	}
}
