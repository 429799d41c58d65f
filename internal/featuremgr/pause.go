package featuremgr

import (
	"context"
	"sync"
)

// pauseController gates new Feature scheduling for one Project without
// interrupting Features already running.
type pauseController struct {
	mu     sync.Mutex
	cond   *sync.Cond
	paused bool
}

func newPauseController() *pauseController {
	p := &pauseController{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Pause stops WaitIfResumed from returning until Resume is called.
func (p *pauseController) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

// Resume lifts a pause and wakes any blocked WaitIfResumed callers.
func (p *pauseController) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		p.paused = false
		p.cond.Broadcast()
	}
}

// IsPaused reports the current pause state.
func (p *pauseController) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// WaitIfResumed blocks while paused, returning early if ctx is
// cancelled. A goroutine is spawned to translate ctx cancellation into
// a broadcast, since sync.Cond has no native context support.
func (p *pauseController) WaitIfResumed(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.paused {
		return nil
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.cond.Broadcast()
		case <-done:
		}
	}()
	defer close(done)

	for p.paused {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.cond.Wait()
	}
	return ctx.Err()
}

// featureControl gates one Feature's subtask loop: unlike
// pauseController, which stops new Features from starting on a
// Project, this is checked at every subtask boundary inside
// runFeature so a pause or abort request interrupts a Feature that is
// already running.
type featureControl struct {
	mu             sync.Mutex
	pauseRequested bool
	aborted        bool
}

// requestPause arranges for the next subtask-boundary check to stop
// the Feature and transition it to paused.
func (c *featureControl) requestPause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pauseRequested = true
}

// requestAbort arranges for the next subtask-boundary check to stop
// the Feature, same as requestPause, but consume reports it as an
// abort so the caller records a distinct event.
func (c *featureControl) requestAbort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted = true
}

// consume reports whether the Feature should stop at this boundary
// and whether that stop was an abort. A plain pause request is
// cleared once consumed, since a later resume should not immediately
// re-pause; an abort flag is left set, since an aborted Feature is not
// expected to resume on its own.
func (c *featureControl) consume() (stop, aborted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aborted {
		return true, true
	}
	if c.pauseRequested {
		c.pauseRequested = false
		return true, false
	}
	return false, false
}

// reset clears any pending pause/abort request, used when a Feature
// is retried from scratch.
func (c *featureControl) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pauseRequested = false
	c.aborted = false
}
