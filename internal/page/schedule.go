package page

import (
	"time"
)

// ScheduledTask is a delayed callback owned by a page. Cancelling it, or
// unloading the page, guarantees the callback will not run.
type ScheduledTask struct {
	page  *Page
	timer *time.Timer
	// tracked tasks keep Idle from returning while they are pending.
	tracked bool
}

// Cancel stops the task. It reports whether the task was still pending.
func (s *ScheduledTask) Cancel() bool {
	if s == nil || s.page == nil {
		return false
	}
	p := s.page
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.timers[s]; !ok {
		return false
	}
	delete(p.timers, s)
	s.timer.Stop()
	if s.tracked {
		p.releaseLocked()
	}
	return true
}

// after runs fn on the event loop once d has elapsed.
func (p *Page) after(d time.Duration, tracked bool, fn func()) *ScheduledTask {
	return p.schedule(d, tracked, func() { p.post(fn) })
}

// afterAsync runs fn on a timer goroutine once d has elapsed. fn must not
// touch the document directly; it may post work to the loop.
func (p *Page) afterAsync(d time.Duration, tracked bool, fn func()) *ScheduledTask {
	return p.schedule(d, tracked, fn)
}

func (p *Page) schedule(d time.Duration, tracked bool, fire func()) *ScheduledTask {
	s := &ScheduledTask{page: p, tracked: tracked}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return s
	}
	p.timers[s] = struct{}{}
	if tracked {
		p.acquireLocked()
	}
	s.timer = time.AfterFunc(d, func() {
		p.mu.Lock()
		if _, ok := p.timers[s]; !ok {
			p.mu.Unlock()
			return
		}
		delete(p.timers, s)
		p.mu.Unlock()

		fire()

		if tracked {
			p.mu.Lock()
			p.releaseLocked()
			p.mu.Unlock()
		}
	})
	return s
}
