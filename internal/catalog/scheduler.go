package catalog

import (
	"sync"
	"time"
)

// writeScheduler 合并多次写盘请求：只保留一个“下一次截止时间”和一个计时器。
// 新请求只有在截止时间更早时才替换计时器；延迟 ≤ 0 或截止时间已过则同步写盘。
type writeScheduler struct {
	mu     sync.Mutex
	flush  func()
	now    func() time.Time
	next   time.Time
	timer  *time.Timer
	gen    uint64
	closed bool
}

func newWriteScheduler(flush func()) *writeScheduler {
	return &writeScheduler{flush: flush, now: time.Now}
}

// Schedule 请求最迟在 maxDelay 之后写盘。
func (s *writeScheduler) Schedule(maxDelay time.Duration) {
	if maxDelay <= 0 {
		s.flushNow()
		return
	}
	s.ScheduleAt(s.now().Add(maxDelay))
}

// ScheduleAt 请求最迟在 deadline 写盘。
func (s *writeScheduler) ScheduleAt(deadline time.Time) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	now := s.now()
	if !deadline.After(now) {
		s.cancelLocked()
		s.mu.Unlock()
		s.flush()
		return
	}
	if s.timer != nil && !deadline.Before(s.next) {
		s.mu.Unlock()
		return
	}
	s.cancelLocked()
	s.gen++
	gen := s.gen
	s.next = deadline
	s.timer = time.AfterFunc(deadline.Sub(now), func() { s.fire(gen) })
	s.mu.Unlock()
}

// Pending 返回当前等待中的截止时间。
func (s *writeScheduler) Pending() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next, s.timer != nil
}

// Stop 取消等待中的写盘并拒绝后续请求，返回是否有未完成的写盘。
func (s *writeScheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.timer != nil
	s.cancelLocked()
	s.closed = true
	return pending
}

// Cancel 取消等待中的写盘，之后仍可再次调度。
func (s *writeScheduler) Cancel() {
	s.mu.Lock()
	s.cancelLocked()
	s.mu.Unlock()
}

func (s *writeScheduler) flushNow() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.cancelLocked()
	s.mu.Unlock()
	s.flush()
}

func (s *writeScheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.timer == nil {
		// 已被更早的计时器取代
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.next = time.Time{}
	s.mu.Unlock()
	s.flush()
}

func (s *writeScheduler) cancelLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.next = time.Time{}
	s.gen++
}
