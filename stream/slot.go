// Package stream captures host screen frames and fans them out to any
// number of MJPEG viewers.
package stream

import (
	"sync"
	"time"
)

// Slot holds the single most recent encoded frame. Writers always
// overwrite, never block, never queue. Every write signals all waiting
// readers; frames a reader did not get to in time are simply gone.
type Slot struct {
	mu     sync.Mutex
	frame  []byte
	notify chan struct{}
}

func NewSlot() *Slot {
	return &Slot{notify: make(chan struct{})}
}

// Set replaces the stored frame and wakes every waiter.
func (s *Slot) Set(frame []byte) {
	s.mu.Lock()
	s.frame = frame
	close(s.notify)
	s.notify = make(chan struct{})
	s.mu.Unlock()
}

// Frame returns the current frame, or nil if none has been published
// since the slot was created or cleared.
func (s *Slot) Frame() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// Wait blocks until the next Set or the timeout, whichever comes first.
// Returns true if a new frame was published.
func (s *Slot) Wait(timeout time.Duration) bool {
	s.mu.Lock()
	notify := s.notify
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-notify:
		return true
	case <-timer.C:
		return false
	}
}

// Clear drops the buffered frame without signalling. Called when a
// stream stops so a later stream never serves a stale image.
func (s *Slot) Clear() {
	s.mu.Lock()
	s.frame = nil
	s.mu.Unlock()
}
