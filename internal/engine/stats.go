// Package engine couples capture, processing, recording, output, and PTZ
// into one coordinator per stream, plus the process-wide registry.
package engine

import (
	"sync"
	"time"
)

// Stats tracks per-stream processing statistics: a rolling FPS window,
// total frames, and the unsafe counter that resets each gating interval.
type Stats struct {
	mu          sync.Mutex
	window      []time.Time // frame arrival ring
	windowSize  int
	totalFrames uint64

	intervalFrames int
	unsafeFrames   int

	lastEventTime time.Time
}

func NewStats(windowSize int) *Stats {
	if windowSize <= 0 {
		windowSize = 30
	}
	return &Stats{windowSize: windowSize}
}

// RecordFrame registers one processed frame.
func (s *Stats) RecordFrame(unsafe bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalFrames++
	s.intervalFrames++
	if unsafe {
		s.unsafeFrames++
	}
	s.window = append(s.window, time.Now())
	if len(s.window) > s.windowSize {
		s.window = s.window[1:]
	}
}

// FPS is computed over the rolling sample window.
func (s *Stats) FPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.window) < 2 {
		return 0
	}
	span := s.window[len(s.window)-1].Sub(s.window[0]).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(len(s.window)-1) / span
}

// IntervalFrames is how many frames the current gating interval has seen.
func (s *Stats) IntervalFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intervalFrames
}

// CloseInterval returns the interval's unsafe count and resets both
// interval counters.
func (s *Stats) CloseInterval() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	unsafe := s.unsafeFrames
	s.unsafeFrames = 0
	s.intervalFrames = 0
	return unsafe
}

// ResetInterval clears the gating interval counters. Used when clip
// saving is re-enabled so frames seen while it was off do not feed the
// next gate decision.
func (s *Stats) ResetInterval() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intervalFrames = 0
	s.unsafeFrames = 0
}

// TotalFrames is the lifetime processed-frame count.
func (s *Stats) TotalFrames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalFrames
}

// LastEventTime is when the last recording started.
func (s *Stats) LastEventTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEventTime
}

// MarkEvent stamps the recording-start time used by the cooldown gate.
func (s *Stats) MarkEvent(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEventTime = t
}
