package live

import (
	"sync"
	"time"
)

// Scheduler assigns start offsets for gapless sequential playback. The
// cursor only moves forward: chunks arriving while audio is still queued are
// scheduled back to back, never overlapping, and a chunk arriving after the
// queue drained starts at the current clock position.
type Scheduler struct {
	mu     sync.Mutex
	cursor time.Duration
	now    func() time.Duration
}

// NewScheduler creates a scheduler over a playback clock. now reports the
// clock's current position.
func NewScheduler(now func() time.Duration) *Scheduler {
	return &Scheduler{now: now}
}

// Schedule reserves a slot of the given duration and returns its start
// offset.
func (s *Scheduler) Schedule(d time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now := s.now(); s.cursor < now {
		s.cursor = now
	}
	start := s.cursor
	s.cursor += d
	return start
}

// Reset forgets all queued audio, used on interruption and teardown.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = 0
}

// AudioSink plays scheduled PCM audio. Device handling lives behind this
// interface; the core only decides when each chunk starts.
type AudioSink interface {
	PlayAt(pcm []byte, start time.Duration)
	// StopAll hard-stops everything scheduled or playing.
	StopAll()
}

// NopSink discards audio, used by headless deployments and tests.
type NopSink struct{}

func (NopSink) PlayAt([]byte, time.Duration) {}
func (NopSink) StopAll()                     {}
