package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type hit struct {
	at  time.Time
	seq uint64
}

// SlidingWindow is the in-process limiter: per key, a log of hit times.
type SlidingWindow struct {
	limit  int
	window time.Duration
	clock  clockwork.Clock

	mu   sync.Mutex
	seq  uint64
	hits map[string][]hit
}

func NewSlidingWindow(limit int, window time.Duration, clock clockwork.Clock) *SlidingWindow {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SlidingWindow{
		limit:  limit,
		window: window,
		clock:  clock,
		hits:   make(map[string][]hit),
	}
}

func (s *SlidingWindow) Reserve(ctx context.Context, key string) (*Compensator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	hits := s.prune(key, now)
	if len(hits) >= s.limit {
		return nil, ErrLimited
	}
	s.seq++
	seq := s.seq
	s.hits[key] = append(hits, hit{at: now, seq: seq})

	return newCompensator(func(context.Context) error {
		s.remove(key, seq)
		return nil
	}), nil
}

// prune 丢弃窗口外的记录
func (s *SlidingWindow) prune(key string, now time.Time) []hit {
	hits := s.hits[key]
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(hits) && !hits[i].at.After(cutoff) {
		i++
	}
	hits = hits[i:]
	if len(hits) == 0 {
		delete(s.hits, key)
		return nil
	}
	s.hits[key] = hits
	return hits
}

func (s *SlidingWindow) remove(key string, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hits := s.hits[key]
	for i, h := range hits {
		if h.seq == seq {
			s.hits[key] = append(hits[:i:i], hits[i+1:]...)
			return
		}
	}
}
