package dispatch

import (
	"sync"
	"time"
)

// Session tracks the live progress of one batch send. A session stays
// in the registry for the retention period after it finishes so late
// subscribers still get a terminal event.
type Session struct {
	BatchID   string
	StartedAt time.Time

	mu         sync.RWMutex
	inProgress bool
	total      int
	sent       int
	failed     int
	errMsg     string
	finishedAt time.Time
}

// Progress is a point-in-time copy of a session's counters.
type Progress struct {
	Sent       int
	Failed     int
	Total      int
	InProgress bool
	ErrMsg     string
}

func newSession(batchID string, total int, inProgress bool) *Session {
	return &Session{
		BatchID:    batchID,
		StartedAt:  time.Now(),
		inProgress: inProgress,
		total:      total,
	}
}

// Snapshot returns the current counters.
func (s *Session) Snapshot() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Progress{
		Sent:       s.sent,
		Failed:     s.failed,
		Total:      s.total,
		InProgress: s.inProgress,
		ErrMsg:     s.errMsg,
	}
}

func (s *Session) record(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if success {
		s.sent++
	} else {
		s.failed++
	}
}

// setCounts overwrites the counters, used when a session is
// synthesized from persisted recipient state.
func (s *Session) setCounts(sent, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = sent
	s.failed = failed
}

// finish marks the session done. A non-empty errMsg records a fatal
// run error; normal completion passes "".
func (s *Session) finish(errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inProgress {
		return
	}
	s.inProgress = false
	s.errMsg = errMsg
	s.finishedAt = time.Now()
}

func (s *Session) expired(retention time.Duration, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.inProgress && !s.finishedAt.IsZero() && now.Sub(s.finishedAt) > retention
}
