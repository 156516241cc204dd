package octet

import (
	"time"

	"go.uber.org/zap"
)

// snapshotterLoop is the background task started by Open. It wakes on a
// request, a shutdown signal, or the time threshold elapsing, decides
// whether a snapshot is warranted, and if so calls CreateSnapshot — all
// outside the wake-state lock, so new requests are never blocked behind an
// in-progress snapshot attempt.
func (s *Storage) snapshotterLoop() {
	defer close(s.snapshotterDone)

	for {
		timeout := s.currentTimeThreshold()
		timer := time.NewTimer(timeout)

		select {
		case <-s.wakeCh:
		case <-timer.C:
		}
		timer.Stop()

		s.wakeMu.Lock()
		shuttingDown := s.shutdown
		requested := s.snapshotRequested
		s.snapshotRequested = false
		s.wakeMu.Unlock()

		if shuttingDown {
			return
		}

		if requested || s.timeTriggered() {
			if _, err := s.CreateSnapshot(); err != nil {
				s.logger.Warn("background snapshot failed", zap.Error(err))
			}
		}
	}
}

// currentTimeThreshold returns the configured time threshold as a
// duration, floored so the timer never busy-loops at zero.
func (s *Storage) currentTimeThreshold() time.Duration {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	d := time.Duration(s.timeThresholdMins) * time.Minute
	if d <= 0 {
		d = 100 * time.Millisecond
	}
	return d
}

// timeTriggered reports whether elapsed time since the last snapshot meets
// the threshold AND at least one mutation has accumulated since then.
func (s *Storage) timeTriggered() bool {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()

	threshold := time.Duration(s.timeThresholdMins) * time.Minute
	elapsed := s.clock().Sub(s.lastSnapshotTime)
	return elapsed >= threshold && s.opsSinceSnapshot > 0
}
