package octet

import (
	"time"

	"go.uber.org/zap"
)

const (
	defaultSnapshotOpsThreshold = 100
	defaultSnapshotTimeMinutes  = 10
)

// Clock abstracts the current time so tests can control it; production
// code defaults to time.Now.
type Clock func() time.Time

// config holds construction-time settings applied by Option functions.
type config struct {
	logger            *zap.Logger
	opsThreshold      int
	timeThresholdMins int
	clock             Clock
	autoTruncate      bool
}

func defaultConfig() config {
	return config{
		logger:            zap.NewNop(),
		opsThreshold:      defaultSnapshotOpsThreshold,
		timeThresholdMins: defaultSnapshotTimeMinutes,
		clock:             time.Now,
		autoTruncate:      false,
	}
}

// Option configures a Storage at construction time.
type Option func(*config)

// WithLogger attaches a structured logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithOpsThreshold sets the mutation count after which a snapshot is
// requested. Defaults to 100; values <= 0 are ignored.
func WithOpsThreshold(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.opsThreshold = n
		}
	}
}

// WithTimeThreshold sets the minutes of accumulating mutations after which
// a snapshot is requested. Defaults to 10; negative values are ignored.
func WithTimeThreshold(minutes int) Option {
	return func(c *config) {
		if minutes >= 0 {
			c.timeThresholdMins = minutes
		}
	}
}

// WithClock overrides the time source, for deterministic tests of the
// time-driven snapshot trigger.
func WithClock(clock Clock) Option {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithAutoTruncate enables calling TruncateToCheckpoint after every
// successful snapshot. The journal/replay contract makes this optional:
// the spec defines truncation but leaves the trigger policy to the
// implementer. Disabled by default so the journal retains full history
// unless the caller opts in.
func WithAutoTruncate(enabled bool) Option {
	return func(c *config) { c.autoTruncate = enabled }
}
