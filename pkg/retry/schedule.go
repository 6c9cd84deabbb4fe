package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Default schedule parameters.
const (
	// DefaultInitial is the delay before the first retry.
	DefaultInitial = 1 * time.Second

	// DefaultMax caps the base delay.
	DefaultMax = 30 * time.Second

	// DefaultMultiplier is the growth factor per attempt.
	DefaultMultiplier = 2.0

	// DefaultJitterMax is the upper bound of the random jitter.
	DefaultJitterMax = 250 * time.Millisecond

	// DefaultMaxAttempts is the number of consecutive failed attempts
	// after which a schedule is exhausted.
	DefaultMaxAttempts = 5
)

// Config holds schedule parameters.
type Config struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	JitterMax  time.Duration `yaml:"jitter_max"`

	// MaxAttempts is the number of consecutive failures tolerated.
	// Zero or negative means retry forever.
	MaxAttempts int `yaml:"max_attempts"`
}

// DefaultConfig returns the default read retry configuration.
func DefaultConfig() Config {
	return Config{
		Initial:     DefaultInitial,
		Max:         DefaultMax,
		Multiplier:  DefaultMultiplier,
		JitterMax:   DefaultJitterMax,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// normalize fills zero or invalid fields with defaults.
func (c Config) normalize() Config {
	if c.Initial <= 0 {
		c.Initial = DefaultInitial
	}
	if c.Max <= 0 {
		c.Max = DefaultMax
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Multiplier < 1 {
		c.Multiplier = DefaultMultiplier
	}
	if c.JitterMax < 0 {
		c.JitterMax = 0
	}
	return c
}

// BaseDelay returns the delay for the given zero-based attempt, without
// jitter.
func (c Config) BaseDelay(attempt int) time.Duration {
	c = c.normalize()
	if attempt < 0 {
		attempt = 0
	}
	d := float64(c.Initial) * math.Pow(c.Multiplier, float64(attempt))
	if d >= float64(c.Max) || math.IsInf(d, 0) || math.IsNaN(d) {
		return c.Max
	}
	return time.Duration(d)
}

// Schedule tracks consecutive failures and computes the next wake time.
// It is safe for concurrent use.
type Schedule struct {
	mu sync.Mutex

	cfg   Config
	clock clockwork.Clock

	// Consecutive failures since the last Reset
	attempt int

	// When the next retry is due (zero when idle)
	nextWake time.Time

	// Random source for jitter
	rng *rand.Rand
}

// NewSchedule creates a schedule using the real clock.
func NewSchedule(cfg Config) *Schedule {
	return NewScheduleWithClock(cfg, clockwork.NewRealClock())
}

// NewScheduleWithClock creates a schedule with an injected clock.
func NewScheduleWithClock(cfg Config, clock clockwork.Clock) *Schedule {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Schedule{
		cfg:   cfg.normalize(),
		clock: clock,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetRand replaces the jitter source. Intended for tests.
func (s *Schedule) SetRand(rng *rand.Rand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng = rng
}

// Config returns the normalized configuration.
func (s *Schedule) Config() Config {
	return s.cfg
}

// Failure records a failed attempt. It returns the delay until the next
// attempt and false once the schedule is exhausted.
func (s *Schedule) Failure() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempt++
	if s.cfg.MaxAttempts > 0 && s.attempt >= s.cfg.MaxAttempts {
		s.nextWake = time.Time{}
		return 0, false
	}

	delay := s.cfg.BaseDelay(s.attempt-1) + s.jitter()
	s.nextWake = s.clock.Now().Add(delay)
	return delay, true
}

// Reset returns the schedule to attempt zero.
// Call this after a successful attempt.
func (s *Schedule) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt = 0
	s.nextWake = time.Time{}
}

// Attempt returns the number of consecutive failures since the last Reset.
func (s *Schedule) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// NextWake returns when the next attempt is due, or the zero time.
func (s *Schedule) NextWake() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextWake
}

// Exhausted reports whether the attempt budget is spent.
func (s *Schedule) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.MaxAttempts > 0 && s.attempt >= s.cfg.MaxAttempts
}

// jitter returns a random duration in [0, JitterMax]. Caller holds mu.
func (s *Schedule) jitter() time.Duration {
	if s.cfg.JitterMax <= 0 {
		return 0
	}
	return time.Duration(s.rng.Int63n(int64(s.cfg.JitterMax) + 1))
}
