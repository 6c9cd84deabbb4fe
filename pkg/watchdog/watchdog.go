package watchdog

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Default thresholds.
const (
	DefaultCheckInterval = 5 * time.Second
	DefaultPoorAfter     = 30 * time.Second
	DefaultStalledAfter  = 60 * time.Second
)

// ErrInvalidThresholds is returned for a configuration whose thresholds
// are not ordered 0 < PoorAfter <= StalledAfter.
var ErrInvalidThresholds = errors.New("invalid watchdog thresholds")

// Quality grades how fresh a collection is.
type Quality uint8

const (
	// QualityGood indicates updates are arriving.
	QualityGood Quality = iota

	// QualityPoor indicates no update for longer than PoorAfter.
	QualityPoor

	// QualityStalled indicates no update for longer than StalledAfter.
	QualityStalled
)

// String returns a human-readable quality name.
func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "GOOD"
	case QualityPoor:
		return "POOR"
	case QualityStalled:
		return "STALLED"
	default:
		return "UNKNOWN"
	}
}

// Config holds watchdog configuration.
type Config struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	PoorAfter     time.Duration `yaml:"poor_after"`
	StalledAfter  time.Duration `yaml:"stalled_after"`
}

// DefaultConfig returns the default watchdog configuration.
func DefaultConfig() Config {
	return Config{
		CheckInterval: DefaultCheckInterval,
		PoorAfter:     DefaultPoorAfter,
		StalledAfter:  DefaultStalledAfter,
	}
}

// Validate checks the threshold ordering.
func (c Config) Validate() error {
	if c.PoorAfter <= 0 || c.StalledAfter < c.PoorAfter {
		return ErrInvalidThresholds
	}
	return nil
}

// Watchdog grades update freshness and reports stalls.
type Watchdog struct {
	mu sync.RWMutex

	cfg   Config
	clock clockwork.Clock

	quality  Quality
	baseline time.Time
	paused   bool

	// Loop control
	stopCh chan struct{}
	doneCh chan struct{}

	// Callbacks
	onQualityChange func(oldQuality, newQuality Quality)
	onStall         func()
}

// New creates a watchdog. Zero durations fall back to the defaults.
func New(cfg Config, clock clockwork.Clock) (*Watchdog, error) {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.PoorAfter == 0 {
		cfg.PoorAfter = DefaultPoorAfter
	}
	if cfg.StalledAfter == 0 {
		cfg.StalledAfter = DefaultStalledAfter
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Watchdog{
		cfg:      cfg,
		clock:    clock,
		quality:  QualityGood,
		baseline: clock.Now(),
	}, nil
}

// Quality returns the current grade.
func (w *Watchdog) Quality() Quality {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.quality
}

// SinceUpdate returns the time since the baseline (the last update or
// stall).
func (w *Watchdog) SinceUpdate() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.clock.Since(w.baseline)
}

// Running reports whether the check loop is running.
func (w *Watchdog) Running() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stopCh != nil
}

// Paused reports whether checks are suspended.
func (w *Watchdog) Paused() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.paused
}

// OnQualityChange sets a callback for grade changes.
func (w *Watchdog) OnQualityChange(fn func(oldQuality, newQuality Quality)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onQualityChange = fn
}

// OnStall sets the callback fired when the grade becomes STALLED.
func (w *Watchdog) OnStall(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onStall = fn
}

// Touch records a successful update.
func (w *Watchdog) Touch() {
	w.mu.Lock()
	w.baseline = w.clock.Now()
	old := w.quality
	w.quality = QualityGood
	fn := w.onQualityChange
	w.mu.Unlock()

	if fn != nil && old != QualityGood {
		fn(old, QualityGood)
	}
}

// Check grades the current freshness, firing callbacks for any change.
// It is a no-op while paused.
func (w *Watchdog) Check() Quality {
	w.mu.Lock()
	if w.paused {
		q := w.quality
		w.mu.Unlock()
		return q
	}

	elapsed := w.clock.Since(w.baseline)
	old := w.quality
	stalled := false

	switch {
	case elapsed >= w.cfg.StalledAfter:
		w.quality = QualityStalled
		w.baseline = w.clock.Now()
		stalled = true
	case elapsed >= w.cfg.PoorAfter && w.quality == QualityGood:
		w.quality = QualityPoor
	}

	newQuality := w.quality
	changeFn := w.onQualityChange
	stallFn := w.onStall
	w.mu.Unlock()

	if changeFn != nil && old != newQuality {
		changeFn(old, newQuality)
	}
	if stalled && stallFn != nil {
		stallFn()
	}
	return newQuality
}

// Start starts the recurring check. It restarts the baseline.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopCh != nil {
		return
	}
	w.baseline = w.clock.Now()
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	ticker := w.clock.NewTicker(w.cfg.CheckInterval)
	go w.loop(ticker, w.stopCh, w.doneCh)
}

// Stop stops the recurring check and waits for it to exit.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	stopCh, doneCh := w.stopCh, w.doneCh
	w.stopCh, w.doneCh = nil, nil
	w.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

// Pause suspends checks.
func (w *Watchdog) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paused = true
}

// Resume re-enables checks and restarts the baseline.
func (w *Watchdog) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.paused {
		return
	}
	w.paused = false
	w.baseline = w.clock.Now()
}

func (w *Watchdog) loop(ticker clockwork.Ticker, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.Chan():
			w.Check()
		}
	}
}
