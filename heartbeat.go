package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// HeartbeatMonitor pings the server while authenticated, both to signal
// liveness and to catch server-side revocation early. It ticks on a fixed
// interval and immediately when the tab regains foreground visibility, unless
// a validation is already in progress. A 401/403 escalates to the
// authoritative path via onRevoked; every other failure is transient.
type HeartbeatMonitor struct {
	api        API
	store      TokenStore
	validator  Validator
	onRevoked  func(ctx context.Context)
	visibility <-chan struct{}
	clock      clockwork.Clock
	logger     Logger

	minInterval time.Duration

	mu       sync.Mutex
	interval time.Duration
	running  bool
	stopCh   chan struct{}
	failures int
}

// NewHeartbeatMonitor builds the monitor. visibility may be nil when the
// platform has no foreground signal. Nil clock or logger fall back to the
// real clock and the package default logger.
func NewHeartbeatMonitor(api API, store TokenStore, validator Validator, cfg Config, onRevoked func(ctx context.Context), visibility <-chan struct{}, clock clockwork.Clock, logger Logger) *HeartbeatMonitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	cfg = cfg.withDefaults()
	return &HeartbeatMonitor{
		api:         api,
		store:       store,
		validator:   validator,
		onRevoked:   onRevoked,
		visibility:  visibility,
		clock:       clock,
		logger:      normalizeLogger(logger),
		minInterval: cfg.MinHeartbeatInterval,
		interval:    cfg.HeartbeatInterval,
	}
}

// Start launches the ping loop. Starting while running is a no-op: there is
// never more than one active timer.
func (hm *HeartbeatMonitor) Start() {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if hm.running {
		return
	}
	hm.running = true
	hm.stopCh = make(chan struct{})
	go hm.loop(hm.stopCh)
}

// Stop clears the timer synchronously and is idempotent.
func (hm *HeartbeatMonitor) Stop() {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if !hm.running {
		return
	}
	close(hm.stopCh)
	hm.stopCh = nil
	hm.running = false
}

// Running reports whether the loop is active.
func (hm *HeartbeatMonitor) Running() bool {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return hm.running
}

// Failures reports the count of consecutive transient ping failures.
func (hm *HeartbeatMonitor) Failures() int {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return hm.failures
}

// Interval reports the current tick cadence, after any server hint.
func (hm *HeartbeatMonitor) Interval() time.Duration {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return hm.interval
}

func (hm *HeartbeatMonitor) loop(stop <-chan struct{}) {
	current := hm.Interval()
	ticker := hm.clock.NewTicker(current)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			hm.ping(stop)
		case <-hm.visibility:
			// a validation already in progress decides liveness for us
			if hm.validator != nil && hm.validator.InFlight() {
				hm.logger.Debug("foreground heartbeat skipped, validation in flight")
				continue
			}
			hm.ping(stop)
		}

		if next := hm.Interval(); next != current {
			current = next
			ticker.Reset(current)
		}
	}
}

func (hm *HeartbeatMonitor) ping(stop <-chan struct{}) {
	ctx := context.Background()

	creds, err := hm.store.Credentials(ctx)
	if err != nil || creds.Token == "" {
		hm.logger.Debug("heartbeat skipped, no stored token")
		return
	}

	res, err := hm.api.Heartbeat(ctx, creds.Token)
	if err != nil {
		hm.mu.Lock()
		hm.failures++
		n := hm.failures
		hm.mu.Unlock()
		hm.logger.Warn("heartbeat failed (%d consecutive): %v", n, err)
		return
	}

	hm.mu.Lock()
	hm.failures = 0
	hm.mu.Unlock()

	if res.OK {
		if res.NextIntervalHint > 0 {
			hm.adoptHint(res.NextIntervalHint)
		}
		return
	}

	if res.HTTPStatus == http.StatusUnauthorized || res.HTTPStatus == http.StatusForbidden {
		select {
		case <-stop:
			return
		default:
		}
		hm.logger.Info("heartbeat rejected with %d, forcing authoritative check", res.HTTPStatus)
		if hm.onRevoked != nil {
			hm.onRevoked(ctx)
		}
	}
}

// adoptHint applies a server-suggested cadence, floored at the minimum.
func (hm *HeartbeatMonitor) adoptHint(hint time.Duration) {
	if hint < hm.minInterval {
		hint = hm.minInterval
	}

	hm.mu.Lock()
	changed := hm.interval != hint
	hm.interval = hint
	hm.mu.Unlock()

	if changed {
		hm.logger.Debug("heartbeat interval adjusted to %s by server hint", hint)
	}
}
