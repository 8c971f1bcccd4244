package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RefreshApplyFunc receives a completed renewal. The state machine implements
// it and drops results that arrive after a logout or status change.
type RefreshApplyFunc func(ctx context.Context, res *RefreshResult)

// RefreshScheduler silently renews the bearer token ahead of expiry. Renewal
// never changes session status: a failed tick is transient and the next tick
// retries. The cadence is derived from the current token's exp claim, with
// the configured fallback for opaque tokens.
type RefreshScheduler struct {
	api    API
	store  TokenStore
	cfg    Config
	apply  RefreshApplyFunc
	clock  clockwork.Clock
	logger Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewRefreshScheduler builds the scheduler. Nil clock or logger fall back to
// the real clock and the package default logger.
func NewRefreshScheduler(api API, store TokenStore, cfg Config, apply RefreshApplyFunc, clock clockwork.Clock, logger Logger) *RefreshScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RefreshScheduler{
		api:    api,
		store:  store,
		cfg:    cfg.withDefaults(),
		apply:  apply,
		clock:  clock,
		logger: normalizeLogger(logger),
	}
}

// Start launches the renewal loop. Starting while running is a no-op.
func (r *RefreshScheduler) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	go r.loop(r.stopCh)
}

// Stop clears the timer synchronously. An in-flight renewal may complete but
// its result is dropped (the apply callback re-checks current status).
func (r *RefreshScheduler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	close(r.stopCh)
	r.stopCh = nil
	r.running = false
}

// Running reports whether the loop is active.
func (r *RefreshScheduler) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *RefreshScheduler) loop(stop <-chan struct{}) {
	timer := r.clock.NewTimer(r.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.Chan():
			r.tick(stop)
			timer.Reset(r.nextInterval())
		}
	}
}

// nextInterval derives the cadence from the stored token.
func (r *RefreshScheduler) nextInterval() time.Duration {
	creds, err := r.store.Credentials(context.Background())
	if err != nil || creds.Token == "" {
		return r.cfg.RefreshFallbackInterval
	}
	return refreshIntervalFor(creds.Token, r.clock.Now(), r.cfg.MinRefreshInterval, r.cfg.RefreshFallbackInterval)
}

func (r *RefreshScheduler) tick(stop <-chan struct{}) {
	ctx := context.Background()

	creds, err := r.store.Credentials(ctx)
	if err != nil {
		r.logger.Warn("refresh skipped, token store unreadable: %v", err)
		return
	}
	if !creds.Complete() {
		r.logger.Debug("refresh skipped, no stored credentials")
		return
	}

	res, err := r.api.RefreshToken(ctx, creds.Token, creds.SessionID)
	if err != nil {
		// transient by policy: no state transition, the next tick retries
		r.logger.Warn("token refresh failed: %v", err)
		return
	}

	select {
	case <-stop:
		// stopped while the renewal was in flight; never resurrect a token
		r.logger.Debug("dropping refresh result, scheduler stopped")
		return
	default:
	}

	if r.apply != nil {
		r.apply(ctx, res)
	}
}
