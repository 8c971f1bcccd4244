package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// CookieTransition reports one observed change of the session cookie.
type CookieTransition struct {
	Previous        string
	PreviousPresent bool
	Current         string
	CurrentPresent  bool
	ObservedAt      time.Time
}

// Cleared reports a present-to-absent transition, the signature of an
// externally deleted session cookie.
func (t CookieTransition) Cleared() bool {
	return t.PreviousPresent && !t.CurrentPresent
}

// TransitionFunc receives cookie transitions. The state machine implements it.
type TransitionFunc func(ctx context.Context, t CookieTransition)

// cookieSnapshot is the watcher's private record of the last observation.
type cookieSnapshot struct {
	value      string
	present    bool
	observedAt time.Time
}

// CookieWatcher polls the session cookie and reports transitions. The first
// observation seeds the baseline silently: absence at boot means "no
// session", never "session cleared".
type CookieWatcher struct {
	jar          CookieJar
	api          API
	store        TokenStore
	onTransition TransitionFunc
	clock        clockwork.Clock
	logger       Logger
	interval     time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	last    *cookieSnapshot
}

// NewCookieWatcher builds the watcher. Nil clock or logger fall back to the
// real clock and the package default logger.
func NewCookieWatcher(jar CookieJar, api API, store TokenStore, cfg Config, onTransition TransitionFunc, clock clockwork.Clock, logger Logger) *CookieWatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CookieWatcher{
		jar:          jar,
		api:          api,
		store:        store,
		onTransition: onTransition,
		clock:        clock,
		logger:       normalizeLogger(logger),
		interval:     cfg.withDefaults().CookiePollInterval,
	}
}

// Start seeds the baseline observation and launches the poll loop. Starting
// while running is a no-op.
func (w *CookieWatcher) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	stop := w.stopCh
	w.mu.Unlock()

	w.observe()
	go w.loop(stop)
}

// Stop clears the timer synchronously and is idempotent. The baseline is
// dropped so a later Start re-seeds instead of reporting a stale transition.
func (w *CookieWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.stopCh)
	w.stopCh = nil
	w.running = false
	w.last = nil
}

// Running reports whether the poll loop is active.
func (w *CookieWatcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// LastObserved returns the most recent cookie observation.
func (w *CookieWatcher) LastObserved() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return "", false
	}
	return w.last.value, w.last.present
}

func (w *CookieWatcher) loop(stop <-chan struct{}) {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if t, ok := w.observe(); ok {
				select {
				case <-stop:
					return
				default:
				}
				if w.onTransition != nil {
					w.onTransition(context.Background(), t)
				}
			}
		}
	}
}

// observe polls the jar, replaces the snapshot, and reports a transition when
// the value changed. The first observation never produces one.
func (w *CookieWatcher) observe() (CookieTransition, bool) {
	value, present := w.jar.SessionCookie()
	now := w.clock.Now()

	w.mu.Lock()
	prev := w.last
	w.last = &cookieSnapshot{value: value, present: present, observedAt: now}
	w.mu.Unlock()

	if prev == nil {
		return CookieTransition{}, false
	}
	if prev.present == present && prev.value == value {
		return CookieTransition{}, false
	}

	return CookieTransition{
		Previous:        prev.value,
		PreviousPresent: prev.present,
		Current:         value,
		CurrentPresent:  present,
		ObservedAt:      now,
	}, true
}

// VerifyIntegrity asks the server whether the current cookie value still
// belongs to the expected user. This defends against a cross-account cookie
// swap, not just deletion. Transport trouble is transient; a definitive
// mismatch is an integrity violation.
func (w *CookieWatcher) VerifyIntegrity(ctx context.Context, expectedUserID string) error {
	value, present := w.jar.SessionCookie()
	if !present || value == "" {
		return NewIntegrityViolation("session cookie absent during integrity check")
	}

	creds, err := w.store.Credentials(ctx)
	if err != nil {
		return WrapTransient(err, "token store unreadable during integrity check")
	}

	res, err := w.api.VerifyCookieIntegrity(ctx, creds.Token, value, expectedUserID)
	if err != nil {
		if IsAuthoritativeInvalid(err) {
			return WrapIntegrityViolation(err, "cookie rejected by the server")
		}
		return WrapTransient(err, "cookie integrity check inconclusive")
	}

	if !res.Valid {
		w.logger.Warn("cookie integrity mismatch: session_match=%t user_match=%t expiry_valid=%t",
			res.SessionMatch, res.UserMatch, res.ExpiryValid)
		return NewIntegrityViolation("cookie does not belong to the expected user")
	}

	return nil
}
