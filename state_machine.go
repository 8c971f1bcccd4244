package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	runnerRefresh   = "refresh"
	runnerHeartbeat = "heartbeat"
	runnerCookie    = "cookie-watch"
)

// StateMachine integrates validator, schedulers, and cookie watcher into one
// authoritative status and owns starting/stopping the background work as a
// function of that status.
type StateMachine interface {
	Start(ctx context.Context)
	Login(ctx context.Context, username, password string) error
	Logout(ctx context.Context)
	ForceCheck(ctx context.Context)
	CheckCookieIntegrity(ctx context.Context) error
	Current() Snapshot
	Shutdown()
}

// Option customizes state machine construction.
type Option func(*SessionStateMachine)

// WithClock injects a custom clock (useful for tests).
func WithClock(clock clockwork.Clock) Option {
	return func(sm *SessionStateMachine) {
		if clock != nil {
			sm.clock = clock
		}
	}
}

// WithLogger overrides the logger shared with every sub-component.
func WithLogger(logger Logger) Option {
	return func(sm *SessionStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithNotifier sets the event bus lifecycle events are published on.
func WithNotifier(n *Notifier) Option {
	return func(sm *SessionStateMachine) {
		if n != nil {
			sm.notifier = n
		}
	}
}

// WithNavigator sets the sink that receives redirect-on-logout signals.
func WithNavigator(nav Navigator) Option {
	return func(sm *SessionStateMachine) {
		sm.navigator = normalizeNavigator(nav)
	}
}

// WithNotificationSink sets the sink for user-visible warnings.
func WithNotificationSink(s NotificationSink) Option {
	return func(sm *SessionStateMachine) {
		sm.notices = normalizeNotificationSink(s)
	}
}

// WithVisibilitySignal wires the tab-foreground signal consumed by the
// heartbeat monitor.
func WithVisibilitySignal(ch <-chan struct{}) Option {
	return func(sm *SessionStateMachine) {
		sm.visibility = ch
	}
}

// WithValidator replaces the default validator strategy.
func WithValidator(v Validator) Option {
	return func(sm *SessionStateMachine) {
		if v != nil {
			sm.validator = v
		}
	}
}

// WithRequiresAuth tells the machine whether the current view requires
// authentication; redirects are only signaled when it reports true. The
// default always reports true.
func WithRequiresAuth(fn func() bool) Option {
	return func(sm *SessionStateMachine) {
		if fn != nil {
			sm.requiresAuth = fn
		}
	}
}

// SessionStateMachine is the default StateMachine. It is the sole writer of
// status and of the TokenStore; every scheduler and watcher reports back into
// it, and stale async completions are dropped against a generation counter.
type SessionStateMachine struct {
	api        API
	store      TokenStore
	cookies    CookieJar
	cfg        Config
	validator  Validator
	notifier   *Notifier
	navigator  Navigator
	notices    NotificationSink
	visibility <-chan struct{}
	clock      clockwork.Clock
	logger     Logger

	registry  *runnerRegistry
	refresh   *RefreshScheduler
	heartbeat *HeartbeatMonitor
	watcher   *CookieWatcher

	requiresAuth func() bool
	transitions  map[Status]map[Status]struct{}

	mu              sync.Mutex
	status          Status
	user            *UserProfile
	lastValidatedAt *time.Time
	generation      uint64
}

var _ StateMachine = (*SessionStateMachine)(nil)

// NewStateMachine wires the lifecycle manager. api, store, and cookies are
// required; a missing collaborator is a configuration error, surfaced here
// and never retried.
func NewStateMachine(api API, store TokenStore, cookies CookieJar, cfg Config, opts ...Option) (*SessionStateMachine, error) {
	if api == nil {
		return nil, ErrConfiguration.WithMetadata(map[string]any{"missing": "api"})
	}
	if store == nil {
		return nil, ErrConfiguration.WithMetadata(map[string]any{"missing": "token store"})
	}
	if cookies == nil {
		return nil, ErrConfiguration.WithMetadata(map[string]any{"missing": "cookie jar"})
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sm := &SessionStateMachine{
		api:          api,
		store:        store,
		cookies:      cookies,
		cfg:          cfg,
		navigator:    noopNavigator{},
		notices:      noopNotificationSink{},
		clock:        clockwork.NewRealClock(),
		logger:       defLogger{},
		registry:     newRunnerRegistry(),
		requiresAuth: func() bool { return true },
		status:       StatusChecking,
		transitions: map[Status]map[Status]struct{}{
			StatusChecking: {
				StatusAuthenticated:   {},
				StatusUnauthenticated: {},
				StatusError:           {},
			},
			StatusAuthenticated: {
				StatusChecking:        {},
				StatusUnauthenticated: {},
			},
			StatusUnauthenticated: {
				StatusChecking: {},
			},
			StatusError: {
				StatusChecking:        {},
				StatusUnauthenticated: {},
			},
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	if sm.notifier == nil {
		sm.notifier = NewNotifier(WithNotifierLogger(sm.logger))
	}
	if sm.validator == nil {
		sm.validator = NewAPIValidator(api, store, cookies, sm.logger)
	}

	sm.refresh = NewRefreshScheduler(api, store, cfg, sm.applyRefresh, sm.clock, sm.logger)
	sm.heartbeat = NewHeartbeatMonitor(api, store, sm.validator, cfg, sm.ForceCheck, sm.visibility, sm.clock, sm.logger)
	sm.watcher = NewCookieWatcher(cookies, api, store, cfg, sm.handleCookieTransition, sm.clock, sm.logger)

	sm.registry.register(runnerRefresh, sm.refresh, sm.refresh.Stop)
	if !cfg.HeartbeatDisabled {
		sm.registry.register(runnerHeartbeat, sm.heartbeat, sm.heartbeat.Stop)
	}
	sm.registry.register(runnerCookie, sm.watcher, sm.watcher.Stop)

	return sm, nil
}

// Start runs the initial authoritative check. The machine begins in checking
// and cycles for the process lifetime afterwards.
func (sm *SessionStateMachine) Start(ctx context.Context) {
	sm.ForceCheck(ctx)
}

// Shutdown stops all background work without touching stored credentials;
// the session survives a process restart.
func (sm *SessionStateMachine) Shutdown() {
	sm.registry.stopAll()
}

// Current returns the externally visible projection of the session.
func (sm *SessionStateMachine) Current() Snapshot {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	snap := Snapshot{Status: sm.status}
	if sm.user != nil {
		u := *sm.user
		snap.User = &u
	}
	if sm.lastValidatedAt != nil {
		t := *sm.lastValidatedAt
		snap.LastValidatedAt = &t
	}
	return snap
}

// Notifier returns the event bus lifecycle events are published on.
func (sm *SessionStateMachine) Notifier() *Notifier { return sm.notifier }

// Refresh returns the token renewal scheduler.
func (sm *SessionStateMachine) Refresh() *RefreshScheduler { return sm.refresh }

// Heartbeat returns the liveness monitor.
func (sm *SessionStateMachine) Heartbeat() *HeartbeatMonitor { return sm.heartbeat }

// Watcher returns the cookie watcher.
func (sm *SessionStateMachine) Watcher() *CookieWatcher { return sm.watcher }

// Login authenticates against the server, persists the credential pair
// atomically, and promotes the session. The returned error carries the API
// classification; status is already settled when it returns.
func (sm *SessionStateMachine) Login(ctx context.Context, username, password string) error {
	sm.beginCheck(ctx)

	res, err := sm.api.Login(ctx, username, password)
	if err != nil {
		if IsAuthoritativeInvalid(err) {
			sm.demote(ctx, ReasonServerRejected)
		} else {
			sm.becomeError(ctx, err)
		}
		return err
	}

	creds := Credentials{Token: res.Token, SessionID: res.SessionID}
	if err := sm.store.SetCredentials(ctx, creds); err != nil {
		sm.becomeError(ctx, err)
		return err
	}

	sm.becomeAuthenticated(ctx, res.User)
	return nil
}

// Logout clears local state immediately, best-effort-notifies the server, and
// only afterward signals the redirect.
func (sm *SessionStateMachine) Logout(ctx context.Context) {
	sm.logout(ctx, ReasonLoggedOut)
}

// ForceCheck re-runs the authoritative validation. It never panics or errors
// out to the caller: any internal failure resolves to StatusError rather than
// silently retaining a stale authenticated status. Concurrent calls coalesce
// onto one validation round trip.
func (sm *SessionStateMachine) ForceCheck(ctx context.Context) {
	sm.beginCheck(ctx)
	res := sm.validator.Validate(ctx)
	sm.applyValidation(ctx, res)
}

// CheckCookieIntegrity re-verifies that the observed cookie still belongs to
// the authenticated user. A confirmed violation warns the user, demotes the
// session, and then redirects; transient trouble changes nothing.
func (sm *SessionStateMachine) CheckCookieIntegrity(ctx context.Context) error {
	snap := sm.Current()
	if snap.Status != StatusAuthenticated || snap.User == nil {
		return nil
	}

	err := sm.watcher.VerifyIntegrity(ctx, snap.User.ID)
	if err == nil {
		return nil
	}

	if IsIntegrityViolation(err) {
		sm.logger.Warn("cookie integrity violation for user %s", snap.User.ID)
		sm.notices.Warn("Session compromised", "Your session no longer matches your account. Please sign in again.")
		sm.logout(ctx, ReasonCookieMismatch)
	}
	return err
}

func (sm *SessionStateMachine) logout(ctx context.Context, reason Reason) {
	creds, err := sm.store.Credentials(ctx)
	if err != nil {
		sm.logger.Warn("could not read credentials before logout: %v", err)
	}

	sm.demote(ctx, reason)

	if creds.Token != "" {
		if err := sm.api.Logout(ctx, creds.Token); err != nil {
			// best-effort: local state is already consistent
			sm.logger.Warn("server logout failed: %v", err)
		}
	}

	sm.maybeRedirect(reason)
}

// beginCheck moves to checking and announces it. Already being in checking is
// fine: concurrent triggers coalesce at the validator.
func (sm *SessionStateMachine) beginCheck(ctx context.Context) {
	if sm.transitionTo(StatusChecking, false) {
		sm.notifier.EmitSync(ctx, CheckingEvent{})
	}
}

func (sm *SessionStateMachine) applyValidation(ctx context.Context, res ValidationResult) {
	switch {
	case res.Valid:
		sm.becomeAuthenticated(ctx, res.User)
	case res.Transient():
		sm.becomeError(ctx, NewTransient("session validation inconclusive"))
	default:
		sm.demote(ctx, res.Reason)
		sm.maybeRedirect(res.Reason)
	}
}

// becomeAuthenticated settles the session and starts the schedulers, each
// idempotently.
func (sm *SessionStateMachine) becomeAuthenticated(ctx context.Context, user *UserProfile) {
	sm.mu.Lock()
	if sm.status != StatusAuthenticated && !sm.canTransition(sm.status, StatusAuthenticated) {
		sm.logger.Warn("ignoring authenticated verdict from %s", sm.status)
		sm.mu.Unlock()
		return
	}
	sm.status = StatusAuthenticated
	sm.user = user
	now := sm.clock.Now()
	sm.lastValidatedAt = &now
	sm.mu.Unlock()

	sm.notifier.EmitSync(ctx, AuthenticatedEvent{User: user})
	sm.registry.startAll()
}

// demote settles unauthenticated: stop every scheduler, clear the store, then
// announce. TokenStore is empty before any redirect can fire.
func (sm *SessionStateMachine) demote(ctx context.Context, reason Reason) {
	sm.mu.Lock()
	already := sm.status == StatusUnauthenticated
	sm.status = StatusUnauthenticated
	sm.user = nil
	sm.lastValidatedAt = nil
	sm.generation++
	sm.mu.Unlock()

	sm.registry.stopAll()
	if err := sm.store.Clear(ctx); err != nil {
		sm.logger.Error("failed to clear token store: %v", err)
	}

	if !already {
		sm.notifier.EmitSync(ctx, UnauthenticatedEvent{Reason: reason})
	}
}

// becomeError settles the "can't verify" state: same teardown as a logout,
// but announced distinctly so the UI does not claim the user logged out.
func (sm *SessionStateMachine) becomeError(ctx context.Context, cause error) {
	sm.mu.Lock()
	already := sm.status == StatusError
	sm.status = StatusError
	sm.user = nil
	sm.lastValidatedAt = nil
	sm.generation++
	sm.mu.Unlock()

	sm.registry.stopAll()
	if err := sm.store.Clear(ctx); err != nil {
		sm.logger.Error("failed to clear token store: %v", err)
	}

	if !already {
		sm.notifier.EmitSync(ctx, ErrorEvent{Err: cause})
		sm.maybeRedirect(ReasonTransientFailure)
	}
}

// handleCookieTransition reacts to present-to-absent while authenticated:
// warn, announce, log out locally, and redirect only after the best-effort
// server notification.
func (sm *SessionStateMachine) handleCookieTransition(ctx context.Context, t CookieTransition) {
	if !t.Cleared() {
		sm.logger.Debug("session cookie changed (present=%t)", t.CurrentPresent)
		return
	}
	if sm.Current().Status != StatusAuthenticated {
		return
	}

	sm.notices.Warn("Session ended", "Your session cookie was removed. Please sign in again.")
	sm.notifier.EmitSync(ctx, CookieClearedEvent{Previous: t.Previous})
	sm.logout(ctx, ReasonCookieCleared)
}

// applyRefresh persists a completed renewal unless the session changed while
// the call was in flight; a stale refresh must never resurrect a cleared
// token.
func (sm *SessionStateMachine) applyRefresh(ctx context.Context, res *RefreshResult) {
	if res == nil || res.Token == "" {
		return
	}

	sm.mu.Lock()
	if sm.status != StatusAuthenticated {
		sm.mu.Unlock()
		sm.logger.Debug("dropping refresh result, session no longer authenticated")
		return
	}
	gen := sm.generation
	sm.mu.Unlock()

	creds := Credentials{Token: res.Token, SessionID: res.SessionID}
	if creds.SessionID == "" {
		// the server kept the session id; carry the stored one forward
		prev, err := sm.store.Credentials(ctx)
		if err != nil {
			sm.logger.Error("refresh apply aborted, token store unreadable: %v", err)
			return
		}
		creds.SessionID = prev.SessionID
	}

	sm.mu.Lock()
	if sm.generation != gen || sm.status != StatusAuthenticated {
		sm.mu.Unlock()
		sm.logger.Debug("dropping refresh result, session changed while in flight")
		return
	}
	err := sm.store.SetCredentials(ctx, creds)
	sm.mu.Unlock()
	if err != nil {
		sm.logger.Error("failed to persist refreshed token: %v", err)
		return
	}

	var expiresAt *time.Time
	if exp, ok := TokenExpiry(res.Token); ok {
		expiresAt = &exp
	}
	sm.notifier.EmitSync(ctx, TokenRefreshedEvent{ExpiresAt: expiresAt})
}

func (sm *SessionStateMachine) maybeRedirect(reason Reason) {
	if sm.requiresAuth() {
		sm.navigator.RedirectToLogin(string(reason))
	}
}

// transitionTo applies a guarded status change. It reports whether the status
// actually moved.
func (sm *SessionStateMachine) transitionTo(target Status, force bool) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.status == target {
		return false
	}
	if !force && !sm.canTransition(sm.status, target) {
		sm.logger.Warn("invalid session transition %s -> %s", sm.status, target)
		return false
	}
	sm.status = target
	return true
}

func (sm *SessionStateMachine) canTransition(from, to Status) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}
