package session_test

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	session "github.com/goliatone/go-session"
	"github.com/stretchr/testify/mock"
)

// fakeAPI implements session.API with overridable behaviors and call
// counters. Defaults behave like a healthy backend with no session.
type fakeAPI struct {
	mu sync.Mutex

	loginFn     func(ctx context.Context, username, password string) (*session.LoginResult, error)
	logoutFn    func(ctx context.Context, token string) error
	currentFn   func(ctx context.Context, token string) (*session.UserProfile, error)
	validateFn  func(ctx context.Context, token, cookie string) (*session.ValidateResult, error)
	heartbeatFn func(ctx context.Context, token string) (*session.HeartbeatResult, error)
	forceFn     func(ctx context.Context, token, cookie string) (*session.ForceCheckResult, error)
	refreshFn   func(ctx context.Context, token, cookie string) (*session.RefreshResult, error)
	integrityFn func(ctx context.Context, token, cookieValue, expectedUserID string) (*session.IntegrityResult, error)

	loginCalls     int
	logoutCalls    int
	validateCalls  int
	heartbeatCalls int
	refreshCalls   int
	integrityCalls int
}

var _ session.API = (*fakeAPI)(nil)

func (f *fakeAPI) Login(ctx context.Context, username, password string) (*session.LoginResult, error) {
	f.mu.Lock()
	f.loginCalls++
	fn := f.loginFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, username, password)
	}
	return nil, session.NewAuthoritativeInvalid("login rejected")
}

func (f *fakeAPI) Logout(ctx context.Context, token string) error {
	f.mu.Lock()
	f.logoutCalls++
	fn := f.logoutFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, token)
	}
	return nil
}

func (f *fakeAPI) CurrentUser(ctx context.Context, token string) (*session.UserProfile, error) {
	f.mu.Lock()
	fn := f.currentFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, token)
	}
	return nil, session.NewAuthoritativeInvalid("no current user")
}

func (f *fakeAPI) ValidateSession(ctx context.Context, token, cookie string) (*session.ValidateResult, error) {
	f.mu.Lock()
	f.validateCalls++
	fn := f.validateFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, token, cookie)
	}
	return &session.ValidateResult{Valid: false}, nil
}

func (f *fakeAPI) Heartbeat(ctx context.Context, token string) (*session.HeartbeatResult, error) {
	f.mu.Lock()
	f.heartbeatCalls++
	fn := f.heartbeatFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, token)
	}
	return &session.HeartbeatResult{OK: true, HTTPStatus: 200}, nil
}

func (f *fakeAPI) ForceAuthCheck(ctx context.Context, token, cookie string) (*session.ForceCheckResult, error) {
	f.mu.Lock()
	fn := f.forceFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, token, cookie)
	}
	return &session.ForceCheckResult{AuthenticationValid: false}, nil
}

func (f *fakeAPI) RefreshToken(ctx context.Context, token, cookie string) (*session.RefreshResult, error) {
	f.mu.Lock()
	f.refreshCalls++
	fn := f.refreshFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, token, cookie)
	}
	return nil, session.NewTransient("refresh unavailable")
}

func (f *fakeAPI) VerifyCookieIntegrity(ctx context.Context, token, cookieValue, expectedUserID string) (*session.IntegrityResult, error) {
	f.mu.Lock()
	f.integrityCalls++
	fn := f.integrityFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, token, cookieValue, expectedUserID)
	}
	return &session.IntegrityResult{Valid: true}, nil
}

func (f *fakeAPI) counts() (login, validate, heartbeat, refresh int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginCalls, f.validateCalls, f.heartbeatCalls, f.refreshCalls
}

// fakeJar is a settable session.CookieJar.
type fakeJar struct {
	mu      sync.Mutex
	value   string
	present bool
}

var _ session.CookieJar = (*fakeJar)(nil)

func (j *fakeJar) SessionCookie() (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.value, j.present
}

func (j *fakeJar) set(v string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.value = v
	j.present = true
}

func (j *fakeJar) clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.value = ""
	j.present = false
}

// recordingNavigator captures redirect signals. onRedirect, when set, runs
// inline so tests can observe state at redirect time.
type recordingNavigator struct {
	mu         sync.Mutex
	reasons    []string
	onRedirect func(reason string)
}

func (n *recordingNavigator) RedirectToLogin(reason string) {
	n.mu.Lock()
	n.reasons = append(n.reasons, reason)
	fn := n.onRedirect
	n.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

func (n *recordingNavigator) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.reasons)
}

// recordingSink captures user-visible warnings.
type recordingSink struct {
	mu     sync.Mutex
	titles []string
}

func (s *recordingSink) Warn(title, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.titles)
}

// eventRecorder subscribes to every event and keeps the kinds in order.
type eventRecorder struct {
	mu    sync.Mutex
	kinds []session.EventKind
}

func (r *eventRecorder) attach(n *session.Notifier) {
	n.SubscribeAll(func(_ context.Context, evt session.Event) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.kinds = append(r.kinds, evt.Kind())
		return nil
	})
}

func (r *eventRecorder) has(kind session.EventKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (r *eventRecorder) all() []session.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.EventKind, len(r.kinds))
	copy(out, r.kinds)
	return out
}

// MockValidator implements session.Validator.
type MockValidator struct {
	mock.Mock
}

func (m *MockValidator) Validate(ctx context.Context) session.ValidationResult {
	args := m.Called(ctx)
	return args.Get(0).(session.ValidationResult)
}

func (m *MockValidator) InFlight() bool {
	args := m.Called()
	return args.Bool(0)
}

// mintTokenSeq makes each minted token unique even when two are issued with
// the same second-granularity timestamps.
var mintTokenSeq atomic.Uint64

// mintToken signs an HS256 token expiring at exp, mirroring what the backend
// issues.
func mintToken(exp time.Time) string {
	claims := jwt.RegisteredClaims{
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(exp.Add(-time.Hour)),
		ID:        strconv.FormatUint(mintTokenSeq.Add(1), 10),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-signing-key"))
	if err != nil {
		panic(err)
	}
	return signed
}

// seedStore persists a complete credential pair or panics.
func seedStore(store session.TokenStore, token, sessionID string) {
	if err := store.SetCredentials(context.Background(), session.Credentials{Token: token, SessionID: sessionID}); err != nil {
		panic(err)
	}
}
