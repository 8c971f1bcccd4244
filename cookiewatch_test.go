package session_test

import (
	"context"
	"testing"
	"time"

	session "github.com/goliatone/go-session"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWatcher(t *testing.T, jar *fakeJar, api *fakeAPI, clk clockwork.Clock) (*session.CookieWatcher, chan session.CookieTransition) {
	t.Helper()
	transitions := make(chan session.CookieTransition, 4)
	onTransition := func(_ context.Context, tr session.CookieTransition) {
		transitions <- tr
	}
	store := session.NewMemoryTokenStore()
	seedStore(store, "tok", "sess-1")
	w := session.NewCookieWatcher(jar, api, store, session.Config{}, onTransition, clk, session.NopLogger())
	return w, transitions
}

func TestCookieWatcherFirstObservationIsBaseline(t *testing.T) {
	clk := clockwork.NewFakeClock()
	jar := &fakeJar{}
	jar.set("sess-1")

	w, transitions := newWatcher(t, jar, &fakeAPI{}, clk)
	w.Start()
	defer w.Stop()

	value, present := w.LastObserved()
	assert.Equal(t, "sess-1", value)
	assert.True(t, present)

	// an unchanged cookie never reports
	clk.BlockUntil(1)
	clk.Advance(session.DefaultCookiePollInterval)
	select {
	case tr := <-transitions:
		t.Fatalf("unexpected transition: %+v", tr)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCookieWatcherDetectsCleared(t *testing.T) {
	clk := clockwork.NewFakeClock()
	jar := &fakeJar{}
	jar.set("sess-1")

	w, transitions := newWatcher(t, jar, &fakeAPI{}, clk)
	w.Start()
	defer w.Stop()

	jar.clear()
	clk.BlockUntil(1)
	clk.Advance(session.DefaultCookiePollInterval)

	select {
	case tr := <-transitions:
		assert.True(t, tr.Cleared())
		assert.Equal(t, "sess-1", tr.Previous)
		assert.False(t, tr.CurrentPresent)
	case <-time.After(time.Second):
		t.Fatal("present to absent was not reported")
	}
}

func TestCookieWatcherAbsentBaselineNeverReportsCleared(t *testing.T) {
	clk := clockwork.NewFakeClock()
	jar := &fakeJar{}

	w, transitions := newWatcher(t, jar, &fakeAPI{}, clk)
	w.Start()
	defer w.Stop()

	// absent at baseline, still absent on poll: nothing to report
	clk.BlockUntil(1)
	clk.Advance(session.DefaultCookiePollInterval)
	select {
	case tr := <-transitions:
		t.Fatalf("unexpected transition: %+v", tr)
	case <-time.After(50 * time.Millisecond):
	}

	// appearing is a transition but not a clearing
	jar.set("sess-1")
	clk.BlockUntil(1)
	clk.Advance(session.DefaultCookiePollInterval)
	select {
	case tr := <-transitions:
		assert.False(t, tr.Cleared())
		assert.True(t, tr.CurrentPresent)
		assert.Equal(t, "sess-1", tr.Current)
	case <-time.After(time.Second):
		t.Fatal("absent to present was not reported")
	}
}

func TestCookieWatcherValueChangeIsNotCleared(t *testing.T) {
	clk := clockwork.NewFakeClock()
	jar := &fakeJar{}
	jar.set("sess-1")

	w, transitions := newWatcher(t, jar, &fakeAPI{}, clk)
	w.Start()
	defer w.Stop()

	jar.set("sess-2")
	clk.BlockUntil(1)
	clk.Advance(session.DefaultCookiePollInterval)

	select {
	case tr := <-transitions:
		assert.False(t, tr.Cleared())
		assert.Equal(t, "sess-1", tr.Previous)
		assert.Equal(t, "sess-2", tr.Current)
	case <-time.After(time.Second):
		t.Fatal("value change was not reported")
	}
}

func TestCookieWatcherStopDropsBaseline(t *testing.T) {
	clk := clockwork.NewFakeClock()
	jar := &fakeJar{}
	jar.set("sess-1")

	w, transitions := newWatcher(t, jar, &fakeAPI{}, clk)
	w.Start()
	w.Stop()

	_, present := w.LastObserved()
	assert.False(t, present)

	// clearing between runs is not reported: the restart re-seeds
	jar.clear()
	w.Start()
	defer w.Stop()

	clk.BlockUntil(1)
	clk.Advance(session.DefaultCookiePollInterval)
	select {
	case tr := <-transitions:
		t.Fatalf("stale transition after restart: %+v", tr)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestVerifyIntegrityPasses(t *testing.T) {
	jar := &fakeJar{}
	jar.set("sess-1")
	api := &fakeAPI{
		integrityFn: func(_ context.Context, token, cookieValue, expectedUserID string) (*session.IntegrityResult, error) {
			assert.Equal(t, "tok", token)
			assert.Equal(t, "sess-1", cookieValue)
			assert.Equal(t, "1", expectedUserID)
			return &session.IntegrityResult{Valid: true, SessionMatch: true, UserMatch: true, ExpiryValid: true}, nil
		},
	}

	w, _ := newWatcher(t, jar, api, clockwork.NewFakeClock())

	err := w.VerifyIntegrity(context.Background(), "1")
	require.NoError(t, err)
}

func TestVerifyIntegrityMissingCookie(t *testing.T) {
	w, _ := newWatcher(t, &fakeJar{}, &fakeAPI{}, clockwork.NewFakeClock())

	err := w.VerifyIntegrity(context.Background(), "1")
	require.Error(t, err)
	assert.True(t, session.IsIntegrityViolation(err))
}

func TestVerifyIntegrityMismatch(t *testing.T) {
	jar := &fakeJar{}
	jar.set("sess-1")
	api := &fakeAPI{
		integrityFn: func(_ context.Context, _, _, _ string) (*session.IntegrityResult, error) {
			return &session.IntegrityResult{Valid: false, SessionMatch: true, UserMatch: false, ExpiryValid: true}, nil
		},
	}

	w, _ := newWatcher(t, jar, api, clockwork.NewFakeClock())

	err := w.VerifyIntegrity(context.Background(), "1")
	require.Error(t, err)
	assert.True(t, session.IsIntegrityViolation(err))
}

func TestVerifyIntegrityTransportFailureIsTransient(t *testing.T) {
	jar := &fakeJar{}
	jar.set("sess-1")
	api := &fakeAPI{
		integrityFn: func(_ context.Context, _, _, _ string) (*session.IntegrityResult, error) {
			return nil, session.NewTransient("connection reset")
		},
	}

	w, _ := newWatcher(t, jar, api, clockwork.NewFakeClock())

	err := w.VerifyIntegrity(context.Background(), "1")
	require.Error(t, err)
	assert.True(t, session.IsTransient(err))
	assert.False(t, session.IsIntegrityViolation(err))
}
