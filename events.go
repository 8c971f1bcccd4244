package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies a session lifecycle event.
type EventKind string

const (
	EventChecking        EventKind = "session.checking"
	EventAuthenticated   EventKind = "session.authenticated"
	EventUnauthenticated EventKind = "session.unauthenticated"
	EventError           EventKind = "session.error"
	EventCookieCleared   EventKind = "session.cookie_cleared"
	EventTokenRefreshed  EventKind = "session.token_refreshed"
)

// Event is the closed set of lifecycle payloads. Each kind carries its own
// statically-checked shape; there is no untyped payload.
type Event interface {
	Kind() EventKind
}

// CheckingEvent fires when a validation begins.
type CheckingEvent struct{}

func (CheckingEvent) Kind() EventKind { return EventChecking }

// AuthenticatedEvent fires when the validator confirms a live session.
type AuthenticatedEvent struct {
	User *UserProfile
}

func (AuthenticatedEvent) Kind() EventKind { return EventAuthenticated }

// UnauthenticatedEvent fires on logout or a confirmed rejection.
type UnauthenticatedEvent struct {
	Reason Reason
}

func (UnauthenticatedEvent) Kind() EventKind { return EventUnauthenticated }

// ErrorEvent fires when the session cannot be verified.
type ErrorEvent struct {
	Err error
}

func (ErrorEvent) Kind() EventKind { return EventError }

// CookieClearedEvent fires on a present-to-absent cookie transition while
// logically authenticated.
type CookieClearedEvent struct {
	Previous string
}

func (CookieClearedEvent) Kind() EventKind { return EventCookieCleared }

// TokenRefreshedEvent fires after a silent token renewal.
type TokenRefreshedEvent struct {
	ExpiresAt *time.Time
}

func (TokenRefreshedEvent) Kind() EventKind { return EventTokenRefreshed }

// Handler consumes one event. A returned error is logged and isolated; it
// never reaches sibling subscribers or the emitter.
type Handler func(ctx context.Context, evt Event) error

// Subscription is the owned handle for one subscriber. Unsubscribe is
// idempotent.
type Subscription struct {
	cancel func()
}

// Unsubscribe removes the subscriber. Safe to call more than once.
func (s Subscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
	}
}

type subscriberClass int

const (
	classNormal subscriberClass = iota
	classOnce
	classWildcard
)

type subscriber struct {
	id      uuid.UUID
	seq     uint64
	class   subscriberClass
	kind    EventKind
	handler Handler
}

// Notifier fans session lifecycle events out to decoupled observers (UI,
// analytics, other feature modules). Construct one at the composition root
// and pass it by reference; there is no package-level instance.
type Notifier struct {
	mu     sync.Mutex
	seq    uint64
	logger Logger
	subs   map[uuid.UUID]*subscriber
}

// NotifierOption customizes Notifier construction.
type NotifierOption func(*Notifier)

// WithNotifierLogger overrides the logger used for subscriber failures.
func WithNotifierLogger(logger Logger) NotifierOption {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNotifier returns an empty event bus.
func NewNotifier(opts ...NotifierOption) *Notifier {
	n := &Notifier{
		logger: defLogger{},
		subs:   make(map[uuid.UUID]*subscriber),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

// Subscribe registers a handler for one event kind.
func (n *Notifier) Subscribe(kind EventKind, h Handler) Subscription {
	return n.add(classNormal, kind, h)
}

// SubscribeOnce registers a handler that fires for at most one event of the
// given kind and is then removed.
func (n *Notifier) SubscribeOnce(kind EventKind, h Handler) Subscription {
	return n.add(classOnce, kind, h)
}

// SubscribeAll registers a wildcard handler that receives every event
// regardless of kind.
func (n *Notifier) SubscribeAll(h Handler) Subscription {
	return n.add(classWildcard, "", h)
}

func (n *Notifier) add(class subscriberClass, kind EventKind, h Handler) Subscription {
	if h == nil {
		return Subscription{}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.seq++
	sub := &subscriber{
		id:      uuid.New(),
		seq:     n.seq,
		class:   class,
		kind:    kind,
		handler: h,
	}
	n.subs[sub.id] = sub

	id := sub.id
	return Subscription{cancel: func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}}
}

// Emit invokes all matching subscribers in order (normal, once, wildcard,
// each class in subscription order) and returns only after every one has
// settled. A panicking or failing subscriber is logged and isolated; it never
// prevents the remaining subscribers from running or Emit from returning.
func (n *Notifier) Emit(ctx context.Context, evt Event) {
	for _, sub := range n.take(evt.Kind()) {
		n.dispatch(ctx, sub, evt)
	}
}

// EmitSync invokes matching subscribers inline, in order, fire-and-forget:
// handler errors are discarded, panics are still contained.
func (n *Notifier) EmitSync(ctx context.Context, evt Event) {
	for _, sub := range n.take(evt.Kind()) {
		n.dispatchSilent(ctx, sub, evt)
	}
}

// SubscriberCount reports the number of live subscriptions.
func (n *Notifier) SubscriberCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// take selects matching subscribers ordered normal, once, wildcard, each
// class in subscription order. Once-subscribers are consumed atomically so a
// concurrent emit cannot fire them twice.
func (n *Notifier) take(kind EventKind) []*subscriber {
	n.mu.Lock()
	defer n.mu.Unlock()

	matched := make([]*subscriber, 0, len(n.subs))
	for _, sub := range n.subs {
		if sub.class == classWildcard || sub.kind == kind {
			matched = append(matched, sub)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].class != matched[j].class {
			return matched[i].class < matched[j].class
		}
		return matched[i].seq < matched[j].seq
	})

	for _, sub := range matched {
		if sub.class == classOnce {
			delete(n.subs, sub.id)
		}
	}

	return matched
}

func (n *Notifier) dispatch(ctx context.Context, sub *subscriber, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("event subscriber panic on %s: %v", evt.Kind(), r)
		}
	}()

	if err := sub.handler(ctx, evt); err != nil {
		n.logger.Warn("event subscriber error on %s: %v", evt.Kind(), err)
	}
}

func (n *Notifier) dispatchSilent(ctx context.Context, sub *subscriber, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("event subscriber panic on %s: %v", evt.Kind(), r)
		}
	}()

	_ = sub.handler(ctx, evt)
}
