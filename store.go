package session

import (
	"context"
	"sync"

	"github.com/goliatone/go-errors"
)

// Credentials is the persisted projection of a session: the bearer token and
// the server-issued session id. The pair is always written and cleared
// together; partial credentials are never observable.
type Credentials struct {
	Token     string
	SessionID string
}

// Complete reports whether both fields are set.
func (c Credentials) Complete() bool {
	return c.Token != "" && c.SessionID != ""
}

// Empty reports whether no credentials are stored.
func (c Credentials) Empty() bool {
	return c.Token == "" && c.SessionID == ""
}

// TokenStore owns durable credential storage. Mutation is reserved to the
// state machine; every other component only reads.
type TokenStore interface {
	Credentials(ctx context.Context) (Credentials, error)
	SetCredentials(ctx context.Context, creds Credentials) error
	Clear(ctx context.Context) error
}

// MemoryTokenStore keeps credentials in process memory. Suited to tests and
// ephemeral clients that should not persist a session across restarts.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	creds Credentials
}

// NewMemoryTokenStore returns an empty in-memory store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) Credentials(_ context.Context) (Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds, nil
}

func (s *MemoryTokenStore) SetCredentials(_ context.Context, creds Credentials) error {
	if !creds.Complete() {
		return errPartialCredentials()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
	return nil
}

func (s *MemoryTokenStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = Credentials{}
	return nil
}

func errPartialCredentials() error {
	return errors.New("credentials must include both token and session id", errors.CategoryBadInput).
		WithCode(errors.CodeBadRequest)
}
