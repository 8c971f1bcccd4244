package session

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// credentialRecord is the single row persisted per origin.
type credentialRecord struct {
	bun.BaseModel `bun:"table:session_credentials,alias:sc"`

	Origin    string    `bun:"origin,pk"`
	Token     string    `bun:"token,notnull"`
	SessionID string    `bun:"session_id,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// BunTokenStore is the durable TokenStore: one bun-managed table keyed by
// origin, so multiple origins can share a database file without observing
// each other's tokens.
type BunTokenStore struct {
	db     *bun.DB
	origin string
	now    func() time.Time
}

// NewBunTokenStore wraps an existing bun handle. Call CreateTable once before
// first use.
func NewBunTokenStore(db *bun.DB, origin string) *BunTokenStore {
	return &BunTokenStore{db: db, origin: origin, now: time.Now}
}

// OpenSQLiteStore opens (or creates) a sqlite-backed store at path and
// provisions its table. The caller owns the returned store's lifetime; Close
// releases the underlying database.
func OpenSQLiteStore(ctx context.Context, path, origin string) (*BunTokenStore, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to open credential database")
	}

	store := NewBunTokenStore(bun.NewDB(sqldb, sqlitedialect.New()), origin)
	if err := store.CreateTable(ctx); err != nil {
		sqldb.Close()
		return nil, err
	}

	return store, nil
}

// CreateTable provisions the backing table.
func (s *BunTokenStore) CreateTable(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*credentialRecord)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to create credential table")
	}
	return nil
}

// Close releases the underlying database handle.
func (s *BunTokenStore) Close() error {
	return s.db.Close()
}

func (s *BunTokenStore) Credentials(ctx context.Context) (Credentials, error) {
	rec := new(credentialRecord)
	err := s.db.NewSelect().
		Model(rec).
		Where("sc.origin = ?", s.origin).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credentials{}, nil
		}
		return Credentials{}, errors.Wrap(err, errors.CategoryInternal, "failed to read credentials")
	}

	return Credentials{Token: rec.Token, SessionID: rec.SessionID}, nil
}

func (s *BunTokenStore) SetCredentials(ctx context.Context, creds Credentials) error {
	if !creds.Complete() {
		return errPartialCredentials()
	}

	rec := &credentialRecord{
		Origin:    s.origin,
		Token:     creds.Token,
		SessionID: creds.SessionID,
		UpdatedAt: s.now(),
	}

	_, err := s.db.NewInsert().
		Model(rec).
		On("CONFLICT (origin) DO UPDATE").
		Set("token = EXCLUDED.token").
		Set("session_id = EXCLUDED.session_id").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to persist credentials")
	}
	return nil
}

func (s *BunTokenStore) Clear(ctx context.Context) error {
	_, err := s.db.NewDelete().
		Model((*credentialRecord)(nil)).
		Where("origin = ?", s.origin).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to clear credentials")
	}
	return nil
}
