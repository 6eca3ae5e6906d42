package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kelmah/apigateway/internal/observability"
)

// findUserSQL selects only the columns the gateway needs. The password hash
// and two-factor secrets stay in the database.
const findUserSQL = `SELECT id::text, email, role, first_name, last_name,
       is_email_verified, is_active, token_version
  FROM users
 WHERE id = $1`

// Querier is the subset of pgxpool.Pool used by PostgresStore.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore reads user records from the auth service's users table.
type PostgresStore struct {
	db       Querier
	logger   observability.Logger
	uuidKeys bool
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithPostgresLogger sets the logger.
func WithPostgresLogger(logger observability.Logger) PostgresOption {
	return func(s *PostgresStore) {
		s.logger = logger
	}
}

// WithUUIDKeys controls whether ids must parse as UUIDs before querying.
// Ids that do not parse are reported as not found without a round trip.
func WithUUIDKeys(enabled bool) PostgresOption {
	return func(s *PostgresStore) {
		s.uuidKeys = enabled
	}
}

// NewPostgresStore creates a store over an existing pool or mock.
func NewPostgresStore(db Querier, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		db:       db,
		logger:   observability.NopLogger(),
		uuidKeys: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewPool opens a pgx connection pool for dsn.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	return pool, nil
}

// FindUser implements Store.
func (s *PostgresStore) FindUser(ctx context.Context, id string) (Identity, error) {
	if s.uuidKeys {
		if _, err := uuid.Parse(id); err != nil {
			return Identity{}, ErrUserNotFound
		}
	}

	var u Identity
	err := s.db.QueryRow(ctx, findUserSQL, id).Scan(
		&u.ID, &u.Email, &u.Role, &u.FirstName, &u.LastName,
		&u.IsEmailVerified, &u.IsActive, &u.TokenVersion,
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return Identity{}, ErrUserNotFound
	case err != nil:
		s.logger.Error("user lookup failed",
			observability.String("user_id", id),
			observability.Error(err))
		return Identity{}, fmt.Errorf("%w: %w", ErrDatastore, err)
	}
	return u, nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
