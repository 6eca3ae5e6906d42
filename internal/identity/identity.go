// Package identity hydrates verified token subjects into user identities.
//
// A Resolver consults a bounded, insertion-ordered Cache first and falls
// back to a Store (Postgres, optionally fronted by a shared Redis tier) on a
// miss. Concurrent misses for the same user share one datastore lookup.
package identity

import (
	"context"
	"errors"
	"time"
)

// Errors returned by stores and the resolver.
var (
	// ErrUserNotFound is returned when no user record matches the id.
	ErrUserNotFound = errors.New("user not found")
	// ErrDatastore wraps failures of the user datastore.
	ErrDatastore = errors.New("user datastore error")
)

// Identity is a hydrated user as seen by the gateway. Secret fields of the
// user record are never loaded into it.
type Identity struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	Role            string    `json:"role"`
	FirstName       string    `json:"firstName"`
	LastName        string    `json:"lastName"`
	IsEmailVerified bool      `json:"isEmailVerified"`
	IsActive        bool      `json:"isActive"`
	TokenVersion    int       `json:"tokenVersion"`
	CachedAt        time.Time `json:"cachedAt,omitempty"`
}

// Store looks up user records by id.
type Store interface {
	// FindUser returns ErrUserNotFound when the id has no record and an
	// error wrapping ErrDatastore for any other failure.
	FindUser(ctx context.Context, id string) (Identity, error)
}

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, id string) (Identity, error)

// FindUser calls f.
func (f StoreFunc) FindUser(ctx context.Context, id string) (Identity, error) {
	return f(ctx, id)
}
