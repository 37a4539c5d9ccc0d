// Package registry keeps the per-user set of device tokens.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

// TokenRegistry maps a user to the set of device tokens registered for them.
// All state lives in the SetStore; the registry adds no locking of its own, so
// concurrent register/unregister of the same token resolve in store order.
type TokenRegistry struct {
	store      dispatch.SetStore
	maxDevices int
	logger     *slog.Logger
}

type Option func(*TokenRegistry)

// WithMaxDevices bounds the number of tokens a user may hold. Zero disables the bound.
// The bound is checked with a read before the add and is not enforced under
// concurrent registrations for the same user.
func WithMaxDevices(n int) Option {
	return func(r *TokenRegistry) {
		r.maxDevices = n
	}
}

func New(store dispatch.SetStore, logger *slog.Logger, opts ...Option) *TokenRegistry {
	r := &TokenRegistry{
		store:  store,
		logger: logger.With("component", "TokenRegistry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds token to the user's set and reports whether it was new.
func (r *TokenRegistry) Register(ctx context.Context, user, token string) (bool, error) {
	if r.maxDevices > 0 {
		current, err := r.ListTokens(ctx, user)
		if err != nil {
			return false, err
		}
		if slices.Contains(current, token) {
			return false, nil
		}
		if len(current) >= r.maxDevices {
			r.logger.Warn("Device limit reached", "user", user, "limit", r.maxDevices)
			return false, fmt.Errorf("%w: user %s already has %d", dispatch.ErrTooManyDevices, user, len(current))
		}
	}

	changed, err := r.store.Add(ctx, user, token)
	if err != nil {
		return false, fmt.Errorf("%w: add: %w", dispatch.ErrStoreUnavailable, err)
	}
	r.logger.Debug("Register", "user", user, "changed", changed)
	return changed, nil
}

// Unregister removes token from the user's set and reports whether it was present.
func (r *TokenRegistry) Unregister(ctx context.Context, user, token string) (bool, error) {
	changed, err := r.store.Remove(ctx, user, token)
	if err != nil {
		return false, fmt.Errorf("%w: remove: %w", dispatch.ErrStoreUnavailable, err)
	}
	r.logger.Debug("Unregister", "user", user, "changed", changed)
	return changed, nil
}

// ListTokens returns the user's current tokens. An unknown user has no tokens.
func (r *TokenRegistry) ListTokens(ctx context.Context, user string) ([]string, error) {
	tokens, err := r.store.Members(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%w: members: %w", dispatch.ErrStoreUnavailable, err)
	}
	if tokens == nil {
		tokens = []string{}
	}
	return tokens, nil
}
