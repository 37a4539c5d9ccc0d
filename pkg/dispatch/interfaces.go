// --- File: pkg/dispatch/interfaces.go ---
package dispatch

import (
	"context"
)

// SetStore is the persistence capability behind the registry: a set-semantics
// collection keyed by an arbitrary string. Each method must be atomic in the
// backing store.
type SetStore interface {
	// Add inserts member into the set at key. It reports true iff the member was not present.
	Add(ctx context.Context, key, member string) (bool, error)
	// Remove deletes member from the set at key. It reports true iff the member was present.
	Remove(ctx context.Context, key, member string) (bool, error)
	// Members returns the current set at key. A missing key yields an empty set.
	Members(ctx context.Context, key string) ([]string, error)
}

// Gateway defines the contract for a push provider that can send one message
// to many device tokens (e.g., Google's FCM, Apple's APNS).
type Gateway interface {
	// SendMulticast delivers msg to every token. The returned results are aligned
	// by position with tokens. A non-nil error means the call as a whole failed.
	SendMulticast(ctx context.Context, tokens []string, msg Message) ([]TokenResult, error)
}

// Registry tracks which device tokens belong to which user.
type Registry interface {
	Register(ctx context.Context, user, token string) (bool, error)
	Unregister(ctx context.Context, user, token string) (bool, error)
	ListTokens(ctx context.Context, user string) ([]string, error)
}

// Sender fans a message out to every device registered for a user.
type Sender interface {
	Send(ctx context.Context, user string, msg Message) (*Outcome, error)
}
