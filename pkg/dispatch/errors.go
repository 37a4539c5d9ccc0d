package dispatch

import "errors"

var (
	// ErrNoRecipients is returned when a message is sent to a user with no registered devices.
	ErrNoRecipients = errors.New("no registered devices")

	// ErrStoreUnavailable wraps any failure reaching the token store.
	ErrStoreUnavailable = errors.New("token store unavailable")

	// ErrGatewayUnavailable wraps a failure of the push gateway call as a whole.
	ErrGatewayUnavailable = errors.New("push gateway unavailable")

	// ErrTooManyDevices is returned when registering a new token would exceed the per-user bound.
	ErrTooManyDevices = errors.New("too many registered devices")
)
