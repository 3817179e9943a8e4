// Package sacnerr defines the closed error taxonomy shared by every sACN
// engine. Callers use errors.Is against the sentinels below rather than
// matching on string content.
package sacnerr

import "errors"

var (
	// ErrInvalid means an argument violated a stated precondition. No side
	// effects occur before this is returned.
	ErrInvalid = errors.New("sacn: invalid argument")

	// ErrNotInit means a required module has not been initialized.
	ErrNotInit = errors.New("sacn: not initialized")

	// ErrNotFound means a handle, universe, CID, or destination is not in
	// the current collection. This includes looking up an entity whose
	// termination is already in the Removing state.
	ErrNotFound = errors.New("sacn: not found")

	// ErrExists means a duplicate universe, receiver, or unicast
	// destination was rejected.
	ErrExists = errors.New("sacn: already exists")

	// ErrNoMem means a static pool is full or a dynamic allocation failed.
	ErrNoMem = errors.New("sacn: no memory")

	// ErrNoNetints means none of the requested network interfaces were
	// usable.
	ErrNoNetints = errors.New("sacn: no usable network interfaces")

	// ErrSys wraps an unexpected OS or network error.
	ErrSys = errors.New("sacn: system error")

	// ErrNotImpl marks a reserved feature (synchronization packets, custom
	// footprints) that this implementation deliberately does not support.
	ErrNotImpl = errors.New("sacn: not implemented")
)
