package inventory

import "errors"

// Domain errors for the inventory package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, inventory.ErrUnavailable) {
//	    // the remote source could not be reached and no stale data was allowed
//	}
var (
	// ErrUnavailable is returned when a live inventory query fails and
	// serve-stale-on-error is not configured (or no stale entry exists).
	ErrUnavailable = errors.New("inventory: unavailable")

	// ErrGroupNotFound is returned when a selector names an undefined group.
	ErrGroupNotFound = errors.New("inventory: group not found")

	// ErrSnapshotInvalid is returned when a static snapshot file cannot be
	// parsed or fails structural validation.
	ErrSnapshotInvalid = errors.New("inventory: snapshot invalid")
)
