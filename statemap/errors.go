// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package statemap

import "github.com/juju/errors"

const (
	// ErrKeyNotFound is returned when the referenced key has no entry in
	// the map at the moment it is looked up.
	ErrKeyNotFound = errors.ConstError("key not found")

	// ErrTimeoutExpired is returned by WaitUntilTimeout when the duration
	// elapses before the predicate is satisfied.
	ErrTimeoutExpired = errors.ConstError("timeout expired")
)
