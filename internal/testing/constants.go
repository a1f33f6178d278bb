// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package testing holds helpers shared by the awaitstate test suites.
package testing

import (
	"time"
)

const (
	// ShortWait bounds the checks that something stays blocked. Tests
	// really sleep for this long, so keep it small.
	ShortWait = 50 * time.Millisecond

	// LongWait bounds the checks that something unblocks. It is only
	// reached when a test is failing.
	LongWait = 10 * time.Second
)
