// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package statemap provides a concurrent map of string keys to state
// values, where callers can wait for a key's state to change rather than
// polling it.
//
// Every key remembers its previous value as well as its current one, so
// a wait can be expressed as a transition:
//
//	m := statemap.New[DownloadState]()
//	m.Put("download-1", NotStarted)
//
//	go func() {
//		_ = m.SetState("download-1", Started)
//		_ = m.SetState("download-1", Finished)
//	}()
//
//	_, err := m.WaitUntil(ctx, "download-1", func(_, curr DownloadState) bool {
//		return curr == Finished
//	})
//
// Waits only ever see the most recent transition of a key. Values written
// in quick succession may be coalesced, so a predicate should describe a
// state worth waiting for rather than count events.
package statemap
