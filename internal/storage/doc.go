// Package storage persists per-user task state.
//
// The unit of durability is the whole UserState document: writes go to a
// temp file and are renamed over the canonical path, so readers see either
// the previous or the new document, never a torn one. Loads never fail on
// malformed content; a broken document degrades to empty defaults.
package storage
