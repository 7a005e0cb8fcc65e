// Package tokenstore holds the relay's cached credential state.
//
// A Store contains exactly one Record: the current access token, its hard
// expiry and the rotating refresh credential. Reads return a full copy and
// Replace swaps the whole Record at once, so concurrent readers observe
// either the old or the new Record, never a mix of both.
//
// The store performs no I/O and knows nothing about refresh policy; the
// tokenmanager package owns it and is the only writer.
package tokenstore
