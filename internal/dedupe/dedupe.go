// Package dedupe tracks already-processed external message ids so
// replayed webhook deliveries do not create duplicate messages.
package dedupe

import "context"

// Store answers "has this key been processed?" and marks it atomically.
// CheckAndMark returns true when the key was already seen (duplicate),
// false when it is new and now marked.
type Store interface {
	CheckAndMark(ctx context.Context, key string) (bool, error)
}
