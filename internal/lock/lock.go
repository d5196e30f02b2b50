// Package lock serializes identify requests that touch the same contact cluster.
package lock

import (
	"context"
	"errors"
	"sort"
)

// ErrNotAcquired is returned when a lock could not be taken before the context ended.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker acquires a set of named locks. The returned release func frees all of them and is
// safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

// normalizeKeys sorts and deduplicates keys so every caller locks in the same order.
func normalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// releaseAll returns a func that calls each release in reverse order exactly once.
func releaseAll(releases []func()) func() {
	done := false
	return func() {
		if done {
			return
		}
		done = true
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
}
