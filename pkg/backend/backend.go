// Package backend defines the synchronous key/text surface a persisted value
// is written to, plus a handful of implementations: an in-memory map, a
// directory of files, a bbolt database and a SQLite table.
//
// Backends are expected to be fast and local. None of the methods take a
// context; callers that need cancellation should not be using this layer.
package backend

import (
	"errors"
	"strings"
)

var (
	// ErrUnavailable is returned when the backend is disabled or closed.
	ErrUnavailable = errors.New("backend: unavailable")
	// ErrQuotaExceeded is returned when a write would exceed the backend's
	// capacity.
	ErrQuotaExceeded = errors.New("backend: quota exceeded")
	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = errors.New("backend: invalid key")
)

// Backend reads and writes text values by key.
type Backend interface {
	// Get returns the stored text. ok is false when nothing is stored under
	// key; that is not an error.
	Get(key string) (value string, ok bool, err error)
	// Set stores value under key, replacing any previous value.
	Set(key, value string) error
}

// Deleter is implemented by backends that can remove a key.
type Deleter interface {
	Delete(key string) error
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}
