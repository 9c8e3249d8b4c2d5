// Package persist keeps a typed in-memory value in sync with one key of a
// key/value backend.
//
// A Handle is created with New. Construction reads the backend once (the
// cold load) and falls back to the supplied initial value when nothing usable
// is stored. From then on every mutation made through the handle is written
// back synchronously, before the mutating call returns:
//
//	b := backend.NewMemory()
//	room := persist.New(b, "room", chat.NewRoom("r1", "General"))
//	room.Update(func(r *chat.Room) { r.Append(msg) }) // saved
//
// Mutations only go through Set and Update; Get hands out deep copies. That
// explicit write path replaces implicit change tracking: Set always saves,
// Update saves when the handle is in deep mode (the default).
//
// Storage never breaks the application. Decode, encode and backend errors
// are reported to the OnError callback, the zap logger and any activity
// hooks, while the in-memory value stays authoritative. Each later mutation
// retries the save.
package persist

import (
	"context"
	"slices"
	"sync"

	"github.com/goliatone/go-persist/pkg/activity"
	"github.com/goliatone/go-persist/pkg/backend"
	"github.com/goliatone/go-persist/pkg/codec"
	"go.uber.org/zap"
)

// Handle is a persisted, observable value of type T bound to a single key.
// It is safe for concurrent use; each commit and its save run under one
// lock so saves land in mutation order.
type Handle[T any] struct {
	key     string
	backend backend.Backend
	codec   codec.Codec[T]
	deep    bool
	onError func(error)
	logger  *zap.Logger
	emitter *activity.Emitter

	mu      sync.Mutex
	value   T
	version uint64

	watchMu   sync.Mutex
	watchers  map[uint64]func(T)
	nextWatch uint64
}

// New binds a handle to key in b. The stored value, if present and
// decodable, wins over initial. New never fails; load problems are reported
// through the configured channels and the handle starts from initial.
// Construction does not write to the backend.
func New[T any](b backend.Backend, key string, initial T, opts ...Option[T]) *Handle[T] {
	cfg := applyOptions(opts)
	h := &Handle[T]{
		key:      key,
		backend:  b,
		codec:    cfg.codec,
		deep:     cfg.deep,
		onError:  cfg.onError,
		logger:   cfg.logger,
		emitter:  activity.NewEmitter(cfg.hooks, cfg.activityCfg),
		watchers: map[uint64]func(T){},
	}

	value, source, perr := h.load(initial)
	h.value = value
	if perr != nil {
		h.report(perr)
	}
	h.emit(activity.BuildLoadedEvent(activity.StoreEventInput{Key: key, Source: source}))
	return h
}

// Key returns the backend key owned by the handle.
func (h *Handle[T]) Key() string {
	return h.key
}

// Deep reports whether Update triggers a save.
func (h *Handle[T]) Deep() bool {
	return h.deep
}

// Get returns a deep copy of the current value.
func (h *Handle[T]) Get() T {
	h.mu.Lock()
	defer h.mu.Unlock()
	return deepClone(h.value)
}

// Set replaces the whole value and saves it.
func (h *Handle[T]) Set(value T) {
	h.commit(deepClone(value), nil, true)
}

// Update mutates a copy of the value and installs it. In deep mode the full
// value is saved afterwards and watchers are notified; otherwise the change
// stays in memory until the next Set. In shallow mode that includes
// replacing the root (*v = x), so use Set when the new root must be saved.
//
// fn runs without the handle's lock held, so it may call Get. When another
// mutation lands while fn runs, including a Set or Update made by fn itself,
// fn is run again against the newer value. Writes from inside fn must
// therefore be conditional, or Update never settles.
func (h *Handle[T]) Update(fn func(*T)) {
	if fn == nil {
		return
	}
	for {
		h.mu.Lock()
		draft := deepClone(h.value)
		base := h.version
		h.mu.Unlock()

		fn(&draft)

		if h.commit(draft, &base, h.deep) {
			return
		}
	}
}

// commit installs next as the current value and, when save is set, persists
// it. A non-nil base makes the commit conditional on no other mutation
// having landed since that version was read. Reporting and watcher
// callbacks run after the lock is released so they may call back into the
// handle.
func (h *Handle[T]) commit(next T, base *uint64, save bool) bool {
	snapshot, bytes, perr, saved, ok := h.commitLocked(next, base, save)
	if !ok {
		return false
	}
	if saved {
		h.afterSave(perr, bytes)
		h.notify(snapshot)
	}
	return true
}

func (h *Handle[T]) commitLocked(next T, base *uint64, save bool) (snapshot T, bytes int, perr *Error, saved, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if base != nil && *base != h.version {
		return snapshot, 0, nil, false, false
	}
	h.value = next
	h.version++
	if !save {
		return snapshot, 0, nil, false, true
	}
	snapshot, bytes, perr = h.saveLocked()
	return snapshot, bytes, perr, true, true
}

// Watch registers fn to receive a copy of the value after every observed
// mutation. The returned function removes the watcher.
func (h *Handle[T]) Watch(fn func(T)) (stop func()) {
	if fn == nil {
		return func() {}
	}
	h.watchMu.Lock()
	id := h.nextWatch
	h.nextWatch++
	h.watchers[id] = fn
	h.watchMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.watchMu.Lock()
			delete(h.watchers, id)
			h.watchMu.Unlock()
		})
	}
}

func (h *Handle[T]) load(initial T) (T, string, *Error) {
	fallback := deepClone(initial)
	if h.backend == nil {
		return fallback, activity.SourceInitial, newError(LoadAccessFailure, h.key, backend.ErrUnavailable)
	}

	raw, ok, err := h.backend.Get(h.key)
	if err != nil {
		return fallback, activity.SourceInitial, newError(LoadAccessFailure, h.key, err)
	}
	// An empty string is treated like a missing key.
	if !ok || raw == "" {
		return fallback, activity.SourceInitial, nil
	}

	decoded, err := h.codec.Decode(raw)
	if err != nil {
		return fallback, activity.SourceInitial, newError(LoadDecodeFailure, h.key, err)
	}
	return decoded, activity.SourceBackend, nil
}

// saveLocked encodes and writes the current value. The caller holds h.mu.
func (h *Handle[T]) saveLocked() (snapshot T, bytes int, perr *Error) {
	snapshot = deepClone(h.value)

	raw, err := h.codec.Encode(h.value)
	if err != nil {
		return snapshot, 0, newError(SaveEncodeFailure, h.key, err)
	}
	if h.backend == nil {
		return snapshot, 0, newError(SaveAccessFailure, h.key, backend.ErrUnavailable)
	}
	if err := h.backend.Set(h.key, raw); err != nil {
		return snapshot, 0, newError(SaveAccessFailure, h.key, err)
	}
	return snapshot, len(raw), nil
}

func (h *Handle[T]) afterSave(perr *Error, bytes int) {
	if perr != nil {
		h.report(perr)
		return
	}
	h.emit(activity.BuildSavedEvent(activity.StoreEventInput{Key: h.key, Bytes: bytes}))
}

func (h *Handle[T]) report(perr *Error) {
	logFailure(h.logger, perr)
	if h.onError != nil {
		h.onError(perr)
	}
	h.emit(activity.BuildFailedEvent(activity.StoreEventInput{
		Key:  h.key,
		Kind: string(perr.Kind),
		Err:  perr.Err,
	}))
}

func (h *Handle[T]) emit(event activity.Event) {
	if !h.emitter.Enabled() {
		return
	}
	if err := h.emitter.Emit(context.Background(), event); err != nil {
		h.logger.Debug("persist: activity hook failed", zap.String("verb", event.Verb), zap.Error(err))
	}
}

func (h *Handle[T]) notify(snapshot T) {
	h.watchMu.Lock()
	if len(h.watchers) == 0 {
		h.watchMu.Unlock()
		return
	}
	ids := make([]uint64, 0, len(h.watchers))
	for id := range h.watchers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(T), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, h.watchers[id])
	}
	h.watchMu.Unlock()

	for i, fn := range fns {
		value := snapshot
		if i > 0 {
			value = deepClone(snapshot)
		}
		fn(value)
	}
}
