package persist_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	persist "github.com/goliatone/go-persist"
	"github.com/goliatone/go-persist/pkg/activity"
	"github.com/goliatone/go-persist/pkg/backend"
	"github.com/goliatone/go-persist/pkg/chat"
	"github.com/goliatone/go-persist/pkg/codec"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// recordingBackend wraps a memory backend and records every write attempt.
type recordingBackend struct {
	*backend.Memory

	mu      sync.Mutex
	writes  []string
	gets    int
	failSet error
	failGet error
}

func newRecordingBackend(seed map[string]string) *recordingBackend {
	return &recordingBackend{Memory: backend.NewMemory(backend.WithData(seed))}
}

func (b *recordingBackend) Get(key string) (string, bool, error) {
	b.mu.Lock()
	b.gets++
	failGet := b.failGet
	b.mu.Unlock()
	if failGet != nil {
		return "", false, failGet
	}
	return b.Memory.Get(key)
}

func (b *recordingBackend) Set(key, value string) error {
	b.mu.Lock()
	b.writes = append(b.writes, value)
	failSet := b.failSet
	b.mu.Unlock()
	if failSet != nil {
		return failSet
	}
	return b.Memory.Set(key, value)
}

func (b *recordingBackend) writeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.writes)
}

type errorRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *errorRecorder) record(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *errorRecorder) kinds() []persist.FailureKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]persist.FailureKind, 0, len(r.errs))
	for _, err := range r.errs {
		kind, _ := persist.KindOf(err)
		out = append(out, kind)
	}
	return out
}

type settings struct {
	Theme   string   `json:"theme"`
	Volume  int      `json:"volume"`
	Recent  []string `json:"recent"`
	Profile *profile `json:"profile,omitempty"`
}

type profile struct {
	Name string `json:"name"`
}

func quiet[T any]() persist.Option[T] {
	return persist.WithLogger[T](zap.NewNop())
}

func decode[T any](t *testing.T, b backend.Backend, key string) T {
	t.Helper()
	raw, ok, err := b.Get(key)
	if err != nil || !ok {
		t.Fatalf("expected stored value for %q (ok=%t err=%v)", key, ok, err)
	}
	value, err := codec.JSON[T]().Decode(raw)
	if err != nil {
		t.Fatalf("decode stored value %q: %v", raw, err)
	}
	return value
}

func TestColdStartWithoutStoredValue(t *testing.T) {
	b := newRecordingBackend(nil)
	initial := settings{Theme: "light", Volume: 3}

	h := persist.New(b, "settings", initial, quiet[settings]())

	if diff := cmp.Diff(initial, h.Get()); diff != "" {
		t.Fatalf("unexpected initial value (-want +got):\n%s", diff)
	}
	if b.writeCount() != 0 {
		t.Fatalf("construction must not save, got %d writes", b.writeCount())
	}
	if h.Key() != "settings" || !h.Deep() {
		t.Fatalf("unexpected accessors key=%q deep=%t", h.Key(), h.Deep())
	}
}

func TestColdStartWithStoredValue(t *testing.T) {
	b := newRecordingBackend(map[string]string{
		"settings": `{"theme":"dark","volume":7,"recent":["a"]}`,
	})

	h := persist.New(b, "settings", settings{Theme: "light"}, quiet[settings]())

	want := settings{Theme: "dark", Volume: 7, Recent: []string{"a"}}
	if diff := cmp.Diff(want, h.Get()); diff != "" {
		t.Fatalf("expected stored value to win (-want +got):\n%s", diff)
	}
	if b.writeCount() != 0 {
		t.Fatalf("construction must not save, got %d writes", b.writeCount())
	}
}

func TestColdStartTreatsEmptyTextAsAbsent(t *testing.T) {
	b := newRecordingBackend(map[string]string{"settings": ""})
	rec := &errorRecorder{}

	h := persist.New(b, "settings", settings{Theme: "light"}, quiet[settings](), persist.WithOnError[settings](rec.record))

	if h.Get().Theme != "light" {
		t.Fatalf("expected initial value, got %+v", h.Get())
	}
	if len(rec.kinds()) != 0 {
		t.Fatalf("expected no errors, got %v", rec.kinds())
	}
}

func TestColdStartWithCorruptedValue(t *testing.T) {
	b := newRecordingBackend(map[string]string{"settings": `{"theme":`})
	rec := &errorRecorder{}
	core, logs := observer.New(zap.DebugLevel)

	h := persist.New(b, "settings", settings{Theme: "light"},
		persist.WithOnError[settings](rec.record),
		persist.WithLogger[settings](zap.New(core)),
	)

	if h.Get().Theme != "light" {
		t.Fatalf("expected initial value after decode failure, got %+v", h.Get())
	}
	if diff := cmp.Diff([]persist.FailureKind{persist.LoadDecodeFailure}, rec.kinds()); diff != "" {
		t.Fatalf("unexpected failures (-want +got):\n%s", diff)
	}
	if !errors.Is(rec.errs[0], persist.ErrLoadDecode) {
		t.Fatalf("expected ErrLoadDecode, got %v", rec.errs[0])
	}

	entries := logs.FilterMessage(`persist: failed to load "settings"`).All()
	if len(entries) != 1 {
		t.Fatalf("expected one diagnostic entry, got %d (%v)", len(entries), logs.All())
	}
	fields := entries[0].ContextMap()
	if fields["key"] != "settings" || fields["kind"] != string(persist.LoadDecodeFailure) {
		t.Fatalf("unexpected diagnostic fields %v", fields)
	}
	if b.writeCount() != 0 {
		t.Fatalf("construction must not save, got %d writes", b.writeCount())
	}
}

func TestColdStartWithUnreadableBackend(t *testing.T) {
	b := newRecordingBackend(nil)
	b.failGet = backend.ErrUnavailable
	rec := &errorRecorder{}

	h := persist.New(b, "settings", settings{Volume: 1}, quiet[settings](), persist.WithOnError[settings](rec.record))

	if h.Get().Volume != 1 {
		t.Fatalf("expected initial value, got %+v", h.Get())
	}
	if diff := cmp.Diff([]persist.FailureKind{persist.LoadAccessFailure}, rec.kinds()); diff != "" {
		t.Fatalf("unexpected failures (-want +got):\n%s", diff)
	}
	if !errors.Is(rec.errs[0], backend.ErrUnavailable) {
		t.Fatalf("expected cause to be preserved, got %v", rec.errs[0])
	}
}

func TestNilBackendStillProducesUsableHandle(t *testing.T) {
	rec := &errorRecorder{}
	h := persist.New[int](nil, "n", 1, quiet[int](), persist.WithOnError[int](rec.record))
	h.Set(2)

	if h.Get() != 2 {
		t.Fatalf("expected in-memory value 2, got %d", h.Get())
	}
	want := []persist.FailureKind{persist.LoadAccessFailure, persist.SaveAccessFailure}
	if diff := cmp.Diff(want, rec.kinds()); diff != "" {
		t.Fatalf("unexpected failures (-want +got):\n%s", diff)
	}
}

func TestShallowModeSavesOnlyRootReplacement(t *testing.T) {
	b := newRecordingBackend(nil)
	h := persist.New(b, "settings", settings{Theme: "light"}, quiet[settings](), persist.WithDeep[settings](false))

	if h.Deep() {
		t.Fatalf("expected shallow handle")
	}

	h.Update(func(s *settings) { s.Volume = 9 })
	if b.writeCount() != 0 {
		t.Fatalf("nested change must not save in shallow mode, got %d writes", b.writeCount())
	}
	if h.Get().Volume != 9 {
		t.Fatalf("nested change must still apply in memory, got %+v", h.Get())
	}

	h.Set(settings{Theme: "dark"})
	if b.writeCount() != 1 {
		t.Fatalf("expected exactly one save for root replacement, got %d", b.writeCount())
	}
	if got := decode[settings](t, b, "settings"); got.Theme != "dark" {
		t.Fatalf("unexpected stored value %+v", got)
	}
}

func TestShallowUpdateOfScalarRootStaysInMemory(t *testing.T) {
	b := newRecordingBackend(nil)
	h := persist.New(b, "n", 0, quiet[int](), persist.WithDeep[int](false))

	h.Update(func(n *int) { *n = 42 })
	if h.Get() != 42 || b.writeCount() != 0 {
		t.Fatalf("expected in-memory only change, value=%d writes=%d", h.Get(), b.writeCount())
	}

	h.Set(h.Get())
	if got := decode[int](t, b, "n"); got != 42 {
		t.Fatalf("expected Set to persist the root, got %d", got)
	}
}

func TestDeepModeSavesNestedMutation(t *testing.T) {
	b := newRecordingBackend(nil)
	h := persist.New(b, "settings", settings{Theme: "light"}, quiet[settings]())

	h.Update(func(s *settings) {
		s.Recent = append(s.Recent, "doc-1")
		s.Profile = &profile{Name: "Ada"}
	})

	if b.writeCount() != 1 {
		t.Fatalf("expected one save, got %d", b.writeCount())
	}
	want := settings{Theme: "light", Recent: []string{"doc-1"}, Profile: &profile{Name: "Ada"}}
	if diff := cmp.Diff(want, decode[settings](t, b, "settings")); diff != "" {
		t.Fatalf("stored value mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, h.Get()); diff != "" {
		t.Fatalf("in-memory value mismatch (-want +got):\n%s", diff)
	}
}

func TestEachMutationSavesInOrder(t *testing.T) {
	b := newRecordingBackend(nil)
	h := persist.New(b, "n", 0, quiet[int]())

	for i := 1; i <= 5; i++ {
		h.Set(i)
	}
	h.Update(func(n *int) { *n *= 10 })

	want := []string{"1", "2", "3", "4", "5", "50"}
	if diff := cmp.Diff(want, b.writes); diff != "" {
		t.Fatalf("unexpected write sequence (-want +got):\n%s", diff)
	}
}

func TestWriteFailureKeepsValueAndRetries(t *testing.T) {
	b := newRecordingBackend(nil)
	rec := &errorRecorder{}
	core, logs := observer.New(zap.WarnLevel)
	h := persist.New(b, "settings", settings{}, persist.WithOnError[settings](rec.record), persist.WithLogger[settings](zap.New(core)))

	b.failSet = backend.ErrQuotaExceeded
	h.Set(settings{Theme: "dark"})

	if h.Get().Theme != "dark" {
		t.Fatalf("in-memory value must reflect the mutation, got %+v", h.Get())
	}
	if diff := cmp.Diff([]persist.FailureKind{persist.SaveAccessFailure}, rec.kinds()); diff != "" {
		t.Fatalf("unexpected failures (-want +got):\n%s", diff)
	}
	if !errors.Is(rec.errs[0], persist.ErrSaveAccess) || !errors.Is(rec.errs[0], backend.ErrQuotaExceeded) {
		t.Fatalf("expected save access failure wrapping quota error, got %v", rec.errs[0])
	}
	if logs.FilterMessage(`persist: failed to save "settings"`).Len() != 1 {
		t.Fatalf("expected a diagnostic entry, got %v", logs.All())
	}

	b.failSet = nil
	h.Update(func(s *settings) { s.Volume = 4 })

	if b.writeCount() != 2 {
		t.Fatalf("expected a second save attempt, got %d", b.writeCount())
	}
	want := settings{Theme: "dark", Volume: 4}
	if diff := cmp.Diff(want, decode[settings](t, b, "settings")); diff != "" {
		t.Fatalf("stored value mismatch after recovery (-want +got):\n%s", diff)
	}
	if len(rec.kinds()) != 1 {
		t.Fatalf("successful save must not report, got %v", rec.kinds())
	}
}

func TestQuotaBackendRecoversAfterSpaceFreed(t *testing.T) {
	b := backend.NewMemory(backend.WithQuota(40))
	rec := &errorRecorder{}
	h := persist.New(b, "list", []string{}, quiet[[]string](), persist.WithOnError[[]string](rec.record))

	h.Update(func(l *[]string) { *l = append(*l, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa") })
	if diff := cmp.Diff([]persist.FailureKind{persist.SaveAccessFailure}, rec.kinds()); diff != "" {
		t.Fatalf("unexpected failures (-want +got):\n%s", diff)
	}

	h.Set([]string{"ok"})
	if raw, _, _ := b.Get("list"); raw != `["ok"]` {
		t.Fatalf("expected recovery write, got %q", raw)
	}
}

type node struct {
	Name string `json:"name"`
	Next *node  `json:"next,omitempty"`
}

func TestEncodeFailureForCyclicValue(t *testing.T) {
	b := newRecordingBackend(nil)
	rec := &errorRecorder{}
	h := persist.New(b, "graph", &node{Name: "root"}, quiet[*node](), persist.WithOnError[*node](rec.record))

	h.Update(func(n **node) {
		(*n).Next = *n
	})

	if diff := cmp.Diff([]persist.FailureKind{persist.SaveEncodeFailure}, rec.kinds()); diff != "" {
		t.Fatalf("unexpected failures (-want +got):\n%s", diff)
	}
	if !errors.Is(rec.errs[0], codec.ErrCyclic) {
		t.Fatalf("expected ErrCyclic cause, got %v", rec.errs[0])
	}
	if b.writeCount() != 0 {
		t.Fatalf("encode failure must not reach the backend, got %d writes", b.writeCount())
	}

	got := h.Get()
	if got.Next != got {
		t.Fatalf("expected cyclic in-memory value to be preserved")
	}

	h.Set(&node{Name: "fixed"})
	if decode[*node](t, b, "graph").Name != "fixed" {
		t.Fatalf("expected save after cycle removed")
	}
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	b := newRecordingBackend(nil)
	h := persist.New(b, "settings", settings{Recent: []string{"a"}}, quiet[settings]())

	copy1 := h.Get()
	copy1.Recent[0] = "mutated"
	copy1.Theme = "mutated"

	if got := h.Get(); got.Recent[0] != "a" || got.Theme != "" {
		t.Fatalf("mutating a copy leaked into the handle: %+v", got)
	}
	if b.writeCount() != 0 {
		t.Fatalf("mutating a copy must not save")
	}
}

func TestSetCopiesInput(t *testing.T) {
	b := newRecordingBackend(nil)
	h := persist.New(b, "settings", settings{}, quiet[settings]())

	input := settings{Recent: []string{"a"}}
	h.Set(input)
	input.Recent[0] = "changed"

	if h.Get().Recent[0] != "a" {
		t.Fatalf("caller mutation after Set leaked into the handle")
	}
}

func TestWatchersReceiveSavedValues(t *testing.T) {
	b := newRecordingBackend(nil)
	h := persist.New(b, "n", 0, quiet[int]())

	var seen []int
	stop := h.Watch(func(v int) { seen = append(seen, v) })
	var second []int
	h.Watch(func(v int) { second = append(second, v) })

	h.Set(1)
	h.Update(func(n *int) { *n++ })
	stop()
	stop()
	h.Set(5)

	if diff := cmp.Diff([]int{1, 2}, seen); diff != "" {
		t.Fatalf("unexpected watcher values (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2, 5}, second); diff != "" {
		t.Fatalf("unexpected second watcher values (-want +got):\n%s", diff)
	}
}

func TestWatcherMayCallBackIntoHandle(t *testing.T) {
	b := newRecordingBackend(nil)
	h := persist.New(b, "n", 0, quiet[int]())

	h.Watch(func(v int) {
		if v < 3 {
			h.Set(v + 1)
		}
	})
	h.Set(1)

	if h.Get() != 3 {
		t.Fatalf("expected chained updates to reach 3, got %d", h.Get())
	}
	if diff := cmp.Diff([]string{"1", "2", "3"}, b.writes); diff != "" {
		t.Fatalf("unexpected writes (-want +got):\n%s", diff)
	}
}

func TestUpdateCallbackMayReadHandle(t *testing.T) {
	b := newRecordingBackend(nil)
	h := persist.New(b, "n", 1, quiet[int]())

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Update(func(n *int) { *n = h.Get() + 1 })
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Get inside Update never returned")
	}
	if h.Get() != 2 {
		t.Fatalf("expected 2, got %d", h.Get())
	}
	if diff := cmp.Diff([]string{"2"}, b.writes); diff != "" {
		t.Fatalf("unexpected writes (-want +got):\n%s", diff)
	}
}

func TestUpdateReappliesAfterWriteFromCallback(t *testing.T) {
	b := newRecordingBackend(nil)
	h := persist.New(b, "n", 0, quiet[int]())

	calls := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Update(func(n *int) {
			calls++
			if calls == 1 {
				h.Set(100)
			}
			*n++
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Set inside Update never returned")
	}
	if calls != 2 {
		t.Fatalf("expected callback to run twice, ran %d times", calls)
	}
	if h.Get() != 101 {
		t.Fatalf("expected update applied on top of inner write, got %d", h.Get())
	}
	if diff := cmp.Diff([]string{"100", "101"}, b.writes); diff != "" {
		t.Fatalf("unexpected writes (-want +got):\n%s", diff)
	}
}

func TestOnErrorMayReadHandle(t *testing.T) {
	b := newRecordingBackend(nil)
	b.failSet = errors.New("disk full")

	var h *persist.Handle[int]
	var observed int
	h = persist.New(b, "n", 0, quiet[int](), persist.WithOnError[int](func(error) {
		observed = h.Get()
	}))
	h.Set(7)

	if observed != 7 {
		t.Fatalf("expected callback to observe in-memory value 7, got %d", observed)
	}
}

func TestActivityEvents(t *testing.T) {
	b := newRecordingBackend(map[string]string{"settings": "garbage"})
	capture := &activity.CaptureHook{}

	h := persist.New(b, "settings", settings{}, quiet[settings](),
		persist.WithActivityHooks[settings](activity.Hooks{capture, nil}),
	)
	h.Set(settings{Theme: "dark"})
	b.failSet = errors.New("nope")
	h.Set(settings{Theme: "light"})

	want := []string{activity.VerbFailed, activity.VerbLoaded, activity.VerbSaved, activity.VerbFailed}
	if diff := cmp.Diff(want, capture.Verbs()); diff != "" {
		t.Fatalf("unexpected verbs (-want +got):\n%s", diff)
	}
	if capture.Events[0].Metadata["kind"] != string(persist.LoadDecodeFailure) {
		t.Fatalf("unexpected failure metadata %+v", capture.Events[0].Metadata)
	}
	if capture.Events[1].Metadata["source"] != activity.SourceInitial {
		t.Fatalf("unexpected load metadata %+v", capture.Events[1].Metadata)
	}
	if capture.Events[2].Metadata["bytes"] != len(`{"theme":"dark","volume":0,"recent":null}`) {
		t.Fatalf("unexpected saved metadata %+v", capture.Events[2].Metadata)
	}
	for _, event := range capture.Events {
		if event.ObjectID != "settings" || event.Channel != activity.DefaultChannel {
			t.Fatalf("unexpected event envelope %+v", event)
		}
	}
}

func TestActivityHookErrorsAreSwallowed(t *testing.T) {
	b := newRecordingBackend(nil)
	failing := activity.HookFunc(func(_ context.Context, _ activity.Event) error {
		return errors.New("hook down")
	})
	core, logs := observer.New(zap.DebugLevel)

	h := persist.New(b, "n", 0,
		persist.WithLogger[int](zap.New(core)),
		persist.WithActivityHooks[int](activity.Hooks{failing}),
		persist.WithActivityConfig[int](activity.Config{Enabled: true, Channel: "audit"}),
	)
	h.Set(1)

	if h.Get() != 1 || b.writeCount() != 1 {
		t.Fatalf("hook failure must not affect persistence")
	}
	if logs.FilterMessage("persist: activity hook failed").Len() != 2 {
		t.Fatalf("expected hook failures logged at debug, got %v", logs.All())
	}
}

func TestCustomCodec(t *testing.T) {
	b := newRecordingBackend(nil)
	h := persist.New(b, "settings", settings{Theme: "light"}, quiet[settings](),
		persist.WithCodec[settings](codec.YAML[settings]()),
	)
	h.Set(settings{Theme: "dark", Volume: 2})

	raw, _, _ := b.Get("settings")
	reloaded := persist.New(b, "settings", settings{}, quiet[settings](),
		persist.WithCodec[settings](codec.YAML[settings]()),
	)
	if reloaded.Get().Theme != "dark" || reloaded.Get().Volume != 2 {
		t.Fatalf("expected yaml round trip, stored %q got %+v", raw, reloaded.Get())
	}
}

func TestConcurrentMutationsAllPersist(t *testing.T) {
	b := newRecordingBackend(nil)
	h := persist.New(b, "n", 0, quiet[int]())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Update(func(n *int) { *n++ })
		}()
	}
	wg.Wait()

	if h.Get() != 50 {
		t.Fatalf("expected 50, got %d", h.Get())
	}
	if b.writeCount() != 50 {
		t.Fatalf("expected 50 saves, got %d", b.writeCount())
	}
	if got := decode[int](t, b, "n"); got != 50 {
		t.Fatalf("expected last save to hold 50, got %d", got)
	}
}

func TestChatRoomEndToEnd(t *testing.T) {
	b := backend.NewMemory()
	t0 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	room := persist.New(b, "room", chat.NewRoom("r1", "General"), quiet[chat.Room]())
	room.Update(func(r *chat.Room) {
		r.Append(chat.Message{ID: "m1", Text: "hi", Sender: chat.SenderUser, Timestamp: t0})
	})

	stored := decode[chat.Room](t, b, "room")
	want := []chat.Message{{ID: "m1", Text: "hi", Sender: chat.SenderUser, Timestamp: t0}}
	if diff := cmp.Diff(want, stored.Messages); diff != "" {
		t.Fatalf("stored messages mismatch (-want +got):\n%s", diff)
	}
	if stored.ID != "r1" || stored.Name != "General" || len(stored.Participants) != 0 {
		t.Fatalf("unexpected stored room %+v", stored)
	}

	reopened := persist.New(b, "room", chat.NewRoom("other", "Other"), quiet[chat.Room]())
	if diff := cmp.Diff(stored, reopened.Get()); diff != "" {
		t.Fatalf("reopened room mismatch (-want +got):\n%s", diff)
	}
}
