package activity

import "time"

// Verbs emitted by persisted stores.
const (
	VerbLoaded = "store.loaded"
	VerbSaved  = "store.saved"
	VerbFailed = "store.failed"

	ObjectTypeStore = "store"
)

// Load sources recorded on store.loaded events.
const (
	SourceBackend = "backend"
	SourceInitial = "initial"
)

// StoreEventInput carries the fields shared by store events.
type StoreEventInput struct {
	Key        string
	Source     string
	Bytes      int
	Kind       string
	Err        error
	Metadata   map[string]any
	OccurredAt time.Time
}

// BuildLoadedEvent describes the cold load of a store. Source tells whether
// the value came from the backend or from the initial value.
func BuildLoadedEvent(input StoreEventInput) Event {
	event := buildStoreEvent(VerbLoaded, input)
	if input.Source != "" {
		event.Metadata = ensureMetadata(event.Metadata)
		event.Metadata["source"] = input.Source
	}
	return event
}

// BuildSavedEvent describes a successful write of the full value.
func BuildSavedEvent(input StoreEventInput) Event {
	event := buildStoreEvent(VerbSaved, input)
	event.Metadata = ensureMetadata(event.Metadata)
	event.Metadata["bytes"] = input.Bytes
	return event
}

// BuildFailedEvent describes a load or save failure.
func BuildFailedEvent(input StoreEventInput) Event {
	event := buildStoreEvent(VerbFailed, input)
	event.Metadata = ensureMetadata(event.Metadata)
	if input.Kind != "" {
		event.Metadata["kind"] = input.Kind
	}
	if input.Err != nil {
		event.Metadata["error"] = input.Err.Error()
	}
	return event
}

func buildStoreEvent(verb string, input StoreEventInput) Event {
	return NormalizeEvent(Event{
		Verb:       verb,
		ObjectType: ObjectTypeStore,
		ObjectID:   input.Key,
		Metadata:   input.Metadata,
		OccurredAt: input.OccurredAt,
	})
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
