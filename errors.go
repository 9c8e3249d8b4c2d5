package persist

import (
	"errors"
	"fmt"
)

// FailureKind classifies a load or save failure.
type FailureKind string

const (
	// LoadDecodeFailure means stored text was present but could not be
	// decoded as T.
	LoadDecodeFailure FailureKind = "load_decode"
	// LoadAccessFailure means the backend could not be read.
	LoadAccessFailure FailureKind = "load_access"
	// SaveEncodeFailure means the current value could not be encoded.
	SaveEncodeFailure FailureKind = "save_encode"
	// SaveAccessFailure means the backend rejected the write.
	SaveAccessFailure FailureKind = "save_access"
)

var (
	ErrLoadDecode = errors.New("persist: stored value could not be decoded")
	ErrLoadAccess = errors.New("persist: backend could not be read")
	ErrSaveEncode = errors.New("persist: value could not be encoded")
	ErrSaveAccess = errors.New("persist: backend could not be written")
)

var kindSentinels = map[FailureKind]error{
	LoadDecodeFailure: ErrLoadDecode,
	LoadAccessFailure: ErrLoadAccess,
	SaveEncodeFailure: ErrSaveEncode,
	SaveAccessFailure: ErrSaveAccess,
}

// IsLoad reports whether the failure happened during the cold load.
func (k FailureKind) IsLoad() bool {
	return k == LoadDecodeFailure || k == LoadAccessFailure
}

// Error is the value handed to OnError callbacks. It records which key failed
// and how, and wraps the codec or backend error.
type Error struct {
	Kind FailureKind
	Key  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("persist: %s key=%q: %v", e.Kind, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the sentinel for the error's kind, so callers can write
// errors.Is(err, persist.ErrSaveAccess).
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// KindOf extracts the failure kind from err, if it carries one.
func KindOf(err error) (FailureKind, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind, true
	}
	return "", false
}

func newError(kind FailureKind, key string, err error) *Error {
	return &Error{Kind: kind, Key: key, Err: err}
}
