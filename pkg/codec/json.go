package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// PostDecodeHook validates or adjusts a value after it has been decoded.
type PostDecodeHook[T any] func(*T) error

// JSONOption configures a JSONCodec.
type JSONOption[T any] func(*JSONCodec[T])

// JSONCodec is the default codec, backed by encoding/json. Strings holding
// invalid UTF-8 are encoded with each bad byte replaced by U+FFFD, so they do
// not round trip byte for byte.
type JSONCodec[T any] struct {
	prefix       string
	indent       string
	configureDec []func(*json.Decoder)
	postHooks    []PostDecodeHook[T]
}

// WithUseNumber enables json.Decoder.UseNumber during decoding.
func WithUseNumber[T any]() JSONOption[T] {
	return func(c *JSONCodec[T]) {
		c.configureDec = append(c.configureDec, func(dec *json.Decoder) {
			dec.UseNumber()
		})
	}
}

// WithDisallowUnknownFields invokes json.Decoder.DisallowUnknownFields.
func WithDisallowUnknownFields[T any]() JSONOption[T] {
	return func(c *JSONCodec[T]) {
		c.configureDec = append(c.configureDec, func(dec *json.Decoder) {
			dec.DisallowUnknownFields()
		})
	}
}

// WithPostDecode runs hook after every successful decode. A hook error turns
// the decode into a failure.
func WithPostDecode[T any](hook func(*T) error) JSONOption[T] {
	return func(c *JSONCodec[T]) {
		if hook != nil {
			c.postHooks = append(c.postHooks, hook)
		}
	}
}

// WithIndent makes Encode produce indented output.
func WithIndent[T any](prefix, indent string) JSONOption[T] {
	return func(c *JSONCodec[T]) {
		c.prefix = prefix
		c.indent = indent
	}
}

// JSON returns a JSON codec for T.
func JSON[T any](opts ...JSONOption[T]) *JSONCodec[T] {
	c := &JSONCodec[T]{}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Encode implements Codec.
func (c *JSONCodec[T]) Encode(value T) (string, error) {
	if err := CheckAcyclic(value); err != nil {
		return "", err
	}

	var (
		raw []byte
		err error
	)
	if c.prefix != "" || c.indent != "" {
		raw, err = json.MarshalIndent(value, c.prefix, c.indent)
	} else {
		raw, err = json.Marshal(value)
	}
	if err != nil {
		return "", fmt.Errorf("codec: json encode: %w", err)
	}
	return string(raw), nil
}

// Decode implements Codec. Trailing data after the first JSON value is an
// error.
func (c *JSONCodec[T]) Decode(raw string) (T, error) {
	var zero T

	decoder := json.NewDecoder(bytes.NewReader([]byte(raw)))
	for _, configure := range c.configureDec {
		configure(decoder)
	}

	var result T
	if err := decoder.Decode(&result); err != nil {
		return zero, fmt.Errorf("codec: json decode: %w", err)
	}
	if _, err := decoder.Token(); err != io.EOF {
		return zero, fmt.Errorf("codec: json decode: unexpected data after value")
	}

	for _, hook := range c.postHooks {
		if err := hook(&result); err != nil {
			return zero, fmt.Errorf("codec: post-decode hook failed: %w", err)
		}
	}
	return result, nil
}
