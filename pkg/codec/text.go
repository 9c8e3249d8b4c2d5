package codec

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// YAMLCodec stores values as YAML documents.
type YAMLCodec[T any] struct{}

// YAML returns a YAML codec for T.
func YAML[T any]() YAMLCodec[T] {
	return YAMLCodec[T]{}
}

// Encode implements Codec.
func (YAMLCodec[T]) Encode(value T) (string, error) {
	if err := CheckAcyclic(value); err != nil {
		return "", err
	}
	raw, err := yaml.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("codec: yaml encode: %w", err)
	}
	return string(raw), nil
}

// Decode implements Codec.
func (YAMLCodec[T]) Decode(raw string) (T, error) {
	var result T
	if err := yaml.Unmarshal([]byte(raw), &result); err != nil {
		var zero T
		return zero, fmt.Errorf("codec: yaml decode: %w", err)
	}
	return result, nil
}

// TOMLCodec stores values as TOML documents. TOML only has tables at the top
// level, so T must be a struct or a map.
type TOMLCodec[T any] struct{}

// TOML returns a TOML codec for T.
func TOML[T any]() TOMLCodec[T] {
	return TOMLCodec[T]{}
}

// Encode implements Codec.
func (TOMLCodec[T]) Encode(value T) (string, error) {
	if err := CheckAcyclic(value); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(value); err != nil {
		return "", fmt.Errorf("codec: toml encode: %w", err)
	}
	return buf.String(), nil
}

// Decode implements Codec. Keys present in the document but absent from T are
// rejected.
func (TOMLCodec[T]) Decode(raw string) (T, error) {
	var zero T
	var result T
	meta, err := toml.Decode(raw, &result)
	if err != nil {
		return zero, fmt.Errorf("codec: toml decode: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return zero, fmt.Errorf("codec: toml decode: unknown keys %s", strings.Join(keys, ", "))
	}
	return result, nil
}
