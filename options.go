package persist

import (
	"github.com/goliatone/go-persist/pkg/activity"
	"github.com/goliatone/go-persist/pkg/codec"
	"go.uber.org/zap"
)

// Option configures a Handle.
type Option[T any] func(*config[T])

type config[T any] struct {
	deep        bool
	onError     func(error)
	codec       codec.Codec[T]
	logger      *zap.Logger
	hooks       activity.Hooks
	activityCfg activity.Config
}

func defaultConfig[T any]() config[T] {
	return config[T]{
		deep:        true,
		codec:       codec.JSON[T](),
		activityCfg: activity.Config{Enabled: true},
	}
}

func applyOptions[T any](opts []Option[T]) config[T] {
	cfg := defaultConfig[T]()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = DefaultLogger()
	}
	return cfg
}

// WithDeep controls whether Update triggers a save. Deep mode is on by
// default; with it off only Set persists.
func WithDeep[T any](deep bool) Option[T] {
	return func(cfg *config[T]) {
		cfg.deep = deep
	}
}

// WithOnError registers a callback invoked synchronously with a *Error for
// every load or save failure.
func WithOnError[T any](fn func(error)) Option[T] {
	return func(cfg *config[T]) {
		cfg.onError = fn
	}
}

// WithCodec replaces the default JSON codec.
func WithCodec[T any](c codec.Codec[T]) Option[T] {
	return func(cfg *config[T]) {
		if c != nil {
			cfg.codec = c
		}
	}
}

// WithActivityHooks attaches hooks that receive store.loaded, store.saved and
// store.failed events. Nil hooks are dropped.
func WithActivityHooks[T any](hooks activity.Hooks) Option[T] {
	normalized := hooks.Compact()
	return func(cfg *config[T]) {
		cfg.hooks = normalized
	}
}

// WithActivityConfig overrides the activity emitter settings.
func WithActivityConfig[T any](ac activity.Config) Option[T] {
	return func(cfg *config[T]) {
		cfg.activityCfg = ac
	}
}
