package persist

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLogger writes warnings and errors to stderr in zap's console format.
// Handles use it unless WithLogger says otherwise.
func DefaultLogger() *zap.Logger {
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.Lock(os.Stderr),
		zapcore.WarnLevel,
	)
	return zap.New(core)
}

// WithLogger sets the diagnostic logger. A nil logger silences diagnostics.
func WithLogger[T any](logger *zap.Logger) Option[T] {
	return func(cfg *config[T]) {
		if logger == nil {
			cfg.logger = zap.NewNop()
			return
		}
		cfg.logger = logger
	}
}

func logFailure(logger *zap.Logger, perr *Error) {
	verb := "save"
	if perr.Kind.IsLoad() {
		verb = "load"
	}
	logger.Error(
		fmt.Sprintf("persist: failed to %s %q", verb, perr.Key),
		zap.String("key", perr.Key),
		zap.String("kind", string(perr.Kind)),
		zap.Error(perr.Err),
	)
}
