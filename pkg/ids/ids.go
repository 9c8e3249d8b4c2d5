// Package ids produces probably-unique string identifiers.
//
// The primary strategy is a random (version 4) UUID read from crypto/rand.
// When that source fails the generator falls back to "id-" followed by nine
// base-36 characters from a math/rand source. Fallback identifiers only have
// the collision resistance of the pseudo-random source behind them.
package ids

import (
	"crypto/rand"
	"io"
	mrand "math/rand/v2"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// FallbackPrefix is prepended to identifiers produced by the fallback path.
const FallbackPrefix = "id-"

const (
	fallbackLength = 9
	// 36^9, the number of distinct nine character base-36 fragments.
	fallbackSpace = 101559956668416
)

// Option configures a Generator.
type Option func(*Generator)

// WithReader replaces the random source used for UUIDs.
func WithReader(r io.Reader) Option {
	return func(g *Generator) {
		if r != nil {
			g.reader = r
		}
	}
}

// WithFallbackSource seeds the fallback path with src.
func WithFallbackSource(src mrand.Source) Option {
	return func(g *Generator) {
		if src != nil {
			g.fallback = mrand.New(src)
		}
	}
}

// Generator produces identifiers. It is safe for concurrent use.
type Generator struct {
	reader io.Reader

	mu       sync.Mutex
	fallback *mrand.Rand
}

// New constructs a Generator using crypto/rand unless overridden.
func New(opts ...Option) *Generator {
	g := &Generator{reader: rand.Reader}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

var defaultGenerator = New()

// Generate returns an identifier from the package default generator.
func Generate() string {
	return defaultGenerator.Generate()
}

// Generate returns a new identifier. It never fails.
func (g *Generator) Generate() string {
	id, err := uuid.NewRandomFromReader(g.reader)
	if err == nil {
		return id.String()
	}
	return g.fallbackID()
}

func (g *Generator) fallbackID() string {
	var n uint64
	if g.fallback != nil {
		g.mu.Lock()
		n = g.fallback.Uint64N(fallbackSpace)
		g.mu.Unlock()
	} else {
		n = mrand.Uint64N(fallbackSpace)
	}

	fragment := strconv.FormatUint(n, 36)
	if pad := fallbackLength - len(fragment); pad > 0 {
		fragment = strings.Repeat("0", pad) + fragment
	}
	return FallbackPrefix + fragment
}
