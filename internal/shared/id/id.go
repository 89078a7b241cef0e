// Package id provides prefixed ULID generation for the backend.
//
// IDs are lexicographically sortable by creation time and carry a short
// prefix naming their kind, so a runtime session ID is never confused with
// a request ID in logs:
//
//	rts_01HZX3K5Q8W7Y2N4M6P9R0T1V3
//	req_01HZX3K5Q9A1B2C3D4E5F6G7H8
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// RuntimeSessionID identifies one playback attempt of one SCO.
type RuntimeSessionID string

// RequestID identifies an API request or trace span.
type RequestID string

const (
	RuntimeSessionPrefix = "rts"
	RequestPrefix        = "req"
	GuestPrefix          = "gst"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader)
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(entropy, 0),
	}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a "prefix_ULID" string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewRuntimeSessionID generates a runtime session ID.
func NewRuntimeSessionID() RuntimeSessionID {
	return RuntimeSessionID(Default().GenerateWithPrefix(RuntimeSessionPrefix))
}

// NewRequestID generates a request ID.
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewGuestPlayerID generates the player id that stands for a signed-out
// caller. It draws fresh entropy instead of the monotonic source, so one
// guest's id says nothing about the next.
func NewGuestPlayerID() string {
	u := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	return GuestPrefix + "_" + u.String()
}

func (id RuntimeSessionID) String() string { return string(id) }
func (id RequestID) String() string        { return string(id) }

// HasPrefix reports whether s is a well-formed ID of the given kind.
func HasPrefix(s, prefix string) bool {
	rest, ok := strings.CutPrefix(s, prefix+"_")
	if !ok {
		return false
	}
	return IsValid(rest)
}

// IsValid checks if a bare string is a valid ULID.
func IsValid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// Timestamp extracts the creation time from a prefixed or bare ID.
func Timestamp(s string) (time.Time, error) {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	parsed, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
