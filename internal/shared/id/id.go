// Package id generates sortable identifiers for kernel instances, control
// requests and host sessions.
//
// Process IDs are small reusable integers owned by the process table; the
// ULIDs produced here are for correlation in logs and replies only.
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

// KernelID identifies one kernel instance
type KernelID string

// RequestID correlates a control command with its result reply
type RequestID string

// SessionID identifies a host session (one link connection or local host run)
type SessionID string

const (
	KernelPrefix  = "krn"
	RequestPrefix = "req"
	SessionPrefix = "hs"
)

// Generator produces ULIDs. Safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader)
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Tests pass a deterministic reader.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy, now: time.Now}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates "prefix_ULID"
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewKernelID generates a kernel instance ID
func NewKernelID() KernelID {
	return KernelID(Default().GenerateWithPrefix(KernelPrefix))
}

// NewRequestID generates a control request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewSessionID generates a host session ID
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

func (i KernelID) String() string  { return string(i) }
func (i RequestID) String() string { return string(i) }
func (i SessionID) String() string { return string(i) }

// IsValid checks if a bare string is a valid ULID
func IsValid(s string) bool {
	_, err := ulid.Parse(s)
	return err == nil
}

// Split separates a prefixed ID into its prefix and ULID
func Split(s string) (prefix string, u ulid.ULID, err error) {
	prefix, raw, ok := strings.Cut(s, "_")
	if !ok {
		return "", ulid.ULID{}, fmt.Errorf("id %q has no prefix", s)
	}
	u, err = ulid.Parse(raw)
	return prefix, u, err
}

// Timestamp extracts the creation time of a prefixed or bare ID
func Timestamp(s string) (time.Time, error) {
	if _, u, err := Split(s); err == nil {
		return ulid.Time(u.Time()), nil
	}
	u, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
