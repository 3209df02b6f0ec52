// Package id provides message identifier generation and classification.
//
// A message carries a client-generated local identifier from the moment it is
// created optimistically until the backend assigns the authoritative one.
// Local identifiers are prefixed ULIDs (user_*, asst_*), so they embed the
// generation timestamp and sort chronologically. Server identifiers are
// opaque numeric strings chosen by the backend. Classification between the
// two forms is what makes in-place id replacement safe.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefixes for locally generated message identifiers.
const (
	UserPrefix      = "user"
	AssistantPrefix = "asst"
)

var localPrefixes = []string{UserPrefix, AssistantPrefix}

// Generator generates prefixed ULIDs for local message identifiers.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the shared generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand entropy.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewUserID generates a local identifier for an optimistic user message.
func NewUserID() string {
	return Default().GenerateWithPrefix(UserPrefix)
}

// NewAssistantID generates a local identifier for an assistant placeholder.
func NewAssistantID() string {
	return Default().GenerateWithPrefix(AssistantPrefix)
}

// IsLocal reports whether the identifier is in the client-generated form.
func IsLocal(id string) bool {
	for _, p := range localPrefixes {
		rest, ok := strings.CutPrefix(id, p+"_")
		if !ok {
			continue
		}
		if _, err := ulid.Parse(rest); err == nil {
			return true
		}
	}
	return false
}

// IsServer reports whether the identifier is a backend-assigned one.
// Server identifiers are numeric-coercible; anything else must not be
// sent back on edit or regenerate frames.
func IsServer(id string) bool {
	if id == "" {
		return false
	}
	_, err := strconv.ParseInt(id, 10, 64)
	return err == nil
}

// Numeric converts a server identifier to its wire form.
func Numeric(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a server id: %q", id)
	}
	return n, nil
}

// Timestamp extracts the creation time embedded in a local identifier.
func Timestamp(id string) (time.Time, error) {
	i := strings.IndexByte(id, '_')
	if i < 0 {
		return time.Time{}, fmt.Errorf("not a local id: %q", id)
	}
	parsed, err := ulid.Parse(id[i+1:])
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
