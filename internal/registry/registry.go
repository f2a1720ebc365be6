package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Well-known relay chain names.
const (
	RelayPolkadot = "Polkadot"
	RelayKusama   = "Kusama"
	RelayWestend  = "Westend"
)

// Config configures display-name resolution.
type Config struct {
	// Overrides maps relay name to para id to display name. Entries
	// take precedence over the built-in tables.
	Overrides map[string]map[uint32]string `yaml:"overrides"`

	// RemoteURL optionally points at a JSON document with additional
	// names, fetched once at startup.
	RemoteURL string `yaml:"remote_url"`
}

// Registry resolves (relay, para id) pairs to human display names.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	relays map[string]string            // lower-case -> canonical
	names  map[string]map[uint32]string // canonical relay -> para id -> name
}

// New creates a Registry from the given tables.
func New(tables map[string]map[uint32]string) *Registry {
	r := &Registry{
		relays: make(map[string]string, len(tables)),
		names:  make(map[string]map[uint32]string, len(tables)),
	}

	r.Merge(tables)

	return r
}

// Default creates a Registry seeded with the built-in Polkadot, Kusama
// and Westend tables.
func Default() *Registry {
	return New(builtin())
}

// Merge adds or replaces entries. Relay names not yet known are
// registered with the spelling given here.
func (r *Registry) Merge(tables map[string]map[uint32]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for relay, chains := range tables {
		canonical, ok := r.relays[strings.ToLower(relay)]
		if !ok {
			canonical = relay
			r.relays[strings.ToLower(relay)] = canonical
		}

		dst, ok := r.names[canonical]
		if !ok {
			dst = make(map[uint32]string, len(chains))
			r.names[canonical] = dst
		}

		for id, name := range chains {
			dst[id] = name
		}
	}
}

// CanonicalRelay returns the registry spelling of a relay name, matched
// case-insensitively.
func (r *Registry) CanonicalRelay(relay string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	canonical, ok := r.relays[strings.ToLower(strings.TrimSpace(relay))]

	return canonical, ok
}

// Lookup returns the display name registered for the chain.
func (r *Registry) Lookup(relay string, paraID uint32) (string, bool) {
	canonical, ok := r.CanonicalRelay(relay)
	if !ok {
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.names[canonical][paraID]

	return name, ok
}

// DisplayName returns the registered name, or "<relay>-<id>" when the
// chain is unknown.
func (r *Registry) DisplayName(relay string, paraID uint32) string {
	if name, ok := r.Lookup(relay, paraID); ok {
		return name
	}

	return fmt.Sprintf("%s-%d", relay, paraID)
}

// Relays returns the canonical names of all known relays, sorted.
func (r *Registry) Relays() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.names))
	for relay := range r.names {
		out = append(out, relay)
	}

	sort.Strings(out)

	return out
}

// Len returns the number of chains registered for a relay.
func (r *Registry) Len(relay string) int {
	canonical, ok := r.CanonicalRelay(relay)
	if !ok {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.names[canonical])
}
