package telemetry

import (
	"fmt"
	"math"
	"strings"

	"github.com/ethpandaops/paratps/internal/registry"
)

// Update is a validated, canonical per-block record.
type Update struct {
	// ChainID is the composite "<relay>-<para id>" key.
	ChainID     string
	Relay       string
	ParaID      uint32
	Name        string
	BlockNumber uint64
	Extrinsics  uint64

	// BlockTime is in seconds and only meaningful when
	// BlockTimeKnown is set.
	BlockTime      float64
	BlockTimeKnown bool

	// Timestamp is the epoch timestamp in milliseconds.
	Timestamp int64

	// Weight is the combined proof size.
	Weight float64
	// RefTime is the combined reference time.
	RefTime float64
}

// ChainKey builds the composite chain identifier.
func ChainKey(relay string, paraID uint32) string {
	return fmt.Sprintf("%s-%d", relay, paraID)
}

// Normalizer validates raw updates and resolves display names.
type Normalizer struct {
	registry  *registry.Registry
	supported map[string]struct{}
}

// NewNormalizer creates a Normalizer accepting the given relays
// (matched case-insensitively). An empty list accepts every relay.
func NewNormalizer(reg *registry.Registry, relays []string) *Normalizer {
	supported := make(map[string]struct{}, len(relays))
	for _, r := range relays {
		supported[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}

	return &Normalizer{
		registry:  reg,
		supported: supported,
	}
}

// Normalize converts a RawUpdate into an Update. It returns an error
// wrapping ErrMalformed or ErrRelayFiltered when the update must be
// dropped.
func (n *Normalizer) Normalize(raw RawUpdate) (Update, error) {
	relay := strings.TrimSpace(raw.Relay)
	if relay == "" {
		return Update{}, fmt.Errorf("%w: missing relay", ErrMalformed)
	}

	if len(n.supported) > 0 {
		if _, ok := n.supported[strings.ToLower(relay)]; !ok {
			return Update{}, fmt.Errorf("%w: %s", ErrRelayFiltered, relay)
		}
	}

	if canonical, ok := n.registry.CanonicalRelay(relay); ok {
		relay = canonical
	}

	paraID, err := requireUint(raw.ParaID, "para_id", 1<<32)
	if err != nil {
		return Update{}, err
	}

	blockNumber, err := requireUint(raw.BlockNumber, "block_number", 1<<64)
	if err != nil {
		return Update{}, err
	}

	extrinsics, err := requireUint(raw.Extrinsics, "extrinsics_num", 1<<64)
	if err != nil {
		return Update{}, err
	}

	if raw.Timestamp == nil || !finite(*raw.Timestamp) || *raw.Timestamp <= 0 {
		return Update{}, fmt.Errorf("%w: missing or invalid timestamp", ErrMalformed)
	}

	u := Update{
		ChainID:     ChainKey(relay, uint32(paraID)),
		Relay:       relay,
		ParaID:      uint32(paraID),
		Name:        n.registry.DisplayName(relay, uint32(paraID)),
		BlockNumber: blockNumber,
		Extrinsics:  extrinsics,
		Timestamp:   int64(*raw.Timestamp),
		Weight:      proofSize(raw),
		RefTime:     raw.RefTime.Total(),
	}

	if bt := raw.BlockTimeSeconds; bt != nil && finite(*bt) && *bt > 0 {
		u.BlockTime = *bt
		u.BlockTimeKnown = true
	}

	return u, nil
}

// proofSize prefers the flat scalars and falls back to summing the
// split representation.
func proofSize(raw RawUpdate) float64 {
	switch {
	case raw.TotalProofSize != nil && finite(*raw.TotalProofSize):
		return *raw.TotalProofSize
	case raw.Weight != nil && finite(*raw.Weight):
		return *raw.Weight
	default:
		return raw.ProofSize.Total()
	}
}

// requireUint accepts whole numbers in [0, bound). float64 cannot hold
// math.MaxUint64, so the bound is exclusive.
func requireUint(v *float64, field string, bound float64) (uint64, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: missing %s", ErrMalformed, field)
	}

	if !finite(*v) || *v < 0 || *v >= bound || *v != math.Trunc(*v) {
		return 0, fmt.Errorf("%w: invalid %s %v", ErrMalformed, field, *v)
	}

	return uint64(*v), nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
