package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for payloads that cannot be parsed or
	// lack required fields.
	ErrMalformed = errors.New("malformed update")
	// ErrRelayFiltered is returned for updates from relays that are
	// not in the supported set.
	ErrRelayFiltered = errors.New("relay filtered")
)

// RawUpdate is a single per-block telemetry record as received from
// the event stream. Pointer fields distinguish absent from zero.
type RawUpdate struct {
	Relay            string   `json:"relay"`
	ParaID           *float64 `json:"para_id"`
	BlockNumber      *float64 `json:"block_number"`
	Extrinsics       *float64 `json:"extrinsics_num"`
	BlockTimeSeconds *float64 `json:"block_time_seconds"`
	Timestamp        *float64 `json:"timestamp"`

	// Flat weight scalars used by older stream versions.
	TotalProofSize *float64 `json:"total_proof_size,omitempty"`
	Weight         *float64 `json:"weight,omitempty"`

	// Split weights used by newer stream versions.
	ProofSize *WeightParts `json:"proof_size,omitempty"`
	RefTime   *WeightParts `json:"ref_time,omitempty"`
}

// WeightParts is a resource weight that is either a plain number or an
// object split by dispatch class.
type WeightParts struct {
	Normal      *float64 `json:"normal,omitempty"`
	Operational *float64 `json:"operational,omitempty"`
	Mandatory   *float64 `json:"mandatory,omitempty"`

	scalar *float64
}

// UnmarshalJSON accepts a number, an object with dispatch class parts,
// or null.
func (w *WeightParts) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] != '{' {
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("weight is neither number nor object: %w", err)
		}

		w.scalar = &v

		return nil
	}

	// Alias drops the method set to avoid recursion.
	type parts WeightParts

	var p parts
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decoding weight parts: %w", err)
	}

	w.Normal = p.Normal
	w.Operational = p.Operational
	w.Mandatory = p.Mandatory

	return nil
}

// Total sums all present components. Absent components count as 0.
func (w *WeightParts) Total() float64 {
	if w == nil {
		return 0
	}

	if w.scalar != nil {
		return *w.scalar
	}

	var total float64

	for _, v := range []*float64{w.Normal, w.Operational, w.Mandatory} {
		if v != nil {
			total += *v
		}
	}

	return total
}

// Decode parses a JSON payload into a RawUpdate.
func Decode(data []byte) (RawUpdate, error) {
	var raw RawUpdate

	if err := json.Unmarshal(data, &raw); err != nil {
		return RawUpdate{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return raw, nil
}
