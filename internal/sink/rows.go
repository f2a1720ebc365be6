package sink

import (
	"slices"
	"time"

	"github.com/ethpandaops/paratps/internal/aggregator"
)

// Meta identifies the producing instance on every row.
type Meta struct {
	InstanceName string
	NetworkName  string
}

// Slot is the relay slot a flush belongs to.
type Slot struct {
	Number uint64
	Start  time.Time
}

// GlobalRow is one flushed global snapshot.
type GlobalRow struct {
	UpdatedDateTime            time.Time `json:"updated_date_time"`
	WallclockSlot              uint64    `json:"wallclock_slot"`
	WallclockSlotStartDateTime time.Time `json:"wallclock_slot_start_date_time"`
	WindowedTPS                float64   `json:"windowed_tps"`
	EMATPS                     float64   `json:"ema_tps"`
	SpanMs                     int64     `json:"span_ms"`
	Confidence                 float64   `json:"confidence"`
	UpdateCount                uint64    `json:"update_count"`
	PeakTPS                    float64   `json:"peak_tps"`
	ChainCount                 uint32    `json:"chain_count"`
	TotalExtrinsics            uint64    `json:"total_extrinsics"`
	MetaInstanceName           string    `json:"meta_instance_name,omitempty"`
	MetaNetworkName            string    `json:"meta_network_name,omitempty"`
}

// ChainRow is one chain within a flushed snapshot.
type ChainRow struct {
	UpdatedDateTime            time.Time `json:"updated_date_time"`
	WallclockSlot              uint64    `json:"wallclock_slot"`
	WallclockSlotStartDateTime time.Time `json:"wallclock_slot_start_date_time"`
	ChainID                    string    `json:"chain_id"`
	ChainName                  string    `json:"chain_name"`
	Relay                      string    `json:"relay"`
	ParaID                     uint32    `json:"para_id"`
	BlockNumber                uint64    `json:"block_number"`
	Extrinsics                 uint64    `json:"extrinsics"`
	BlockTime                  float64   `json:"block_time"`
	Weight                     float64   `json:"weight"`
	WindowedTPS                float64   `json:"windowed_tps"`
	EMATPS                     float64   `json:"ema_tps"`
	InstantTPS                 float64   `json:"instant_tps"`
	MaxTPS                     float64   `json:"max_tps"`
	Updates                    uint64    `json:"updates"`
	MetaInstanceName           string    `json:"meta_instance_name,omitempty"`
	MetaNetworkName            string    `json:"meta_network_name,omitempty"`
}

// Row is a tagged union used for the HTTP stream, where both row kinds
// share one NDJSON body.
type Row struct {
	Kind   string     `json:"kind"`
	Global *GlobalRow `json:"global,omitempty"`
	Chain  *ChainRow  `json:"chain,omitempty"`
}

// Row kinds.
const (
	KindGlobal = "global"
	KindChain  = "chain"
)

// globalRow converts a snapshot into its global row.
func globalRow(state *aggregator.GlobalState, slot Slot, meta Meta) GlobalRow {
	return GlobalRow{
		UpdatedDateTime:            state.UpdatedAt,
		WallclockSlot:              slot.Number,
		WallclockSlotStartDateTime: slot.Start,
		WindowedTPS:                state.WindowedTPS,
		EMATPS:                     state.EMATPS,
		SpanMs:                     state.SpanMs,
		Confidence:                 state.Confidence,
		UpdateCount:                state.UpdateCount,
		PeakTPS:                    state.PeakTPS,
		ChainCount:                 uint32(len(state.Chains)),
		TotalExtrinsics:            state.TotalExtrinsics(),
		MetaInstanceName:           meta.InstanceName,
		MetaNetworkName:            meta.NetworkName,
	}
}

// chainRows converts every chain of a snapshot, ordered by chain ID.
func chainRows(state *aggregator.GlobalState, slot Slot, meta Meta) []ChainRow {
	ids := make([]string, 0, len(state.Chains))
	for id := range state.Chains {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	rows := make([]ChainRow, 0, len(ids))

	for _, id := range ids {
		c := state.Chains[id]

		rows = append(rows, ChainRow{
			UpdatedDateTime:            state.UpdatedAt,
			WallclockSlot:              slot.Number,
			WallclockSlotStartDateTime: slot.Start,
			ChainID:                    c.ID,
			ChainName:                  c.Name,
			Relay:                      c.Relay,
			ParaID:                     c.ParaID,
			BlockNumber:                c.BlockNumber,
			Extrinsics:                 c.Extrinsics,
			BlockTime:                  c.BlockTime,
			Weight:                     c.Weight,
			WindowedTPS:                c.WindowedTPS,
			EMATPS:                     c.EMATPS,
			InstantTPS:                 c.InstantTPS,
			MaxTPS:                     c.MaxTPS,
			Updates:                    c.Updates,
			MetaInstanceName:           meta.InstanceName,
			MetaNetworkName:            meta.NetworkName,
		})
	}

	return rows
}
