package aggregator

import (
	"fmt"
	"sync"

	"github.com/axiomhq/hyperloglog"
)

// Block is one entry of the live block feed.
type Block struct {
	Key         string  `json:"key"`
	ChainID     string  `json:"chain_id"`
	Name        string  `json:"name"`
	Relay       string  `json:"relay"`
	ParaID      uint32  `json:"para_id"`
	BlockNumber uint64  `json:"block_number"`
	Extrinsics  uint64  `json:"extrinsics"`
	Timestamp   int64   `json:"timestamp"`
	Weight      float64 `json:"weight"`
}

// BlockFeed keeps the newest blocks across all chains, de-duplicated by
// chain and timestamp, and estimates how many distinct blocks were seen.
type BlockFeed struct {
	size int

	mu       sync.RWMutex
	blocks   []Block // newest first
	keys     map[string]struct{}
	distinct *hyperloglog.Sketch
	observed uint64
}

// NewBlockFeed creates a feed holding at most size blocks.
func NewBlockFeed(size int) *BlockFeed {
	if size <= 0 {
		size = DefaultConfig().FeedSize
	}

	return &BlockFeed{
		size:     size,
		blocks:   make([]Block, 0, size),
		keys:     make(map[string]struct{}, size),
		distinct: hyperloglog.New14(),
	}
}

// BlockKey builds the feed de-duplication key.
func BlockKey(chainID string, timestamp int64) string {
	return fmt.Sprintf("%s-%d", chainID, timestamp)
}

// HandleSnapshot is a Subscriber that records the block of the chain
// that produced the snapshot.
func (f *BlockFeed) HandleSnapshot(state *GlobalState) {
	c, ok := state.Chains[state.LastChainID]
	if !ok {
		return
	}

	f.Add(Block{
		Key:         BlockKey(c.ID, c.Timestamp),
		ChainID:     c.ID,
		Name:        c.Name,
		Relay:       c.Relay,
		ParaID:      c.ParaID,
		BlockNumber: c.BlockNumber,
		Extrinsics:  c.Extrinsics,
		Timestamp:   c.Timestamp,
		Weight:      c.Weight,
	})
}

// Add inserts b at the head of the feed. It returns false when a block
// with the same key is already present.
func (f *BlockFeed) Add(b Block) bool {
	if b.Key == "" {
		b.Key = BlockKey(b.ChainID, b.Timestamp)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.observed++
	f.distinct.Insert([]byte(b.Key))

	if _, dup := f.keys[b.Key]; dup {
		return false
	}

	if len(f.blocks) == f.size {
		evicted := f.blocks[len(f.blocks)-1]
		delete(f.keys, evicted.Key)
		f.blocks = f.blocks[:len(f.blocks)-1]
	}

	f.blocks = append(f.blocks, Block{})
	copy(f.blocks[1:], f.blocks)
	f.blocks[0] = b
	f.keys[b.Key] = struct{}{}

	return true
}

// Blocks returns the feed, newest first.
func (f *BlockFeed) Blocks() []Block {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Block, len(f.blocks))
	copy(out, f.blocks)

	return out
}

// Observed returns the number of blocks offered to the feed, including
// duplicates.
func (f *BlockFeed) Observed() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.observed
}

// DistinctEstimate returns the approximate number of distinct blocks
// offered to the feed.
func (f *BlockFeed) DistinctEstimate() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.distinct.Estimate()
}
