// Package clock provides relay chain slot timing used to pace sink
// flushes.
package clock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethpandaops/ethwallclock"
	"github.com/sirupsen/logrus"
)

// Config describes relay chain slot timing.
type Config struct {
	// GenesisTime anchors slot zero.
	GenesisTime time.Time `yaml:"genesis_time"`

	// SlotDuration is the relay chain block time. Defaults to 6s.
	SlotDuration time.Duration `yaml:"slot_duration"`

	// SlotsPerEpoch is the number of slots in a session epoch.
	// Defaults to 2400 (Polkadot).
	SlotsPerEpoch uint64 `yaml:"slots_per_epoch"`
}

// DefaultConfig returns Polkadot relay chain timing.
func DefaultConfig() Config {
	return Config{
		GenesisTime:   time.Date(2020, 5, 26, 15, 36, 18, 0, time.UTC),
		SlotDuration:  6 * time.Second,
		SlotsPerEpoch: 2400,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.GenesisTime.IsZero() {
		return errors.New("clock.genesis_time is required")
	}

	if c.SlotDuration < time.Millisecond {
		return errors.New("clock.slot_duration must be at least 1ms")
	}

	if c.SlotsPerEpoch == 0 {
		return errors.New("clock.slots_per_epoch must be > 0")
	}

	return nil
}

// SlotChangedFunc is called when the wall clock enters a new slot.
type SlotChangedFunc func(slot uint64, start time.Time)

// Clock reports relay chain slots.
type Clock interface {
	// Start begins delivering slot changes.
	Start(ctx context.Context) error
	// Stop terminates the clock.
	Stop() error
	// CurrentSlot returns the current slot number.
	CurrentSlot() uint64
	// SlotStartTime returns the wall-clock start of the given slot.
	SlotStartTime(slot uint64) time.Time
	// Epoch returns the epoch containing slot.
	Epoch(slot uint64) uint64
	// OnSlotChanged registers a callback for slot transitions.
	OnSlotChanged(fn SlotChangedFunc)
}

type clock struct {
	log       logrus.FieldLogger
	cfg       Config
	wallclock *ethwallclock.EthereumBeaconChain

	mu        sync.RWMutex
	callbacks []SlotChangedFunc
	stopOnce  sync.Once
}

// New creates a Clock. Zero fields take the Polkadot defaults.
func New(log logrus.FieldLogger, cfg Config) (Clock, error) {
	d := DefaultConfig()

	if cfg.GenesisTime.IsZero() {
		cfg.GenesisTime = d.GenesisTime
	}

	if cfg.SlotDuration == 0 {
		cfg.SlotDuration = d.SlotDuration
	}

	if cfg.SlotsPerEpoch == 0 {
		cfg.SlotsPerEpoch = d.SlotsPerEpoch
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &clock{
		log: log.WithField("component", "clock"),
		cfg: cfg,
		wallclock: ethwallclock.NewEthereumBeaconChain(
			cfg.GenesisTime,
			cfg.SlotDuration,
			cfg.SlotsPerEpoch,
		),
		callbacks: make([]SlotChangedFunc, 0, 4),
	}, nil
}

func (c *clock) Start(_ context.Context) error {
	// ethwallclock invokes this from its own goroutine.
	c.wallclock.OnSlotChanged(func(slot ethwallclock.Slot) {
		number := slot.Number()
		start := slot.TimeWindow().Start()

		c.log.WithField("slot", number).Debug("Slot changed")

		c.mu.RLock()
		callbacks := c.callbacks
		c.mu.RUnlock()

		for _, fn := range callbacks {
			fn(number, start)
		}
	})

	c.log.WithFields(logrus.Fields{
		"genesis_time":    c.cfg.GenesisTime,
		"slot_duration":   c.cfg.SlotDuration,
		"slots_per_epoch": c.cfg.SlotsPerEpoch,
	}).Info("Clock started")

	return nil
}

func (c *clock) Stop() error {
	c.stopOnce.Do(func() {
		c.wallclock.Stop()
	})

	return nil
}

func (c *clock) CurrentSlot() uint64 {
	current := c.wallclock.Slots().Current()

	return current.Number()
}

func (c *clock) SlotStartTime(slot uint64) time.Time {
	return c.cfg.GenesisTime.Add(time.Duration(slot) * c.cfg.SlotDuration)
}

func (c *clock) Epoch(slot uint64) uint64 {
	return slot / c.cfg.SlotsPerEpoch
}

func (c *clock) OnSlotChanged(fn SlotChangedFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.callbacks = append(c.callbacks, fn)
}
