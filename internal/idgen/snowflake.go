package idgen

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

const (
	timestampBits = 41
	machineIDBits = 10
	sequenceBits  = 12

	maxMachineID = (1 << machineIDBits) - 1 // 1023
	maxSequence  = (1 << sequenceBits) - 1  // 4095

	machineIDShift = sequenceBits
	timestampShift = sequenceBits + machineIDBits
)

// Generator produces unique, roughly time-ordered message IDs.
type Generator interface {
	Generate() (string, error)
}

// Snowflake generates 64-bit snowflake IDs encoded as decimal strings.
type Snowflake struct {
	mu        sync.Mutex
	epoch     int64 // custom epoch in ms
	machineID int64
	sequence  int64
	lastTime  int64
	now       func() int64
}

// Parts is a decoded snowflake ID.
type Parts struct {
	TimestampMs int64
	MachineID   int64
	Sequence    int64
}

// NewSnowflake creates a generator. machineID must be in [0, 1023] and
// epoch is in unix milliseconds.
func NewSnowflake(machineID int64, epoch int64) (*Snowflake, error) {
	if machineID < 0 || machineID > maxMachineID {
		return nil, fmt.Errorf("machine_id must be between 0 and %d, got %d", maxMachineID, machineID)
	}
	return &Snowflake{
		epoch:     epoch,
		machineID: machineID,
		now:       func() int64 { return time.Now().UnixMilli() },
	}, nil
}

func (g *Snowflake) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now-g.epoch < 0 {
		return "", fmt.Errorf("current time is before custom epoch")
	}

	// A small backwards step is absorbed by staying on lastTime.
	if now < g.lastTime {
		if g.lastTime-now > 1000 {
			return "", fmt.Errorf("clock moved backwards: current=%d, last=%d", now, g.lastTime)
		}
		now = g.lastTime
	}

	if now == g.lastTime {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// Sequence exhausted, wait for next millisecond
			for now <= g.lastTime {
				time.Sleep(100 * time.Microsecond)
				now = g.now()
			}
		}
	} else {
		g.sequence = 0
	}

	g.lastTime = now

	id := ((now - g.epoch) << timestampShift) | (g.machineID << machineIDShift) | g.sequence
	return strconv.FormatInt(id, 10), nil
}

// Parse decodes an ID produced by this generator's epoch.
func (g *Snowflake) Parse(id string) (*Parts, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid integer format: %w", err)
	}
	if n < 0 {
		return nil, fmt.Errorf("id must be a positive integer")
	}

	return &Parts{
		TimestampMs: ((n >> timestampShift) & ((1 << timestampBits) - 1)) + g.epoch,
		MachineID:   (n >> machineIDShift) & maxMachineID,
		Sequence:    n & maxSequence,
	}, nil
}
