// Package snowflake packs and unpacks the platform's 64-bit time-ordered
// identifiers.
//
// Layout, most significant bit first:
//
//	| 42 bits timestamp delta | 5 bits worker | 5 bits process | 12 bits increment |
//
// The timestamp delta counts milliseconds since Epoch. All arithmetic is done
// on uint64 so the full 64-bit range round-trips without precision loss.
package snowflake

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Epoch is the platform's custom epoch in Unix milliseconds (2015-01-01T00:00:00Z).
const Epoch int64 = 1420070400000

const (
	timestampBits = 42
	workerBits    = 5
	processBits   = 5
	incrementBits = 12

	incrementShift = 0
	processShift   = incrementBits
	workerShift    = processShift + processBits
	timestampShift = workerShift + workerBits

	timestampMask uint64 = 1<<timestampBits - 1
	workerMask    uint64 = 1<<workerBits - 1
	processMask   uint64 = 1<<processBits - 1
	incrementMask uint64 = 1<<incrementBits - 1
)

var (
	// ErrInvalidID is returned when an encoded identifier is not an unsigned
	// 64-bit decimal integer.
	ErrInvalidID = errors.New("snowflake: invalid identifier")

	// ErrFieldRange is returned by EncodeStrict when a field does not fit its
	// bit width.
	ErrFieldRange = errors.New("snowflake: field out of range")
)

// DecodedIdentifier holds the logical fields of an identifier.
type DecodedIdentifier struct {
	// Timestamp is the absolute creation time in Unix milliseconds.
	Timestamp int64  `json:"timestamp"`
	Worker    uint64 `json:"worker"`
	Process   uint64 `json:"process"`
	Increment uint64 `json:"increment"`
}

// Pack packs the fields into a 64-bit value. Each field is masked to its
// width, so out-of-range values are truncated rather than rejected.
func Pack(d DecodedIdentifier) uint64 {
	delta := uint64(d.Timestamp - Epoch)
	return (delta&timestampMask)<<timestampShift |
		(d.Worker&workerMask)<<workerShift |
		(d.Process&processMask)<<processShift |
		(d.Increment&incrementMask)<<incrementShift
}

// Unpack splits a 64-bit value into its fields.
func Unpack(id uint64) DecodedIdentifier {
	return DecodedIdentifier{
		Timestamp: int64(id>>timestampShift) + Epoch,
		Worker:    (id >> workerShift) & workerMask,
		Process:   (id >> processShift) & processMask,
		Increment: (id >> incrementShift) & incrementMask,
	}
}

// Encode packs d and renders it as a decimal string.
func Encode(d DecodedIdentifier) string {
	return strconv.FormatUint(Pack(d), 10)
}

// EncodeStrict is Encode but fails with ErrFieldRange instead of truncating.
func EncodeStrict(d DecodedIdentifier) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	return Encode(d), nil
}

// Decode parses a decimal identifier and splits it into its fields.
func Decode(s string) (DecodedIdentifier, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return DecodedIdentifier{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return Unpack(id), nil
}

// Time returns the creation time embedded in an encoded identifier.
func Time(s string) (time.Time, error) {
	d, err := Decode(s)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(d.Timestamp).UTC(), nil
}

// Validate reports whether every field fits its bit width.
func (d DecodedIdentifier) Validate() error {
	delta := d.Timestamp - Epoch
	switch {
	case delta < 0 || uint64(delta) > timestampMask:
		return fmt.Errorf("%w: timestamp %d", ErrFieldRange, d.Timestamp)
	case d.Worker > workerMask:
		return fmt.Errorf("%w: worker %d", ErrFieldRange, d.Worker)
	case d.Process > processMask:
		return fmt.Errorf("%w: process %d", ErrFieldRange, d.Process)
	case d.Increment > incrementMask:
		return fmt.Errorf("%w: increment %d", ErrFieldRange, d.Increment)
	}
	return nil
}

// Generator mints identifiers for a fixed worker and process. It is safe for
// concurrent use.
type Generator struct {
	mu        sync.Mutex
	worker    uint64
	process   uint64
	lastMilli int64
	increment uint64
	now       func() time.Time
}

// NewGenerator creates a generator for the given worker and process ids.
func NewGenerator(worker, process uint64) (*Generator, error) {
	if worker > workerMask || process > processMask {
		return nil, fmt.Errorf("%w: worker %d process %d", ErrFieldRange, worker, process)
	}
	return &Generator{worker: worker, process: process, now: time.Now}, nil
}

// Next returns the next identifier. When the increment space of the current
// millisecond is exhausted it waits for the clock to advance.
func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms < g.lastMilli {
		ms = g.lastMilli
	}
	if ms == g.lastMilli {
		g.increment = (g.increment + 1) & incrementMask
		if g.increment == 0 {
			for ms <= g.lastMilli {
				time.Sleep(time.Millisecond)
				ms = g.now().UnixMilli()
			}
		}
	} else {
		g.increment = 0
	}
	g.lastMilli = ms

	return Encode(DecodedIdentifier{
		Timestamp: ms,
		Worker:    g.worker,
		Process:   g.process,
		Increment: g.increment,
	})
}
