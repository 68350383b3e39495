package config

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// Source says where an overlay came from. It only shows up in logs and
// snapshots.
type Source string

const (
	SourceSeed  Source = "seed"
	SourceFetch Source = "fetch"
	SourcePush  Source = "push"
)

// Snapshot is one applied state of a Cell.
type Snapshot struct {
	Seq    uint64
	Source Source
	Config WidgetConfig
}

// Cell is the single writer of one instance's configuration. Writers
// reserve a sequence number when their overlay is requested and apply it
// when it resolves; overlays older than the applied one are discarded.
// Every accepted overlay notifies the subscribers once, in order.
type Cell struct {
	mu       sync.Mutex
	clientID string
	fields   map[string]json.RawMessage
	issued   uint64
	applied  uint64
	source   Source
	nextSub  int
	subs     map[int]func(Snapshot)
	notifyMu sync.Mutex
}

// NewCell creates a cell at sequence zero holding seed.
func NewCell(clientID string, seed map[string]json.RawMessage) *Cell {
	fields := make(map[string]json.RawMessage, len(seed))
	for k, v := range seed {
		fields[k] = v
	}
	return &Cell{
		clientID: clientID,
		fields:   fields,
		source:   SourceSeed,
		subs:     map[int]func(Snapshot){},
	}
}

// ClientID returns the immutable tenant identifier.
func (c *Cell) ClientID() string {
	return c.clientID
}

// Reserve issues the next sequence number.
func (c *Cell) Reserve() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.issued++
	return c.issued
}

// Apply overlays payload at sequence seq. It returns false without error
// when a newer overlay was already applied. A malformed payload returns an
// error wrapping ErrMalformed and leaves the cell untouched.
func (c *Cell) Apply(seq uint64, source Source, payload []byte) (Snapshot, bool, error) {
	overlay, err := ParsePayload(payload)
	if err != nil {
		return c.Snapshot(), false, err
	}

	// notifyMu keeps subscriber callbacks in apply order without holding mu
	// while they run.
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if seq < c.applied {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, false, nil
	}
	if seq > c.issued {
		c.mu.Unlock()
		return Snapshot{}, false, errors.Errorf("sequence %d was never reserved", seq)
	}
	for k, v := range overlay {
		if k == KeyClientID || k == KeyClientIDSnake {
			continue
		}
		c.fields[k] = v
	}
	c.applied = seq
	c.source = source
	snap := c.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(c.subs))
	for i := 0; i < c.nextSub; i++ {
		if fn, ok := c.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return snap, true, nil
}

// Push reserves a sequence number and applies payload at once, which is
// what an arriving live-channel frame does.
func (c *Cell) Push(payload []byte) (Snapshot, bool, error) {
	if _, err := ParsePayload(payload); err != nil {
		return c.Snapshot(), false, err
	}
	return c.Apply(c.Reserve(), SourcePush, payload)
}

// Snapshot returns the current state.
func (c *Cell) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Cell) snapshotLocked() Snapshot {
	return Snapshot{
		Seq:    c.applied,
		Source: c.source,
		Config: resolve(c.clientID, c.fields),
	}
}

// Subscribe registers fn for every accepted overlay. The returned function
// removes the subscription.
func (c *Cell) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}
