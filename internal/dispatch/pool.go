package dispatch

import (
	"errors"
	"log/slog"

	"github.com/cespare/xxhash/v2"
)

// Pool shards keys across a fixed set of lanes. All events for one key land
// on the same lane, so per-key ordering holds while different keys may be
// delivered concurrently. A pool of one lane behaves like a single event loop.
type Pool struct {
	lanes []*Lane
}

// NewPool starts n lanes. n below one is treated as one.
func NewPool(n int, logger *slog.Logger, observer Observer) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{lanes: make([]*Lane, n)}
	for i := range p.lanes {
		p.lanes[i] = NewLane(logger, observer)
	}
	return p
}

// Dispatch queues fn on the lane owning key.
func (p *Pool) Dispatch(key string, kind Kind, fn func()) error {
	return p.lane(key).Dispatch(key, kind, fn)
}

// Size returns the number of lanes.
func (p *Pool) Size() int { return len(p.lanes) }

// Close drains and stops every lane.
func (p *Pool) Close() error {
	errs := make([]error, 0, len(p.lanes))
	for _, l := range p.lanes {
		errs = append(errs, l.Close())
	}
	return errors.Join(errs...)
}

func (p *Pool) lane(key string) *Lane {
	if len(p.lanes) == 1 {
		return p.lanes[0]
	}
	return p.lanes[xxhash.Sum64String(key)%uint64(len(p.lanes))]
}
