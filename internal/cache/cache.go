// Package cache is the read-through, write-invalidate cache for hot memory records.
package cache

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/rcliao/memgraph/internal/model"
	"github.com/rcliao/memgraph/internal/observe"
)

// DefaultTTL is how long a cached record stays valid.
const DefaultTTL = time.Hour

// Cache stores memory records by id. Implementations never fail the caller:
// misses, drops and internal errors all look like a miss.
//
// Read-through callers take Generation(id) before loading from the store and
// hand it to Set. A Set whose generation was overtaken by an Invalidate is
// dropped, so a copy read before a write can never land after it.
type Cache interface {
	Get(id string) (*model.Memory, bool)
	Generation(id string) uint64
	Set(m *model.Memory, gen uint64)
	Invalidate(id string)
}

// genStripes bounds the generation table. Ids sharing a stripe only cause
// extra dropped sets.
const genStripes = 1024

// Options configures a Ristretto cache.
type Options struct {
	TTL     time.Duration
	MaxCost int64 // max number of records held
}

// Ristretto is a Cache backed by dgraph-io/ristretto.
type Ristretto struct {
	c   *ristretto.Cache
	ttl time.Duration
	obs *observe.Observer

	mu   sync.Mutex // orders Set against Invalidate
	gens [genStripes]uint64
}

// New creates a ristretto-backed cache.
func New(opts Options, obs *observe.Observer) (*Ristretto, error) {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxCost <= 0 {
		opts.MaxCost = 10000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: opts.MaxCost * 10,
		MaxCost:     opts.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Ristretto{c: c, ttl: opts.TTL, obs: observe.OrDiscard(obs)}, nil
}

// Get returns a private copy of the cached record.
func (r *Ristretto) Get(id string) (m *model.Memory, ok bool) {
	defer r.recoverAs("get", id, func() { m, ok = nil, false })
	v, found := r.c.Get(id)
	if !found {
		return nil, false
	}
	cached, isMem := v.(*model.Memory)
	if !isMem {
		return nil, false
	}
	return cached.Clone(), true
}

func stripe(id string) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % genStripes)
}

// Generation returns the invalidation count for id.
func (r *Ristretto) Generation(id string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gens[stripe(id)]
}

// Set stores a copy of m unless id was invalidated since gen was taken.
// Admission is asynchronous and may be dropped.
func (r *Ristretto) Set(m *model.Memory, gen uint64) {
	defer r.recoverAs("set", m.ID, nil)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gens[stripe(m.ID)] != gen {
		r.obs.Log().Debug().Str("id", m.ID).Msg("stale cache set skipped")
		return
	}
	if !r.c.SetWithTTL(m.ID, m.Clone(), 1, r.ttl) {
		r.obs.Log().Debug().Str("id", m.ID).Msg("cache set dropped")
	}
}

// Invalidate removes id synchronously. It bumps the generation so in-flight
// reads cannot repopulate id, and flushes pending admissions before the delete.
func (r *Ristretto) Invalidate(id string) {
	defer r.recoverAs("invalidate", id, nil)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gens[stripe(id)]++
	r.c.Wait()
	r.c.Del(id)
}

// Wait blocks until buffered writes are applied.
func (r *Ristretto) Wait() {
	r.c.Wait()
}

// Close stops the cache's background goroutines.
func (r *Ristretto) Close() {
	r.c.Close()
}

func (r *Ristretto) recoverAs(op, id string, onPanic func()) {
	if p := recover(); p != nil {
		r.obs.Log().Warn().Str("op", op).Str("id", id).Msg("cache failure ignored")
		if onPanic != nil {
			onPanic()
		}
	}
}

// Nop is a Cache that holds nothing.
type Nop struct{}

func (Nop) Get(string) (*model.Memory, bool) { return nil, false }
func (Nop) Generation(string) uint64 { return 0 }
func (Nop) Set(*model.Memory, uint64) {}
func (Nop) Invalidate(string) {}
