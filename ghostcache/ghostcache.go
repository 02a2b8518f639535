// Package ghostcache implements the sampled ghost cache (spec component C2):
// hit/miss curves for a swept range of candidate cache sizes, estimated
// without actually allocating those sizes, plus the cross-worker views built
// on top of it (GhostCacheView, DistrGhostCacheView).
package ghostcache

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/creachadair/cityhash"

	"github.com/NVIDIA/ufssched/param"
)

// Mode selects how an access is accounted.
type Mode int

const (
	// Default accounts the access as a hit or miss per the simulated LRU.
	Default Mode = iota
	// AsMiss forces the access to be counted as a miss (used for writes
	// that must always fetch from the device regardless of LRU state).
	AsMiss
)

// HitRateCnt is a single {hit_cnt, miss_cnt} observation for one candidate size.
type HitRateCnt struct {
	HitCnt  uint64
	MissCnt uint64
}

// samplingRatio is the fraction of accesses tracked by the simulated LRUs;
// keeps bookkeeping cost proportional to the sample rate, not to the number
// of configured ticks.
const samplingRatio = 0.05

var samplingThreshold = uint64(samplingRatio * float64(^uint64(0)))

func sampled(pageID uint64) bool {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], pageID)
	return cityhash.Hash64(buf[:]) < samplingThreshold
}

// tick is one simulated LRU of a fixed capacity, tracked in sampled-page units.
type tick struct {
	capacity uint64 // in sampled pages
	lru      []uint64
	present  map[uint64]struct{}
	stat     HitRateCnt
}

func newTick(capacity uint64) *tick {
	return &tick{
		capacity: capacity,
		present:  make(map[uint64]struct{}),
	}
}

func (tk *tick) access(pageID uint64, asMiss bool) {
	if _, hit := tk.present[pageID]; hit && !asMiss {
		tk.stat.HitCnt++
		// move to front (most-recently-used)
		for i, p := range tk.lru {
			if p == pageID {
				tk.lru = append(tk.lru[:i], tk.lru[i+1:]...)
				break
			}
		}
		tk.lru = append([]uint64{pageID}, tk.lru...)
		return
	}

	tk.stat.MissCnt++
	if _, present := tk.present[pageID]; !present {
		if uint64(len(tk.lru)) >= tk.capacity && tk.capacity > 0 {
			evict := tk.lru[len(tk.lru)-1]
			tk.lru = tk.lru[:len(tk.lru)-1]
			delete(tk.present, evict)
		}
		if tk.capacity > 0 {
			tk.lru = append([]uint64{pageID}, tk.lru...)
			tk.present[pageID] = struct{}{}
		}
	}
}

// SampledGhostCache maintains per-tick hit/miss curves over a configured
// sweep of candidate cache sizes. Access is called from the owning worker's
// goroutine on every dispatch; GetStat/enforceInclusive/Reset are called from
// the Allocator's goroutine during planning. mu guards the tick slice's
// present/lru/stat fields across that cross-goroutine access, matching the
// release-semantics requirement the worker-updated ResrcAcct counters meet
// via bucketstats.Total.
type SampledGhostCache struct {
	mu    sync.Mutex
	sweep param.GhostSweep
	ticks []*tick
	sizes []uint64 // byte size represented by each tick, ascending
}

// New creates a SampledGhostCache over the given size sweep.
func New(sweep param.GhostSweep) *SampledGhostCache {
	g := &SampledGhostCache{sweep: sweep}
	for size := sweep.MinSize; size <= sweep.MaxSize; size += sweep.Tick {
		pages := uint64(float64(size/param.BlockSize) * samplingRatio)
		g.ticks = append(g.ticks, newTick(pages))
		g.sizes = append(g.sizes, size)
	}
	return g
}

// Access records one cache access against every configured tick.
func (g *SampledGhostCache) Access(pageID uint64, mode Mode) {
	if !sampled(pageID) {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, tk := range g.ticks {
		tk.access(pageID, mode == AsMiss)
	}
}

// GetStat returns the (hit_cnt, miss_cnt) observation for the tick nearest
// to, but not exceeding, the requested size, with inclusiveness enforced:
// hit_cnt is clamped to be non-decreasing and miss_cnt non-increasing in size
// relative to neighboring ticks.
func (g *SampledGhostCache) GetStat(size uint64) HitRateCnt {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.enforceInclusive()

	idx := sort.Search(len(g.sizes), func(i int) bool { return g.sizes[i] > size })
	if idx == 0 {
		if len(g.ticks) == 0 {
			return HitRateCnt{}
		}
		return g.ticks[0].stat
	}
	return g.ticks[idx-1].stat
}

// enforceInclusive clamps the curve so hit_cnt is non-decreasing and
// miss_cnt non-increasing as size grows, re-checked on every read since the
// underlying ticks are mutated concurrently by the owning worker. Callers
// must hold g.mu.
func (g *SampledGhostCache) enforceInclusive() {
	for i := 1; i < len(g.ticks); i++ {
		if g.ticks[i].stat.HitCnt < g.ticks[i-1].stat.HitCnt {
			g.ticks[i].stat.HitCnt = g.ticks[i-1].stat.HitCnt
		}
		if g.ticks[i].stat.MissCnt > g.ticks[i-1].stat.MissCnt {
			g.ticks[i].stat.MissCnt = g.ticks[i-1].stat.MissCnt
		}
	}
}

// Reset clears all accumulated hit/miss counters, preserving the sweep configuration.
func (g *SampledGhostCache) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, tk := range g.ticks {
		tk.stat = HitRateCnt{}
		tk.lru = tk.lru[:0]
		tk.present = make(map[uint64]struct{})
	}
}
