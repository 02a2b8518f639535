// Package tenant implements the per-(worker,app) scheduling entity (spec
// component C5): its FIFO request queues, WFQ progress accounting, owned
// RateLimiter and SampledGhostCache, and drain/migrate lifecycle.
package tenant

import (
	"math"

	"github.com/NVIDIA/ufssched/ghostcache"
	"github.com/NVIDIA/ufssched/logger"
	"github.com/NVIDIA/ufssched/param"
	"github.com/NVIDIA/ufssched/ratelimit"
	"github.com/NVIDIA/ufssched/resrc"
	"github.com/NVIDIA/ufssched/tag"
)

// Move is one planned migration leg: nfiles inodes relocate to dst_wid.
type Move struct {
	DstWid uint32
	Nfiles int
}

// BlockReq is a pending block-level device request queued on a tenant's blk
// queue, paired with the FsReq awaiting its completion.
type BlockReq struct {
	BlockNo uint64
	IsWrite bool
}

// Tenant is the scheduling state the worker consults to decide whose
// request to service next and whether a tenant's requests may submit to the
// device.
type Tenant struct {
	Tag tag.Tag

	recvQueue []interface{}
	intlQueue []interface{}
	blkQueue  []blkQueueEntry

	cpuProg uint64
	weight  uint64

	Acct      resrc.Acct
	CtrlBlock resrc.CtrlBlock
	Limiter   *ratelimit.RateLimiter
	Ghost     *ghostcache.SampledGhostCache

	numReqsInflight int
	isDrain         bool
	pendingMove     []Move

	strictCpuUsage bool

	latency latencyRing
}

type blkQueueEntry struct {
	req   BlockReq
	fsReq interface{}
}

// New creates a Tenant for t with the given initial resource envelope and
// ghost-cache sweep.
func New(t tag.Tag, initial resrc.Alloc, sweep param.GhostSweep, strictCpuUsage bool) *Tenant {
	tn := &Tenant{
		Tag:            t,
		Limiter:        ratelimit.New(initial.Bandwidth),
		Ghost:          ghostcache.New(sweep),
		strictCpuUsage: strictCpuUsage,
	}
	tn.SetResrc(initial)
	return tn
}

// Weight returns the tenant's current WFQ weight.
func (t *Tenant) Weight() uint64 { return t.weight }

// Snap returns the tenant's current resource-accounting snapshot,
// satisfying view.TenantRef.
func (t *Tenant) Snap() resrc.Snapshot { return t.Acct.Snap() }

// GhostCache returns the tenant's owned ghost cache, satisfying view.TenantRef.
func (t *Tenant) GhostCache() *ghostcache.SampledGhostCache { return t.Ghost }

// CpuCycles returns the tenant's currently allocated cpu cycles/sec,
// satisfying view.TenantRef.
func (t *Tenant) CpuCycles() uint64 { return t.CtrlBlock.Curr.CpuCycles }

// CpuProg returns the tenant's current virtual progress counter.
func (t *Tenant) CpuProg() uint64 { return t.cpuProg }

// progressToCycles converts a virtual-progress value back to real cycles at
// weight w: the inverse of the scaling record_cpu_consump applies.
func progressToCycles(prog uint64, weight uint64) uint64 {
	if weight == 0 {
		return 0
	}
	return prog * weight / param.MaxWeight
}

// RecordCpuConsump advances cpu_prog by cycles scaled by max_weight/weight,
// and records cycles into the resource-accounting counter.
func (t *Tenant) RecordCpuConsump(cycles uint64) {
	if t.weight == 0 {
		logger.Fatalf("tenant.Tenant.RecordCpuConsump(): tenant %s has zero weight", t.Tag)
	}
	t.cpuProg += cycles * param.MaxWeight / t.weight
	t.Acct.RecordCpuConsump(cycles)
}

// ResetCpuProg zeroes the virtual progress counter at an epoch boundary.
func (t *Tenant) ResetCpuProg() { t.cpuProg = 0 }

// CanSched reports whether the tenant may be picked to run this iteration.
// elapsedCycles is the real-time distance since the current epoch began.
func (t *Tenant) CanSched(elapsedCycles uint64) bool {
	if t.strictCpuUsage {
		spentCycles := progressToCycles(t.cpuProg, t.weight)
		allottedCycles := elapsedCycles * t.weight / param.CyclesToWeight(param.CyclesPerSecond)
		return spentCycles <= allottedCycles
	}
	return (len(t.recvQueue) > 0 && !t.isDrain) || len(t.intlQueue) > 0
}

// PopRecvQueue pops the next shm-originated request, or nil while draining.
func (t *Tenant) PopRecvQueue() interface{} {
	if t.isDrain || len(t.recvQueue) == 0 {
		return nil
	}
	req := t.recvQueue[0]
	t.recvQueue = t.recvQueue[1:]
	t.numReqsInflight++
	return req
}

// PushRecvQueue enqueues an incoming shm request.
func (t *Tenant) PushRecvQueue(req interface{}) {
	t.recvQueue = append(t.recvQueue, req)
}

// PopIntlQueue pops the next internally-generated follow-up request.
func (t *Tenant) PopIntlQueue() interface{} {
	if len(t.intlQueue) == 0 {
		return nil
	}
	req := t.intlQueue[0]
	t.intlQueue = t.intlQueue[1:]
	t.numReqsInflight++
	return req
}

// PushIntlQueue enqueues a request generated while servicing another (e.g.
// an indirect block lookup).
func (t *Tenant) PushIntlQueue(req interface{}) {
	t.intlQueue = append(t.intlQueue, req)
}

// PushBlkQueue enqueues a block-level device request behind its originating FsReq.
func (t *Tenant) PushBlkQueue(req BlockReq, fsReq interface{}) {
	t.blkQueue = append(t.blkQueue, blkQueueEntry{req: req, fsReq: fsReq})
}

// PopBlkQueue pops the next block request if the RateLimiter permits it at
// tsc. cacheUnderCapacity lets the worker bypass the limiter under
// unlimited_bandwidth_if_unpopulated_cache when the tenant's cache partition
// has not yet filled.
func (t *Tenant) PopBlkQueue(tsc uint64, cacheUnderCapacity bool) (BlockReq, interface{}, bool) {
	if len(t.blkQueue) == 0 {
		return BlockReq{}, nil, false
	}
	if !cacheUnderCapacity && !t.Limiter.CanSend(tsc) {
		return BlockReq{}, nil, false
	}
	entry := t.blkQueue[0]
	t.blkQueue = t.blkQueue[1:]
	t.Acct.RecordBwConsump(1)
	return entry.req, entry.fsReq, true
}

// RecordReqDone decrements the in-flight counter on completion of a
// previously popped recv/intl request.
func (t *Tenant) RecordReqDone() {
	if t.numReqsInflight == 0 {
		logger.Fatalf("tenant.Tenant.RecordReqDone(): num_reqs_inflight underflow for tenant %s", t.Tag)
	}
	t.numReqsInflight--
}

// NumReqsInflight returns the current in-flight request count.
func (t *Tenant) NumReqsInflight() int { return t.numReqsInflight }

// SetDrainForMigration marks the tenant draining and records the planned
// migration legs to evaluate once inflight work reaches zero.
func (t *Tenant) SetDrainForMigration(moves []Move) {
	t.isDrain = true
	t.pendingMove = moves
}

// ShouldMigrate reports whether the tenant is draining with no work inflight.
func (t *Tenant) ShouldMigrate() bool {
	return t.isDrain && t.numReqsInflight == 0
}

// PendingMove returns the migration plan recorded by SetDrainForMigration.
func (t *Tenant) PendingMove() []Move { return t.pendingMove }

// UnsetDrainForMigration clears drain state once migration completes.
func (t *Tenant) UnsetDrainForMigration() {
	t.isDrain = false
	t.pendingMove = nil
}

// IsDrain reports whether the tenant is currently draining.
func (t *Tenant) IsDrain() bool { return t.isDrain }

// SetResrc installs a new resource envelope: recomputes weight, updates the
// owned RateLimiter, and replaces the current allocation.
func (t *Tenant) SetResrc(r resrc.Alloc) {
	t.CtrlBlock.Curr = r
	t.weight = param.CyclesToWeight(int64(r.CpuCycles))
	t.Limiter.UpdateBandwidth(r.Bandwidth)
}

// GetMaxCacheSize returns the larger of the current cache allocation and the
// configured floor.
func (t *Tenant) GetMaxCacheSize() uint64 {
	if t.CtrlBlock.Curr.CacheSize > param.MinCache {
		return t.CtrlBlock.Curr.CacheSize
	}
	return param.MinCache
}

// GetCpuPerBlock returns cpu_consump/blocks_done, or +Inf if no blocks have
// completed.
func (t *Tenant) GetCpuPerBlock() float64 {
	return t.Acct.Snap().CyclesPerBlock()
}

// ResetStat zeroes the tenant's per-epoch accounting baseline without
// touching cache contents; used by AppResrcView.ResetStat.
func (t *Tenant) ResetStat() resrc.Snapshot {
	return t.Acct.Snap()
}

// TurnBlkRateLimiter forwards to the owned RateLimiter's Turn.
func (t *Tenant) TurnBlkRateLimiter(on bool) {
	t.Limiter.Turn(on)
}

// AccessGhostPage records a cache access against the owned ghost cache; isWrite
// accesses always count as a miss (AS_MISS), matching the original's policy
// that writes must always be predicted to fetch from the device.
func (t *Tenant) AccessGhostPage(pageID uint64, isWrite bool) {
	mode := ghostcache.Default
	if isWrite {
		mode = ghostcache.AsMiss
	}
	t.Ghost.Access(pageID, mode)
}

const latencyRingSize = 64

type latencyRing struct {
	samples [latencyRingSize]float64
	count   int
	next    int
}

// RecordLatency adds a completed device-request latency sample (cycles) to
// the tenant's rolling observability ring. This is never consulted by
// scheduling or allocation; it exists purely for logging.
func (t *Tenant) RecordLatency(cycles float64) {
	t.latency.samples[t.latency.next] = cycles
	t.latency.next = (t.latency.next + 1) % latencyRingSize
	if t.latency.count < latencyRingSize {
		t.latency.count++
	}
}

// LatencyStats returns {min, max, mean} over the current ring contents.
func (t *Tenant) LatencyStats() (min, max, mean float64) {
	if t.latency.count == 0 {
		return 0, 0, 0
	}
	min = math.Inf(1)
	max = math.Inf(-1)
	var sum float64
	for i := 0; i < t.latency.count; i++ {
		v := t.latency.samples[i]
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	return min, max, sum / float64(t.latency.count)
}
