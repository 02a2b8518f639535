// Package resrc implements the monotone resource-accounting counters (spec
// component C5's ResrcAcct) and the resource-allocation value types shipped
// between the Allocator and a worker (ResrcAlloc, ResrcCtrlBlock). Counters
// are grounded on the teacher's bucketstats atomic Total fields, used the
// way the teacher registers a named group of counters per owning entity.
package resrc

import (
	"math"

	"github.com/NVIDIA/ufssched/bucketstats"
)

// Acct holds the monotone per-tenant counters a worker publishes and the
// Allocator reads with acquire semantics. Each field is a bucketstats.Total,
// an atomically-incremented counter, matching the teacher's pattern of a
// struct of named Totaler fields registered as one statistics group.
type Acct struct {
	BlocksDone bucketstats.Total
	BwConsump  bucketstats.Total
	CpuConsump bucketstats.Total
}

// Register publishes acct's counters under the given tenant-scoped group
// name so they are visible to whatever reporting the process wires up.
func (a *Acct) Register(groupName string) {
	bucketstats.Register("resrc", groupName, a)
}

// Unregister removes a previously-registered tenant's counters, called on
// app-detach when the owning Tenant is torn down.
func (a *Acct) Unregister(groupName string) {
	bucketstats.UnRegister("resrc", groupName)
}

// RecordBlocksDone adds n to the completed-block counter.
func (a *Acct) RecordBlocksDone(n uint64) { a.BlocksDone.Add(n) }

// RecordBwConsump adds n blocks to the bandwidth-consumed counter.
func (a *Acct) RecordBwConsump(n uint64) { a.BwConsump.Add(n) }

// RecordCpuConsump adds cycles to the cpu-consumed counter.
func (a *Acct) RecordCpuConsump(cycles uint64) { a.CpuConsump.Add(cycles) }

// Snapshot is a point-in-time copy of Acct's three counters, used to diff
// against a baseline taken at the start of a stat-collection window.
type Snapshot struct {
	BlocksDone uint64
	BwConsump  uint64
	CpuConsump uint64
}

// Snap reads all three counters as one Snapshot.
func (a *Acct) Snap() Snapshot {
	return Snapshot{
		BlocksDone: a.BlocksDone.TotalGet(),
		BwConsump:  a.BwConsump.TotalGet(),
		CpuConsump: a.CpuConsump.TotalGet(),
	}
}

// Diff returns curr-prev, field-wise. Counters are monotone, so every field
// of the result is non-negative as long as curr was sampled after prev.
func (curr Snapshot) Diff(prev Snapshot) Snapshot {
	return Snapshot{
		BlocksDone: curr.BlocksDone - prev.BlocksDone,
		BwConsump:  curr.BwConsump - prev.BwConsump,
		CpuConsump: curr.CpuConsump - prev.CpuConsump,
	}
}

// Add sums two snapshots field-wise, used to total per-tenant progress
// across all tenants of an app during a planning pass.
func (s Snapshot) Add(other Snapshot) Snapshot {
	return Snapshot{
		BlocksDone: s.BlocksDone + other.BlocksDone,
		BwConsump:  s.BwConsump + other.BwConsump,
		CpuConsump: s.CpuConsump + other.CpuConsump,
	}
}

// CyclesPerBlock returns CpuConsump/BlocksDone, or +Inf if no blocks have
// completed yet.
func (s Snapshot) CyclesPerBlock() float64 {
	if s.BlocksDone == 0 {
		return math.Inf(1)
	}
	return float64(s.CpuConsump) / float64(s.BlocksDone)
}

// MeasuredMissRate returns BwConsump/BlocksDone clamped to [0,1]; BwConsump
// counts blocks actually fetched from the device, so this approximates the
// fraction of accesses that missed the in-memory cache.
func (s Snapshot) MeasuredMissRate() float64 {
	if s.BlocksDone == 0 {
		return 0
	}
	rate := float64(s.BwConsump) / float64(s.BlocksDone)
	if rate > 1 {
		return 1
	}
	return rate
}

// Alloc is the {cache, bandwidth, cpu} triple the Allocator computes for one
// (app, worker) pair and ships to the owning worker inside an AllocDecision.
type Alloc struct {
	CacheSize uint64 // blocks
	Bandwidth int64  // blocks/sec
	CpuCycles uint64 // cycles/sec
}

// CtrlBlock is a Tenant's current resource envelope: the Alloc currently in
// effect, mirrored into the owned RateLimiter and cache partition size by
// Tenant.SetResrc.
type CtrlBlock struct {
	Curr Alloc
}
