// Package view implements the cross-worker per-app resource aggregation
// (spec component C7, AppResrcView): the Allocator's read-only picture of
// one app's tenants across every worker hosting a shard of it.
package view

import (
	"math"

	"github.com/NVIDIA/ufssched/ghostcache"
	"github.com/NVIDIA/ufssched/logger"
	"github.com/NVIDIA/ufssched/param"
	"github.com/NVIDIA/ufssched/resrc"
)

// TenantRef is the Allocator's non-owning handle to one (aid,wid) tenant: a
// stable index pair plus the accessors the Allocator needs, rather than a
// raw pointer, so a migrated or torn-down tenant never leaves a dangling
// reference (spec §9 "Tag union"/"Cyclic references" design notes).
type TenantRef interface {
	Snap() resrc.Snapshot
	GhostCache() *ghostcache.SampledGhostCache
	CpuCycles() uint64
}

type tenantEntry struct {
	ref      TenantRef
	baseline resrc.Snapshot
}

// AppResrcView aggregates one app's tenants (ordered by worker id) into the
// statistics the Allocator's planning pass consumes: a total resource-
// progress snapshot for the current window and a cross-worker ghost hit-rate
// curve.
type AppResrcView struct {
	Aid uint32

	tenants []tenantEntry
	ghost   *ghostcache.DistrGhostCacheView

	currResrc resrc.Alloc

	total          resrc.Snapshot
	cyclesPerBlock float64
	active         bool
}

// New creates an empty AppResrcView for app aid.
func New(aid uint32) *AppResrcView {
	return &AppResrcView{
		Aid:   aid,
		ghost: ghostcache.NewDistrView(),
	}
}

// AppendTenant registers a worker's tenant, seeding its accounting baseline
// and its ghost-cache view weighted by the tenant's current cpu-cycle share.
func (v *AppResrcView) AppendTenant(ref TenantRef) {
	v.tenants = append(v.tenants, tenantEntry{ref: ref, baseline: ref.Snap()})
	v.ghost.AppendTenant(ghostcache.NewView(ref.GhostCache(), param.CyclesToWeight(int64(ref.CpuCycles()))))
}

// UpdateWeight updates the idx'th worker's ghost-view weight after an
// allocation changes that worker's cpu share.
func (v *AppResrcView) UpdateWeight(idx int, cpuCycles uint64) {
	v.ghost.UpdateWeight(idx, param.CyclesToWeight(int64(cpuCycles)))
}

// ResetStat takes a fresh baseline snapshot of every tenant's resource
// counters and resets the ghost-cache view, starting a new stat-collection
// window.
func (v *AppResrcView) ResetStat() {
	for i := range v.tenants {
		v.tenants[i].baseline = v.tenants[i].ref.Snap()
	}
	v.ghost.Reset()
	v.active = false
}

// PollStat diffs current counters against the window baseline, sums into a
// total, and reports whether the app was active (completed at least one
// block) during the window. When silent is false it logs a summary table.
func (v *AppResrcView) PollStat(silent bool) (areAnyActive bool) {
	var total resrc.Snapshot
	for _, te := range v.tenants {
		curr := te.ref.Snap()
		total = total.Add(curr.Diff(te.baseline))
	}
	v.total = total

	if total.BlocksDone > 0 {
		v.cyclesPerBlock = total.CyclesPerBlock()
		v.active = true
		if !silent {
			logger.Tracef("view.AppResrcView.PollStat(): aid=%d cycles_per_block=%.1f miss_rate=%.3f blocks_done=%d",
				v.Aid, v.cyclesPerBlock, total.MeasuredMissRate(), total.BlocksDone)
		}
		return true
	}

	v.cyclesPerBlock = math.Inf(1)
	v.active = false
	return false
}

// Total returns the summed resource-progress snapshot from the most recent PollStat.
func (v *AppResrcView) Total() resrc.Snapshot { return v.total }

// IsActive reports whether the app was active in the most recent window.
func (v *AppResrcView) IsActive() bool { return v.active }

// NumTenants returns the number of worker shards this app currently has.
func (v *AppResrcView) NumTenants() int { return len(v.tenants) }

// CurrResrc returns the aggregate resource allocation currently in effect
// across all of this app's workers.
func (v *AppResrcView) CurrResrc() resrc.Alloc { return v.currResrc }

// SetCurrResrc replaces the aggregate resource allocation, called by the
// Allocator's do_alloc after computing a new plan.
func (v *AppResrcView) SetCurrResrc(r resrc.Alloc) { v.currResrc = r }

// GetHitRate delegates to the underlying DistrGhostCacheView.
func (v *AppResrcView) GetHitRate(cacheSize uint64) float64 {
	return v.ghost.GetHitRate(cacheSize)
}
