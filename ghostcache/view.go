package ghostcache

// GhostCacheView wraps one worker's SampledGhostCache with the weight used
// to compose it into a DistrGhostCacheView.
type GhostCacheView struct {
	ghost  *SampledGhostCache
	weight uint64
}

// NewView wraps a SampledGhostCache with its worker's cpu-weight.
func NewView(ghost *SampledGhostCache, weight uint64) *GhostCacheView {
	return &GhostCacheView{ghost: ghost, weight: weight}
}

// UpdateWeight changes the weight used to split aggregate cache size across workers.
func (v *GhostCacheView) UpdateWeight(weight uint64) {
	v.weight = weight
}

// DistrGhostCacheView composes the per-worker ghost-cache curves of every
// worker hosting a tenant's shard into one cross-worker hit-rate curve,
// splitting a candidate aggregate cache size across workers proportional to
// each worker's cpu-weight.
type DistrGhostCacheView struct {
	views []*GhostCacheView

	// memo caches GetHitRate results for one planning pass; cleared on Reset.
	memo map[uint64]float64
}

// NewDistrView creates an empty DistrGhostCacheView.
func NewDistrView() *DistrGhostCacheView {
	return &DistrGhostCacheView{memo: make(map[uint64]float64)}
}

// AppendTenant registers one worker's GhostCacheView.
func (d *DistrGhostCacheView) AppendTenant(v *GhostCacheView) {
	d.views = append(d.views, v)
	d.memo = make(map[uint64]float64)
}

// UpdateWeight updates the weight of the idx'th worker's view.
func (d *DistrGhostCacheView) UpdateWeight(idx int, weight uint64) {
	d.views[idx].UpdateWeight(weight)
	d.memo = make(map[uint64]float64)
}

// Reset clears the memoization cache; called once per Allocator poll.
func (d *DistrGhostCacheView) Reset() {
	d.memo = make(map[uint64]float64)
}

// GetHitRate returns the aggregate hit rate a cache of cacheSize bytes would
// achieve, split across workers proportional to cpu-weight and summed.
// Results are memoized for the current planning pass.
func (d *DistrGhostCacheView) GetHitRate(cacheSize uint64) float64 {
	if v, ok := d.memo[cacheSize]; ok {
		return v
	}

	var totalWeight uint64
	for _, v := range d.views {
		totalWeight += v.weight
	}
	if totalWeight == 0 || len(d.views) == 0 {
		d.memo[cacheSize] = 0
		return 0
	}

	var hits, total uint64
	for _, v := range d.views {
		share := cacheSize * v.weight / totalWeight
		stat := v.ghost.GetStat(share)
		hits += stat.HitCnt
		total += stat.HitCnt + stat.MissCnt
	}

	var rate float64
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	d.memo[cacheSize] = rate
	return rate
}
