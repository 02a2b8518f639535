package alloc

import (
	"github.com/NVIDIA/ufssched/param"
	"github.com/NVIDIA/ufssched/view"
)

// fullHitThreshold is the hit rate above which growing a view's cache is
// assumed to yield no further bandwidth benefit.
const fullHitThreshold = 0.999

// predictedBandwidth returns the device bandwidth (blocks/sec) a view would
// need at a hypothetical cacheSize, given its currently measured request
// rate reqRate (blocks/sec) and its ghost-cache hit-rate curve.
func predictedBandwidth(v *view.AppResrcView, cacheSize uint64, reqRate float64) float64 {
	hitRate := v.GetHitRate(param.BlocksToBytes(cacheSize))
	return reqRate * (1 - hitRate)
}

// predWhatIfMoreCache estimates the bandwidth v could give back to the pool
// if grown by cacheDelta blocks. It aborts (ok=false) if v's hit rate is
// already at the full-hit threshold, since no further reduction is possible.
func predWhatIfMoreCache(v *view.AppResrcView, cacheDelta uint64, reqRate float64) (bwRel float64, ok bool) {
	curr := v.CurrResrc().CacheSize
	if v.GetHitRate(param.BlocksToBytes(curr)) >= fullHitThreshold {
		return 0, false
	}
	currBw := predictedBandwidth(v, curr, reqRate)
	grownBw := predictedBandwidth(v, curr+cacheDelta, reqRate)
	bwRel = currBw - grownBw
	if bwRel < 0 {
		bwRel = 0
	}
	return bwRel, true
}

// predWhatIfLessCache estimates the extra bandwidth v would need if shrunk
// by cacheDelta blocks. It aborts (ok=false) if the resulting cache would
// fall at or below minCacheTotal blocks.
func predWhatIfLessCache(v *view.AppResrcView, cacheDelta uint64, minCacheTotal uint64, reqRate float64) (bwComp float64, ok bool) {
	curr := v.CurrResrc().CacheSize
	if curr <= cacheDelta || curr-cacheDelta <= minCacheTotal {
		return 0, false
	}
	currBw := predictedBandwidth(v, curr, reqRate)
	shrunkBw := predictedBandwidth(v, curr-cacheDelta, reqRate)
	bwComp = shrunkBw - currBw
	if bwComp < 0 {
		bwComp = 0
	}
	return bwComp, true
}

// predBandwidthDemand estimates the bandwidth a view needs at its current
// cache allocation from its measured request rate and hit-rate curve.
func predBandwidthDemand(v *view.AppResrcView, reqRate float64) float64 {
	return predictedBandwidth(v, v.CurrResrc().CacheSize, reqRate)
}

// predCpuDemand estimates the cpu cycles/sec a view needs, taken directly
// from its measured consumption over the stat window (cpu demand has no
// cache-size dependence, unlike bandwidth).
func predCpuDemand(measuredCyclesPerSec float64) float64 {
	return measuredCyclesPerSec
}
