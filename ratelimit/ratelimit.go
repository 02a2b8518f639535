// Package ratelimit implements the per-tenant TSC-cycle-frame block-submission
// rate limiter (RateLimiter, spec component C1).
package ratelimit

import (
	"sync/atomic"

	"github.com/NVIDIA/ufssched/logger"
	"github.com/NVIDIA/ufssched/param"
)

// RateLimiter enforces a target bandwidth (blocks/sec) by bucketing time into
// fixed-length TSC-cycle frames and permitting at most rate_inv^-1 blocks per
// frame. Only the owning worker calls CanSend; the Allocator thread calls
// UpdateBandwidth and Turn.
type RateLimiter struct {
	rateInv uint64 // cycles/block, updated with release semantics

	currTimeFrame uint64
	currNumBlks   uint64

	isOn bool
}

// New creates a RateLimiter targeting the given bandwidth in blocks/sec.
func New(bandwidth int64) *RateLimiter {
	return &RateLimiter{
		rateInv: bwToRateInv(bandwidth),
		isOn:    true,
	}
}

func bwToRateInv(bw int64) uint64 {
	if bw < param.MinBandwidth {
		bw = param.MinBandwidth
	}
	return param.CyclesPerSecond / uint64(bw)
}

func rateInvToBw(rateInv uint64) uint64 {
	return param.CyclesPerSecond / rateInv
}

// RateInvToBwMbps converts a cycles/block rate into megabytes/sec, for logging.
func RateInvToBwMbps(rateInv uint64) float64 {
	return param.BlocksToMB(rateInvToBw(rateInv))
}

// UpdateBandwidth atomically retargets the limiter. Called only by the Allocator.
func (r *RateLimiter) UpdateBandwidth(newBandwidth int64) {
	atomic.StoreUint64(&r.rateInv, bwToRateInv(newBandwidth))
}

// Turn enables or disables rate limiting outright; used briefly after an
// allocation to let a tenant repopulate its new cache share unthrottled.
func (r *RateLimiter) Turn(on bool) {
	r.isOn = on
}

// CanSend reports whether one more block may be submitted in the current
// frame, incrementing the frame's counter on permit. Only the owning worker
// calls this.
func (r *RateLimiter) CanSend(tsc uint64) bool {
	if !r.isOn {
		return true
	}

	tf := tsc / param.CyclesPerFrame
	offset := tsc - tf*param.CyclesPerFrame
	if tf > r.currTimeFrame {
		logger.Tracef("ratelimit: frame rollover, target=%.2f MB/s actual=%.2f MB/s",
			RateInvToBwMbps(atomic.LoadUint64(&r.rateInv)),
			param.BlocksToMB(r.currNumBlks)/(float64(param.CyclesPerFrame)/float64(param.CyclesPerSecond)))
		r.currTimeFrame = tf
		r.currNumBlks = 0
	}

	rateInv := atomic.LoadUint64(&r.rateInv)
	ok := offset >= rateInv*r.currNumBlks
	if ok {
		r.currNumBlks++
	}
	return ok
}

// IsMinBandwidth reports whether the limiter is currently pinned at the
// bandwidth floor, so the Allocator's harvest bidding can refuse to bid for a
// shrink that can never be realized.
func (r *RateLimiter) IsMinBandwidth() bool {
	return atomic.LoadUint64(&r.rateInv) >= param.CyclesPerSecond/param.MinBandwidth
}
