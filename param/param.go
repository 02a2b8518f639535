// Package param holds the scheduler's configuration constants as runtime
// values rather than compile-time constants, so a single binary can select
// the coarse- or fine-grained operating point (and the high-frequency
// allocator variant) without a rebuild.
package param

import (
	"time"

	"github.com/dustin/go-humanize"
)

const (
	// BlockSize is the fixed unit of cache/bandwidth accounting.
	BlockSize = 4 * 1024

	// CyclesPerSecond is the assumed TSC frequency used by all cycle<->time conversions.
	CyclesPerSecond = 2_100_000_000

	// MaxWeight is the maximum per-tenant WFQ weight.
	MaxWeight = 8192

	// MinBandwidth is the bandwidth floor below which a tenant is never throttled further.
	MinBandwidth = 256 // blocks/sec

	// MinCache is the minimum cache a tenant may hold, in blocks.
	MinCache = 128

	// MinBandwidthHarvest is the smallest net bandwidth gain that justifies a harvest trade.
	MinBandwidthHarvest = 200 // blocks/sec

	// CyclesPerFrame buckets RateLimiter time into ~0.12s frames (2^28 cycles).
	CyclesPerFrame = 1 << 28
)

// WorkerAvailWeight is the WFQ weight corresponding to 1.9e9 cycles/sec of CPU.
var WorkerAvailWeight = CyclesToWeight(1_900_000_000)

// GhostSweep describes the size range and step the ghost cache samples over.
type GhostSweep struct {
	MinSize uint64 // bytes
	MaxSize uint64 // bytes
	Tick    uint64 // bytes
}

// AllocatorTiming holds the Allocator's sleep-window durations.
type AllocatorTiming struct {
	Preheat           time.Duration
	Freq              time.Duration
	StatColl          time.Duration
	UnlimitedBandwidth time.Duration
	Stabilize         time.Duration
}

// Params is one named operating-point preset: the coarse- or fine-grained
// constant set the original implementation selected at compile time via
// ALLOC_FINE_GRAINED/ALLOC_HIGH_FREQ.
type Params struct {
	Name           string
	CacheDelta     uint64 // bytes moved per harvest trade
	MinCacheTotal  uint64 // bytes; cache <= this aborts pred_what_if_less_cache
	Ghost          GhostSweep
	Allocator      AllocatorTiming
	CyclesPerEpoch uint64 // cycles_per_cpu_epoch
}

// ParamsCoarse is the default, low-frequency operating point.
var ParamsCoarse = Params{
	Name:          "coarse",
	CacheDelta:    32 * humanize.MiByte,
	MinCacheTotal: 32 * humanize.MiByte,
	Ghost: GhostSweep{
		MinSize: 32 * humanize.MiByte,
		MaxSize: 1 * humanize.GiByte,
		Tick:    32 * humanize.MiByte,
	},
	Allocator: AllocatorTiming{
		Preheat:            10 * time.Second,
		Freq:               30 * time.Second,
		StatColl:           5 * time.Second,
		UnlimitedBandwidth: 0,
		Stabilize:          2 * time.Second,
	},
	CyclesPerEpoch: CyclesPerSecond / 10,
}

// ParamsFine is the fine-grained, high-frequency operating point
// (ALLOC_FINE_GRAINED + ALLOC_HIGH_FREQ in the original).
var ParamsFine = Params{
	Name:          "fine",
	CacheDelta:    4 * humanize.MiByte,
	MinCacheTotal: 4 * humanize.MiByte,
	Ghost: GhostSweep{
		MinSize: 8 * humanize.MiByte,
		MaxSize: 256 * humanize.MiByte,
		Tick:    8 * humanize.MiByte,
	},
	Allocator: AllocatorTiming{
		Preheat:            14500 * time.Millisecond,
		Freq:               1 * time.Second,
		StatColl:           800 * time.Millisecond,
		UnlimitedBandwidth: 0,
		Stabilize:          200 * time.Millisecond,
	},
	CyclesPerEpoch: CyclesPerSecond / 10,
}

// Select returns the named preset ("coarse" or "fine"); "fine" is matched by
// either FINE_GRAINED or HIGH_FREQ policy tokens, mirroring the original's
// combined build tag.
func Select(policyTokens []string) Params {
	for _, tok := range policyTokens {
		if tok == "FINE_GRAINED" || tok == "HIGH_FREQ" {
			return ParamsFine
		}
	}
	return ParamsCoarse
}

// BlocksToBytes converts a block count to bytes.
func BlocksToBytes(blocks uint64) uint64 {
	return blocks * BlockSize
}

// BytesToBlocks converts bytes to a block count, truncating any partial block.
func BytesToBlocks(bytes uint64) uint64 {
	return bytes / BlockSize
}

// BlocksToMB converts a block count to megabytes, for log messages.
func BlocksToMB(blocks uint64) float64 {
	return float64(BlocksToBytes(blocks)) / humanize.MByte
}

// HumanizeBlocks renders a block count as a human-readable byte size, e.g. "32 MB".
func HumanizeBlocks(blocks uint64) string {
	return humanize.Bytes(BlocksToBytes(blocks))
}

// CyclesToWeight converts a CPU-cycles/sec share into a WFQ weight, clamped to MaxWeight.
func CyclesToWeight(cyclesPerSecond int64) uint64 {
	w := uint64(cyclesPerSecond) * MaxWeight / CyclesPerSecond
	if w > MaxWeight {
		w = MaxWeight
	}
	return w
}

// WeightToCycles is the inverse of CyclesToWeight.
func WeightToCycles(weight uint64) int64 {
	return int64(weight * CyclesPerSecond / MaxWeight)
}
