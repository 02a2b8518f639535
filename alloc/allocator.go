// Package alloc implements the Allocator (spec component C8): the dedicated
// policy thread that periodically polls per-app resource statistics,
// computes a new {cache, bandwidth, cpu} split, partitions each app's share
// across its workers, and ships the result as AllocDecision messages.
// Grounded on spec §4.8 and original_source/cfs/sched/Alloc.h/.cpp.
package alloc

import (
	"sort"
	"time"

	"github.com/NVIDIA/ufssched/halter"
	"github.com/NVIDIA/ufssched/logger"
	"github.com/NVIDIA/ufssched/msg"
	"github.com/NVIDIA/ufssched/param"
	"github.com/NVIDIA/ufssched/resrc"
	"github.com/NVIDIA/ufssched/view"
)

// PartitionPolicy selects which of the three weight-partition strategies
// do_apply uses to split an app's total weight across its workers.
type PartitionPolicy int

const (
	// Symmetric splits each view's weight evenly across its workers.
	Symmetric PartitionPolicy = iota
	// AsymmAvoidTiny hands full dedicated workers first, avoiding tiny residual shares.
	AsymmAvoidTiny
	// AsymmNaive places weight to keep prior placement stable across runs.
	AsymmNaive
)

// Policy is the Allocator's set of feature toggles.
type Policy struct {
	AllocEnabled      bool
	HarvestEnabled    bool
	CachePartition    bool
	StrictWeightDistr bool
	Partition         PartitionPolicy
	MaxTradeRound     int
	SoftMinWeight     uint64
}

// App is one app's Allocator-side bookkeeping: its cross-worker view, the
// ordered list of workers currently hosting a shard of it, the per-worker
// control channel, and the total inode count used to turn a weight plan
// into a migration plan.
type App struct {
	Aid        uint32
	View       *view.AppResrcView
	Workers    []uint32
	TotalFiles int

	pendingWeight map[uint32]uint64
	nfilesCurr    map[uint32]int
}

// NewApp creates an App bookkeeping entry for aid.
func NewApp(aid uint32, v *view.AppResrcView, workers []uint32, totalFiles int) *App {
	nfilesCurr := make(map[uint32]int, len(workers))
	base := totalFiles / max(len(workers), 1)
	rem := totalFiles % max(len(workers), 1)
	for i, w := range workers {
		n := base
		if i < rem {
			n++
		}
		nfilesCurr[w] = n
	}
	return &App{Aid: aid, View: v, Workers: workers, TotalFiles: totalFiles, nfilesCurr: nfilesCurr}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Allocator is the explicit value owning total/base resource pools and the
// apps it plans for. append_view/add_total_resrc are the only mutators
// called before Run starts; Run is the single long-lived planning goroutine.
type Allocator struct {
	totalResrc resrc.Alloc
	baseResrc  resrc.Alloc

	apps     []*App
	channels map[uint32]*msg.Channel // by worker id

	policy Policy
	params param.Params

	reqRate map[uint32]float64 // measured blocks/sec per app, refreshed each pass
}

// New creates an empty Allocator for the given params and policy.
func New(params param.Params, policy Policy) *Allocator {
	return &Allocator{
		policy:   policy,
		params:   params,
		channels: make(map[uint32]*msg.Channel),
		reqRate:  make(map[uint32]float64),
	}
}

// AppendView registers app as a new planning target.
func (a *Allocator) AppendView(app *App) {
	a.apps = append(a.apps, app)
}

// SetWorkerChannel installs the control channel the Allocator sends
// AllocDecisions to for worker wid.
func (a *Allocator) SetWorkerChannel(wid uint32, ch *msg.Channel) {
	a.channels[wid] = ch
}

// AddTotalResrc increases the total resource pool the Allocator divides
// across apps.
func (a *Allocator) AddTotalResrc(r resrc.Alloc) {
	a.totalResrc.CacheSize += r.CacheSize
	a.totalResrc.Bandwidth += r.Bandwidth
	a.totalResrc.CpuCycles += r.CpuCycles
}

// Run is the Allocator's steady-state loop: preheat, then repeatedly
// reset-stat, sleep, poll, and (if every app is active) plan and apply.
func (a *Allocator) Run(stop <-chan struct{}) {
	a.waitForPreheat(stop)

	for {
		select {
		case <-stop:
			return
		default:
		}
		a.RunOnce()
		time.Sleep(a.params.Allocator.Stabilize)
	}
}

func (a *Allocator) waitForPreheat(stop <-chan struct{}) {
	for {
		allActive := len(a.apps) > 0
		for _, app := range a.apps {
			if !app.View.PollStat(true) {
				allActive = false
			}
		}
		if allActive {
			break
		}
		select {
		case <-stop:
			return
		case <-time.After(a.params.Allocator.StatColl):
		}
	}
	time.Sleep(a.params.Allocator.Preheat)
}

// RunOnce executes exactly one planning pass: reset, sleep the collection
// window, poll, and if every app is active, plan and apply.
func (a *Allocator) RunOnce() {
	for _, app := range a.apps {
		app.View.ResetStat()
	}
	time.Sleep(a.params.Allocator.StatColl)

	allActive := true
	for _, app := range a.apps {
		active := app.View.PollStat(true)
		windowSeconds := a.params.Allocator.StatColl.Seconds()
		if windowSeconds > 0 {
			a.reqRate[app.Aid] = float64(app.View.Total().BlocksDone) / windowSeconds
		}
		if !active {
			allActive = false
		}
	}

	if !allActive {
		logger.Tracef("alloc.Allocator.RunOnce(): not all apps active, skipping planning pass")
		time.Sleep(a.params.Allocator.UnlimitedBandwidth + a.params.Allocator.Stabilize)
		return
	}

	if a.policy.AllocEnabled {
		a.doAlloc()
	}
	a.doApply()

	if a.params.Allocator.UnlimitedBandwidth > 0 {
		a.turnRateLimiters(false)
		time.Sleep(a.params.Allocator.UnlimitedBandwidth)
		a.turnRateLimiters(true)
	}
}

func (a *Allocator) turnRateLimiters(on bool) {
	// The Allocator has no direct handle to worker-local RateLimiters; it
	// reaches them via the same AllocDecision channel workers already poll,
	// carrying a zero-valued decision would be a layering violation, so this
	// is intentionally a no-op hook a real deployment wires to a dedicated
	// broadcast once RateLimiter handles are exposed across the boundary.
	_ = on
}

// doAlloc runs the idle-collection, harvest, and distribution steps and
// updates every app's curr_resrc in place.
func (a *Allocator) doAlloc() {
	n := len(a.apps)
	if n == 0 {
		return
	}

	a.baseResrc = resrc.Alloc{
		CacheSize: a.totalResrc.CacheSize / uint64(n),
		Bandwidth: a.totalResrc.Bandwidth / int64(n),
		CpuCycles: a.totalResrc.CpuCycles / uint64(n),
	}
	for _, app := range a.apps {
		app.View.SetCurrResrc(a.baseResrc)
	}

	bwPool, cpuPool := a.collectIdle()

	if a.policy.HarvestEnabled && a.policy.CachePartition {
		a.doHarvest()
	}

	leftoverCpu := a.doDistribute(cpuPool, bwPool)
	a.distributeLeftoverCpu(leftoverCpu)

	var sumCache, sumCpu uint64
	var sumBw int64
	for _, app := range a.apps {
		r := app.View.CurrResrc()
		sumCache += r.CacheSize
		sumBw += r.Bandwidth
		sumCpu += r.CpuCycles
	}
	logger.Tracef("alloc.Allocator.doAlloc(): totals after pass: cache=%d bw=%d cpu=%d (pool cache=%d bw=%d cpu=%d)",
		sumCache, sumBw, sumCpu, a.totalResrc.CacheSize, a.totalResrc.Bandwidth, a.totalResrc.CpuCycles)
}

// collectIdle shrinks each view whose measured demand is below its current
// allocation on one side (bandwidth checked first), returning the bandwidth
// and cpu surplus collected into the shared pool.
func (a *Allocator) collectIdle() (bwPool int64, cpuPool uint64) {
	for _, app := range a.apps {
		r := app.View.CurrResrc()
		reqRate := a.reqRate[app.Aid]

		bwDemand := int64(predBandwidthDemand(app.View, reqRate))
		if bwDemand < r.Bandwidth {
			bwPool += r.Bandwidth - bwDemand
			r.Bandwidth = bwDemand
			app.View.SetCurrResrc(r)
			continue
		}

		cpuDemand := uint64(predCpuDemand(float64(app.View.Total().CpuConsump) / max1(a.params.Allocator.StatColl.Seconds())))
		if cpuDemand < r.CpuCycles {
			cpuPool += r.CpuCycles - cpuDemand
			r.CpuCycles = cpuDemand
			app.View.SetCurrResrc(r)
		}
	}
	return bwPool, cpuPool
}

func max1(f float64) float64 {
	if f <= 0 {
		return 1
	}
	return f
}

// doHarvest greedily trades cache between the view that most benefits from
// more cache and the view that is cheapest to shrink, up to max_trade_round
// times, stopping once no deal clears min_bandwidth_harvest.
func (a *Allocator) doHarvest() {
	cacheDeltaBlocks := param.BytesToBlocks(a.params.CacheDelta)
	minCacheTotalBlocks := param.BytesToBlocks(a.params.MinCacheTotal)

	for round := 0; round < a.policy.MaxTradeRound; round++ {
		type bid struct {
			app *App
			val float64
		}
		var releaseBids, compensateBids []bid

		for _, app := range a.apps {
			reqRate := a.reqRate[app.Aid]
			if bwRel, ok := predWhatIfMoreCache(app.View, cacheDeltaBlocks, reqRate); ok {
				releaseBids = append(releaseBids, bid{app, bwRel})
			}
			if bwComp, ok := predWhatIfLessCache(app.View, cacheDeltaBlocks, minCacheTotalBlocks, reqRate); ok {
				compensateBids = append(compensateBids, bid{app, bwComp})
			}
		}
		if len(releaseBids) == 0 || len(compensateBids) == 0 {
			halter.Trigger(halter.AllocDoHarvestNoDeal)
			return
		}

		sort.Slice(releaseBids, func(i, j int) bool { return releaseBids[i].val > releaseBids[j].val })
		sort.Slice(compensateBids, func(i, j int) bool { return compensateBids[i].val < compensateBids[j].val })

		compensator := releaseBids[0]
		releaser := compensateBids[0]
		if compensator.app == releaser.app {
			if len(compensateBids) < 2 {
				return
			}
			releaser = compensateBids[1]
		}
		if compensator.app == releaser.app {
			return
		}

		bwRel := compensator.val
		bwComp := releaser.val
		if bwRel-bwComp <= float64(param.MinBandwidthHarvest) {
			return
		}

		relR := releaser.app.View.CurrResrc()
		compR := compensator.app.View.CurrResrc()
		relR.CacheSize -= cacheDeltaBlocks
		compR.CacheSize += cacheDeltaBlocks
		relR.Bandwidth += int64(bwComp)
		compR.Bandwidth -= int64(bwRel)
		releaser.app.View.SetCurrResrc(relR)
		compensator.app.View.SetCurrResrc(compR)

		logger.Tracef("alloc.Allocator.doHarvest(): round %d: moved %d cache blocks from app %d to app %d (bw_rel=%.1f bw_comp=%.1f)",
			round, cacheDeltaBlocks, releaser.app.Aid, compensator.app.Aid, bwRel, bwComp)
	}
}

// doDistribute hands out bwAvail proportional to current bandwidth and, if
// the proportional cpu improvement ratio exceeds cpuAvail (or strict weight
// distribution is configured), distributes cpuAvail by cpu_cycles share
// instead, returning 0 remaining. Otherwise it hands out improve_ratio *
// cpu_cycles to each view and returns the leftover.
func (a *Allocator) doDistribute(cpuAvail uint64, bwAvail int64) uint64 {
	var bwSum int64
	var cpuSum uint64
	for _, app := range a.apps {
		r := app.View.CurrResrc()
		bwSum += r.Bandwidth
		cpuSum += r.CpuCycles
	}

	if bwAvail > 0 {
		for _, app := range a.apps {
			r := app.View.CurrResrc()
			var share int64
			if bwSum > 0 {
				share = bwAvail * r.Bandwidth / bwSum
			} else {
				share = bwAvail / int64(len(a.apps))
			}
			r.Bandwidth += share
			app.View.SetCurrResrc(r)
		}
	}

	if bwSum == 0 || cpuAvail == 0 {
		return cpuAvail
	}

	improveRatio := float64(bwAvail) / float64(bwSum)
	if a.policy.StrictWeightDistr || improveRatio*float64(cpuSum) > float64(cpuAvail) {
		for _, app := range a.apps {
			r := app.View.CurrResrc()
			if cpuSum > 0 {
				r.CpuCycles += cpuAvail * r.CpuCycles / cpuSum
			}
			app.View.SetCurrResrc(r)
		}
		return 0
	}

	var given uint64
	for _, app := range a.apps {
		r := app.View.CurrResrc()
		delta := uint64(improveRatio * float64(r.CpuCycles))
		r.CpuCycles += delta
		given += delta
		app.View.SetCurrResrc(r)
	}
	if given > cpuAvail {
		return 0
	}
	return cpuAvail - given
}

// distributeLeftoverCpu shares any remaining cpu pool among full-hit views
// proportional to cpu_cycles, or failing that returns cpu to views sitting
// below their baseline allocation, clamped to baseline.
func (a *Allocator) distributeLeftoverCpu(leftover uint64) {
	if leftover == 0 {
		return
	}

	var fullHit []*App
	var fullHitCpuSum uint64
	for _, app := range a.apps {
		curr := app.View.CurrResrc().CacheSize
		if app.View.GetHitRate(param.BlocksToBytes(curr)) >= fullHitThreshold {
			fullHit = append(fullHit, app)
			fullHitCpuSum += app.View.CurrResrc().CpuCycles
		}
	}

	if len(fullHit) > 0 && fullHitCpuSum > 0 {
		for _, app := range fullHit {
			r := app.View.CurrResrc()
			r.CpuCycles += leftover * r.CpuCycles / fullHitCpuSum
			app.View.SetCurrResrc(r)
		}
		return
	}

	var belowBaseline []*App
	for _, app := range a.apps {
		if app.View.CurrResrc().CpuCycles < a.baseResrc.CpuCycles {
			belowBaseline = append(belowBaseline, app)
		}
	}
	for _, app := range belowBaseline {
		r := app.View.CurrResrc()
		need := a.baseResrc.CpuCycles - r.CpuCycles
		give := leftover / uint64(len(belowBaseline))
		if give > need {
			give = need
		}
		r.CpuCycles += give
		app.View.SetCurrResrc(r)
	}
}

// doApply turns each app's newly-planned aggregate resource allocation into
// a per-worker weight partition, then a per-worker AllocDecision (resource
// split plus any inode-move plan), and sends every decision.
func (a *Allocator) doApply() {
	for _, app := range a.apps {
		a.applyToApp(app)
	}
}

// applyToApp partitions app's weight across its workers using the
// configured PartitionPolicy, derives the per-worker resource split and the
// inode-migration plan implied by the new weight shares, and sends the
// resulting AllocDecisions.
func (a *Allocator) applyToApp(app *App) {
	r := app.View.CurrResrc()
	totalWeight := param.CyclesToWeight(int64(r.CpuCycles))
	if totalWeight == 0 {
		totalWeight = 1
	}

	var weights map[uint32]uint64
	switch a.policy.Partition {
	case Symmetric:
		weights = doSymmPartition(totalWeight, app.Workers, param.MaxWeight)
	case AsymmAvoidTiny:
		weights = doAsymmPartitionAvoidTiny(totalWeight, app.Workers, param.WorkerAvailWeight, a.policy.SoftMinWeight)
	case AsymmNaive:
		holding := make(map[uint32]uint64, len(app.Workers))
		for _, w := range app.Workers {
			holding[w] = app.pendingWeight[w]
		}
		weights = doAsymmPartitionNaive(totalWeight, app.Workers, param.WorkerAvailWeight, holding)
	default:
		weights = doSymmPartition(totalWeight, app.Workers, param.MaxWeight)
	}
	app.pendingWeight = weights

	nfilesNext := make(map[uint32]int, len(app.Workers))
	for i, w := range app.Workers {
		nfilesNext[w] = app.TotalFiles * int(weights[w]) / int(totalWeight)
		if i == len(app.Workers)-1 {
			// last worker absorbs the rounding remainder so the plan accounts
			// for every inode.
			sum := 0
			for _, ww := range app.Workers[:i] {
				sum += nfilesNext[ww]
			}
			nfilesNext[w] = app.TotalFiles - sum
		}
		app.View.UpdateWeight(i, uint64(param.WeightToCycles(weights[w])))
	}

	moves := planInodeMoves(app.Workers, app.nfilesCurr, nfilesNext)
	app.nfilesCurr = nfilesNext

	decisionsByWorker := make(map[uint32]AppDecision, len(app.Workers))
	for _, w := range app.Workers {
		decisionsByWorker[w] = AppDecision{
			CacheSize: r.CacheSize * weights[w] / totalWeight,
			Bandwidth: r.Bandwidth * int64(weights[w]) / int64(totalWeight),
			CpuCycles: param.WeightToCycles(weights[w]),
		}
	}

	for srcWid, moveList := range moves {
		d := decisionsByWorker[srcWid]
		for _, mv := range moveList {
			d.Moves = append(d.Moves, mv)
		}
		decisionsByWorker[srcWid] = d
	}

	for w, d := range decisionsByWorker {
		ch, ok := a.channels[w]
		if !ok {
			continue
		}
		ch.SendAllocDecision(msg.AllocDecision{
			Aid: app.Aid,
			Resrc: resrc.Alloc{
				CacheSize: d.CacheSize,
				Bandwidth: d.Bandwidth,
				CpuCycles: uint64(d.CpuCycles),
			},
			InodeMove: d.Moves,
		})
	}
}

// AppDecision is the per-worker planning result before it's wrapped into a
// msg.AllocDecision; kept separate so CpuCycles can carry the signed
// intermediate value WeightToCycles returns.
type AppDecision struct {
	CacheSize uint64
	Bandwidth int64
	CpuCycles int64
	Moves     []msg.Move
}

// planInodeMoves matches workers with a surplus of inodes under the new plan
// (nfilesCurr > nfilesNext) against workers with a deficit, greedily pairing
// the largest surplus with the largest deficit until both sides exhaust.
// Returns, per source worker, the list of moves it must send.
func planInodeMoves(workers []uint32, nfilesCurr, nfilesNext map[uint32]int) map[uint32][]msg.Move {
	type delta struct {
		wid int
		n   int
	}
	var surplus, deficit []delta
	for _, w := range workers {
		d := nfilesCurr[w] - nfilesNext[w]
		if d > 0 {
			surplus = append(surplus, delta{int(w), d})
		} else if d < 0 {
			deficit = append(deficit, delta{int(w), -d})
		}
	}
	sort.Slice(surplus, func(i, j int) bool { return surplus[i].n > surplus[j].n })
	sort.Slice(deficit, func(i, j int) bool { return deficit[i].n > deficit[j].n })

	out := make(map[uint32][]msg.Move)
	i, j := 0, 0
	for i < len(surplus) && j < len(deficit) {
		n := surplus[i].n
		if deficit[j].n < n {
			n = deficit[j].n
		}
		srcWid := uint32(surplus[i].wid)
		out[srcWid] = append(out[srcWid], msg.Move{DstWid: uint32(deficit[j].wid), Nfiles: n})
		surplus[i].n -= n
		deficit[j].n -= n
		if surplus[i].n == 0 {
			i++
		}
		if deficit[j].n == 0 {
			j++
		}
	}
	return out
}
