package alloc

import "sort"

// doSymmPartition splits weight evenly across workers, distributing any
// rounding remainder 1-by-1 (in worker order) to workers with capacity left
// under maxWeight.
func doSymmPartition(weight uint64, workers []uint32, maxWeight uint64) map[uint32]uint64 {
	out := make(map[uint32]uint64, len(workers))
	if len(workers) == 0 {
		return out
	}
	n := uint64(len(workers))
	base := weight / n
	remainder := weight % n

	for _, w := range workers {
		out[w] = base
	}
	for _, w := range workers {
		if remainder == 0 {
			break
		}
		if out[w] < maxWeight {
			out[w]++
			remainder--
		}
	}
	return out
}

// doAsymmPartitionAvoidTiny hands each worker as many full dedicated-worker
// shares (workerAvailWeight) as the view's weight allows, then places any
// leftover on the workers with the most residual capacity. If the leftover
// is smaller than softMinWeight, one dedicated worker is split in half to
// grow the leftover so no worker ends up with a vanishingly small share.
func doAsymmPartitionAvoidTiny(weight uint64, workers []uint32, workerAvailWeight uint64, softMinWeight uint64) map[uint32]uint64 {
	out := make(map[uint32]uint64, len(workers))
	if len(workers) == 0 || workerAvailWeight == 0 {
		return out
	}

	numFull := weight / workerAvailWeight
	if numFull > uint64(len(workers)) {
		numFull = uint64(len(workers))
	}
	leftover := weight - numFull*workerAvailWeight

	if leftover > 0 && leftover < softMinWeight && numFull > 0 {
		numFull--
		leftover += workerAvailWeight
	}

	for i := uint64(0); i < numFull; i++ {
		out[workers[i]] = workerAvailWeight
	}

	if leftover > 0 {
		residualCapWorkers := workers[numFull:]
		sort.Slice(residualCapWorkers, func(i, j int) bool { return residualCapWorkers[i] < residualCapWorkers[j] })
		if len(residualCapWorkers) > 0 {
			out[residualCapWorkers[0]] += leftover
		} else if numFull > 0 {
			out[workers[numFull-1]] += leftover
		}
	}

	return out
}

// doAsymmPartitionNaive places weight greedily onto the workers currently
// holding the most weight (holding), up to workerAvailWeight each, so
// repeated planning passes converge on the same placement instead of
// reshuffling every round. holding is updated in place to reflect the
// result and is the caller's running placement state across all views.
func doAsymmPartitionNaive(weight uint64, workers []uint32, workerAvailWeight uint64, holding map[uint32]uint64) map[uint32]uint64 {
	out := make(map[uint32]uint64, len(workers))
	if len(workers) == 0 {
		return out
	}

	ordered := make([]uint32, len(workers))
	copy(ordered, workers)
	sort.Slice(ordered, func(i, j int) bool { return holding[ordered[i]] > holding[ordered[j]] })

	remaining := weight
	for _, w := range ordered {
		if remaining == 0 {
			break
		}
		capacity := workerAvailWeight
		if holding[w] >= capacity {
			continue
		}
		give := capacity - holding[w]
		if give > remaining {
			give = remaining
		}
		out[w] += give
		holding[w] += give
		remaining -= give
	}
	if remaining > 0 && len(ordered) > 0 {
		// every worker at capacity: overflow onto the largest holder anyway.
		w := ordered[0]
		out[w] += remaining
		holding[w] += remaining
	}
	return out
}
