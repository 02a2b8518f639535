package cache

import (
	"github.com/NVIDIA/ufssched/halter"
	"github.com/NVIDIA/ufssched/logger"
	"github.com/NVIDIA/ufssched/tag"
)

const (
	defaultFgFlushLimit             = 8
	defaultDirtyRatioThreshold      = 0.2
	defaultDirtyFlushOneTimeSubmitNum = 100
)

// Flusher tracks dirty-block accounting for one BlockBuffer and arbitrates
// background vs foreground flush submission.
type Flusher struct {
	dirtyIndexMap  map[uint64]map[Handle]struct{}
	tenantNumDirty map[tag.Tag]uint64

	numFgFlush   int
	fgFlushLimit int
	bgFlushSent  bool
	fgIndices    map[uint64]struct{}

	dirtyRatioThreshold       float64
	dirtyFlushOneTimeSubmitNum int
}

func newFlusher() *Flusher {
	return &Flusher{
		dirtyIndexMap:              make(map[uint64]map[Handle]struct{}),
		tenantNumDirty:             make(map[tag.Tag]uint64),
		fgFlushLimit:               defaultFgFlushLimit,
		fgIndices:                  make(map[uint64]struct{}),
		dirtyRatioThreshold:        defaultDirtyRatioThreshold,
		dirtyFlushOneTimeSubmitNum: defaultDirtyFlushOneTimeSubmitNum,
	}
}

func (f *Flusher) markDirty(t tag.Tag, index uint64, h Handle) {
	set, ok := f.dirtyIndexMap[index]
	if !ok {
		set = make(map[Handle]struct{})
		f.dirtyIndexMap[index] = set
	}
	set[h] = struct{}{}
	f.tenantNumDirty[t]++
}

func (f *Flusher) unmarkDirty(t tag.Tag, index uint64, h Handle) {
	set, ok := f.dirtyIndexMap[index]
	if ok {
		delete(set, h)
		if len(set) == 0 {
			delete(f.dirtyIndexMap, index)
		}
	}
	if f.tenantNumDirty[t] == 0 {
		logger.Fatalf("cache.Flusher.unmarkDirty(): numDirty underflow for tag %s", t)
	}
	f.tenantNumDirty[t]--
}

// NumDirty returns the total number of dirty slots charged to t.
func (f *Flusher) NumDirty(t tag.Tag) uint64 {
	return f.tenantNumDirty[t]
}

// CheckIfNeedBgFlush reports whether a background flush should be
// submitted: no BG or FG flush in flight or pending, and some tenant's
// dirty ratio (numDirty/capacity, via capacityOf) exceeds the threshold.
func (f *Flusher) CheckIfNeedBgFlush(capacityOf func(tag.Tag) uint64) bool {
	if f.bgFlushSent || f.numFgFlush > 0 || len(f.fgIndices) > 0 {
		return false
	}
	for t, numDirty := range f.tenantNumDirty {
		cap := capacityOf(t)
		if cap == 0 {
			continue
		}
		if float64(numDirty)/float64(cap) > f.dirtyRatioThreshold {
			return true
		}
	}
	return false
}

// DoFlushByIndex gathers the dirty handles to submit for index. index==0
// means a background sweep across all dirty indices, bounded by
// dirtyFlushOneTimeSubmitNum; any other index is a foreground flush of
// exactly that inode's dirty blocks. canFlush is false only when the
// foreground in-flight count is already at fgFlushLimit.
func (f *Flusher) DoFlushByIndex(index uint64) (canFlush bool, blocks []Handle) {
	halter.Trigger(halter.FlusherDoFlushEntry)
	defer halter.Trigger(halter.FlusherDoFlushExit)

	if f.numFgFlush >= f.fgFlushLimit {
		return false, nil
	}

	if index == 0 {
		for _, set := range f.dirtyIndexMap {
			for h := range set {
				blocks = append(blocks, h)
				if len(blocks) >= f.dirtyFlushOneTimeSubmitNum {
					f.bgFlushSent = true
					return true, blocks
				}
			}
		}
		if len(blocks) > 0 {
			f.bgFlushSent = true
		}
		return true, blocks
	}

	set := f.dirtyIndexMap[index]
	for h := range set {
		blocks = append(blocks, h)
	}
	return true, blocks
}

// DoFlushDone clears the in-flight background flush marker. It panics if no
// background flush was in flight, since that signals corrupted Flusher
// bookkeeping.
func (f *Flusher) DoFlushDone() {
	if !f.bgFlushSent {
		logger.Fatalf("cache.Flusher.DoFlushDone(): no background flush in flight")
	}
	f.bgFlushSent = false
}

// AddFgFlushInflightNum adjusts the foreground in-flight counter by delta
// (+1 on submission, -1 on completion).
func (f *Flusher) AddFgFlushInflightNum(delta int) {
	f.numFgFlush += delta
	if f.numFgFlush < 0 {
		logger.Fatalf("cache.Flusher.AddFgFlushInflightNum(): numFgFlush went negative")
	}
}

// PendingFgIndices returns the indices currently waiting on a foreground
// flush window, up to the remaining fgFlushLimit slots.
func (f *Flusher) PendingFgIndices() []uint64 {
	room := f.fgFlushLimit - f.numFgFlush
	if room <= 0 {
		return nil
	}
	out := make([]uint64, 0, room)
	for idx := range f.fgIndices {
		if len(out) >= room {
			break
		}
		out = append(out, idx)
	}
	return out
}

// AddFgFlushWaitIndex registers idx as awaiting a foreground flush window.
func (f *Flusher) AddFgFlushWaitIndex(idx uint64) {
	f.fgIndices[idx] = struct{}{}
}

// RemoveFgFlushWaitIndex clears idx from the foreground-wait set.
func (f *Flusher) RemoveFgFlushWaitIndex(idx uint64) {
	delete(f.fgIndices, idx)
}
