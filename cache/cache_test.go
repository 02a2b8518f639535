package cache

import (
	"testing"

	"github.com/NVIDIA/ufssched/tag"
	"github.com/stretchr/testify/assert"
)

func newIntCache(capacity uint64) *SharedCache[uint64, int] {
	return NewSharedCache[uint64, int](capacity, func() int { return 0 })
}

func TestPoolCapacityInvariant(t *testing.T) {
	assert := assert.New(t)

	c := newIntCache(10)
	a := tag.ForTenant(1, 0)
	b := tag.ForTenant(2, 0)

	c.Relocate(tag.UnallocTag, a, 4)
	c.Relocate(tag.UnallocTag, b, 3)

	var total uint64
	for _, tg := range []tag.Tag{a, b, tag.UnallocTag} {
		assert.LessOrEqual(c.SizeOf(tg), c.CapacityOf(tg))
		total += c.CapacityOf(tg)
	}
	assert.Equal(c.PoolCapacity(), total)
}

func TestInsertFailsWhenFullAndPinned(t *testing.T) {
	assert := assert.New(t)

	c := newIntCache(2)
	a := tag.ForTenant(1, 0)
	c.Relocate(tag.UnallocTag, a, 2)

	h1 := c.Insert(a, 100, true, true)
	h2 := c.Insert(a, 101, true, true)
	assert.NotNil(h1)
	assert.NotNil(h2)

	// boundary case: getBlock-equivalent Insert on a full, fully-pinned
	// partition must return nil without mutating existing state.
	h3 := c.Insert(a, 102, true, true)
	assert.Nil(h3)
	assert.Equal(uint64(2), c.SizeOf(a))
	assert.NotNil(c.Lookup(a, 100, false))
	assert.NotNil(c.Lookup(a, 101, false))
}

func TestEraseFailsWhilePinned(t *testing.T) {
	assert := assert.New(t)

	c := newIntCache(1)
	a := tag.ForTenant(1, 0)
	c.Relocate(tag.UnallocTag, a, 1)

	h := c.Insert(a, 1, true, true)
	assert.NotNil(h)
	assert.False(c.Erase(a, 1))

	h.Release()
	assert.True(c.Erase(a, 1))
}

func TestLookupTouchesLRUWithoutCreating(t *testing.T) {
	assert := assert.New(t)

	c := newIntCache(1)
	a := tag.ForTenant(1, 0)
	c.Relocate(tag.UnallocTag, a, 1)

	assert.Nil(c.Lookup(a, 42, false))
	assert.Equal(uint64(0), c.SizeOf(a))
}

func newBufferWithTag(poolCapacity uint64, blockSize int, t tag.Tag) *BlockBuffer {
	b := New(poolCapacity, blockSize)
	b.lru.Relocate(tag.UnallocTag, t, poolCapacity)
	return b
}

func TestDirtyAccountingReconciles(t *testing.T) {
	assert := assert.New(t)

	tn := tag.ForTenant(1, 0)
	b := newBufferWithTag(800, 4096, tn)

	dirtied := 0
	for i := uint64(1); i <= 161 && i <= 800; i++ {
		h, _, ok := b.GetBlock(tn, i, i)
		assert.True(ok)
		b.SetBlockDirty(h, i)
		dirtied++
	}

	assert.Equal(uint64(dirtied), b.Flusher.NumDirty(tn))

	var totalDirty int
	for _, set := range b.Flusher.dirtyIndexMap {
		totalDirty += len(set)
	}
	assert.Equal(dirtied, totalDirty)

	assert.True(b.Flusher.CheckIfNeedBgFlush(b.CapacityOf))

	canFlush, blocks := b.Flusher.DoFlushByIndex(0)
	assert.True(canFlush)
	assert.Equal(defaultDirtyFlushOneTimeSubmitNum, len(blocks))
	assert.True(b.Flusher.bgFlushSent)

	b.Flusher.DoFlushDone()
	assert.False(b.Flusher.bgFlushSent)
}

func TestSetUnsetDirtyIsIdempotentOnCounters(t *testing.T) {
	assert := assert.New(t)

	tn := tag.ForTenant(1, 0)
	b := newBufferWithTag(10, 4096, tn)

	h, _, ok := b.GetBlock(tn, 1, 1)
	assert.True(ok)

	before := b.Flusher.NumDirty(tn)
	b.SetBlockDirty(h, 1)
	b.UnsetBlockDirty(h, 1)
	assert.Equal(before, b.Flusher.NumDirty(tn))
}

func TestSplitBufferItemsByIndexClearsBookkeeping(t *testing.T) {
	assert := assert.New(t)

	tn := tag.ForTenant(1, 0)
	b := newBufferWithTag(10, 4096, tn)

	h1, _, ok := b.GetBlock(tn, 1, 7)
	assert.True(ok)
	b.SetBlockDirty(h1, 7)
	b.ReleaseBlock(h1)

	h2, _, ok := b.GetBlock(tn, 2, 7)
	assert.True(ok)
	b.ReleaseBlock(h2)

	exported := b.SplitBufferItemsByIndex(7)
	assert.Len(exported, 2)

	_, present := b.blockIndexMap[7]
	assert.False(present)
	_, present = b.Flusher.dirtyIndexMap[7]
	assert.False(present)
}

func TestMigrationRoundTripPreservesDirtyState(t *testing.T) {
	assert := assert.New(t)

	srcTag := tag.ForTenant(1, 0)
	dstTag := tag.ForTenant(1, 1)

	src := newBufferWithTag(10, 4096, srcTag)
	dst := newBufferWithTag(10, 4096, dstTag)

	h, _, ok := src.GetBlock(srcTag, 5, 9)
	assert.True(ok)
	src.SetBlockDirty(h, 9)
	src.ReleaseBlock(h)

	exported := src.SplitBufferItemsByIndex(9)
	assert.Len(exported, 1)

	dst.InstallBufferItemsOfIndex(dstTag, 9, exported)

	h2, hit, ok := dst.GetBlock(dstTag, 5, 9)
	assert.True(ok)
	assert.True(hit)
	assert.True(h2.Value.InMem)
	assert.True(h2.Value.IsDirty)
}
