package cache

import (
	"github.com/NVIDIA/ufssched/logger"
	"github.com/NVIDIA/ufssched/tag"
)

// BlockBufferItem is the payload of one BlockBuffer slot: a fixed-size page
// plus the bookkeeping the original called BlockBufferItem. Buf is
// immutable after allocation; everything else is reset on slot reuse.
type BlockBufferItem struct {
	Buf             []byte
	Index           uint64 // inode number this block belongs to, 0 for non-file data
	IsDirty         bool
	InMem           bool
	PendingBlockReq interface{} // opaque in-flight device request handle
}

// Handle is a pinned or unpinned reference into a BlockBuffer.
type Handle = *Slot[uint64, *BlockBufferItem]

// ExportedBlockBufferItem is one slot's contents as carried across a
// migration handoff between two workers' BlockBuffers.
type ExportedBlockBufferItem struct {
	Buf     []byte
	BlockNo uint64
	IsDirty bool
	Aid     uint32
}

// BlockBuffer wraps a SharedCache of fixed-size blocks with an index from
// inode number to the set of bound handles, and dirty/flush bookkeeping.
type BlockBuffer struct {
	lru           *SharedCache[uint64, *BlockBufferItem]
	blockSize     int
	blockIndexMap map[uint64]map[Handle]struct{}
	Flusher       *Flusher
}

// New creates a BlockBuffer over a pool of poolCapacity fixed-size blocks.
func New(poolCapacity uint64, blockSize int) *BlockBuffer {
	b := &BlockBuffer{
		blockSize:     blockSize,
		blockIndexMap: make(map[uint64]map[Handle]struct{}),
	}
	b.lru = NewSharedCache[uint64, *BlockBufferItem](poolCapacity, func() *BlockBufferItem {
		return &BlockBufferItem{Buf: make([]byte, blockSize)}
	})
	b.Flusher = newFlusher()
	return b
}

func (b *BlockBuffer) bindIndex(index uint64, h Handle) {
	if index == 0 {
		return
	}
	set, ok := b.blockIndexMap[index]
	if !ok {
		set = make(map[Handle]struct{})
		b.blockIndexMap[index] = set
	}
	set[h] = struct{}{}
}

func (b *BlockBuffer) unbindIndex(index uint64, h Handle) {
	if index == 0 {
		return
	}
	set, ok := b.blockIndexMap[index]
	if !ok {
		return
	}
	delete(set, h)
	if len(set) == 0 {
		delete(b.blockIndexMap, index)
	}
}

// GetBlock looks up or installs the slot for blockNo under t, pinning it.
// hit reports whether the block was already resident; the caller is
// responsible for any ghost-cache accounting and resource-accounting tied
// to tenant activity, since BlockBuffer itself has no notion of Tenant.
func (b *BlockBuffer) GetBlock(t tag.Tag, blockNo uint64, newIndex uint64) (h Handle, hit bool, ok bool) {
	if h := b.lru.Lookup(t, blockNo, true); h != nil {
		return h, true, true
	}

	h = b.lru.Insert(t, blockNo, true, true)
	if h == nil {
		return nil, false, false
	}

	if h.Value.Index != 0 {
		b.unbindIndex(h.Value.Index, h)
	}
	h.Value.Index = newIndex
	h.Value.IsDirty = false
	h.Value.InMem = false
	h.Value.PendingBlockReq = nil
	b.bindIndex(newIndex, h)

	return h, false, true
}

// ReleaseBlock unpins a handle previously returned by GetBlock.
func (b *BlockBuffer) ReleaseBlock(h Handle) {
	h.Release()
}

// SetBlockDirty marks h dirty under itemIndex, pinning it and updating the
// Flusher's per-index and per-tenant dirty accounting on a false->true
// transition. It is a no-op if h is already dirty.
func (b *BlockBuffer) SetBlockDirty(h Handle, itemIndex uint64) {
	if h.Value.IsDirty {
		return
	}
	h.Value.IsDirty = true
	h.Hold()
	b.Flusher.markDirty(h.tag, itemIndex, h)
}

// UnsetBlockDirty clears h's dirty flag, unpins it, and updates the
// Flusher's accounting on a true->false transition. It is a no-op if h is
// already clean.
func (b *BlockBuffer) UnsetBlockDirty(h Handle, itemIndex uint64) {
	if !h.Value.IsDirty {
		return
	}
	h.Value.IsDirty = false
	h.Release()
	b.Flusher.unmarkDirty(h.tag, itemIndex, h)
}

// ReleaseUnlinkedInodeDirtyBlocks drops all dirty state for index on inode
// deletion, reconciling the Flusher's counters exactly.
func (b *BlockBuffer) ReleaseUnlinkedInodeDirtyBlocks(index uint64) {
	set, ok := b.blockIndexMap[index]
	if !ok {
		return
	}
	for h := range set {
		if h.Value.IsDirty {
			h.Value.IsDirty = false
			h.Release()
			b.Flusher.unmarkDirty(h.tag, index, h)
		}
	}
}

// SplitBufferItemsByIndex exports every slot bound to index for migration,
// unpinning dirty ones and erasing all of them. It panics if any slot
// remains pinned afterward (the caller must have drained in-flight I/O for
// this inode first) since that is an invariant violation, not a retryable
// condition.
func (b *BlockBuffer) SplitBufferItemsByIndex(index uint64) []ExportedBlockBufferItem {
	set := b.blockIndexMap[index]
	out := make([]ExportedBlockBufferItem, 0, len(set))

	for h := range set {
		wasDirty := h.Value.IsDirty
		out = append(out, ExportedBlockBufferItem{
			Buf:     h.Value.Buf,
			BlockNo: h.key,
			IsDirty: wasDirty,
		})
		if wasDirty {
			h.Value.IsDirty = false
			h.Release()
			b.Flusher.unmarkDirty(h.tag, index, h)
		}
		srcTag := h.tag
		if !b.lru.Erase(srcTag, h.key) {
			logger.Fatalf("cache.BlockBuffer.SplitBufferItemsByIndex(): slot for index %d block %d still pinned during migration", index, h.key)
		}
		if moved := b.lru.Relocate(tag.UnallocTag, srcTag, 1); moved != 1 {
			logger.Warnf("cache.BlockBuffer.SplitBufferItemsByIndex(): replenish of %s after export returned %d, not 1", srcTag, moved)
		}
	}
	delete(b.blockIndexMap, index)

	return out
}

// InstallBufferItemsOfIndex is the migration destination side: it installs
// each exported entry into t's partition, rebinds it to index, and
// re-registers dirty entries with the Flusher.
func (b *BlockBuffer) InstallBufferItemsOfIndex(t tag.Tag, index uint64, items []ExportedBlockBufferItem) {
	for _, item := range items {
		h := b.lru.Insert(t, item.BlockNo, false, true)
		if h == nil {
			logger.Fatalf("cache.BlockBuffer.InstallBufferItemsOfIndex(): no slot available in tag %s for migrated block %d", t, item.BlockNo)
			continue
		}
		h.Value.Buf = item.Buf
		h.Value.Index = index
		h.Value.InMem = true
		h.Value.PendingBlockReq = nil
		b.bindIndex(index, h)

		if item.IsDirty {
			h.Value.IsDirty = true
			h.Hold()
			b.Flusher.markDirty(t, index, h)
		}

		if moved := b.lru.Relocate(t, tag.UnallocTag, 1); moved != 1 {
			logger.Warnf("cache.BlockBuffer.InstallBufferItemsOfIndex(): shrink of %s after install returned %d, not 1", t, moved)
		}
	}
}

// AdjustCacheSize grows (delta>0) or shrinks (delta<0) t's partition,
// relocating slots to/from UNALLOC. A partial relocation is applied with a
// warning rather than failing the call.
func (b *BlockBuffer) AdjustCacheSize(t tag.Tag, delta int64) {
	if delta == 0 {
		return
	}
	if delta > 0 {
		moved := b.lru.Relocate(tag.UnallocTag, t, uint64(delta))
		if moved != uint64(delta) {
			logger.Warnf("cache.BlockBuffer.AdjustCacheSize(): grew %s by %d of %d requested slots", t, moved, delta)
		}
		return
	}
	moved := b.lru.Relocate(t, tag.UnallocTag, uint64(-delta))
	if moved != uint64(-delta) {
		logger.Warnf("cache.BlockBuffer.AdjustCacheSize(): shrank %s by %d of %d requested slots", t, moved, -delta)
	}
}

// CapacityOf and SizeOf expose the underlying partition accounting directly.
func (b *BlockBuffer) CapacityOf(t tag.Tag) uint64 { return b.lru.CapacityOf(t) }
func (b *BlockBuffer) SizeOf(t tag.Tag) uint64     { return b.lru.SizeOf(t) }
