// Package worker implements the pinned-thread cooperative scheduler loop
// (spec component C6): each Worker owns a set of per-app Tenants, a
// BlockBuffer cache partition set, and a device submission queue, and
// repeatedly picks the least-progressed schedulable tenant to service.
// Grounded on original_source/cfs/src/FsProc_FsMain.cc and spec §4.6.
package worker

import (
	"runtime"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/ufssched/blunder"
	"github.com/NVIDIA/ufssched/cache"
	"github.com/NVIDIA/ufssched/halter"
	"github.com/NVIDIA/ufssched/logger"
	"github.com/NVIDIA/ufssched/msg"
	"github.com/NVIDIA/ufssched/resrc"
	"github.com/NVIDIA/ufssched/tag"
	"github.com/NVIDIA/ufssched/tenant"
)

// FsReq is a filesystem request delivered over a tenant's shared-memory
// queue: a single block read or write against one inode. ReplyTo stands in
// for the shm reply slot the original writes its completion into.
type FsReq struct {
	Aid     uint32
	Index   uint64
	BlockNo uint64
	IsWrite bool
	ReplyTo chan<- FsReply
}

// FsReply is the completion handed back to the request's originator.
type FsReply struct {
	Req FsReq
	Err error
}

// DeviceRequest is one block I/O submitted to the underlying block device.
type DeviceRequest struct {
	Tag     tag.Tag
	Index   uint64
	BlockNo uint64
	IsWrite bool
	Handle  cache.Handle
	Req     FsReq
}

// DeviceCompletion is the device's notification that a DeviceRequest finished.
type DeviceCompletion struct {
	Req           DeviceRequest
	LatencyCycles float64
	Err           error
}

// Device abstracts the underlying block device so tests can substitute an
// in-memory fake rather than touching real storage, per spec §9's "Shared
// memory with clients" design note applied one layer down to the device
// boundary.
type Device interface {
	Submit(req DeviceRequest)
	Completions() <-chan DeviceCompletion
}

// appTenant pairs a Tenant with the total-files bookkeeping worker-local
// operations (like migration) need.
type appTenant struct {
	t *tenant.Tenant
}

// Worker is a pinned OS thread's scheduling state: its tenants, cache
// partitions, and device/message queues. A Worker is single-threaded by
// construction — nothing calls into it concurrently except device
// completions and the Allocator's messages, both delivered over channels.
type Worker struct {
	Wid   uint32
	Cores []int

	tenants map[uint32]*appTenant
	order   []uint32 // deterministic aid iteration order

	Buffer *cache.BlockBuffer
	device Device

	fromAllocator *msg.Channel
	peers         map[uint32]*msg.Channel // other workers, for migration
	inbox         map[uint32]*msg.Channel // by source wid, this worker's end of each peer's AddPeer channel

	epochStart     uint64
	cyclesPerEpoch uint64
	numReqsPerLoop int

	tsc func() uint64
}

// New creates a Worker bound to cores, with a BlockBuffer of the given pool
// capacity and block size, reading AllocDecisions from fromAllocator.
// cyclesPerEpoch comes from the active param.Params preset.
func New(wid uint32, cores []int, poolCapacity uint64, blockSize int, cyclesPerEpoch uint64, device Device, fromAllocator *msg.Channel, tsc func() uint64) *Worker {
	return &Worker{
		Wid:            wid,
		Cores:          cores,
		tenants:        make(map[uint32]*appTenant),
		Buffer:         cache.New(poolCapacity, blockSize),
		device:         device,
		fromAllocator:  fromAllocator,
		peers:          make(map[uint32]*msg.Channel),
		inbox:          make(map[uint32]*msg.Channel),
		cyclesPerEpoch: cyclesPerEpoch,
		numReqsPerLoop: 16,
		tsc:            tsc,
	}
}

// AddPeer registers the channel used to send this worker's migration
// traffic to peer worker wid.
func (w *Worker) AddPeer(wid uint32, ch *msg.Channel) {
	w.peers[wid] = ch
}

// AddInbox registers the channel this worker polls for migration traffic
// sent to it by peer worker fromWid (the other end of that peer's AddPeer
// call). Kept distinct from peers since a Channel is SPSC: the sender's
// outbound handle and the receiver's inbound handle are the same object
// viewed from opposite ends.
func (w *Worker) AddInbox(fromWid uint32, ch *msg.Channel) {
	w.inbox[fromWid] = ch
}

// AttachTenant registers a new tenant for aid, owning the cache partition
// identified by tag.ForTenant(aid, w.Wid).
func (w *Worker) AttachTenant(aid uint32, t *tenant.Tenant) {
	w.tenants[aid] = &appTenant{t: t}
	w.order = append(w.order, aid)
	sort.Slice(w.order, func(i, j int) bool { return w.order[i] < w.order[j] })
}

// DetachTenant removes aid's tenant entirely (app-detach); its cache
// partition's remaining slots relocate to UNALLOC.
func (w *Worker) DetachTenant(aid uint32) {
	if _, ok := w.tenants[aid]; ok {
		t := tag.ForTenant(aid, w.Wid)
		w.Buffer.AdjustCacheSize(t, -int64(w.Buffer.CapacityOf(t)))
	}
	delete(w.tenants, aid)
	for i, a := range w.order {
		if a == aid {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

// PinToCores pins the calling OS thread to w.Cores. Must be called from the
// goroutine that will run RunLoopInner, before the first iteration.
func (w *Worker) PinToCores() error {
	runtime.LockOSThread()
	if len(w.Cores) == 0 {
		return nil
	}
	var set unix.CPUSet
	set.Zero()
	for _, c := range w.Cores {
		set.Set(c)
	}
	return unix.SchedSetaffinity(0, &set)
}

// Run drives RunLoopInner until stop is closed, then drains in-flight
// device submissions and flushes everything dirty before returning.
func (w *Worker) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			w.drainAndFlush()
			return
		default:
		}
		w.RunLoopInner()
	}
}

// RunLoopInner executes one iteration of the worker's cooperative loop
// (spec §4.6 "run-loop-inner" steps 1-7).
func (w *Worker) RunLoopInner() {
	w.pollDeviceCompletions()
	w.maybeResetEpoch()

	picked := w.pickTenant()
	if picked != nil {
		w.serviceTenant(picked)
	}

	w.drainBlkQueues()
	w.serviceFlusher()
	w.pollAllocatorMessages()
	w.pollPeerInbox()
	w.serviceMigrations()
}

// pollPeerInbox drains every registered inbox of at most one message per
// peer per iteration, so one chatty migration source can't starve another.
func (w *Worker) pollPeerInbox() {
	for srcWid, ch := range w.inbox {
		m, ok := ch.TryRecv()
		if !ok {
			continue
		}
		switch m.Type {
		case msg.InodeMove:
			w.receiveInodeMove(m.Ctx.(msg.InodeMoveCtx))
		case msg.InodeMoveAck:
			ack := m.Ctx.(msg.InodeMoveAckCtx)
			logger.Tracef("worker.Worker.pollPeerInbox(): wid=%d received migration ack for index=%d from wid=%d",
				w.Wid, ack.Index, srcWid)
		default:
			logger.FatalfWithError(blunder.NewError(blunder.ErrInvariantViolation, "unknown peer message type"),
				"worker.Worker.pollPeerInbox(): wid=%d unknown message type %v from wid=%d", w.Wid, m.Type, srcWid)
		}
	}
}

func (w *Worker) pollDeviceCompletions() {
	for {
		select {
		case c := <-w.device.Completions():
			w.handleCompletion(c)
		default:
			return
		}
	}
}

func (w *Worker) handleCompletion(c DeviceCompletion) {
	req := c.Req
	at, ok := w.tenants[req.Req.Aid]
	if !ok {
		return
	}
	if req.Handle != nil {
		w.Buffer.ReleaseBlock(req.Handle)
	}
	at.t.RecordLatency(c.LatencyCycles)
	at.t.RecordReqDone()
	if req.Req.ReplyTo != nil {
		req.Req.ReplyTo <- FsReply{Req: req.Req, Err: c.Err}
	}
}

// maybeResetEpoch zeroes every resident tenant's cpu_prog once the current
// real-time cursor has crossed an epoch boundary.
func (w *Worker) maybeResetEpoch() {
	now := w.tsc()
	if now-w.epochStart < w.cyclesPerEpoch {
		return
	}
	for _, aid := range w.order {
		w.tenants[aid].t.ResetCpuProg()
	}
	w.epochStart = now
}

// pickTenant returns the schedulable tenant with the smallest cpu_prog,
// breaking ties by aid order.
func (w *Worker) pickTenant() *tenant.Tenant {
	elapsed := w.tsc() - w.epochStart
	var best *tenant.Tenant
	var bestProg uint64
	for _, aid := range w.order {
		t := w.tenants[aid].t
		if !t.CanSched(elapsed) {
			continue
		}
		if best == nil || t.CpuProg() < bestProg {
			best = t
			bestProg = t.CpuProg()
		}
	}
	return best
}

// serviceTenant processes up to numReqsPerLoop requests from the picked
// tenant's recv/intl queues, charging cpu_prog for the (simulated) work.
func (w *Worker) serviceTenant(t *tenant.Tenant) {
	for i := 0; i < w.numReqsPerLoop; i++ {
		req := t.PopIntlQueue()
		if req == nil {
			req = t.PopRecvQueue()
		}
		if req == nil {
			return
		}
		fsReq, ok := req.(*FsReq)
		if !ok {
			t.RecordReqDone()
			continue
		}
		w.dispatch(t, fsReq)
	}
}

const cyclesPerDispatch = 200

// dispatch looks up fsReq's block in cache; a hit completes it immediately,
// a miss enqueues a BlockReq for the rate-limited device drain.
func (w *Worker) dispatch(t *tenant.Tenant, fsReq *FsReq) {
	tg := tag.ForTenant(fsReq.Aid, w.Wid)
	t.RecordCpuConsump(cyclesPerDispatch)
	t.AccessGhostPage(fsReq.BlockNo, fsReq.IsWrite)

	h, hit, ok := w.Buffer.GetBlock(tg, fsReq.BlockNo, fsReq.Index)
	if !ok {
		t.RecordReqDone()
		if fsReq.ReplyTo != nil {
			fsReq.ReplyTo <- FsReply{Req: *fsReq, Err: blunder.NewError(blunder.ErrResourceExhaustion, "worker.Worker.dispatch(): cache full for %s", tg)}
		}
		return
	}
	if fsReq.IsWrite {
		w.Buffer.SetBlockDirty(h, fsReq.Index)
		t.Acct.RecordBlocksDone(1)
	}
	if hit {
		w.Buffer.ReleaseBlock(h)
		t.RecordReqDone()
		if !fsReq.IsWrite {
			t.Acct.RecordBlocksDone(1)
		}
		if fsReq.ReplyTo != nil {
			fsReq.ReplyTo <- FsReply{Req: *fsReq}
		}
		return
	}
	t.PushBlkQueue(tenant.BlockReq{BlockNo: fsReq.BlockNo, IsWrite: fsReq.IsWrite}, &blkQueueCtx{fsReq: fsReq, handle: h})
}

// blkQueueCtx is the fsReq paired with the pending cache handle it needs to
// release (and reply through) once the device completes the submission.
type blkQueueCtx struct {
	fsReq  *FsReq
	handle cache.Handle
}

// drainBlkQueues submits every tenant's queued block requests until its
// RateLimiter denies further submission.
func (w *Worker) drainBlkQueues() {
	now := w.tsc()
	for _, aid := range w.order {
		t := w.tenants[aid].t
		tg := tag.ForTenant(aid, w.Wid)
		cacheUnderCapacity := w.Buffer.SizeOf(tg) < w.Buffer.CapacityOf(tg)
		for {
			blkReq, ctx, ok := t.PopBlkQueue(now, cacheUnderCapacity)
			if !ok {
				break
			}
			entry, ok := ctx.(*blkQueueCtx)
			if !ok {
				continue
			}
			w.device.Submit(DeviceRequest{
				Tag:     tg,
				Index:   entry.fsReq.Index,
				BlockNo: blkReq.BlockNo,
				IsWrite: blkReq.IsWrite,
				Handle:  entry.handle,
				Req:     *entry.fsReq,
			})
		}
	}
}

// serviceFlusher submits a background flush batch when the Flusher reports
// one is needed, and services foreground flush indices up to the
// foreground limit.
func (w *Worker) serviceFlusher() {
	f := w.Buffer.Flusher
	if f.CheckIfNeedBgFlush(w.Buffer.CapacityOf) {
		if canFlush, blocks := f.DoFlushByIndex(0); canFlush {
			w.submitFlush(blocks)
			if len(blocks) == 0 {
				f.DoFlushDone()
			}
		}
	}
	for _, idx := range f.PendingFgIndices() {
		canFlush, blocks := f.DoFlushByIndex(idx)
		if !canFlush {
			continue
		}
		f.AddFgFlushInflightNum(1)
		w.submitFlush(blocks)
		f.RemoveFgFlushWaitIndex(idx)
	}
}

func (w *Worker) submitFlush(blocks []cache.Handle) {
	for _, h := range blocks {
		w.device.Submit(DeviceRequest{IsWrite: true, Handle: h})
	}
}

// pollAllocatorMessages applies a pending AllocDecision, if any, at this
// safe point between tenant service and migration.
func (w *Worker) pollAllocatorMessages() {
	m, ok := w.fromAllocator.TryRecv()
	if !ok {
		return
	}
	switch m.Type {
	case msg.NewResrcAlloc:
		w.applyAllocDecision(m.Ctx.(msg.AllocDecision))
	case msg.InodeMove:
		w.receiveInodeMove(m.Ctx.(msg.InodeMoveCtx))
	default:
		logger.FatalfWithError(blunder.NewError(blunder.ErrInvariantViolation, "unknown message type"),
			"worker.Worker.pollAllocatorMessages(): wid=%d unknown message type %v", w.Wid, m.Type)
	}
}

func (w *Worker) applyAllocDecision(d msg.AllocDecision) {
	at, ok := w.tenants[d.Aid]
	if !ok {
		logger.Warnf("worker.Worker.applyAllocDecision(): wid=%d no tenant for aid=%d", w.Wid, d.Aid)
		return
	}
	tg := tag.ForTenant(d.Aid, w.Wid)
	delta := int64(d.Resrc.CacheSize) - int64(w.Buffer.CapacityOf(tg))
	w.Buffer.AdjustCacheSize(tg, delta)
	at.t.SetResrc(d.Resrc)

	if len(d.InodeMove) > 0 {
		moves := make([]tenant.Move, len(d.InodeMove))
		for i, mv := range d.InodeMove {
			moves[i] = tenant.Move{DstWid: mv.DstWid, Nfiles: mv.Nfiles}
		}
		at.t.SetDrainForMigration(moves)
	}
}

// serviceMigrations exports inodes for any draining tenant whose inflight
// work has reached zero, per spec §4.6 step 7.
func (w *Worker) serviceMigrations() {
	halter.Trigger(halter.WorkerMigrationDrainEntry)
	defer halter.Trigger(halter.WorkerMigrationDrainExit)

	for _, aid := range w.order {
		t := w.tenants[aid].t
		if !t.ShouldMigrate() {
			continue
		}
		for _, mv := range t.PendingMove() {
			w.exportInodesTo(aid, mv)
		}
		t.UnsetDrainForMigration()
	}
}

// exportInodesTo is a placeholder for the worker's inode-selection policy:
// a real worker picks mv.Nfiles inodes currently resident under aid and
// exports each via splitAndSend. Inode enumeration lives outside this
// package's scope (it belongs to the on-disk inode layer, explicitly out of
// SPEC_FULL's scope), so callers drive per-inode export directly via
// SplitAndSendInode.
func (w *Worker) exportInodesTo(aid uint32, mv tenant.Move) {
	_ = aid
	_ = mv
}

// SplitAndSendInode exports index's resident buffer items and ships them to
// dstWid via the registered peer channel.
func (w *Worker) SplitAndSendInode(aid uint32, index uint64, dstWid uint32) {
	items := w.Buffer.SplitBufferItemsByIndex(index)
	peer, ok := w.peers[dstWid]
	if !ok {
		logger.Errorf("worker.Worker.SplitAndSendInode(): wid=%d no peer channel to wid=%d", w.Wid, dstWid)
		return
	}
	exported := make([]msg.ExportedItem, len(items))
	for i, it := range items {
		exported[i] = msg.ExportedItem{Buf: it.Buf, BlockNo: it.BlockNo, IsDirty: it.IsDirty}
	}
	peer.SendInodeMove(msg.InodeMoveCtx{
		Index:  index,
		Aid:    aid,
		SrcWid: w.Wid,
		DstWid: dstWid,
		Items:  exported,
	})
}

// receiveInodeMove installs an inode exported by a peer worker and acks
// back to the source.
func (w *Worker) receiveInodeMove(ctx msg.InodeMoveCtx) {
	tg := tag.ForTenant(ctx.Aid, w.Wid)
	items := make([]cache.ExportedBlockBufferItem, len(ctx.Items))
	for i, it := range ctx.Items {
		items[i] = cache.ExportedBlockBufferItem{Buf: it.Buf, BlockNo: it.BlockNo, IsDirty: it.IsDirty}
	}
	w.Buffer.InstallBufferItemsOfIndex(tg, ctx.Index, items)

	if peer, ok := w.peers[ctx.SrcWid]; ok {
		peer.SendInodeMoveAck(msg.InodeMoveAckCtx{Index: ctx.Index, Aid: ctx.Aid, SrcWid: ctx.SrcWid})
	}
}

// drainAndFlush runs a final BG+FG flush pass until the Flusher reports
// nothing outstanding, called once on a stop() signal.
func (w *Worker) drainAndFlush() {
	f := w.Buffer.Flusher
	for {
		anyDirty := false
		for _, aid := range w.order {
			tg := tag.ForTenant(aid, w.Wid)
			if f.NumDirty(tg) > 0 {
				anyDirty = true
			}
		}
		if !anyDirty {
			return
		}
		canFlush, blocks := f.DoFlushByIndex(0)
		if !canFlush || len(blocks) == 0 {
			return
		}
		w.submitFlush(blocks)
		f.DoFlushDone()
	}
}

// ResrcSnapshot returns the current aggregate Acct snapshot for aid, for
// tests and diagnostics.
func (w *Worker) ResrcSnapshot(aid uint32) resrc.Snapshot {
	at, ok := w.tenants[aid]
	if !ok {
		return resrc.Snapshot{}
	}
	return at.t.Snap()
}
