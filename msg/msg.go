// Package msg implements the single-producer/single-consumer control
// channel from the Allocator to a worker (spec component C9, the
// core-relevant slice of Messenger): AllocDecision delivery and
// migration-ack round trips. Grounded on spec §4.9 / §6; the original has
// no dedicated messaging library, so this follows the plain buffered-channel
// idiom the rest of the pack uses for intra-process handoff.
package msg

import (
	"github.com/NVIDIA/ufssched/resrc"
)

// Type discriminates an FsProcMessage's payload.
type Type int

const (
	// NewResrcAlloc carries an AllocDecision from the Allocator to a worker.
	NewResrcAlloc Type = iota
	// InodeMove carries one export batch from a source worker to a destination worker.
	InodeMove
	// InodeMoveAck acknowledges a completed InodeMove back to the source worker.
	InodeMoveAck
)

// InodeMoveCtx is the payload of an InodeMove message.
type InodeMoveCtx struct {
	Index  uint64
	Aid    uint32
	SrcWid uint32
	DstWid uint32
	Items  []ExportedItem
}

// ExportedItem mirrors cache.ExportedBlockBufferItem without importing the
// cache package, keeping msg a leaf dependency.
type ExportedItem struct {
	Buf     []byte
	BlockNo uint64
	IsDirty bool
}

// InodeMoveAckCtx acknowledges completion of a specific InodeMove.
type InodeMoveAckCtx struct {
	Index  uint64
	Aid    uint32
	SrcWid uint32
}

// AllocDecision is the value shipped to a worker each planning pass.
type AllocDecision struct {
	Aid       uint32
	InodeMove []Move
	Resrc     resrc.Alloc
}

// Move is one planned migration leg: nfiles inodes relocate to dst_wid.
type Move struct {
	DstWid uint32
	Nfiles int
}

// FsProcMessage is the single envelope type carried on every channel.
type FsProcMessage struct {
	Type Type
	Ctx  interface{}
}

// Channel is a single-producer/single-consumer message queue between the
// Allocator and one worker, or between two workers during migration.
// Delivery is FIFO and at-least-once per spec §4.9: the buffered Go channel
// underneath already gives FIFO-per-sender ordering, and the sender never
// drops a send (it blocks rather than lose a message).
type Channel struct {
	ch chan FsProcMessage
}

// NewChannel creates a Channel with the given buffer depth.
func NewChannel(depth int) *Channel {
	return &Channel{ch: make(chan FsProcMessage, depth)}
}

// Send delivers msg, blocking if the channel is full. The sender no longer
// owns msg.Ctx after this call returns.
func (c *Channel) Send(m FsProcMessage) {
	c.ch <- m
}

// TryRecv performs a non-blocking receive, as the worker loop's message poll
// step requires (spec §4.6 step 6: "Poll incoming Allocator messages
// (non-blocking)").
func (c *Channel) TryRecv() (FsProcMessage, bool) {
	select {
	case m := <-c.ch:
		return m, true
	default:
		return FsProcMessage{}, false
	}
}

// SendAllocDecision is a typed convenience wrapper around Send.
func (c *Channel) SendAllocDecision(d AllocDecision) {
	c.Send(FsProcMessage{Type: NewResrcAlloc, Ctx: d})
}

// SendInodeMove is a typed convenience wrapper around Send.
func (c *Channel) SendInodeMove(ctx InodeMoveCtx) {
	c.Send(FsProcMessage{Type: InodeMove, Ctx: ctx})
}

// SendInodeMoveAck is a typed convenience wrapper around Send.
func (c *Channel) SendInodeMoveAck(ctx InodeMoveAckCtx) {
	c.Send(FsProcMessage{Type: InodeMoveAck, Ctx: ctx})
}
