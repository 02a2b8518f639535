package tenant

import (
	"testing"

	"github.com/NVIDIA/ufssched/param"
	"github.com/NVIDIA/ufssched/resrc"
	"github.com/NVIDIA/ufssched/tag"
	"github.com/stretchr/testify/assert"
)

func newTestTenant(strictCpuUsage bool) *Tenant {
	return New(tag.ForTenant(1, 0), resrc.Alloc{CacheSize: 1000, Bandwidth: 1024, CpuCycles: 210_000_000}, param.ParamsCoarse.Ghost, strictCpuUsage)
}

func TestRecvQueueIsFIFO(t *testing.T) {
	assert := assert.New(t)

	tn := newTestTenant(false)
	tn.PushRecvQueue("a")
	tn.PushRecvQueue("b")
	tn.PushRecvQueue("c")

	assert.Equal("a", tn.PopRecvQueue())
	assert.Equal("b", tn.PopRecvQueue())
	assert.Equal("c", tn.PopRecvQueue())
	assert.Nil(tn.PopRecvQueue())
}

func TestPopRecvQueueBlockedWhileDraining(t *testing.T) {
	assert := assert.New(t)

	tn := newTestTenant(false)
	tn.PushRecvQueue("a")
	tn.SetDrainForMigration([]Move{{DstWid: 1, Nfiles: 2}})

	assert.Nil(tn.PopRecvQueue())
}

func TestNumReqsInflightNonNegativeAndZeroAfterDrain(t *testing.T) {
	assert := assert.New(t)

	tn := newTestTenant(false)
	tn.PushRecvQueue("a")
	tn.PushRecvQueue("b")
	tn.PopRecvQueue()
	tn.PopRecvQueue()
	assert.Equal(2, tn.NumReqsInflight())

	tn.SetDrainForMigration([]Move{{DstWid: 1, Nfiles: 1}})
	assert.False(tn.ShouldMigrate())

	tn.RecordReqDone()
	assert.False(tn.ShouldMigrate())
	tn.RecordReqDone()
	assert.True(tn.ShouldMigrate())

	tn.UnsetDrainForMigration()
	assert.Equal(0, tn.NumReqsInflight())
	assert.False(tn.IsDrain())
}

func TestStrictCpuThrottle(t *testing.T) {
	assert := assert.New(t)

	// weight = 10% of a full-weight worker: cpu_cycles = 10% of cycles_per_second.
	tn := newTestTenant(true)
	tn.SetResrc(resrc.Alloc{CacheSize: 1000, Bandwidth: 1024, CpuCycles: uint64(param.CyclesPerSecond / 10)})
	tn.PushRecvQueue("work")

	elapsed := uint64(param.CyclesPerSecond) // one full second window
	allotted := elapsed * tn.Weight() / param.CyclesToWeight(param.CyclesPerSecond)

	// consume 15% of a full second's cycles, worth more than the 10% allotted.
	tn.RecordCpuConsump(uint64(float64(param.CyclesPerSecond) * 0.15))

	assert.False(tn.CanSched(elapsed))
	assert.Greater(progressToCycles(tn.CpuProg(), tn.Weight()), allotted)

	tn.ResetCpuProg()
	assert.True(tn.CanSched(elapsed))
}

func TestGetCpuPerBlockInfiniteBeforeAnyBlocks(t *testing.T) {
	assert := assert.New(t)

	tn := newTestTenant(false)
	assert.True(tn.GetCpuPerBlock() > 1e300)

	tn.Acct.RecordBlocksDone(1)
	tn.Acct.RecordCpuConsump(500)
	assert.Equal(500.0, tn.GetCpuPerBlock())
}
