package view

import (
	"testing"

	"github.com/NVIDIA/ufssched/param"
	"github.com/NVIDIA/ufssched/resrc"
	"github.com/NVIDIA/ufssched/tag"
	"github.com/NVIDIA/ufssched/tenant"
	"github.com/stretchr/testify/assert"
)

func TestPollStatInactiveBeforeAnyProgress(t *testing.T) {
	assert := assert.New(t)

	v := New(1)
	tn := tenant.New(tag.ForTenant(1, 0), resrc.Alloc{CacheSize: 100, Bandwidth: 1024, CpuCycles: 210_000_000}, param.ParamsCoarse.Ghost, false)
	v.AppendTenant(tn)

	v.ResetStat()
	assert.False(v.PollStat(true))
	assert.False(v.IsActive())
}

func TestPollStatActiveAfterBlocksDone(t *testing.T) {
	assert := assert.New(t)

	v := New(1)
	tn := tenant.New(tag.ForTenant(1, 0), resrc.Alloc{CacheSize: 100, Bandwidth: 1024, CpuCycles: 210_000_000}, param.ParamsCoarse.Ghost, false)
	v.AppendTenant(tn)
	v.ResetStat()

	tn.Acct.RecordBlocksDone(10)
	tn.Acct.RecordCpuConsump(1000)
	tn.Acct.RecordBwConsump(2)

	assert.True(v.PollStat(true))
	assert.True(v.IsActive())
	assert.Equal(uint64(10), v.Total().BlocksDone)
}

func TestAppendTenantOrderedByWorker(t *testing.T) {
	assert := assert.New(t)

	v := New(2)
	t0 := tenant.New(tag.ForTenant(2, 0), resrc.Alloc{CacheSize: 100, Bandwidth: 1024, CpuCycles: 210_000_000}, param.ParamsCoarse.Ghost, false)
	t1 := tenant.New(tag.ForTenant(2, 1), resrc.Alloc{CacheSize: 100, Bandwidth: 1024, CpuCycles: 210_000_000}, param.ParamsCoarse.Ghost, false)
	v.AppendTenant(t0)
	v.AppendTenant(t1)

	assert.Equal(2, v.NumTenants())
}
