package ghostcache

import (
	"testing"

	"github.com/NVIDIA/ufssched/param"
	"github.com/stretchr/testify/assert"
)

func TestInclusiveCurve(t *testing.T) {
	assert := assert.New(t)

	g := New(param.GhostSweep{MinSize: 32 * 1024 * 1024, MaxSize: 128 * 1024 * 1024, Tick: 32 * 1024 * 1024})

	for i := uint64(0); i < 200000; i++ {
		g.Access(i%5000, Default)
	}

	var prevHit, prevMiss uint64
	for i, sz := range g.sizes {
		stat := g.GetStat(sz)
		if i > 0 {
			assert.GreaterOrEqual(stat.HitCnt, prevHit)
			assert.LessOrEqual(stat.MissCnt, prevMiss)
		}
		prevHit, prevMiss = stat.HitCnt, stat.MissCnt
	}
}

func TestDistrViewSplitsByWeight(t *testing.T) {
	assert := assert.New(t)

	sweep := param.GhostSweep{MinSize: 8 * 1024 * 1024, MaxSize: 64 * 1024 * 1024, Tick: 8 * 1024 * 1024}
	g1 := New(sweep)
	g2 := New(sweep)
	for i := uint64(0); i < 50000; i++ {
		g1.Access(i%1000, Default)
		g2.Access(i%1000, Default)
	}

	d := NewDistrView()
	d.AppendTenant(NewView(g1, 100))
	d.AppendTenant(NewView(g2, 100))

	rate := d.GetHitRate(32 * 1024 * 1024)
	assert.GreaterOrEqual(rate, 0.0)
	assert.LessOrEqual(rate, 1.0)

	// memoized: a second call with the same size must return the same value.
	assert.Equal(rate, d.GetHitRate(32*1024*1024))
}
