package ratelimit

import (
	"testing"

	"github.com/NVIDIA/ufssched/param"
	"github.com/stretchr/testify/assert"
)

func TestCanSendWithinFrame(t *testing.T) {
	assert := assert.New(t)

	rl := New(1024)

	// Within a single frame, only rate_inv^-1 * frame-fraction blocks are permitted.
	sent := 0
	for i := uint64(0); i < param.CyclesPerFrame; i += 1000 {
		if rl.CanSend(i) {
			sent++
		}
	}

	expected := param.CyclesPerFrame / bwToRateInv(1024)
	assert.InEpsilon(float64(expected), float64(sent), 0.05)
}

func TestTurnOffAlwaysPermits(t *testing.T) {
	assert := assert.New(t)

	rl := New(param.MinBandwidth)
	rl.Turn(false)

	for i := uint64(0); i < 1000; i++ {
		assert.True(rl.CanSend(i))
	}
}

func TestIsMinBandwidth(t *testing.T) {
	assert := assert.New(t)

	rl := New(param.MinBandwidth)
	assert.True(rl.IsMinBandwidth())

	rl.UpdateBandwidth(param.MinBandwidth * 100)
	assert.False(rl.IsMinBandwidth())
}
