package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonotonic(t *testing.T) {
	c, err := New(RealTime, 1)
	require.NoError(t, err)
	t1 := c.Now()
	time.Sleep(5 * time.Millisecond)
	t2 := c.Now()
	assert.GreaterOrEqual(t, t2, t1)
}

func TestSteppedRequiresExplicitStep(t *testing.T) {
	c, err := New(Stepped, 1)
	require.NoError(t, err)
	start := c.Now()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, start, c.Now())

	require.NoError(t, c.Step(0.5))
	assert.InDelta(t, start+0.5, c.Now(), 1e-9)
}

func TestStepRejectedOutsideStepped(t *testing.T) {
	c, err := New(RealTime, 1)
	require.NoError(t, err)
	err = c.Step(1)
	require.Error(t, err)
}

func TestSetSpeedRejectsNonPositive(t *testing.T) {
	c, err := New(Accelerated, 2)
	require.NoError(t, err)
	require.Error(t, c.SetSpeed(0))
	require.Error(t, c.SetSpeed(-1))
	require.NoError(t, c.SetSpeed(5))
}

func TestAccelerationRatio(t *testing.T) {
	c, err := New(Accelerated, 10)
	require.NoError(t, err)
	start := c.Now()
	wallStart := time.Now()
	time.Sleep(50 * time.Millisecond)
	simElapsed := c.Now() - start
	wallElapsed := time.Since(wallStart).Seconds()
	ratio := simElapsed / wallElapsed
	assert.InDelta(t, 10, ratio, 0.05*10)
}

func TestPauseResumeNoRetroactiveJump(t *testing.T) {
	c, err := New(RealTime, 1)
	require.NoError(t, err)
	c.Pause()
	frozen := c.Now()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, frozen, c.Now())
	c.Resume()
	assert.GreaterOrEqual(t, c.Now(), frozen)
}

func TestSleepSimStepped(t *testing.T) {
	c, err := New(Stepped, 1)
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		c.SleepSim(1.0)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("SleepSim returned before enough steps occurred")
	default:
	}

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Step(0.1))
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SleepSim did not wake after enough Step calls")
	}
}
