// Package clock implements the simulation's single authoritative time
// source (§4.1). Every time-dependent component in the kernel reads from a
// *Clock handle passed to it by the orchestrator at construction; there is
// no global mutable clock.
//
// Grounded on grimm.is/flywall/internal/kernel.SimKernel's MockClock field:
// the teacher threads a clock handle through its simulation kernel and reads
// simulated time through it exclusively rather than calling time.Now()
// inline. We generalize that single mock-time handle into the four modes
// spec.md requires.
package clock

import (
	"sync"
	"time"

	"github.com/grimm-is/icsrange/internal/icserr"
)

// Mode selects how sim_now advances between explicit operations.
type Mode int

const (
	// RealTime advances sim_now by wall-clock delta each internal tick.
	RealTime Mode = iota
	// Accelerated advances sim_now by speed*wall-clock delta.
	Accelerated
	// Stepped only advances via explicit Step calls.
	Stepped
	// Paused freezes sim_now.
	Paused
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "RealTime"
	case Accelerated:
		return "Accelerated"
	case Stepped:
		return "Stepped"
	case Paused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// Snapshot is a point-in-time read of clock state, used by the admin API
// and deterministic-replay tests.
type Snapshot struct {
	Mode    Mode
	Speed   float64
	SimNow  float64
	Cycles  uint64
	Paused  bool
}

// Clock is the process-wide time source. One instance is created at boot
// and handed by reference to every component that needs wall-independent
// time; it is destroyed at shutdown. All methods are safe for concurrent use.
type Clock struct {
	mu sync.Mutex

	mode  Mode
	speed float64

	simNow    float64
	wallStart time.Time
	wallBase  time.Time // reset whenever we resume from pause or switch modes
	paused    bool
	cycles    uint64

	// stepCh is closed and replaced each time Step is called, letting
	// sleepers in Stepped mode wake when enough sim time has passed.
	stepCh chan struct{}
}

// New constructs a Clock in the given mode. speed is only meaningful for
// Accelerated and must be > 0 in that case.
func New(mode Mode, speed float64) (*Clock, error) {
	if mode == Accelerated && speed <= 0 {
		return nil, icserr.New(icserr.InvalidConfig, "clock: accelerated speed must be > 0, got %v", speed)
	}
	if speed <= 0 {
		speed = 1
	}
	now := time.Now()
	return &Clock{
		mode:      mode,
		speed:     speed,
		wallStart: now,
		wallBase:  now,
		stepCh:    make(chan struct{}),
	}, nil
}

// Now returns the current simulated time in seconds, non-blocking and
// monotonic nondecreasing.
func (c *Clock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lockedNow()
}

// lockedNow must be called with c.mu held.
func (c *Clock) lockedNow() float64 {
	switch c.mode {
	case RealTime:
		if c.paused {
			return c.simNow
		}
		return c.simNow + time.Since(c.wallBase).Seconds()
	case Accelerated:
		if c.paused {
			return c.simNow
		}
		return c.simNow + c.speed*time.Since(c.wallBase).Seconds()
	case Stepped, Paused:
		return c.simNow
	default:
		return c.simNow
	}
}

// Elapsed returns seconds of simulated time since the clock was created.
func (c *Clock) Elapsed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lockedNow()
}

// Mode returns the current mode.
func (c *Clock) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Cycles returns the number of tick-loop iterations the orchestrator has
// reported via IncrementCycles.
func (c *Clock) Cycles() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycles
}

// IncrementCycles is called once per orchestrator tick-loop iteration.
func (c *Clock) IncrementCycles() {
	c.mu.Lock()
	c.cycles++
	c.mu.Unlock()
}

// SetMode changes the clock's mode, freezing simNow at the current value
// and resetting the wall base so no retroactive jump occurs.
func (c *Clock) SetMode(m Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.simNow = c.lockedNow()
	c.mode = m
	c.wallBase = time.Now()
	if m == Paused {
		c.paused = true
	} else {
		c.paused = false
	}
}

// SetSpeed changes the acceleration factor for Accelerated mode.
func (c *Clock) SetSpeed(k float64) error {
	if k <= 0 {
		return icserr.New(icserr.InvalidConfig, "clock: speed must be > 0, got %v", k)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.simNow = c.lockedNow()
	c.wallBase = time.Now()
	c.speed = k
	return nil
}

// Pause freezes sim_now.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.simNow = c.lockedNow()
	c.paused = true
}

// Resume unfreezes sim_now, resetting the wall base so resuming never
// produces a retroactive jump.
func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wallBase = time.Now()
	c.paused = false
}

// Step advances sim_now by exactly dt. Valid only in Stepped mode.
func (c *Clock) Step(dt float64) error {
	c.mu.Lock()
	if c.mode != Stepped {
		c.mu.Unlock()
		return icserr.New(icserr.InvalidMode, "clock: step() requires Stepped mode, have %v", c.mode)
	}
	c.simNow += dt
	ch := c.stepCh
	c.stepCh = make(chan struct{})
	c.mu.Unlock()
	close(ch)
	return nil
}

// Reset returns the clock to time zero at the current wall instant,
// preserving mode and speed.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.simNow = 0
	c.cycles = 0
	c.wallStart = time.Now()
	c.wallBase = c.wallStart
	c.paused = false
}

// SleepSim cooperatively waits until sim_now has advanced by at least dt
// from the instant SleepSim was called. In Stepped mode this blocks until
// enough Step calls have accumulated that much simulated time; in
// RealTime/Accelerated it polls against a short real-time tick. The
// comparison allows a 1e-9 s tolerance so that steps which sum to dt in
// exact arithmetic (ten steps of 0.1 for a 1.0 sleep) are enough despite
// floating-point rounding.
func (c *Clock) SleepSim(dt float64) {
	c.mu.Lock()
	target := c.lockedNow() + dt - 1e-9
	mode := c.mode
	c.mu.Unlock()

	if mode == Stepped {
		for {
			c.mu.Lock()
			if c.lockedNow() >= target {
				c.mu.Unlock()
				return
			}
			ch := c.stepCh
			c.mu.Unlock()
			<-ch
		}
	}

	for {
		c.mu.Lock()
		now := c.lockedNow()
		c.mu.Unlock()
		if now >= target {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// Snap returns a consistent point-in-time snapshot of clock state.
func (c *Clock) Snap() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Mode:   c.mode,
		Speed:  c.speed,
		SimNow: c.lockedNow(),
		Cycles: c.cycles,
		Paused: c.paused,
	}
}
