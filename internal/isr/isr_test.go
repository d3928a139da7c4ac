package isr

import (
	"context"
	"testing"

	"grblcore-dx/internal/kinematics"
	"grblcore-dx/internal/planner"
	"grblcore-dx/internal/stepper"
)

func stdLimits() kinematics.Limits {
	return kinematics.Limits{
		StepsPerMM:      [3]float64{250, 250, 250},
		MaxAcceleration: [3]float64{36000, 36000, 36000},
	}
}

func TestWakeUpArmsStepTimer(t *testing.T) {
	p := planner.New(8, stdLimits(), 0.02)
	st := stepper.New(p)
	r := New(st)
	r.WakeUp()
	if !r.Enabled() {
		t.Error("WakeUp should enable the stepper drivers")
	}
}

func TestStepFiresAndPulseResets(t *testing.T) {
	p := planner.New(8, stdLimits(), 0.02)
	if ok, dropped := p.TryBufferLine([3]float64{10, 0, 0}, 3000, false); !ok || dropped {
		t.Fatalf("TryBufferLine failed: ok=%v dropped=%v", ok, dropped)
	}
	st := stepper.New(p)
	r := New(st)
	r.PulseMicroseconds = 10
	r.WakeUp()

	sawFire := false
	sawReset := false
	for i := 0; i < 2_000_000 && !(sawFire && sawReset); i++ {
		before := r.OutBits()
		_, fired := r.Step(stepper.ModeCycle)
		if fired {
			sawFire = true
		}
		if sawFire && before != 0 && r.OutBits() == 0 {
			sawReset = true
		}
	}
	if !sawFire {
		t.Fatal("step timer never fired")
	}
	if !sawReset {
		t.Error("pulse-reset timer never cleared the step bits")
	}
}

func TestInvertMaskAppliedToIdleOutput(t *testing.T) {
	p := planner.New(8, stdLimits(), 0.02)
	st := stepper.New(p)
	r := New(st)
	r.InvertMask = 0x07
	r.WakeUp()
	if r.OutBits() != 0x07 {
		t.Errorf("OutBits() = %#x after WakeUp with no block queued, want %#x (invert mask alone)", r.OutBits(), r.InvertMask)
	}
}

// TestAdvanceMatchesSingleStepping drives two identical machines, one via
// per-cycle Step calls and one via a single deadline-skipping Advance, and
// expects the same step events and clock position from both.
func TestAdvanceMatchesSingleStepping(t *testing.T) {
	build := func() *Runtime {
		p := planner.New(8, stdLimits(), 0.02)
		if ok, dropped := p.TryBufferLine([3]float64{2, 0, 0}, 3000, false); !ok || dropped {
			t.Fatalf("TryBufferLine failed: ok=%v dropped=%v", ok, dropped)
		}
		st := stepper.New(p)
		r := New(st)
		r.PulseMicroseconds = 10
		r.WakeUp()
		return r
	}

	const span = 3_000_000
	slow := build()
	slowFired := 0
	for i := 0; i < span; i++ {
		if _, fired := slow.Step(stepper.ModeCycle); fired {
			slowFired++
		}
	}

	fast := build()
	batch := fast.Advance(stepper.ModeCycle, span)

	if batch.Fired != slowFired {
		t.Errorf("Advance fired %d step events, per-cycle stepping fired %d", batch.Fired, slowFired)
	}
	if fast.Cycle != slow.Cycle {
		t.Errorf("Cycle = %d after Advance, want %d", fast.Cycle, slow.Cycle)
	}
	if fast.Stepper.Position != slow.Stepper.Position {
		t.Errorf("Position = %v after Advance, want %v", fast.Stepper.Position, slow.Stepper.Position)
	}
}

func TestEnableLineHonorsInvertedPolarity(t *testing.T) {
	p := planner.New(8, stdLimits(), 0.02)
	st := stepper.New(p)
	r := New(st)
	r.InvertEnable = true
	if !r.EnableLine() {
		t.Error("inverted enable line should read high while the drivers are de-energized")
	}
	r.WakeUp()
	if r.EnableLine() {
		t.Error("inverted enable line should read low while the drivers are energized")
	}
}

func TestGoIdleSkipsDwellWhenSentinelSet(t *testing.T) {
	p := planner.New(8, stdLimits(), 0.02)
	st := stepper.New(p)
	r := New(st)
	r.IdleLockMillis = 0xFF
	r.WakeUp()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.GoIdle(ctx, false)
	if !r.Enabled() {
		t.Error("0xFF idle-lock sentinel should leave the drivers enabled")
	}
}

func TestGoIdleDisablesAfterCancelledDwell(t *testing.T) {
	p := planner.New(8, stdLimits(), 0.02)
	st := stepper.New(p)
	r := New(st)
	r.IdleLockMillis = 250
	r.WakeUp()
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // pre-cancelled: GoIdle must not actually block the test
	r.GoIdle(ctx, false)
	if r.Enabled() {
		t.Error("drivers should be disabled once the (cancelled) dwell returns")
	}
}
