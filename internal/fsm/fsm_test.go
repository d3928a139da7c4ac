package fsm

import (
	"context"
	"testing"

	"grblcore-dx/internal/isr"
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

func newMachine() *Machine {
	p := planner.New(8, stdLimits(), 0.02)
	st := stepper.New(p)
	timer := isr.New(st)
	return New(p, st, timer)
}

func TestBootTransition(t *testing.T) {
	m := newMachine()
	m.Boot(false)
	if m.State != StateIdle {
		t.Errorf("State = %v, want Idle", m.State)
	}
}

func TestBootAlarmsWhenHomingEnabled(t *testing.T) {
	m := newMachine()
	m.Boot(true)
	if m.State != StateAlarm {
		t.Errorf("State = %v, want Alarm when booting with homing enabled", m.State)
	}
	if m.Execute&ExecAlarm == 0 {
		t.Error("Execute bitset should carry ExecAlarm after a homing-required boot")
	}
	// Boot reads the homing flag afresh each time it runs from Init: a later
	// Boot(false) from Init lands in Idle, not Alarm.
	m.State = StateInit
	m.Boot(false)
	if m.State != StateIdle {
		t.Errorf("State = %v, want Idle on a subsequent Boot(false)", m.State)
	}
}

func TestPollAutoStartsOnQueuedBlock(t *testing.T) {
	m := newMachine()
	m.Boot(false)
	if ok, dropped := m.Planner.TryBufferLine([3]float64{10, 0, 0}, 3000, false); !ok || dropped {
		t.Fatalf("TryBufferLine failed: ok=%v dropped=%v", ok, dropped)
	}
	m.Poll(context.Background())
	if m.State != StateCycle {
		t.Errorf("State = %v, want Cycle after Poll with AutoStart and a queued block", m.State)
	}
}

func TestCycleStartOnlyFromQueued(t *testing.T) {
	m := newMachine()
	m.CycleStart() // from Init: no-op
	if m.State != StateInit {
		t.Errorf("State = %v, want Init (CycleStart should no-op outside Queued)", m.State)
	}
}

// TestFeedHoldThenResume reproduces spec.md section 8's "Feed hold then
// resume" scenario: Cycle -> Hold -> (resume) -> Queued -> Cycle, with the
// stepper's Bresenham position continuing exactly where it left off.
func TestFeedHoldThenResume(t *testing.T) {
	m := newMachine()
	m.Boot(false)
	if ok, dropped := m.Planner.TryBufferLine([3]float64{50, 0, 0}, 3000, false); !ok || dropped {
		t.Fatal("TryBufferLine failed")
	}
	m.Poll(context.Background())
	if m.State != StateCycle {
		t.Fatalf("State = %v, want Cycle", m.State)
	}

	// Run a handful of ticks, then hold.
	for i := 0; i < 50; i++ {
		m.Stepper.Tick(stepper.ModeCycle)
	}
	m.FeedHold()
	if m.State != StateHold {
		t.Fatalf("State = %v, want Hold", m.State)
	}
	if m.AutoStart {
		t.Error("FeedHold should clear AutoStart")
	}

	// Keep ticking in hold mode until deceleration completes.
	holdComplete := false
	for i := 0; i < 200_000 && !holdComplete; i++ {
		res := m.Stepper.Tick(stepper.ModeHold)
		if res.HoldComplete {
			holdComplete = true
		}
	}
	if !holdComplete {
		t.Fatal("feed hold never completed deceleration")
	}
	posBeforeResume := m.Stepper.Position[0]

	ctx := context.Background()
	m.NotifyHoldComplete()
	if m.Execute&ExecCycleStop == 0 {
		t.Fatal("NotifyHoldComplete should raise ExecCycleStop")
	}
	m.CycleReinitialize(ctx)
	if m.State != StateQueued {
		t.Fatalf("State = %v, want Queued after CycleReinitialize", m.State)
	}
	if m.Execute&ExecCycleStop != 0 {
		t.Error("CycleReinitialize should clear ExecCycleStop")
	}
	if m.Stepper.Position[0] != posBeforeResume {
		t.Error("CycleReinitialize must not itself move the machine")
	}

	m.CycleStart()
	if m.State != StateCycle {
		t.Fatalf("State = %v, want Cycle after CycleStart from Queued", m.State)
	}

	// Drive to completion; the remaining distance should be fully traced.
	for i := 0; i < 10_000_000 && m.Stepper.Active(); i++ {
		res := m.Stepper.Tick(stepper.ModeCycle)
		if res.QueueEmpty {
			break
		}
	}
	if m.Stepper.Position[0] != 50*250 {
		t.Errorf("final Position[0] = %d, want %d", m.Stepper.Position[0], 50*250)
	}
}

func TestAlarmOverridesAnyState(t *testing.T) {
	m := newMachine()
	m.Boot(false)
	m.Alarm()
	if m.State != StateAlarm {
		t.Errorf("State = %v, want Alarm", m.State)
	}
	if m.Execute&ExecAlarm == 0 {
		t.Error("Execute bitset should carry ExecAlarm")
	}
}

func TestResetReturnsToInit(t *testing.T) {
	m := newMachine()
	m.Boot(false)
	m.Planner.TryBufferLine([3]float64{10, 0, 0}, 3000, false)
	m.Poll(context.Background())
	m.Reset()
	if m.State != StateInit {
		t.Errorf("State = %v, want Init", m.State)
	}
	if !m.Planner.Ring().Empty() {
		t.Error("Reset should empty the ring")
	}
}
