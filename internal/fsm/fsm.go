// Package fsm implements Module G: the runtime control state machine that
// sequences the planner, stepper, and ISR glue through idle/queued/cycle/
// hold/alarm states, matching main.c and stepper.c's sys.state transitions.
//
// Grounded on internal/cpu/cpu.go's flags/interrupt idiom
// (InterruptMask/InterruptPending), generalized here to an explicit state
// enum plus an EXEC_* bitset instead of a single flags byte -- the states
// are mutually exclusive where cpu.go's flags are independent bits.
package fsm

import (
	"context"

	"grblcore-dx/internal/isr"
	"grblcore-dx/internal/planner"
	"grblcore-dx/internal/stepper"
)

// State enumerates the runtime's mutually exclusive states.
type State int

const (
	StateInit State = iota
	StateIdle
	StateQueued
	StateCycle
	StateHold
	StateHoming
	StateAlarm
	StateCheck
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateIdle:
		return "Idle"
	case StateQueued:
		return "Queued"
	case StateCycle:
		return "Cycle"
	case StateHold:
		return "Hold"
	case StateHoming:
		return "Homing"
	case StateAlarm:
		return "Alarm"
	case StateCheck:
		return "Check"
	default:
		return "Unknown"
	}
}

// Execute bitset flags, named after Grbl's sys.execute EXEC_* runtime
// command bits -- set by whatever noticed the condition (the stepper ISR),
// cleared once the foreground loop in internal/machine has acted on them.
// Grbl's EXEC_CYCLE_START/EXEC_FEED_HOLD/EXEC_RESET bits exist to let a
// serial-RX interrupt hand a realtime command byte to the foreground
// without the ISR calling state-mutating code directly; spec.md section 1
// puts that serial/CLI layer out of scope and has CycleStart/FeedHold/
// Reset below serve directly as the "runtime-command hooks" an external
// collaborator would call instead, so there is no ISR context in this
// implementation that would ever raise those three bits. Only
// ExecCycleStop (raised by the stepper's HoldComplete signal, spec.md
// section 4.G's "Hold -> Queued when deceleration completes") and
// ExecAlarm genuinely originate outside the foreground here.
const (
	ExecCycleStop uint8 = 1 << iota
	ExecAlarm
)

// Machine owns the runtime state and the three subsystems whose
// transitions it sequences.
type Machine struct {
	State     State
	Execute   uint8
	AutoStart bool // planner auto-start: queued blocks begin running without an explicit cycle-start

	Planner *planner.Planner
	Stepper *stepper.Runtime
	ISR     *isr.Runtime
}

// New constructs a Machine in StateInit with auto-start enabled, matching
// Grbl's default $C behavior.
func New(p *planner.Planner, st *stepper.Runtime, timer *isr.Runtime) *Machine {
	return &Machine{State: StateInit, Planner: p, Stepper: st, ISR: timer, AutoStart: true}
}

// Boot transitions Init -> Idle, or Init -> Alarm if homingEnabled, the
// one-time startup transition once settings have loaded and position has
// synced (main.c's init sequence: "if homing is enabled... the system
// enters an ALARM state to force the user to home").
func (m *Machine) Boot(homingEnabled bool) {
	if m.State != StateInit {
		return
	}
	if homingEnabled {
		m.State = StateAlarm
		m.Execute |= ExecAlarm
		return
	}
	m.State = StateIdle
}

// Poll should be called once per foreground loop iteration (main.c's
// protocol_execute_runtime shape): it services execute.cycle_stop (Hold ->
// Queued once deceleration has completed), then notices a newly nonempty
// buffer while idle and promotes to Queued, auto-starting if enabled.
func (m *Machine) Poll(ctx context.Context) {
	m.CycleReinitialize(ctx)
	if m.State == StateIdle && !m.Planner.Ring().Empty() {
		m.State = StateQueued
	}
	if m.State == StateQueued && m.AutoStart && !m.Planner.Ring().Empty() {
		m.CycleStart()
	}
}

// CycleStart mirrors st_cycle_start: only takes effect from Queued.
func (m *Machine) CycleStart() {
	if m.State == StateQueued {
		m.State = StateCycle
		m.ISR.WakeUp()
	}
}

// FeedHold mirrors st_feed_hold: only takes effect during an active cycle,
// and disables auto-start so the machine doesn't resume on its own.
func (m *Machine) FeedHold() {
	if m.State == StateCycle {
		m.State = StateHold
		m.AutoStart = false
	}
}

// NotifyQueueEmpty should be called whenever stepper.TickResult.QueueEmpty
// is observed: in StateCycle the buffer ran dry and the cycle ends; in
// StateHold the held motion finished before deceleration did, so the
// cycle-stop bit is raised and CycleReinitialize resolves to Idle (there
// is no partial block left to replan).
func (m *Machine) NotifyQueueEmpty(ctx context.Context) {
	switch m.State {
	case StateCycle:
		m.ISR.GoIdle(ctx, false)
		m.State = StateIdle
	case StateHold:
		m.Execute |= ExecCycleStop
	}
}

// NotifyHoldComplete should be called whenever
// stepper.TickResult.HoldComplete is observed while in StateHold:
// deceleration finished and the machine is at a full, safe stop. This is
// the ISR's half of the handoff spec.md section 4.G describes -- it only
// raises execute.cycle_stop; CycleReinitialize (called automatically from
// Poll, or directly) clears the bit and performs the actual transition.
func (m *Machine) NotifyHoldComplete() {
	if m.State == StateHold {
		m.Execute |= ExecCycleStop
	}
}

// CycleReinitialize implements st_cycle_reinitialize, the foreground half
// of the Hold -> Queued handoff: if execute.cycle_stop has been raised
// (NotifyHoldComplete observed the deceleration finish), clear it, replan
// the remaining distance of the block the feed hold cut short, resume the
// trapezoid generator from rest, and return to Queued so the next
// CycleStart (automatic or commanded) picks the motion back up exactly
// where it left off. A no-op if the bit isn't set or the state isn't Hold.
func (m *Machine) CycleReinitialize(ctx context.Context) {
	if m.State != StateHold || m.Execute&ExecCycleStop == 0 {
		return
	}
	m.Execute &^= ExecCycleStop
	m.ISR.GoIdle(ctx, false)
	if blk := m.Stepper.CurrentBlock(); blk != nil {
		remaining := blk.StepEventCount - m.Stepper.StepEventsCompleted()
		m.Planner.ReplanRemaining(remaining)
		m.Stepper.ResumeFromHold()
		m.State = StateQueued
	} else {
		m.State = StateIdle
	}
}

// Alarm forces an immediate stop from any state -- a hard limit trip or a
// critical fault. The step timer is disabled at once, with no deceleration,
// and the idle-lock dwell is forced before the drivers are de-energized;
// only a reset (or, for soft alarms, an unlock) can clear it.
func (m *Machine) Alarm() {
	m.State = StateAlarm
	m.Execute |= ExecAlarm
	m.ISR.GoIdle(context.Background(), true)
}

// Reset implements the "Any -> Init" transition: every subsystem's running
// state is cleared and the machine starts over from Init, exactly as
// main.c's mc_reset/sys_reset path does on a soft reset.
func (m *Machine) Reset() {
	m.Planner.Reset()
	m.Stepper.Reset()
	m.ISR.Reset()
	m.State = StateInit
	m.Execute = 0
	m.AutoStart = true
}
