// Package machine wires the block ring buffer, kinematic converter,
// planner, stepper, ISR scheduler, and runtime FSM into one runnable
// controller, the way main.c wires plan_init/st_init/protocol_init into a
// single reset-and-run loop.
package machine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"grblcore-dx/internal/diag"
	"grblcore-dx/internal/fsm"
	"grblcore-dx/internal/isr"
	"grblcore-dx/internal/planner"
	"grblcore-dx/internal/reporter"
	"grblcore-dx/internal/settings"
	"grblcore-dx/internal/stepper"
)

const ringCapacity = 16

// diagStepEventWindow sizes internal/diag's ring buffer to ringCapacity
// blocks' worth of step-event entries, so a full diagnostic dump always
// spans at least one planner-buffer's depth of queued motion, whatever
// ringCapacity happens to be for a given machine, rather than an arbitrary
// fixed constant.
const diagStepEventWindow = 64

// Machine is the top-level controller: every public operation from here
// down is what an interface (a terminal, a GUI, a test) actually calls.
// mu guards every field that the step timer's Run loop, the FSM
// transition methods (CycleStart/FeedHold/Resume/RaiseAlarm), and an
// unrelated polling goroutine (a GUI's status line, a CLI's position
// printer) could otherwise race on -- spec.md section 5's "readers must
// snapshot under a critical section" requirement, generalized from
// disabling interrupts to a mutex since nothing here runs in a real
// interrupt context.
type Machine struct {
	Store    settings.Store
	Settings settings.Settings
	Planner  *planner.Planner
	Stepper  *stepper.Runtime
	ISR      *isr.Runtime
	FSM      *fsm.Machine
	Log      *diag.Logger
	Report   *reporter.Reporter

	// StartupHook runs once per Boot that reaches Idle (it is skipped when
	// the boot ends in Alarm), mirroring protocol_execute_startup's stored
	// startup-line replay. Left
	// nil by default; a caller wanting startup G-code lines would set it.
	StartupHook func(m *Machine) error

	mu    sync.Mutex
	abort bool
}

// Snapshot is a consistent, lock-protected view of the machine's
// externally-visible state -- the FSM state and step position -- for
// anything polling the machine from outside its owning goroutine (a GUI
// update loop, a status printer). Reading State and Position through two
// separate calls could observe them from different instants; Snapshot
// takes them together under one critical section.
type Snapshot struct {
	State    fsm.State
	Position [3]int64
}

// New creates a Machine from a settings store and an output stream for
// protocol-style text (status/alarm/feedback messages).
func New(store settings.Store, out io.Writer) (*Machine, error) {
	cfg, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	p := planner.New(ringCapacity, cfg.Limits(), cfg.JunctionDeviation)
	st := stepper.New(p)
	timer := isr.New(st)
	// The settings keep step and direction polarities as separate per-axis
	// masks; the out-bits layout packs direction in bits 0-2 and step in
	// bits 3-5, so the two fold into the one XOR mask the ISR applies.
	timer.InvertMask = (cfg.StepInvertMask&0x07)<<3 | cfg.DirInvertMask&0x07
	timer.InvertEnable = cfg.InvertStepEnable
	timer.PulseMicroseconds = cfg.PulseMicroseconds
	timer.IdleLockMillis = cfg.StepperIdleLockMS

	m := &Machine{
		Store:    store,
		Settings: cfg,
		Planner:  p,
		Stepper:  st,
		ISR:      timer,
		FSM:      fsm.New(p, st, timer),
		Log:      diag.NewLogger(ringCapacity * diagStepEventWindow),
		Report:   reporter.New(out),
		abort:    true,
	}
	return m, nil
}

// Boot reproduces main.c's for(;;) abort branch: clear the block buffer
// and planner/stepper state, resync position, and either report the
// alarm-locked state or drop into Idle and run the startup hook.
func (m *Machine) Boot() error {
	m.mu.Lock()
	if !m.abort {
		m.mu.Unlock()
		return nil
	}

	m.Planner.Reset()
	m.Stepper.Reset()
	m.ISR.Reset()
	m.syncPositionLocked()
	m.FSM.Boot(m.Settings.HomingEnable)
	m.abort = false
	state := m.FSM.State
	alarm := state == fsm.StateAlarm
	m.mu.Unlock()
	m.Log.Logf(diag.ComponentFSM, diag.LevelInfo, "boot complete, state %s", state)

	if alarm {
		m.Report.FeedbackMessage(reporter.MessageAlarmLock)
		return nil
	}

	if m.StartupHook != nil {
		if err := m.StartupHook(m); err != nil {
			return fmt.Errorf("startup hook: %w", err)
		}
	}
	return nil
}

// PlanBufferLine blocks until the move is accepted into the ring or the
// context is cancelled, the way the original firmware busy-waits in
// plan_buffer_line for a free ring slot while still servicing the stepper
// ISR in the background. A zero-length move is accepted as a no-op
// (dropped=true) rather than retried forever.
func (m *Machine) PlanBufferLine(ctx context.Context, targetMM [3]float64, feedRate float64, invertFeed bool) (dropped bool, err error) {
	for {
		m.mu.Lock()
		ok, dropped := m.Planner.TryBufferLine(targetMM, feedRate, invertFeed)
		if ok {
			m.FSM.Poll(ctx)
		}
		m.mu.Unlock()
		if ok {
			m.Log.Logf(diag.ComponentPlanner, diag.LevelDebug, "buffered line to %v at %v mm/min", targetMM, feedRate)
			return false, nil
		}
		if dropped {
			m.Log.Logf(diag.ComponentPlanner, diag.LevelDebug, "dropped zero-length line to %v", targetMM)
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// syncBatchCycles is how many simulated clock cycles each pump iteration
// advances -- one acceleration tick's worth, so rate changes land at the
// same granularity the foreground would observe them at on hardware.
const syncBatchCycles = stepper.CyclesPerSecond / uint64(planner.AccelerationTicksPerSecond)

// PlanSynchronize blocks until the ring drains and the stepper goes idle,
// the blocking counterpart to a G-code program's implicit end-of-stream
// wait. Ticks the stepper/ISR itself so it is usable standalone (e.g. from
// a CLI driving synthetic moves with nothing else pumping the clock).
func (m *Machine) PlanSynchronize(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		m.mu.Lock()
		active := m.Stepper.Active() || !m.Planner.Ring().Empty()
		if !active {
			// The last block may have finished mid-batch, before the step
			// timer fired on an empty queue; settle the FSM to Idle here.
			m.FSM.NotifyQueueEmpty(ctx)
			m.mu.Unlock()
			return nil
		}
		m.FSM.Poll(ctx)
		mode := stepper.ModeCycle
		if m.FSM.State == fsm.StateHold {
			mode = stepper.ModeHold
		}
		batch := m.ISR.Advance(mode, syncBatchCycles)
		if batch.HoldComplete {
			m.FSM.NotifyHoldComplete()
		}
		if batch.QueueEmpty && !m.Stepper.Active() {
			m.FSM.NotifyQueueEmpty(ctx)
		}
		m.mu.Unlock()
	}
}

// CycleStart, FeedHold, Resume, and RaiseAlarm forward directly to the
// FSM under the machine lock -- Machine doesn't duplicate state transition
// logic, only wiring and synchronization.
func (m *Machine) CycleStart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FSM.CycleStart()
}

func (m *Machine) FeedHold() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FSM.FeedHold()
	m.Log.Logf(diag.ComponentFSM, diag.LevelInfo, "feed hold requested, state %s", m.FSM.State)
}

// Resume implements st_cycle_reinitialize directly, for a caller that wants
// to force the Hold -> Queued handoff rather than waiting for the next
// Run tick's Poll to service it once execute.cycle_stop has been raised.
func (m *Machine) Resume(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FSM.CycleReinitialize(ctx)
}

// RaiseAlarm halts motion and reports the alarm to the host, the path a
// hard-limit ISR or an abort-during-cycle takes (spec.md section 7's
// asynchronous alarms). Only a reset clears it.
func (m *Machine) RaiseAlarm(code reporter.AlarmCode) {
	m.mu.Lock()
	m.FSM.Alarm()
	m.mu.Unlock()
	m.Log.Log(diag.ComponentFSM, diag.LevelError, "alarm raised, motion halted", nil)
	m.Report.AlarmMessage(code)
	m.Report.FeedbackMessage(reporter.MessageCriticalEvent)
}

// SyncCurrentPosition aligns the planner's position with the stepper's
// traced machine position (sys_sync_current_position) -- called from Boot
// and by a homing collaborator after it redefines machine zero.
func (m *Machine) SyncCurrentPosition() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncPositionLocked()
}

func (m *Machine) syncPositionLocked() {
	var pos [3]float64
	for i, v := range m.Stepper.Position {
		pos[i] = float64(v)
	}
	m.Planner.SyncPosition(pos)
}

// PositionSteps returns a lock-protected snapshot of the stepper's
// absolute position, matching spec.md section 5's requirement that readers
// outside the step ISR snapshot sys.position under a critical section
// rather than risk a torn multi-word read.
func (m *Machine) PositionSteps() [3]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Stepper.Position
}

// Snapshot returns the FSM state and step position together, under one
// critical section -- see the Snapshot type doc.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{State: m.FSM.State, Position: m.Stepper.Position}
}

// CurrentRate and Active give a lock-protected view of the stepper's live
// rate and trace status, the shape internal/stepaudio.RateSource needs --
// letting an SDL2 audio device's own goroutine tune its oscillator from the
// same Machine another goroutine is driving through Run, without reaching
// past the mutex to Stepper directly.
func (m *Machine) CurrentRate() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Stepper.CurrentRate()
}

func (m *Machine) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Stepper.Active()
}

// SysReset forces sys.abort, the same flag main.c checks at the top of its
// for(;;) loop to decide whether to re-run Boot.
func (m *Machine) SysReset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abort = true
	m.FSM.Reset()
}

// Run polls the machine at pollHz, blocking until ctx is cancelled: each
// poll advances the simulated ISR clock by CyclesPerSecond/pollHz cycles,
// so motion tracks wall-clock time whatever the poll rate. This is the
// free-running equivalent of main.c's for(;;) loop body
// (protocol_execute_runtime + protocol_process), minus any serial-line
// parsing -- callers drive PlanBufferLine/FeedHold/etc. concurrently from
// another goroutine or from test code; every such call synchronizes with
// this loop through mu.
func (m *Machine) Run(ctx context.Context, pollHz float64) error {
	if err := m.Boot(); err != nil {
		return err
	}
	period := time.Duration(float64(time.Second) / pollHz)
	cyclesPerPoll := uint64(float64(stepper.CyclesPerSecond) / pollHz)
	if cyclesPerPoll < 1 {
		cyclesPerPoll = 1
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.mu.Lock()
			abort := m.abort
			if abort {
				m.mu.Unlock()
				if err := m.Boot(); err != nil {
					return err
				}
				continue
			}
			mode := stepper.ModeCycle
			if m.FSM.State == fsm.StateHold {
				mode = stepper.ModeHold
			}
			batch := m.ISR.Advance(mode, cyclesPerPoll)
			if batch.HoldComplete {
				m.FSM.NotifyHoldComplete()
				m.Log.Log(diag.ComponentStepper, diag.LevelInfo, "feed hold deceleration complete", nil)
			}
			if batch.QueueEmpty && !m.Stepper.Active() {
				m.FSM.NotifyQueueEmpty(ctx)
				m.Log.Log(diag.ComponentStepper, diag.LevelInfo, "block queue drained, going idle", nil)
			}
			m.FSM.Poll(ctx)
			m.mu.Unlock()
		}
	}
}
