// Package stepper implements Modules D and E together, exactly as
// stepper.c does: one function tracing Bresenham step events and
// advancing the trapezoid acceleration profile over one shared state
// struct, because the two were never meant to be separated -- the
// trapezoid generator only knows where it is in the move because the
// Bresenham tracer just advanced it.
package stepper

import (
	"grblcore-dx/internal/kinematics"
	"grblcore-dx/internal/planner"
)

// CyclesPerSecond is a notional clock frequency, playing the same role
// F_CPU plays in stepper.c: a unit of account for converting a steps/min
// rate into cycles-per-step-event. It does not correspond to any real
// hardware clock here -- internal/isr's scheduler advances in these same
// units, decoupled from wall time, so tests can drive the whole stack
// deterministically.
const CyclesPerSecond = 10_000_000

// MinimumStepsPerMinute floors every commanded rate, matching stepper.c's
// set_step_events_per_minute clamp -- a rate of exactly zero would make
// cycles_per_step_event infinite.
const MinimumStepsPerMinute = 60

// cyclesPerAccelerationTick mirrors stepper.c's CYCLES_PER_ACCELERATION_TICK.
var cyclesPerAccelerationTick = uint64(CyclesPerSecond / planner.AccelerationTicksPerSecond)

// RunMode tells Tick whether the machine is running normally or riding out
// a feed hold deceleration -- stepper.c branches on sys.state for exactly
// this distinction.
type RunMode int

const (
	ModeCycle RunMode = iota
	ModeHold
)

// Step/direction bit layout reuses kinematics' per-axis direction bits;
// the step bits occupy the next three positions, matching stepper.c's
// STEP_BIT/DIRECTION_BIT pairing per axis.
const (
	StepBitX = 1 << 3
	StepBitY = 1 << 4
	StepBitZ = 1 << 5
)

// TickResult reports what one Tick call did, so internal/isr and
// internal/fsm can react without reaching into Runtime's internals.
type TickResult struct {
	OutBits      uint8 // direction bits | step bits, invert mask NOT yet applied
	BlockDone    bool  // the active block just finished and was discarded
	QueueEmpty   bool  // no block was available to start
	HoldComplete bool  // feed-hold deceleration reached a safe stop
}

// Runtime is the Go analog of stepper.c's static stepper_t plus
// current_block: the live Bresenham/trapezoid state for whichever block is
// currently borrowed from the planner's ring tail.
type Runtime struct {
	source  *planner.Planner
	current *planner.Block

	counterX, counterY, counterZ int64
	eventCount                   uint32
	stepEventsCompleted          uint32

	cyclesPerStepEvent uint64
	trapCycleCounter   uint64
	trapAdjustedRate   uint32
	minSafeRate        uint32

	Position [kinematics.NumAxes]int64
}

// New constructs a Runtime that pulls blocks from source's ring tail.
func New(source *planner.Planner) *Runtime {
	r := &Runtime{source: source}
	r.setStepEventsPerMinute(MinimumStepsPerMinute)
	return r
}

// Active reports whether a block is currently being traced.
func (r *Runtime) Active() bool { return r.current != nil }

// Tick advances the stepper by exactly one step-timer interval: the
// Go analog of timer1_compare_interrupt's body, minus the busy latch and
// invert-mask XOR, which belong to internal/isr (the two-timer glue
// wrapping this call).
func (r *Runtime) Tick(mode RunMode) TickResult {
	if r.current == nil {
		blk, ok := r.source.Ring().BorrowTail()
		if !ok {
			return TickResult{QueueEmpty: true}
		}
		r.current = blk
		if mode == ModeCycle {
			r.trapAdjustedRate = blk.InitialRate
			r.setStepEventsPerMinute(r.trapAdjustedRate)
			r.trapCycleCounter = cyclesPerAccelerationTick / 2
		}
		r.minSafeRate = blk.RateDelta + blk.RateDelta/2
		r.counterX = -int64(blk.StepEventCount / 2)
		r.counterY = r.counterX
		r.counterZ = r.counterX
		r.eventCount = blk.StepEventCount
		r.stepEventsCompleted = 0
	}

	cur := r.current
	outBits := cur.DirectionBits

	r.counterX += int64(cur.Steps[0])
	if r.counterX > 0 {
		outBits |= StepBitX
		r.counterX -= int64(r.eventCount)
		r.stepAxis(0, outBits&kinematics.DirBitX != 0)
	}
	r.counterY += int64(cur.Steps[1])
	if r.counterY > 0 {
		outBits |= StepBitY
		r.counterY -= int64(r.eventCount)
		r.stepAxis(1, outBits&kinematics.DirBitY != 0)
	}
	r.counterZ += int64(cur.Steps[2])
	if r.counterZ > 0 {
		outBits |= StepBitZ
		r.counterZ -= int64(r.eventCount)
		r.stepAxis(2, outBits&kinematics.DirBitZ != 0)
	}

	r.stepEventsCompleted++

	result := TickResult{OutBits: outBits}

	if r.stepEventsCompleted < cur.StepEventCount {
		switch mode {
		case ModeHold:
			if r.iterateTrapCycleCounter() {
				if r.trapAdjustedRate <= cur.RateDelta {
					result.HoldComplete = true
				} else {
					r.trapAdjustedRate -= cur.RateDelta
					r.setStepEventsPerMinute(r.trapAdjustedRate)
				}
			}
		default:
			r.advanceCycleProfile(cur)
		}
	} else {
		r.current = nil
		r.source.Ring().DiscardTail()
		result.BlockDone = true
	}

	return result
}

// advanceCycleProfile implements the non-hold branch of the ISR: the
// accelerate/cruise/decelerate state machine driven by
// step_events_completed against accelerate_until/decelerate_after.
func (r *Runtime) advanceCycleProfile(cur *planner.Block) {
	switch {
	case r.stepEventsCompleted < cur.AccelerateUntil:
		if r.iterateTrapCycleCounter() {
			r.trapAdjustedRate += cur.RateDelta
			if r.trapAdjustedRate >= cur.NominalRate {
				r.trapAdjustedRate = cur.NominalRate
			}
			r.setStepEventsPerMinute(r.trapAdjustedRate)
		}
	case r.stepEventsCompleted >= cur.DecelerateAfter:
		if r.stepEventsCompleted == cur.DecelerateAfter {
			if r.trapAdjustedRate == cur.NominalRate {
				r.trapCycleCounter = cyclesPerAccelerationTick / 2 // trapezoid profile
			} else {
				r.trapCycleCounter = cyclesPerAccelerationTick - r.trapCycleCounter // triangle profile
			}
		} else if r.iterateTrapCycleCounter() {
			// Half-step reduction near the end: avoids undershooting past
			// final_rate when the remaining distance can't absorb a full
			// rate_delta step. Matches stepper.c exactly, including its
			// known quirk of occasionally dipping momentarily below
			// final_rate before the clamp below corrects it.
			if r.trapAdjustedRate > r.minSafeRate {
				r.trapAdjustedRate -= cur.RateDelta
			} else {
				r.trapAdjustedRate >>= 1
			}
			if r.trapAdjustedRate < cur.FinalRate {
				r.trapAdjustedRate = cur.FinalRate
			}
			r.setStepEventsPerMinute(r.trapAdjustedRate)
		}
	default:
		if r.trapAdjustedRate != cur.NominalRate {
			r.trapAdjustedRate = cur.NominalRate
			r.setStepEventsPerMinute(r.trapAdjustedRate)
		}
	}
}

func (r *Runtime) stepAxis(axis int, negative bool) {
	if negative {
		r.Position[axis]--
	} else {
		r.Position[axis]++
	}
}

// iterateTrapCycleCounter mirrors iterate_trapezoid_cycle_counter: it
// accumulates cycles_per_step_event and fires (returns true) once a full
// acceleration tick's worth of cycles has elapsed.
func (r *Runtime) iterateTrapCycleCounter() bool {
	r.trapCycleCounter += r.cyclesPerStepEvent
	if r.trapCycleCounter > cyclesPerAccelerationTick {
		r.trapCycleCounter -= cyclesPerAccelerationTick
		return true
	}
	return false
}

// setStepEventsPerMinute mirrors set_step_events_per_minute: converts a
// steps/min rate into cycles_per_step_event using CyclesPerSecond in place
// of F_CPU.
func (r *Runtime) setStepEventsPerMinute(rate uint32) {
	if rate < MinimumStepsPerMinute {
		rate = MinimumStepsPerMinute
	}
	r.cyclesPerStepEvent = (CyclesPerSecond / uint64(rate)) * 60
	if r.cyclesPerStepEvent == 0 {
		r.cyclesPerStepEvent = 1
	}
}

// CyclesPerStepEvent exposes the current inter-step interval in
// CyclesPerSecond units, for internal/isr to schedule the next step timer
// firing.
func (r *Runtime) CyclesPerStepEvent() uint64 { return r.cyclesPerStepEvent }

// Reset clears all running state, matching st_reset: zero the bresenham/
// trapezoid state and forget the current block (it is NOT discarded from
// the ring -- callers that want a full abort should also reset the
// planner/ring). The traced machine position survives: a soft reset loses
// the motion queue, not where the machine is standing.
func (r *Runtime) Reset() {
	pos := r.Position
	*r = Runtime{source: r.source, Position: pos}
	r.setStepEventsPerMinute(MinimumStepsPerMinute)
}

// StepEventsCompleted exposes progress into the active block, needed by
// st_cycle_reinitialize's remaining_steps computation.
func (r *Runtime) StepEventsCompleted() uint32 { return r.stepEventsCompleted }

// CurrentBlock exposes the block currently being traced, or nil.
func (r *Runtime) CurrentBlock() *planner.Block { return r.current }

// CurrentRate exposes the live trapezoid-adjusted step rate in steps per
// minute, for anything that wants to monitor step frequency as it
// accelerates and decelerates (e.g. an audible step-rate monitor).
func (r *Runtime) CurrentRate() uint32 { return r.trapAdjustedRate }

// ResumeFromHold implements st_cycle_reinitialize's stepper-side half: the
// trapezoid generator resumes from a dead stop, with the tick counter
// reseeded to the midpoint for the same midpoint-rule accuracy used when a
// fresh block starts.
func (r *Runtime) ResumeFromHold() {
	r.trapAdjustedRate = 0
	r.setStepEventsPerMinute(r.trapAdjustedRate)
	r.trapCycleCounter = cyclesPerAccelerationTick / 2
	r.stepEventsCompleted = 0
}
