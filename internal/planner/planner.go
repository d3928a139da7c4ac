package planner

import (
	"math"

	"grblcore-dx/internal/kinematics"
	"grblcore-dx/internal/ring"
)

// AccelerationTicksPerSecond mirrors Grbl's ACCELERATION_TICKS_PER_SECOND:
// the rate at which the trapezoid generator recomputes adjusted_rate. Kept
// here rather than in settings because it governs the planner's own
// rate_delta derivation, not anything an operator tunes per machine.
const AccelerationTicksPerSecond = 100.0

// MinPlannerSpeed is a small nonzero speed floor so a long chain of very
// short, sharply-angled moves is never planned down to a dead stop at every
// junction -- matching spec.md Module C's closing note on MIN_PLANNER_SPEED.
const MinPlannerSpeed = 1.0 // mm/min

// Planner owns the block ring and the running kinematic state (current
// position in steps, direction of the most recently queued move) needed to
// convert the next requested move and plan its junction against the last.
type Planner struct {
	ring *ring.Ring[Block]

	limits            kinematics.Limits
	junctionDeviation float64

	positionSteps  [kinematics.NumAxes]float64
	prevUnit       [kinematics.NumAxes]float64
	prevNominalSqr float64
	havePrev       bool
}

// New constructs a Planner over a freshly-allocated ring of the given
// capacity (spec.md's BLOCK_BUFFER_SIZE).
func New(capacity int, limits kinematics.Limits, junctionDeviation float64) *Planner {
	return &Planner{
		ring:              ring.New[Block](capacity),
		limits:            limits,
		junctionDeviation: junctionDeviation,
	}
}

// Ring exposes the underlying buffer for the stepper runtime to consume
// (PeekTail/DiscardTail) without the planner needing to proxy every method.
func (p *Planner) Ring() *ring.Ring[Block] { return p.ring }

// SyncPosition overwrites the planner's belief about the current step
// position, for use after a reset or an out-of-band position change
// (spec.md's sys_sync_current_position). It must only be called while the
// ring is empty.
func (p *Planner) SyncPosition(steps [kinematics.NumAxes]float64) {
	p.positionSteps = steps
	p.havePrev = false
}

// Reset empties the ring and forgets the previous move's direction, so the
// next buffered line is treated as if nothing preceded it (no junction
// constraint). Position is left untouched -- callers that also need to
// resync position should call SyncPosition too.
func (p *Planner) Reset() {
	p.ring.Reset()
	p.havePrev = false
}

// TryBufferLine attempts to convert and enqueue one line move to targetMM at
// the given feed rate. ok is false if the ring had no free slot -- the
// caller (internal/machine) is expected to spin-wait and retry, since the
// planner itself never blocks. dropped is true if the move resolved to zero
// length and was rejected without consuming a slot.
func (p *Planner) TryBufferLine(targetMM [kinematics.NumAxes]float64, feedRate float64, invertFeed bool) (ok, dropped bool) {
	conv, moved := kinematics.Convert(targetMM, p.positionSteps, feedRate, invertFeed, p.limits)
	if !moved {
		return false, true
	}

	slot, reserved := p.ring.Reserve()
	if !reserved {
		return false, false
	}

	*slot = Block{
		Steps:           conv.Steps,
		DirectionBits:   conv.DirectionBits,
		StepEventCount:  conv.StepEventCount,
		Millimetres:     conv.Millimetres,
		Acceleration:    conv.Acceleration,
		NominalSpeedSqr: conv.NominalSpeed * conv.NominalSpeed,
	}
	slot.MaxEntrySpeedSqr = p.maxJunctionSpeedSqr(conv.UnitVector, slot.NominalSpeedSqr, slot.Acceleration)
	// Entry candidate: the junction cap, or if the block is too short to
	// decelerate to a stop from that cap, whatever speed it can actually
	// shed within its own length. The block is newest, so its exit speed is
	// assumed zero until a successor arrives.
	slot.EntrySpeedSqr = math.Min(slot.MaxEntrySpeedSqr, 2*slot.Acceleration*slot.Millimetres)
	slot.NominalLengthFlag = isNominalLength(slot.Acceleration, slot.Millimetres, slot.NominalSpeedSqr, slot.MaxEntrySpeedSqr)
	computeRates(slot, slot.EntrySpeedSqr, 0)

	p.ring.Commit()

	for axis := 0; axis < kinematics.NumAxes; axis++ {
		signed := float64(conv.Steps[axis])
		if conv.DirectionBits&(1<<uint(axis)) != 0 {
			signed = -signed
		}
		p.positionSteps[axis] += signed
	}
	p.prevUnit = conv.UnitVector
	p.prevNominalSqr = slot.NominalSpeedSqr
	p.havePrev = true

	p.Recalculate()
	return true, false
}

// Recalculate re-runs the reverse and forward passes over every queued but
// not-yet-executing block (spec.md Module C steps 3-4), then refreshes each
// affected block's rate profile. It is idempotent: calling it with nothing
// changed leaves every block's fields as they were.
func (p *Planner) Recalculate() {
	p.reversePass()
	p.forwardPass()
	p.recomputeRates()
}

// reversePass walks newest-to-oldest (excluding tail) lowering each block's
// entry speed to whatever it can actually decelerate into, given its
// successor's entry speed and its own length and acceleration.
func (p *Planner) reversePass() {
	nextEntrySqr := 0.0
	first := true
	p.ring.IterPlanned(func(idx int, b *Block) bool {
		if first {
			nextEntrySqr = 0 // newest block's exit speed is assumed zero
			first = false
		}
		if !b.NominalLengthFlag {
			reachable := nextEntrySqr + 2*b.Acceleration*b.Millimetres
			newEntry := math.Min(b.MaxEntrySpeedSqr, reachable)
			if newEntry != b.EntrySpeedSqr {
				b.EntrySpeedSqr = newEntry
				b.RecalculateFlag = true
			}
		}
		nextEntrySqr = b.EntrySpeedSqr
		return true
	})
}

// forwardPass walks oldest-to-newest (excluding tail, but reading tail as
// the base case for the first block) capping each block's entry speed to
// whatever its predecessor can actually accelerate it up to. It only ever
// lowers an entry speed.
func (p *Planner) forwardPass() {
	p.ring.IterPlannedForward(func(idx int, b *Block) bool {
		pred := p.ring.At(p.ring.Prev(idx))
		reachable := pred.EntrySpeedSqr + 2*pred.Acceleration*pred.Millimetres
		if reachable < b.EntrySpeedSqr {
			b.EntrySpeedSqr = reachable
			b.RecalculateFlag = true
		}
		return true
	})
}

// recomputeRates derives initial_rate/final_rate/nominal_rate/rate_delta/
// accelerate_until/decelerate_after for every queued block. The newest
// block's exit speed is zero; every other block's exit speed is its
// successor's entry speed, which the reverse/forward passes above have
// already settled. The tail block is included only while the stepper has
// not checked it out yet: its entry speed is history either way, but a
// still-queued tail's exit speed rises as successors arrive, so its profile
// must follow. Once BorrowTail hands it to the step ISR it is frozen
// (invariant 6).
func (p *Planner) recomputeRates() {
	p.ring.IterPlanned(func(idx int, b *Block) bool {
		exitSqr := 0.0
		if succ := p.ring.Next(idx); succ != p.ring.Head() {
			exitSqr = p.ring.At(succ).EntrySpeedSqr
		}
		computeRates(b, b.EntrySpeedSqr, exitSqr)
		b.RecalculateFlag = false
		return true
	})
	if !p.ring.TailBorrowed() {
		if tail, ok := p.ring.PeekTail(); ok {
			exitSqr := 0.0
			if succ := p.ring.Next(p.ring.Tail()); succ != p.ring.Head() {
				exitSqr = p.ring.At(succ).EntrySpeedSqr
			}
			computeRates(tail, tail.EntrySpeedSqr, exitSqr)
			tail.RecalculateFlag = false
		}
	}
}

// ReplanRemaining implements plan_cycle_reinitialize: the currently
// executing block was cut short by a feed hold partway through, and the
// stepper is about to resume it from a dead stop. This is the one
// deliberate exception to "the planner never modifies the tail block" --
// stepper.c calls this exact function (by a different name) as part of
// st_cycle_reinitialize, specifically because the block's own profile must
// be rederived over whatever distance is left.
func (p *Planner) ReplanRemaining(remainingSteps uint32) {
	blk, ok := p.ring.PeekTail()
	if !ok || remainingSteps == 0 || remainingSteps > blk.StepEventCount || blk.Millimetres <= 0 {
		return
	}
	blk.Millimetres = blk.Millimetres * float64(remainingSteps) / float64(blk.StepEventCount)
	blk.StepEventCount = remainingSteps
	blk.EntrySpeedSqr = 0
	blk.MaxEntrySpeedSqr = 0
	// The forward pass reads the tail as its base case, so the queued
	// successors' entry speeds are re-settled against the shortened block
	// before its own profile is derived against its successor's entry.
	p.Recalculate()
	exitSqr := 0.0
	if succ := p.ring.Next(p.ring.Tail()); succ != p.ring.Head() {
		exitSqr = p.ring.At(succ).EntrySpeedSqr
	}
	computeRates(blk, 0, exitSqr)
}

// maxJunctionSpeedSqr applies spec.md Module C's centripetal-acceleration
// junction deviation model: R = delta*sin(theta/2)/(1-sin(theta/2)),
// v_j^2 = a*R, where theta is the angle between the reversed incoming unit
// vector and the outgoing one (theta=180 degrees, i.e. a perfectly straight
// continuation, yields an unbounded junction speed). With no previous move
// the machine is at rest, so the junction cap collapses to the planner
// speed floor -- the first block of a chain always starts from (nearly)
// zero.
func (p *Planner) maxJunctionSpeedSqr(unit [kinematics.NumAxes]float64, nominalSqr, acceleration float64) float64 {
	if !p.havePrev {
		return MinPlannerSpeed * MinPlannerSpeed
	}
	vj2 := math.Inf(1)
	var dot float64
	for axis := 0; axis < kinematics.NumAxes; axis++ {
		dot += p.prevUnit[axis] * unit[axis]
	}
	cosTheta := -dot
	if cosTheta > 0.999999 {
		cosTheta = 0.999999
	}
	if cosTheta < -0.999999 {
		cosTheta = -0.999999
	}
	theta := math.Acos(cosTheta)
	sinHalf := math.Sin(theta / 2)
	if sinHalf <= 0.999999 {
		r := p.junctionDeviation * sinHalf / (1 - sinHalf)
		vj2 = acceleration * r
	}
	v := math.Min(vj2, math.Min(nominalSqr, p.prevNominalSqr))
	if v < MinPlannerSpeed*MinPlannerSpeed {
		v = MinPlannerSpeed * MinPlannerSpeed
	}
	return v
}

// isNominalLength reports whether a block is long enough to accelerate from
// its junction-deviation entry cap all the way to nominal speed within its
// own length -- the reverse pass can skip such blocks entirely, since
// lowering an earlier block's exit speed can never force this one down.
func isNominalLength(acceleration, millimetres, nominalSqr, maxEntrySqr float64) bool {
	if math.IsInf(maxEntrySqr, 1) {
		return true
	}
	needed := nominalSqr - maxEntrySqr
	if needed <= 0 {
		return true
	}
	return 2*acceleration*millimetres >= needed
}

// computeRates fills in b's rate-profile fields given the entry and exit
// speeds (squared, mm/min) the replan passes settled on for it. It always
// recomputes every field; spec.md's recalculate_flag is still set by the
// passes when they change a block's entry speed and cleared by
// recomputeRates once its rates are rederived (so it reads false once
// Recalculate returns), but it does not gate this step, since re-deriving a handful of
// rate fields for a few dozen queued blocks costs nothing on a modern CPU --
// unlike the 8-bit AVR stepper.c was written for.
func computeRates(b *Block, entrySqr, exitSqr float64) {
	if b.Millimetres <= 0 || b.StepEventCount == 0 {
		return
	}
	stepsPerMM := float64(b.StepEventCount) / b.Millimetres
	accelStepsPerMin2 := b.Acceleration * stepsPerMM

	entryRate := stepsPerMM * math.Sqrt(math.Max(0, entrySqr))
	exitRate := stepsPerMM * math.Sqrt(math.Max(0, exitSqr))
	nominalRate := stepsPerMM * math.Sqrt(math.Max(0, b.NominalSpeedSqr))

	n := float64(b.StepEventCount)
	var accelerateSteps, decelerateSteps float64
	if accelStepsPerMin2 > 0 {
		accelerateSteps = math.Ceil((nominalRate*nominalRate - entryRate*entryRate) / (2 * accelStepsPerMin2))
		decelerateSteps = math.Floor((nominalRate*nominalRate - exitRate*exitRate) / (2 * accelStepsPerMin2))
		if accelerateSteps < 0 {
			accelerateSteps = 0
		}
		if decelerateSteps < 0 {
			decelerateSteps = 0
		}
	}

	plateau := n - accelerateSteps - decelerateSteps
	if plateau < 0 {
		peakSqr := (2*accelStepsPerMin2*n + exitRate*exitRate + entryRate*entryRate) / 2
		if peakSqr < entryRate*entryRate {
			peakSqr = entryRate * entryRate
		}
		accelerateSteps = 0
		if accelStepsPerMin2 > 0 {
			accelerateSteps = math.Ceil((peakSqr - entryRate*entryRate) / (2 * accelStepsPerMin2))
		}
		if accelerateSteps < 0 {
			accelerateSteps = 0
		}
		if accelerateSteps > n {
			accelerateSteps = n
		}
		b.AccelerateUntil = uint32(accelerateSteps)
		b.DecelerateAfter = b.AccelerateUntil
	} else {
		b.AccelerateUntil = uint32(accelerateSteps)
		b.DecelerateAfter = uint32(n - decelerateSteps)
	}

	b.InitialRate = uint32(math.Round(entryRate))
	b.FinalRate = uint32(math.Round(exitRate))
	b.NominalRate = uint32(math.Round(nominalRate))

	if accelStepsPerMin2 > 0 {
		delta := math.Ceil(accelStepsPerMin2 / (60 * AccelerationTicksPerSecond))
		if delta < 1 {
			delta = 1
		}
		b.RateDelta = uint32(delta)
	} else {
		b.RateDelta = 1
	}
}
