// Package kinematics implements Module B: translating a target position in
// millimetres into per-axis step counts and the block's dominant step-event
// count, so the planner never has to reason about mm directly.
package kinematics

import "math"

// NumAxes is fixed at three (X, Y, Z) per spec.md's data model.
const NumAxes = 3

// Direction bit assignment, one bit per axis, set when that axis moves in
// its negative direction. Matches the bit layout stepper.c uses for
// direction_bits/DIRECTION_BIT so the Bresenham tracer (Module E) and this
// converter agree on polarity without any translation step.
const (
	DirBitX = 1 << 0
	DirBitY = 1 << 1
	DirBitZ = 1 << 2
)

// Limits are the per-axis constants the converter needs from settings.
// A zero MaxRate entry means that axis is unconstrained.
type Limits struct {
	StepsPerMM      [NumAxes]float64
	MaxRate         [NumAxes]float64 // mm/min, per axis
	MaxAcceleration [NumAxes]float64 // mm/min^2, per axis
}

// Conversion is the kinematic result of a single requested move.
type Conversion struct {
	Steps          [NumAxes]uint32 // nonnegative step counts per axis
	DirectionBits  uint8
	StepEventCount uint32 // max of Steps[*]; drives the Bresenham tracer
	DominantAxis   int
	Millimetres    float64 // Cartesian length of the move, for planning only
	Acceleration   float64 // mm/min^2, limited by the slowest relevant axis
	NominalSpeed   float64 // mm/min
	UnitVector     [NumAxes]float64 // direction of travel, for junction deviation
}

// Convert computes the per-axis step deltas between currentSteps (the
// planner's belief about its current position, in steps) and targetMM (the
// newly requested absolute target, in millimetres), along with the move's
// length, dominant axis, per-block acceleration, and nominal speed.
//
// ok is false when all three axes resolve to a zero step delta -- spec.md
// Module B requires such a move to be rejected silently, with no block
// enqueued.
func Convert(targetMM, currentSteps [NumAxes]float64, feedRate float64, invertFeed bool, limits Limits) (Conversion, bool) {
	var c Conversion
	var deltaSteps [NumAxes]int64
	var deltaMM [NumAxes]float64

	anyMove := false
	for axis := 0; axis < NumAxes; axis++ {
		targetSteps := math.Round(targetMM[axis] * limits.StepsPerMM[axis])
		deltaSteps[axis] = int64(targetSteps) - int64(currentSteps[axis])
		if deltaSteps[axis] != 0 {
			anyMove = true
		}
		if limits.StepsPerMM[axis] != 0 {
			deltaMM[axis] = float64(deltaSteps[axis]) / limits.StepsPerMM[axis]
		}
	}
	if !anyMove {
		return Conversion{}, false
	}

	var sumSquares float64
	for axis := 0; axis < NumAxes; axis++ {
		steps := deltaSteps[axis]
		if steps < 0 {
			c.DirectionBits |= 1 << uint(axis)
			steps = -steps
		}
		c.Steps[axis] = uint32(steps)
		if c.Steps[axis] > c.StepEventCount {
			c.StepEventCount = c.Steps[axis]
			c.DominantAxis = axis
		}
		sumSquares += deltaMM[axis] * deltaMM[axis]
	}
	c.Millimetres = math.Sqrt(sumSquares)
	if c.Millimetres > 0 {
		for axis := 0; axis < NumAxes; axis++ {
			c.UnitVector[axis] = deltaMM[axis] / c.Millimetres
		}
	}

	if invertFeed {
		// "inverse time" feed mode: the move must complete in 1/feedRate
		// minutes, so the equivalent mm/min rate is distance / time.
		if feedRate <= 0 {
			feedRate = 1
		}
		c.NominalSpeed = c.Millimetres * feedRate
	} else {
		c.NominalSpeed = feedRate
	}
	if rateCap := axisLimitedRate(deltaMM, c.Millimetres, limits.MaxRate); rateCap < c.NominalSpeed {
		c.NominalSpeed = rateCap
	}

	c.Acceleration = axisLimitedAcceleration(deltaMM, c.Millimetres, limits.MaxAcceleration)
	return c, true
}

// axisLimitedRate is the fastest feed along this move's direction that
// keeps every axis at or under its own max rate: each axis's limit scaled
// by the inverse of its unit-vector component, take the minimum. Axes with
// no limit (zero) don't constrain.
func axisLimitedRate(deltaMM [NumAxes]float64, length float64, maxRate [NumAxes]float64) float64 {
	limit := math.Inf(1)
	if length == 0 {
		return limit
	}
	for axis := 0; axis < NumAxes; axis++ {
		unit := math.Abs(deltaMM[axis]) / length
		if unit == 0 || maxRate[axis] == 0 {
			continue
		}
		if candidate := maxRate[axis] / unit; candidate < limit {
			limit = candidate
		}
	}
	return limit
}

// axisLimitedAcceleration derives a single mm/min^2 acceleration for the
// block: the largest acceleration such that no individual axis would be
// asked to exceed its own max acceleration, found by scaling each axis's
// limit by the inverse of its unit-vector component (spec.md section 4.C:
// "its per-axis acceleration limited by the per-axis max acceleration").
func axisLimitedAcceleration(deltaMM [NumAxes]float64, length float64, maxAccel [NumAxes]float64) float64 {
	if length == 0 {
		return 0
	}
	limit := math.Inf(1)
	for axis := 0; axis < NumAxes; axis++ {
		unit := math.Abs(deltaMM[axis]) / length
		if unit == 0 {
			continue
		}
		if candidate := maxAccel[axis] / unit; candidate < limit {
			limit = candidate
		}
	}
	if math.IsInf(limit, 1) {
		return 0
	}
	return limit
}
