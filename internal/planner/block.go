// Package planner implements Module C: the per-block entry/exit speed
// planner that sits between the kinematic converter and the ring buffer,
// deciding how fast the machine may be moving at each block boundary and
// handing the stepper runtime a trapezoid (or triangle) rate profile to
// execute.
package planner

import "grblcore-dx/internal/kinematics"

// Block is one planned motion segment. Every field here is part of the data
// model spec.md's Module C names; nothing is added beyond what the reverse/
// forward passes and the stepper runtime actually consume.
type Block struct {
	Steps         [kinematics.NumAxes]uint32
	DirectionBits uint8

	StepEventCount uint32
	Millimetres    float64
	Acceleration   float64 // mm/min^2

	EntrySpeedSqr    float64 // (mm/min)^2, set by the reverse/forward passes
	MaxEntrySpeedSqr float64 // junction-deviation ceiling, fixed at append time
	NominalSpeedSqr  float64 // (mm/min)^2, fixed at append time

	NominalRate uint32 // steps/min
	InitialRate uint32 // steps/min
	FinalRate   uint32 // steps/min
	RateDelta   uint32 // steps/min added per acceleration tick

	AccelerateUntil uint32 // step_events_completed threshold: stop accelerating
	DecelerateAfter uint32 // step_events_completed threshold: start decelerating

	RecalculateFlag   bool
	NominalLengthFlag bool // long enough to accelerate from its max entry speed to nominal speed within its own length
}
