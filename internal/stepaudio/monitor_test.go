package stepaudio

import (
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

func TestMonitorSilentWithNoActiveBlock(t *testing.T) {
	p := planner.New(4, stdLimits(), 0.02)
	st := stepper.New(p)
	m := NewMonitor(st, 44100)
	m.Refresh()
	if s := m.osc.GenerateSample(); s != 0 {
		t.Errorf("expected silence with no active block, got sample %d", s)
	}
}

func TestMonitorTracksRisingStepRate(t *testing.T) {
	p := planner.New(4, stdLimits(), 0.02)
	st := stepper.New(p)
	p.TryBufferLine([3]float64{50, 0, 0}, 3000, false)
	m := NewMonitor(st, 44100)

	st.Tick(stepper.ModeCycle)
	m.Refresh()
	early := st.CurrentRate()
	earlyIncrement := m.osc.phaseIncrement

	for i := 0; i < 40; i++ {
		st.Tick(stepper.ModeCycle)
	}
	m.Refresh()
	later := st.CurrentRate()
	laterIncrement := m.osc.phaseIncrement

	if later <= early {
		t.Errorf("expected step rate to rise during acceleration: early=%d later=%d", early, later)
	}
	if laterIncrement <= earlyIncrement {
		t.Errorf("expected the monitor's tone to rise with the step rate: early increment=%d later=%d", earlyIncrement, laterIncrement)
	}
}

func TestFillBufferProducesRequestedLength(t *testing.T) {
	p := planner.New(4, stdLimits(), 0.02)
	st := stepper.New(p)
	p.TryBufferLine([3]float64{50, 0, 0}, 3000, false)
	st.Tick(stepper.ModeCycle)
	m := NewMonitor(st, 44100)
	buf := make([]int16, 64)
	m.FillBuffer(buf)
	if len(buf) != 64 {
		t.Fatalf("FillBuffer should not resize the buffer")
	}
}
