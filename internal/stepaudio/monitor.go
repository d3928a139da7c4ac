package stepaudio

// RateSource is the live step-rate feed a Monitor tunes its oscillator
// from. A bare *stepper.Runtime satisfies this directly for single-goroutine
// callers (tests, a synchronous CLI); a caller whose Monitor runs on its own
// audio-device goroutine -- internal/stepaudio's SDL2 Device, reading
// concurrently with a machine.Machine's Run loop -- should instead pass a
// lock-protected view such as machine.Machine itself, which exposes the same
// two methods under its own mutex.
type RateSource interface {
	CurrentRate() uint32
	Active() bool
}

// Monitor drives an Oscillator from a RateSource's live rate, so the tone
// tracks acceleration and deceleration in real time. Pure and unit-testable
// without any audio device attached.
type Monitor struct {
	osc    *Oscillator
	source RateSource
}

// NewMonitor attaches an oscillator at sampleRate to source.
func NewMonitor(source RateSource, sampleRate uint32) *Monitor {
	return &Monitor{osc: NewOscillator(sampleRate), source: source}
}

// Refresh samples the stepper's current rate (steps/minute) and retunes
// the oscillator to the matching audio frequency (steps/second).
func (m *Monitor) Refresh() {
	rate := m.source.CurrentRate()
	if !m.source.Active() {
		m.osc.SetFrequency(0)
		return
	}
	m.osc.SetFrequency(float64(rate) / 60.0)
}

// NextSample refreshes from the current step rate and returns one
// fixed-point audio sample.
func (m *Monitor) NextSample() int16 {
	m.Refresh()
	return m.osc.GenerateSample()
}

// FillBuffer refreshes once and fills buf with consecutive samples -- the
// shape an SDL2 audio callback needs, refreshing only once per callback
// since the step rate changes far slower than the sample rate.
func (m *Monitor) FillBuffer(buf []int16) {
	m.Refresh()
	for i := range buf {
		buf[i] = m.osc.GenerateSample()
	}
}
