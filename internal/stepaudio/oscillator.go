// Package stepaudio renders the stepper's live step rate as an audible
// tone: a fixed-point phase-accumulator oscillator whose frequency tracks
// trapezoid_adjusted_rate, so an operator can hear the accelerate/cruise/
// decelerate phases of a move the same way a stepper driver's whine
// changes pitch on real hardware.
//
// Grounded on internal/apu/fixed_point.go: all sample generation stays in
// fixed-point integer arithmetic, with float32 conversion pushed to the
// one host-facing boundary (ConvertFixedToFloat), matching that file's
// "only the host adapter converts to float32" rule.
package stepaudio

const (
	phaseMax    = uint32(0xFFFFFFFF)
	phaseWrap   = uint64(1) << 32
	defaultGain = 200 // 0-255, kept well under full scale
)

// Oscillator is a single fixed-point sine voice.
type Oscillator struct {
	SampleRate uint32
	Gain       uint8

	phaseFixed     uint32
	phaseIncrement uint32
}

// NewOscillator creates an oscillator at the given host sample rate.
func NewOscillator(sampleRate uint32) *Oscillator {
	return &Oscillator{SampleRate: sampleRate, Gain: defaultGain}
}

// SetFrequency recomputes the phase increment for a new frequency in Hz.
// A zero frequency silences the oscillator without resetting its phase.
func (o *Oscillator) SetFrequency(hz float64) {
	if o.SampleRate == 0 || hz <= 0 {
		o.phaseIncrement = 0
		return
	}
	o.phaseIncrement = uint32((uint64(hz*(1<<16)) * phaseWrap) >> 16 / uint64(o.SampleRate))
}

// GenerateSample produces one fixed-point sample (-32768 to 32767) and
// advances the phase accumulator.
func (o *Oscillator) GenerateSample() int16 {
	if o.phaseIncrement == 0 {
		return 0
	}
	phaseNormalized := uint16(o.phaseFixed >> 16)
	sample := int32(sineFixed(phaseNormalized))
	sample = (sample * int32(o.Gain)) / 255
	o.phaseFixed += o.phaseIncrement
	if sample > 32767 {
		sample = 32767
	} else if sample < -32768 {
		sample = -32768
	}
	return int16(sample)
}

// sineFixed approximates sine via a truncated Taylor polynomial over a
// 16-bit phase, same shape as the teacher's channel oscillator.
func sineFixed(phase uint16) int16 {
	phaseNormalized := int32(phase)
	if phaseNormalized >= 32768 {
		phaseNormalized -= 65536
	}
	x := phaseNormalized >> 8
	x3 := (x * x * x) >> 16
	result := x - (x3 / 6)
	result <<= 7
	if result > 32767 {
		result = 32767
	} else if result < -32768 {
		result = -32768
	}
	return int16(result)
}

// ConvertFixedToFloat converts a fixed-point sample to the float32 range
// an audio backend expects. The only place this package touches floats.
func ConvertFixedToFloat(sample int16) float32 {
	return float32(sample) / 32768.0
}
