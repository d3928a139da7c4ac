package stepaudio

import "testing"

func TestZeroFrequencyIsSilent(t *testing.T) {
	o := NewOscillator(44100)
	o.SetFrequency(0)
	for i := 0; i < 100; i++ {
		if s := o.GenerateSample(); s != 0 {
			t.Fatalf("GenerateSample() = %d, want 0 with no frequency set", s)
		}
	}
}

func TestNonZeroFrequencyProducesVaryingSamples(t *testing.T) {
	o := NewOscillator(44100)
	o.SetFrequency(440)
	seenNonZero := false
	seenChange := false
	last := o.GenerateSample()
	for i := 0; i < 200; i++ {
		s := o.GenerateSample()
		if s != 0 {
			seenNonZero = true
		}
		if s != last {
			seenChange = true
			last = s
		}
	}
	if !seenNonZero {
		t.Error("expected a non-silent waveform at 440Hz")
	}
	if !seenChange {
		t.Error("expected consecutive samples to vary at 440Hz")
	}
}

func TestGainScalesAmplitude(t *testing.T) {
	full := NewOscillator(44100)
	full.SetFrequency(1000)
	full.Gain = 255

	quiet := NewOscillator(44100)
	quiet.SetFrequency(1000)
	quiet.Gain = 50

	var fullPeak, quietPeak int32
	for i := 0; i < 200; i++ {
		if s := full.GenerateSample(); int32(s) > fullPeak {
			fullPeak = int32(s)
		}
		if s := quiet.GenerateSample(); int32(s) > quietPeak {
			quietPeak = int32(s)
		}
	}
	if quietPeak >= fullPeak {
		t.Errorf("quietPeak=%d should be well below fullPeak=%d", quietPeak, fullPeak)
	}
}

func TestConvertFixedToFloatRange(t *testing.T) {
	if f := ConvertFixedToFloat(32767); f <= 0 || f > 1.0 {
		t.Errorf("ConvertFixedToFloat(32767) = %v, want in (0, 1.0]", f)
	}
	if f := ConvertFixedToFloat(-32768); f >= 0 || f < -1.0 {
		t.Errorf("ConvertFixedToFloat(-32768) = %v, want in [-1.0, 0)", f)
	}
}
