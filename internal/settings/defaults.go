package settings

// Defaults returns Grbl's stock $-parameter values for a typical 3-axis
// mill, converted into Settings' named fields.
func Defaults() Settings {
	return Settings{
		StepsPerMM:       [3]float64{250.0, 250.0, 250.0},
		MaxRate:          [3]float64{500.0, 500.0, 500.0},
		AccelerationMMS2: [3]float64{10.0, 10.0, 10.0},

		JunctionDeviation: 0.02,

		PulseMicroseconds: 10,
		StepperIdleLockMS: 25,
		StepInvertMask:    0,
		DirInvertMask:     0,
		InvertStepEnable:  false,

		StatusReportMask: 3, // machine position | work position

		HomingEnable: false,
	}
}
