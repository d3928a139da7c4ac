package stepaudio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/veandco/go-sdl2/sdl"
)

// Device queues a Monitor's samples onto an SDL2 audio device, mirroring
// the teacher's "audio is optional, continue without it" tolerance for a
// missing/unavailable sound card.
type Device struct {
	dev     sdl.AudioDeviceID
	monitor *Monitor
	spec    sdl.AudioSpec
}

const framesPerQueue = 735 // 44100 Hz / 60 Hz, same cadence as the teacher's UI loop

// OpenDevice opens the default SDL2 audio output at 44100Hz mono and
// attaches monitor as its sample source. If sdl.Init or OpenAudioDevice
// fails, it returns a nil *Device and the caller should run silent --
// audio is a diagnostic convenience, never required to run the machine.
func OpenDevice(monitor *Monitor) (*Device, error) {
	if err := sdl.InitSubSystem(sdl.INIT_AUDIO); err != nil {
		return nil, fmt.Errorf("sdl audio init: %w", err)
	}
	spec := sdl.AudioSpec{
		Freq:     44100,
		Format:   sdl.AUDIO_F32,
		Channels: 1,
		Samples:  framesPerQueue,
	}
	dev, err := sdl.OpenAudioDevice("", false, &spec, nil, 0)
	if err != nil {
		sdl.QuitSubSystem(sdl.INIT_AUDIO)
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	sdl.PauseAudioDevice(dev, false)
	return &Device{dev: dev, monitor: monitor, spec: spec}, nil
}

// Run queues audio frames at roughly the device's native cadence until the
// context-like stop channel closes. Queue depth is capped at two frames'
// worth, same backpressure rule as the teacher's UI loop.
func (d *Device) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second / 60)
	defer ticker.Stop()
	buf := make([]int16, framesPerQueue)
	maxQueuedBytes := uint32(framesPerQueue * 4 * 2)

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if sdl.GetQueuedAudioSize(d.dev) >= maxQueuedBytes {
				continue
			}
			d.monitor.FillBuffer(buf)
			payload := make([]byte, len(buf)*4)
			for i, sample := range buf {
				bits := ConvertFixedToFloat(sample)
				binary.LittleEndian.PutUint32(payload[i*4:], math.Float32bits(bits))
			}
			if err := sdl.QueueAudio(d.dev, payload); err != nil {
				continue
			}
		}
	}
}

// Close stops playback and releases the device.
func (d *Device) Close() {
	sdl.CloseAudioDevice(d.dev)
	sdl.QuitSubSystem(sdl.INIT_AUDIO)
}
