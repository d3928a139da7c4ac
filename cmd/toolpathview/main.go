// Command toolpathview is a Fyne-based visualizer for grblcore-dx: it
// draws a synthetic toolpath, runs it through the real planner/stepper/FSM
// stack, and animates the traced position live as machine ticks fire.
// Grounded on internal/ui/fyne_ui.go's app/window/canvas wiring and
// 60Hz-ticker update loop, adapted from "blit an emulator framebuffer" to
// "draw toolpath geometry and a moving position marker".
package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"os"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"grblcore-dx/internal/machine"
	"grblcore-dx/internal/settings"
	"grblcore-dx/internal/stepaudio"
)

const plotScale = 6 // pixels per millimetre

func main() {
	square := flag.Float64("square", 30, "side length of the synthetic square path, mm")
	feedRate := flag.Float64("feed", 1500, "feed rate, mm/min")
	withAudio := flag.Bool("audio", false, "play an audible tone tracking the live step rate")
	flag.Parse()

	store := settings.NewMemoryStore()
	m, err := machine.New(store, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "toolpathview: %v\n", err)
		os.Exit(1)
	}
	if err := m.Boot(); err != nil {
		fmt.Fprintf(os.Stderr, "toolpathview: boot: %v\n", err)
		os.Exit(1)
	}

	path := [][3]float64{
		{*square, 0, 0},
		{*square, *square, 0},
		{0, *square, 0},
		{0, 0, 0},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, target := range path {
		if _, err := m.PlanBufferLine(ctx, target, *feedRate, false); err != nil {
			fmt.Fprintf(os.Stderr, "toolpathview: buffer line: %v\n", err)
			os.Exit(1)
		}
	}

	fyneApp := app.NewWithID("dev.grblcore-dx.toolpathview")
	window := fyneApp.NewWindow("grblcore-dx toolpath view")

	plotSize := float32((*square + 10) * plotScale)
	pathLines := container.NewWithoutLayout()
	origin := float32(5 * plotScale)
	prev := [2]float64{0, 0}
	for _, target := range path {
		line := canvas.NewLine(color.Gray{Y: 180})
		line.StrokeWidth = 2
		line.Position1 = fyne.NewPos(origin+float32(prev[0]*plotScale), plotSize-origin-float32(prev[1]*plotScale))
		line.Position2 = fyne.NewPos(origin+float32(target[0]*plotScale), plotSize-origin-float32(target[1]*plotScale))
		pathLines.Add(line)
		prev = [2]float64{target[0], target[1]}
	}

	marker := canvas.NewCircle(color.NRGBA{R: 220, G: 40, B: 40, A: 255})
	marker.Resize(fyne.NewSize(8, 8))
	pathLines.Add(marker)

	statusLabel := widget.NewLabel("State: Init")
	startBtn := widget.NewButton("Cycle Start", func() { m.CycleStart() })
	holdBtn := widget.NewButton("Feed Hold", func() { m.FeedHold() })
	resumeBtn := widget.NewButton("Resume", func() {
		m.Resume(ctx)
		m.CycleStart()
	})
	controls := container.NewHBox(startBtn, holdBtn, resumeBtn)

	content := container.NewBorder(nil, container.NewVBox(statusLabel, controls), nil, nil, pathLines)
	window.SetContent(content)
	window.Resize(fyne.NewSize(plotSize+40, plotSize+100))

	if *withAudio {
		monitor := stepaudio.NewMonitor(m, 44100)
		dev, err := stepaudio.OpenDevice(monitor)
		if err != nil {
			fmt.Fprintf(os.Stderr, "toolpathview: audio disabled: %v\n", err)
		} else {
			stop := make(chan struct{})
			go dev.Run(stop)
			go func() {
				<-ctx.Done()
				close(stop)
				dev.Close()
			}()
		}
	}

	stepsPerMM := m.Settings.StepsPerMM
	go func() {
		ticker := time.NewTicker(time.Second / 60)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := m.Snapshot()
				pos := snap.Position
				state := snap.State
				fyne.Do(func() {
					x := float64(pos[0]) / stepsPerMM[0]
					y := float64(pos[1]) / stepsPerMM[1]
					marker.Move(fyne.NewPos(
						origin+float32(x*plotScale)-4,
						plotSize-origin-float32(y*plotScale)-4,
					))
					statusLabel.SetText(fmt.Sprintf("State: %s  MPos: %.2f,%.2f", state, x, y))
				})
			}
		}
	}()

	go func() {
		if err := m.Run(ctx, 1000); err != nil {
			fmt.Fprintf(os.Stderr, "toolpathview: run: %v\n", err)
		}
	}()

	window.ShowAndRun()
	cancel()
}
