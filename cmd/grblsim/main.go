// Command grblsim drives internal/machine headlessly with a synthetic
// toolpath, printing protocol-style status lines as it runs. Grounded on
// cmd/emulator's flag-driven, no-GUI-dependency launcher shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"grblcore-dx/internal/diag"
	"grblcore-dx/internal/fsm"
	"grblcore-dx/internal/machine"
	"grblcore-dx/internal/reporter"
	"grblcore-dx/internal/settings"
)

func main() {
	feedRate := flag.Float64("feed", 2000, "feed rate for the synthetic path, mm/min")
	square := flag.Float64("square", 20, "side length of the synthetic square path, mm")
	enableLog := flag.Bool("log", false, "enable full diagnostic logging")
	dumpSettings := flag.Bool("settings", false, "print the $-parameter dump before running, like '$$'")
	flag.Parse()

	store := settings.NewMemoryStore()
	m, err := machine.New(store, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "grblsim: %v\n", err)
		os.Exit(1)
	}
	if *enableLog {
		for _, c := range []diag.Component{diag.ComponentPlanner, diag.ComponentStepper, diag.ComponentISR, diag.ComponentFSM, diag.ComponentSettings} {
			m.Log.SetComponentEnabled(c, true)
		}
		m.Log.SetMinLevel(diag.LevelDebug)
	}

	if err := m.Boot(); err != nil {
		fmt.Fprintf(os.Stderr, "grblsim: boot: %v\n", err)
		os.Exit(1)
	}
	if *dumpSettings {
		m.Report.SettingsDump(m.Settings)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	path := [][3]float64{
		{*square, 0, 0},
		{*square, *square, 0},
		{0, *square, 0},
		{0, 0, 0},
	}

	fmt.Println("grblsim: running synthetic square path")
	for i, target := range path {
		dropped, err := m.PlanBufferLine(ctx, target, *feedRate, false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "grblsim: buffer line %d: %v\n", i, err)
			os.Exit(1)
		}
		if dropped {
			fmt.Printf("grblsim: move %d dropped (zero length)\n", i)
			continue
		}
	}

	go func() {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := m.Snapshot()
				m.Report.RealtimeStatus(snap.State, snap.Position, m.Settings.StepsPerMM, [3]float64{}, m.Settings.StatusReportMask)
			}
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- m.Run(ctx, 1000) }()

	// Wait for the queue to drain and the machine to settle back to Idle.
	for {
		select {
		case err := <-runErr:
			if err != nil {
				fmt.Fprintf(os.Stderr, "grblsim: %v\n", err)
				os.Exit(1)
			}
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "grblsim: timed out before the path completed")
			os.Exit(1)
		case <-time.After(100 * time.Millisecond):
		}
		if snap := m.Snapshot(); snap.State == fsm.StateIdle {
			m.Report.RealtimeStatus(snap.State, snap.Position, m.Settings.StepsPerMM, [3]float64{}, m.Settings.StatusReportMask)
			if *enableLog {
				for _, e := range m.Log.RecentEntries(20) {
					fmt.Println(e.Format())
				}
			}
			m.Report.StatusMessage(reporter.StatusOK)
			fmt.Println("grblsim: done")
			return
		}
	}
}
