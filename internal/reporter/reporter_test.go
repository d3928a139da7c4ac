package reporter

import (
	"bytes"
	"strings"
	"testing"

	"grblcore-dx/internal/fsm"
	"grblcore-dx/internal/settings"
)

func TestStatusMessageOK(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).StatusMessage(StatusOK)
	if buf.String() != "ok\r\n" {
		t.Errorf("got %q, want %q", buf.String(), "ok\r\n")
	}
}

func TestStatusMessageError(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).StatusMessage(StatusIdleError)
	if buf.String() != "error: Busy or queued\r\n" {
		t.Errorf("got %q", buf.String())
	}
}

func TestAlarmMessage(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).AlarmMessage(AlarmHardLimit)
	want := "ALARM: Hard limit. MPos?\r\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestFeedbackMessage(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).FeedbackMessage(MessageEnabled)
	if buf.String() != "[Enabled]\r\n" {
		t.Errorf("got %q", buf.String())
	}
}

func TestRealtimeStatusFormatsStateAndPositions(t *testing.T) {
	var buf bytes.Buffer
	mask := StatusReportMachinePosition | StatusReportWorkPosition
	New(&buf).RealtimeStatus(fsm.StateCycle, [3]int64{500, 0, 250}, [3]float64{250, 250, 250}, [3]float64{0, 0, 0}, mask)
	out := buf.String()
	if !strings.HasPrefix(out, "<Run,MPos:2.000,0.000,1.000,WPos:") {
		t.Errorf("unexpected realtime status line: %q", out)
	}
	if !strings.HasSuffix(out, ">\r\n") {
		t.Errorf("missing terminator: %q", out)
	}
}

func TestRealtimeStatusAppliesWorkOffset(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).RealtimeStatus(fsm.StateIdle, [3]int64{250, 0, 0}, [3]float64{250, 250, 250}, [3]float64{1, 0, 0}, StatusReportWorkPosition)
	if !strings.Contains(buf.String(), "WPos:0.000,0.000,0.000") {
		t.Errorf("work offset not applied: %q", buf.String())
	}
}

func TestRealtimeStatusMaskGatesPositionFields(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).RealtimeStatus(fsm.StateIdle, [3]int64{250, 0, 0}, [3]float64{250, 250, 250}, [3]float64{0, 0, 0}, StatusReportMachinePosition)
	out := buf.String()
	if !strings.Contains(out, "MPos:") {
		t.Errorf("MPos missing despite its mask bit: %q", out)
	}
	if strings.Contains(out, "WPos:") {
		t.Errorf("WPos present despite a cleared mask bit: %q", out)
	}
}

func TestSettingsDumpListsEverySetting(t *testing.T) {
	var buf bytes.Buffer
	s := settings.Defaults()
	New(&buf).SettingsDump(s)
	out := buf.String()
	for _, want := range []string{
		"$0=10 (step pulse, usec)\r\n",
		"$1=25 (step idle delay, msec)\r\n",
		"$2=0 (step port invert mask, int:00000000)\r\n",
		"$3=0 (dir port invert mask, int:00000000)\r\n",
		"$4=0 (invert step enable, bool)\r\n",
		"$11=0.02 (junction deviation, mm)\r\n",
		"$22=0 (homing cycle, bool)\r\n",
		"$100=250 (x, step/mm)\r\n",
		"$111=500 (y max rate, mm/min)\r\n",
		"$122=10 (z accel, mm/sec^2)\r\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("settings dump missing %q:\n%s", want, out)
		}
	}
}

func TestStartupLine(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).StartupLine(0, "G21G90")
	if buf.String() != "$N0=G21G90\r\n" {
		t.Errorf("got %q", buf.String())
	}
}
