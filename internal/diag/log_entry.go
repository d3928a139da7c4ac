// Package diag implements the ambient logging stack: a mutex-guarded ring
// buffer of per-component, per-level-filterable entries, sized by its
// caller to the planner/stepper cadence it needs to look back over rather
// than a fixed constant. Grounded on internal/debug/logger.go and
// log_entry.go's component/level/entry shape -- the teacher never reaches
// for a third-party logging library (no zap/logrus/zerolog/slog anywhere in
// its own code), so neither does this package -- but without that file's
// buffered-channel-plus-writer-goroutine plumbing: a CNC core ticking its
// stepper ISR at high frequency needs a log call to either land immediately
// or drop, not queue behind a separate goroutine's scheduling.
package diag

import (
	"fmt"
	"time"
)

// Level is the severity of a log entry.
type Level int

const (
	LevelNone Level = iota
	LevelError
	LevelWarning
	LevelInfo
	LevelDebug
	LevelTrace
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "NONE"
	case LevelError:
		return "ERROR"
	case LevelWarning:
		return "WARNING"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	case LevelTrace:
		return "TRACE"
	default:
		return "UNKNOWN"
	}
}

// Component identifies which subsystem produced a log entry.
type Component string

const (
	ComponentPlanner  Component = "Planner"
	ComponentStepper  Component = "Stepper"
	ComponentISR      Component = "ISR"
	ComponentFSM      Component = "FSM"
	ComponentSettings Component = "Settings"
)

// Entry is one record in the ring buffer.
type Entry struct {
	Timestamp time.Time
	Component Component
	Level     Level
	Message   string
	Data      map[string]interface{}
}

// Format renders an entry as a single human-readable line.
func (e *Entry) Format() string {
	return fmt.Sprintf("[%s] [%s] %s: %s", e.Timestamp.Format("15:04:05.000"), e.Component, e.Level, e.Message)
}
