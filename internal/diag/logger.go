package diag

import (
	"fmt"
	"sync"
	"time"
)

// Logger is a mutex-guarded ring buffer of diagnostic entries, gated per
// component and by a minimum severity. Logging happens synchronously on
// the caller's own goroutine -- the planner call, the stepper tick, the
// FSM transition -- rather than through a decoupling channel and writer
// goroutine, so an entry is visible to Entries() as soon as Log returns.
type Logger struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	count   int

	componentEnabled map[Component]bool
	minLevel         Level
}

// NewLogger creates a logger holding at most maxEntries before the oldest
// entries are overwritten. Callers size this to the cadence they want to
// be able to look back over; internal/machine sizes it to the planner's
// ring capacity times a step-event window, so a full dump always spans at
// least one ring's worth of queued motion, however many blocks that
// happens to be for a given machine.
func NewLogger(maxEntries int) *Logger {
	if maxEntries < 1 {
		maxEntries = 1
	}
	l := &Logger{
		entries:          make([]Entry, maxEntries),
		componentEnabled: make(map[Component]bool),
		minLevel:         LevelInfo,
	}
	for _, c := range []Component{ComponentPlanner, ComponentStepper, ComponentISR, ComponentFSM, ComponentSettings} {
		l.componentEnabled[c] = false
	}
	return l
}

// Log records an entry immediately, dropping it silently if the component
// is disabled or the entry is more verbose than the configured cap.
func (l *Logger) Log(component Component, level Level, message string, data map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.componentEnabled[component] || level > l.minLevel {
		return
	}
	l.entries[l.next] = Entry{Component: component, Level: level, Message: message, Data: data, Timestamp: time.Now()}
	l.next = (l.next + 1) % len(l.entries)
	if l.count < len(l.entries) {
		l.count++
	}
}

// Logf logs a formatted message.
func (l *Logger) Logf(component Component, level Level, format string, args ...interface{}) {
	l.Log(component, level, fmt.Sprintf(format, args...), nil)
}

// SetComponentEnabled toggles logging for one component.
func (l *Logger) SetComponentEnabled(c Component, enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.componentEnabled[c] = enabled
}

// IsComponentEnabled reports a component's current enable state.
func (l *Logger) IsComponentEnabled(c Component) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.componentEnabled[c]
}

// SetMinLevel sets the verbosity cap: entries at levels beyond it (Debug
// beyond a Warning cap, say) are dropped.
func (l *Logger) SetMinLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// Entries returns a copy of all buffered entries, oldest first.
func (l *Logger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		return []Entry{}
	}
	out := make([]Entry, l.count)
	if l.count < len(l.entries) {
		copy(out, l.entries[:l.count])
		return out
	}
	for i := 0; i < l.count; i++ {
		out[i] = l.entries[(l.next+i)%len(l.entries)]
	}
	return out
}

// RecentEntries returns the most recent count entries -- the step-event-
// windowed dump used to debug trapezoid/Bresenham timing around a feed
// hold or an unexpected deceleration.
func (l *Logger) RecentEntries(count int) []Entry {
	all := l.Entries()
	if count >= len(all) {
		return all
	}
	return all[len(all)-count:]
}

// Clear empties the ring buffer without touching component/level settings.
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count = 0
	l.next = 0
}
