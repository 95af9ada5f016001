// Package telemetry provides the per-cycle diagnostic logger the units
// write their info-level messages through. Output is gated twice: globally
// by the -v flag, and per cycle by --print-from-cycle, so a long run can
// stay quiet until the cycle range under investigation.
package telemetry

import (
	"fmt"
	"io"
	"log"
)

// Logger writes unit diagnostics, prefixed with the unit name and the
// current cycle number.
type Logger struct {
	out            *log.Logger
	verbose        bool
	printFromCycle uint64

	cycle uint64
}

// New constructs a Logger writing to w. Nothing is emitted unless verbose
// is set, and nothing is emitted before printFromCycle.
func New(w io.Writer, verbose bool, printFromCycle uint64) *Logger {
	return &Logger{
		out:            log.New(w, "", 0),
		verbose:        verbose,
		printFromCycle: printFromCycle,
	}
}

// SetCycle records the current simulation cycle; the CPU calls this once at
// the top of every cycle.
func (l *Logger) SetCycle(c uint64) { l.cycle = c }

// Enabled reports whether a message logged now would actually be written.
func (l *Logger) Enabled() bool {
	return l.verbose && l.cycle >= l.printFromCycle
}

// Unit returns the func(string) hook a unit's SetLogger accepts, tagging
// every message with the unit's name and the cycle it was logged in.
func (l *Logger) Unit(name string) func(string) {
	return func(msg string) {
		if !l.Enabled() {
			return
		}
		l.out.Printf("@%d [%s] %s", l.cycle, name, msg)
	}
}

// Printf logs a message outside any unit (CPU-level events).
func (l *Logger) Printf(format string, args ...any) {
	if !l.Enabled() {
		return
	}
	l.out.Printf("@%d %s", l.cycle, fmt.Sprintf(format, args...))
}
