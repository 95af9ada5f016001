// Package simerror defines the fatal error kinds the simulator can raise.
// Transient conditions (port exhaustion, a full queue, a
// dependency that isn't ready) are never errors here; they are expressed as
// bool-returning predicates that the caller retries next cycle.
package simerror

import "fmt"

// ConfigError reports a configuration schema violation, an unknown cache
// type, or a path override to a non-existent key.
type ConfigError struct {
	Location string
	Message  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error at %s: %s", e.Location, e.Message)
}

// UnknownMnemonicError is raised at dispatch when the pipe-map has no entry
// for an instruction's mnemonic.
type UnknownMnemonicError struct {
	Mnemonic string
}

func (e *UnknownMnemonicError) Error() string {
	return fmt.Sprintf("unknown pipe for instruction %q", e.Mnemonic)
}

// TraceError reports a malformed trace record, or a trace record that
// violates an unsupported-feature precondition (multiple loads/stores per
// scalar instruction, an instruction address that is not 4-byte aligned).
type TraceError struct {
	Message string
}

func (e *TraceError) Error() string {
	return fmt.Sprintf("trace error: %s", e.Message)
}

// DeadlockError is raised by the CPU's watchdog when the retired instruction
// count hasn't changed for 100 consecutive cycles while work remains.
type DeadlockError struct {
	Cycle     uint64
	Threshold int
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("deadlock suspected at cycle %d: retired instruction count"+
		" has not changed for %d cycles", e.Cycle, e.Threshold)
}
