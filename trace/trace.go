// Package trace defines the bounded pull-based stream FetchUnit consumes:
// a sequence of decoded Instruction records plus the address the next one
// would be fetched from, terminating at end of file. Decoding itself
// belongs to the external trace producer; this package only defines the
// Trace interface every fetch-side caller programs against, and two
// concrete readers for the two wire formats the trace ingest side may hand
// us (line-buffered JSON, and a binary frame format).
package trace

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sarchlab/tbsim/instr"
	"github.com/sarchlab/tbsim/simerror"
)

// Trace is a bounded pull-based stream of decoded instructions.
type Trace interface {
	// EOF reports whether the trace has been fully consumed.
	EOF() bool
	// NextAddr returns the byte address of the instruction the next Dequeue
	// call would produce, or 0 when there is no next record.
	NextAddr() uint64
	// Dequeue consumes and returns the next instruction, or nil at EOF.
	Dequeue() (*instr.Instruction, error)
	// Err returns the decode error that stopped the trace short of a clean
	// EOF (a malformed record, a truncated frame, or an unsupported-feature
	// precondition violation), or nil if none has occurred.
	Err() error
}

// jsonRecord is the wire shape of one line in a JSON trace.
type jsonRecord struct {
	Mnemonic string              `json:"mnemonic"`
	Addr     uint64              `json:"addr"`
	Operands []string            `json:"operands"`
	IsBranch bool                `json:"is_branch"`
	IsFlush  bool                `json:"is_flush"`
	IsNop    bool                `json:"is_nop"`
	IsVCtrl  bool                `json:"is_vctrl"`
	Inputs   map[string][]string `json:"inputs"`
	Outputs  map[string][]string `json:"outputs"`
	Loads    []uint64            `json:"loads"`
	Stores   []uint64            `json:"stores"`
	LMul     *float64            `json:"lmul"`
}

// validate rejects the trace-record shapes tbsim's core does not model:
// an instruction address that is not 4-byte aligned (a compressed or
// misaligned instruction), and a scalar instruction with more than one load
// or store address, which has no defined per-address stall/reply accounting
// (VectorPipeline's per-slice addressing is the only path that legitimately
// needs more than one). An exception redirect is not an error here; FetchUnit
// handles it.
func (r *jsonRecord) validate() error {
	if r.Addr%4 != 0 {
		return &simerror.TraceError{Message: fmt.Sprintf(
			"instruction %q at %#x is not 4-byte aligned; compressed and misaligned instructions are not supported",
			r.Mnemonic, r.Addr)}
	}
	if r.LMul != nil {
		return nil
	}
	if len(r.Loads) > 1 {
		return &simerror.TraceError{Message: fmt.Sprintf(
			"instruction %q at %#x has %d loads, only one load per scalar instruction is supported",
			r.Mnemonic, r.Addr, len(r.Loads))}
	}
	if len(r.Stores) > 1 {
		return &simerror.TraceError{Message: fmt.Sprintf(
			"instruction %q at %#x has %d stores, only one store per scalar instruction is supported",
			r.Mnemonic, r.Addr, len(r.Stores))}
	}
	return nil
}

func toRegMap(m map[string][]string) map[instr.RegFile][]string {
	if m == nil {
		return nil
	}
	out := make(map[instr.RegFile][]string, len(m))
	for k, v := range m {
		out[instr.RegFile(k)] = v
	}
	return out
}

func (r *jsonRecord) toInstruction(id uint64) *instr.Instruction {
	return &instr.Instruction{
		ID:       id,
		Mnemonic: r.Mnemonic,
		Addr:     r.Addr,
		Operands: r.Operands,
		IsBranch: r.IsBranch,
		IsFlush:  r.IsFlush,
		IsNop:    r.IsNop,
		IsVCtrl:  r.IsVCtrl,
		Inputs:   toRegMap(r.Inputs),
		Outputs:  toRegMap(r.Outputs),
		Loads:    r.Loads,
		Stores:   r.Stores,
		LMul:     r.LMul,
	}
}

// JSONTrace reads a line-buffered JSON trace, one Instruction record per
// line, looking one record ahead so NextAddr/EOF can answer without
// consuming.
type JSONTrace struct {
	scanner   *bufio.Scanner
	nextID    uint64
	lookahead *instr.Instruction
	atEOF     bool
	err       error
}

// NewJSON constructs a JSONTrace over r.
func NewJSON(r io.Reader) *JSONTrace {
	t := &JSONTrace{scanner: bufio.NewScanner(r)}
	t.scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	t.advance()
	return t
}

func (t *JSONTrace) advance() {
	for t.scanner.Scan() {
		line := t.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec jsonRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			t.lookahead = nil
			t.err = &simerror.TraceError{Message: fmt.Sprintf("malformed JSON trace record: %v", err)}
			return
		}
		if err := rec.validate(); err != nil {
			t.lookahead = nil
			t.err = err
			return
		}
		t.nextID++
		t.lookahead = rec.toInstruction(t.nextID)
		return
	}
	if err := t.scanner.Err(); err != nil {
		t.err = &simerror.TraceError{Message: fmt.Sprintf("reading JSON trace: %v", err)}
	}
	t.lookahead = nil
	t.atEOF = true
}

// EOF reports whether the trace has been fully, cleanly consumed; a pending
// decode error is not EOF — Err (checked first by FetchUnit) reports it.
func (t *JSONTrace) EOF() bool { return t.lookahead == nil && t.err == nil }

func (t *JSONTrace) NextAddr() uint64 {
	if t.lookahead == nil {
		return 0
	}
	return t.lookahead.Addr
}

func (t *JSONTrace) Err() error { return t.err }

func (t *JSONTrace) Dequeue() (*instr.Instruction, error) {
	if t.lookahead == nil {
		if t.err != nil {
			return nil, t.err
		}
		if t.atEOF {
			return nil, nil
		}
		return nil, &simerror.TraceError{Message: "read past end of JSON trace"}
	}
	i := t.lookahead
	t.advance()
	return i, nil
}

// BinaryTrace reads the binary frame format: a little-endian uint32 record
// length prefix, followed by a JSON-encoded jsonRecord (the wire payload
// shape is identical to JSONTrace's; only the framing differs, so an
// external pipeline that already emits length-prefixed records doesn't need
// a second codec).
type BinaryTrace struct {
	r         *bufio.Reader
	nextID    uint64
	lookahead *instr.Instruction
	atEOF     bool
	err       error
}

// NewBinary constructs a BinaryTrace over r.
func NewBinary(r io.Reader) *BinaryTrace {
	t := &BinaryTrace{r: bufio.NewReader(r)}
	t.advance()
	return t
}

func (t *BinaryTrace) advance() {
	var lenBuf [4]byte
	if _, err := io.ReadFull(t.r, lenBuf[:]); err != nil {
		t.lookahead = nil
		t.atEOF = true
		if err != io.EOF {
			t.err = &simerror.TraceError{Message: fmt.Sprintf("reading binary trace frame length: %v", err)}
		}
		return
	}

	n := binary.LittleEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(t.r, payload); err != nil {
		t.lookahead = nil
		t.err = &simerror.TraceError{Message: fmt.Sprintf("truncated binary trace frame: %v", err)}
		return
	}

	var rec jsonRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		t.lookahead = nil
		t.err = &simerror.TraceError{Message: fmt.Sprintf("malformed binary trace record: %v", err)}
		return
	}
	if err := rec.validate(); err != nil {
		t.lookahead = nil
		t.err = err
		return
	}
	t.nextID++
	t.lookahead = rec.toInstruction(t.nextID)
}

// EOF reports whether the trace has been fully, cleanly consumed; a pending
// decode error is not EOF — Err (checked first by FetchUnit) reports it.
func (t *BinaryTrace) EOF() bool { return t.lookahead == nil && t.err == nil }

func (t *BinaryTrace) NextAddr() uint64 {
	if t.lookahead == nil {
		return 0
	}
	return t.lookahead.Addr
}

func (t *BinaryTrace) Err() error { return t.err }

func (t *BinaryTrace) Dequeue() (*instr.Instruction, error) {
	if t.lookahead == nil {
		if t.err != nil {
			return nil, t.err
		}
		if t.atEOF {
			return nil, nil
		}
		return nil, &simerror.TraceError{Message: "read past end of binary trace"}
	}
	i := t.lookahead
	t.advance()
	return i, nil
}
