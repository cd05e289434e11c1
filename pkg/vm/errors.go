package vm

import (
	"fmt"
	"strings"

	"github.com/kristofer/lispvm/pkg/bytecode"
)

// TypeError reports a stack-top variant mismatch: an opcode expected one
// Value kind and found another.
type TypeError struct {
	Op       bytecode.Op
	Expected bytecode.ValueKind
	Actual   bytecode.ValueKind
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("type error in %s: expected %s, got %s", e.Op, e.Expected, e.Actual)
}

// UnderflowError reports a pop from an empty stack for an opcode that
// requires an operand.
type UnderflowError struct {
	Op bytecode.Op
}

func (e *UnderflowError) Error() string {
	return fmt.Sprintf("stack underflow in %s", e.Op)
}

// LookupError reports a missing variable slot, table handle, label, or
// block.
type LookupError struct {
	Kind string // "variable", "table", "label", or "block"
	ID   int
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("unknown %s %d", e.Kind, e.ID)
}

// ArityError reports a Deferred block dispatched with too few arguments
// on the stack. It carries a dump of the VM's live tables and variables
// at the moment of failure.
type ArityError struct {
	Block    bytecode.BlockID
	Want     int
	Got      int
	StateDump string
}

func (e *ArityError) Error() string {
	return fmt.Sprintf(
		"deferred block %d called with too few arguments: want %d, got %d\n%s",
		e.Block, e.Want, e.Got, e.StateDump,
	)
}

// dumpState renders the VM's variables and live tables for diagnosis,
// used to build ArityError.StateDump.
func (vm *VM) dumpState() string {
	var b strings.Builder
	b.WriteString("variables:")
	if len(vm.vars) == 0 {
		b.WriteString(" (none)")
	}
	for slot, v := range vm.vars {
		fmt.Fprintf(&b, "\n  %d = %s", slot, describeValue(v))
	}
	b.WriteString("\ntables:")
	if len(vm.tables) == 0 {
		b.WriteString(" (none)")
	}
	for id, t := range vm.tables {
		fmt.Fprintf(&b, "\n  %d: %d pairs, %d array elems", id, len(t.Pairs), len(t.Array))
	}
	return b.String()
}

func describeValue(v bytecode.Value) string {
	return fmt.Sprintf("%s(%v)", v.KindName(), rawValue(v))
}

// genericError covers VM failures with no dedicated type (malformed
// bytecode the compiler should never produce, e.g. a body that runs off
// the end of the instruction stream without hitting Ret).
type genericError struct{ msg string }

func (e *genericError) Error() string { return e.msg }

func errf(format string, args ...interface{}) error {
	return &genericError{msg: fmt.Sprintf(format, args...)}
}

func rawValue(v bytecode.Value) interface{} {
	switch v.Kind {
	case bytecode.KindChar:
		return v.Char
	case bytecode.KindFloat:
		return v.Float
	case bytecode.KindUint:
		return v.Uint
	case bytecode.KindTable:
		return v.Table
	case bytecode.KindFun:
		return v.Fun
	default:
		return nil
	}
}
