// Package format renders bytecode.Value (and the tables they may
// reference) to the human-readable strings used by tests and
// diagnostics. It is the only component of this module allowed to be
// "just for humans": nothing here feeds back into compilation or
// execution.
package format

import (
	"strconv"
	"strings"

	"github.com/kristofer/lispvm/pkg/bytecode"
)

// TableLookup resolves a table handle to its live contents. vm.VM
// satisfies this interface; format never imports pkg/vm, so
// pkg/bytecode -> pkg/format stays a leaf-level dependency.
type TableLookup interface {
	Table(id bytecode.TableID) (*bytecode.Table, bool)
}

// Value renders v to its display form:
//
//	C(c)    the character itself
//	F(x)    shortest round-trippable decimal (2, not 2.0)
//	U(n)    decimal
//	Fun(b)  {&b}
//	T(h)    [k1: v1, ...|a0, a1, ...], entries and array joined by ", ",
//	        the "|" separator always present even when one side is empty
//
// lookup is used to recurse into table contents. It may be nil: a table
// handle that lookup is nil for, or cannot resolve, renders as [&h].
func Value(v bytecode.Value, lookup TableLookup) string {
	switch v.Kind {
	case bytecode.KindChar:
		return string(v.Char)
	case bytecode.KindFloat:
		return formatFloat(v.Float)
	case bytecode.KindUint:
		return strconv.FormatUint(v.Uint, 10)
	case bytecode.KindFun:
		return "{&" + strconv.Itoa(int(v.Fun)) + "}"
	case bytecode.KindTable:
		return formatTable(v.Table, lookup)
	default:
		return "<invalid value>"
	}
}

func formatFloat(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}

func formatTable(id bytecode.TableID, lookup TableLookup) string {
	if lookup == nil {
		return "[&" + strconv.Itoa(int(id)) + "]"
	}
	t, ok := lookup.Table(id)
	if !ok {
		return "[&" + strconv.Itoa(int(id)) + "]"
	}

	pairs := make([]string, len(t.Pairs))
	for i, kv := range t.Pairs {
		pairs[i] = Value(kv.Key, lookup) + ": " + Value(kv.Val, lookup)
	}

	arr := make([]string, len(t.Array))
	for i, v := range t.Array {
		arr[i] = Value(v, lookup)
	}

	return "[" + strings.Join(pairs, ", ") + "|" + strings.Join(arr, ", ") + "]"
}
