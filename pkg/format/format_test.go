package format_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kristofer/lispvm/pkg/bytecode"
	"github.com/kristofer/lispvm/pkg/format"
)

// stubLookup satisfies format.TableLookup without pulling in pkg/vm:
// format never needs a real VM to render a table.
type stubLookup map[bytecode.TableID]*bytecode.Table

func (s stubLookup) Table(id bytecode.TableID) (*bytecode.Table, bool) {
	t, ok := s[id]
	return t, ok
}

func TestValueChar(t *testing.T) {
	assert.Equal(t, "x", format.Value(bytecode.C('x'), nil))
}

func TestValueFloatIsShortestRoundTrip(t *testing.T) {
	assert.Equal(t, "2", format.Value(bytecode.F(2), nil))
	assert.Equal(t, "2.5", format.Value(bytecode.F(2.5), nil))
}

func TestValueUint(t *testing.T) {
	assert.Equal(t, "7", format.Value(bytecode.U(7), nil))
}

func TestValueFunRendersAsHandle(t *testing.T) {
	assert.Equal(t, "{&9}", format.Value(bytecode.FunVal(9), nil))
}

func TestValueTableMissingLookupFallsBackToHandle(t *testing.T) {
	assert.Equal(t, "[&3]", format.Value(bytecode.T(3), nil))
}

func TestValueTableWithPairsAndArray(t *testing.T) {
	lookup := stubLookup{
		1: {
			Pairs: []bytecode.KV{{Key: bytecode.C('k'), Val: bytecode.F(1)}},
			Array: []bytecode.Value{bytecode.F(0), bytecode.F(1), bytecode.F(2)},
		},
	}
	assert.Equal(t, "[k: 1|0, 1, 2]", format.Value(bytecode.T(1), lookup))
}

func TestValueTableSeparatorAlwaysPresent(t *testing.T) {
	lookup := stubLookup{
		1: {Array: []bytecode.Value{bytecode.F(1), bytecode.F(2)}},
		2: {Pairs: []bytecode.KV{{Key: bytecode.C('a'), Val: bytecode.F(1)}}},
		3: {},
	}
	assert.Equal(t, "[|1, 2]", format.Value(bytecode.T(1), lookup))
	assert.Equal(t, "[a: 1|]", format.Value(bytecode.T(2), lookup))
	assert.Equal(t, "[|]", format.Value(bytecode.T(3), lookup))
}
