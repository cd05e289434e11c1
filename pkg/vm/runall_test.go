package vm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/lispvm/pkg/ast"
	"github.com/kristofer/lispvm/pkg/bytecode"
	"github.com/kristofer/lispvm/pkg/compiler"
	"github.com/kristofer/lispvm/pkg/format"
	"github.com/kristofer/lispvm/pkg/vm"
)

func compileProgram(t *testing.T, leaf ast.Leaf) bytecode.Program {
	t.Helper()
	m := compiler.New()
	entry, err := m.Compile(leaf)
	require.NoError(t, err)
	return m.Program(entry)
}

func TestRunAllReturnsResultsInInputOrder(t *testing.T) {
	progs := []bytecode.Program{
		compileProgram(t, ast.D{Op: "+", X: ast.F{Value: 1}, Y: ast.F{Value: 1}}),
		compileProgram(t, ast.D{Op: "*", X: ast.F{Value: 3}, Y: ast.F{Value: 4}}),
		compileProgram(t, ast.M{Op: "!", X: ast.F{Value: 3}}),
	}

	results, err := vm.RunAll(progs)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "2", format.Value(results[0], nil))
	assert.Equal(t, "12", format.Value(results[1], nil))
}

func TestRunAllPropagatesFirstError(t *testing.T) {
	ok := compileProgram(t, ast.F{Value: 1})
	failing := compileProgram(t, ast.D{
		Op: ".",
		X: ast.Fun{
			Params: []ast.Param{{Name: "x"}, {Name: "y"}},
			Body:   []ast.Leaf{ast.D{Op: "+", X: ast.X{Name: "x"}, Y: ast.X{Name: "y"}}},
		},
		Y: ast.A{Items: []ast.Leaf{ast.F{Value: 1}}},
	})

	_, err := vm.RunAll([]bytecode.Program{ok, failing})
	require.Error(t, err)
}

func TestRunAllOfSameProgramFromMultipleVMsIsSafe(t *testing.T) {
	prog := compileProgram(t, ast.D{Op: "+", X: ast.F{Value: 5}, Y: ast.F{Value: 2}})

	results, err := vm.RunAll([]bytecode.Program{prog, prog, prog})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "7", format.Value(r, nil))
	}
}
