package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/lispvm/pkg/ast"
	"github.com/kristofer/lispvm/pkg/bytecode"
	"github.com/kristofer/lispvm/pkg/compiler"
)

func TestCompileFloatLiteralIsImmediate(t *testing.T) {
	m := compiler.New()
	b, err := m.Compile(ast.F{Value: 2})
	require.NoError(t, err)

	blk := m.Blocks()[b]
	assert.Equal(t, bytecode.Immediate, blk.Time)
	body := m.Bodies()[blk.Body]
	assert.Equal(t, 0, body.Vars)
	assert.Equal(t, bytecode.OpPush, m.Instrs()[body.Start].Op)
}

func TestCompileUndefinedVariableFails(t *testing.T) {
	m := compiler.New()
	_, err := m.Compile(ast.D{Op: "+", X: ast.X{Name: "x"}, Y: ast.F{Value: 1}})
	require.Error(t, err)
	var cerr *compiler.CompileError
	require.ErrorAs(t, err, &cerr)
}

func TestCompileMultiExpressionFunctionBodyRejected(t *testing.T) {
	m := compiler.New()
	_, err := m.Compile(ast.Fun{
		Body: []ast.Leaf{ast.F{Value: 1}, ast.F{Value: 2}},
	})
	require.Error(t, err)
}

func TestCompileEmptyFunctionBodyRejected(t *testing.T) {
	m := compiler.New()
	_, err := m.Compile(ast.Fun{})
	require.Error(t, err)
}

func TestCompileDeterminism(t *testing.T) {
	leaf := ast.D{Op: "+", X: ast.F{Value: 5}, Y: ast.F{Value: 2}}

	m1 := compiler.New()
	b1, err := m1.Compile(leaf)
	require.NoError(t, err)

	m2 := compiler.New()
	b2, err := m2.Compile(leaf)
	require.NoError(t, err)

	assert.Equal(t, b1, b2)
	assert.Equal(t, m1.Instrs(), m2.Instrs())
	assert.Equal(t, m1.Blocks(), m2.Blocks())
	assert.Equal(t, m1.Bodies(), m2.Bodies())
}

func TestCompileArrayPushesEachElement(t *testing.T) {
	m := compiler.New()
	b, err := m.Compile(ast.A{Items: []ast.Leaf{ast.F{Value: 1}, ast.F{Value: 2}}})
	require.NoError(t, err)

	blk := m.Blocks()[b]
	body := m.Bodies()[blk.Body]
	ops := m.Instrs()[body.Start:]
	require.Len(t, ops, 4) // Jmp, Jmp, Vec, Ret
	assert.Equal(t, bytecode.OpJmp, ops[0].Op)
	assert.Equal(t, bytecode.OpJmp, ops[1].Op)
	assert.Equal(t, bytecode.OpVec, ops[2].Op)
	assert.Equal(t, 2, ops[2].Arg)
	assert.Equal(t, bytecode.OpRet, ops[3].Op)
}

func TestCompileFunRegistersParamsRightmostFirst(t *testing.T) {
	m := compiler.New()
	b, err := m.Compile(ast.Fun{
		Params: []ast.Param{{Name: "x"}, {Name: "y"}},
		Body:   []ast.Leaf{ast.D{Op: "+", X: ast.X{Name: "x"}, Y: ast.X{Name: "y"}}},
	})
	require.NoError(t, err)

	blk := m.Blocks()[b]
	require.Equal(t, bytecode.Deferred, blk.Time)
	body := m.Bodies()[blk.Body]
	require.Equal(t, 2, body.Vars)

	ops := m.Instrs()[body.Start:]
	// prelude: Local(slot for y) then Local(slot for x), rightmost first
	require.Equal(t, bytecode.OpLocal, ops[0].Op)
	require.Equal(t, bytecode.OpLocal, ops[1].Op)
	assert.NotEqual(t, ops[0].Arg, ops[1].Arg)

	// the body x+y loads x's slot then y's slot
	require.Equal(t, bytecode.OpJmp, ops[2].Op)
	inner := m.Instrs()[m.Bodies()[m.Blocks()[ops[2].Arg].Body].Start:]
	require.Equal(t, bytecode.OpLoad, inner[0].Op)
	require.Equal(t, bytecode.OpLoad, inner[1].Op)
	assert.Equal(t, inner[1].Arg, ops[0].Arg) // y bound first
	assert.Equal(t, inner[0].Arg, ops[1].Arg) // x bound second
}
