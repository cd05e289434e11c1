// Package compiler lowers an ast.Leaf into the flat bytecode pkg/vm
// executes: an instruction stream plus addressable bodies and blocks.
//
// Machine is the AST->bytecode pipeline. Its public surface is a single
// operation, Compile, which recursively lowers a Leaf and returns the
// block id of the outermost code to execute. Everything else on Machine
// is append-only bookkeeping: the instruction buffer, the block and body
// lists, the variable table, and the label counter.
package compiler

import (
	"github.com/kristofer/lispvm/pkg/ast"
	"github.com/kristofer/lispvm/pkg/bytecode"
)

// Option configures a Machine at construction time.
type Option func(*Machine)

// WithTrace installs a sink invoked once per compiled block, after the
// block's instructions, body, and metadata have been appended. This
// mirrors jcorbin-gothird's own func(string, ...any) log-function
// option rather than pulling in a structured-logging library.
func WithTrace(fn func(format string, args ...interface{})) Option {
	return func(m *Machine) { m.trace = fn }
}

type varEntry struct {
	name string
	slot int
	kind bytecode.ValueKind
}

// Machine is the compiler's mutable state across one or more Compile
// calls. A Machine instance owns its own variable and label numbering,
// so two Machines never collide.
type Machine struct {
	instrs []bytecode.Instruction
	blocks []bytecode.Block
	bodies []bytecode.Body

	vars      []varEntry
	varNext   int
	labelNext int

	trace func(format string, args ...interface{})
}

// New creates a Machine ready to compile. Instruction, block, body, and
// variable state all start empty.
func New(opts ...Option) *Machine {
	m := &Machine{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Instrs returns the compiler's append-only instruction buffer.
func (m *Machine) Instrs() []bytecode.Instruction { return m.instrs }

// Blocks returns the compiler's append-only block list.
func (m *Machine) Blocks() []bytecode.Block { return m.blocks }

// Bodies returns the compiler's append-only body list.
func (m *Machine) Bodies() []bytecode.Body { return m.bodies }

// Program snapshots the Machine's current state into a bytecode.Program
// whose entry point is the given block id (normally the id Compile
// returned).
func (m *Machine) Program(entry bytecode.BlockID) bytecode.Program {
	return bytecode.Program{Instrs: m.instrs, Blocks: m.blocks, Bodies: m.bodies, Entry: entry}
}

// Compile recursively lowers leaf and returns the block id of the
// outermost code to execute. It fails with a *CompileError for
// unsupported AST shapes, undefined variables, or malformed function
// bodies. On error the returned block id is 0 and the buffers are not
// rolled back: blocks lowered for sub-expressions before the failing
// node stay appended.
func (m *Machine) Compile(leaf ast.Leaf) (bytecode.BlockID, error) {
	return m.compileLeaf(leaf)
}

func (m *Machine) compileLeaf(leaf ast.Leaf) (bytecode.BlockID, error) {
	switch l := leaf.(type) {
	case ast.X:
		slot, ok := m.lookupVar(l.Name)
		if !ok {
			return 0, errf("undefined variable %q", l.Name)
		}
		return m.immediate([]bytecode.Instruction{bytecode.WithArg(bytecode.OpLoad, slot)}), nil

	case ast.F:
		return m.immediate([]bytecode.Instruction{bytecode.Push(bytecode.F(l.Value))}), nil

	case ast.C:
		return m.immediate([]bytecode.Instruction{bytecode.Push(bytecode.C(l.Value))}), nil

	case ast.A:
		ops := make([]bytecode.Instruction, 0, len(l.Items)+1)
		for _, item := range l.Items {
			b, err := m.compileLeaf(item)
			if err != nil {
				return 0, err
			}
			ops = append(ops, bytecode.WithArg(bytecode.OpJmp, int(b)))
		}
		ops = append(ops, bytecode.WithArg(bytecode.OpVec, len(l.Items)))
		return m.immediate(ops), nil

	case ast.M:
		return m.compileMonadic(l)

	case ast.D:
		return m.compileDyadic(l)

	case ast.Fun:
		return m.compileFun(l)

	default:
		return 0, errf("cannot compile leaf %T", leaf)
	}
}

func (m *Machine) compileMonadic(l ast.M) (bytecode.BlockID, error) {
	switch l.Op {
	case "-":
		if lit, ok := l.X.(ast.F); ok {
			return m.immediate([]bytecode.Instruction{bytecode.Push(bytecode.F(-lit.Value))}), nil
		}
		b, err := m.compileLeaf(l.X)
		if err != nil {
			return 0, err
		}
		return m.immediate([]bytecode.Instruction{
			bytecode.WithArg(bytecode.OpJmp, int(b)),
			bytecode.Bare(bytecode.OpNegF),
		}), nil

	case "!":
		if lit, ok := l.X.(ast.F); ok {
			n := int(lit.Value)
			if float64(n) != lit.Value || n < 0 {
				return 0, errf("iota argument must be a non-negative integer, got %v", lit.Value)
			}
			ops := make([]bytecode.Instruction, 0, n+1)
			for i := 0; i < n; i++ {
				ops = append(ops, bytecode.Push(bytecode.F(float64(i))))
			}
			ops = append(ops, bytecode.WithArg(bytecode.OpVec, n))
			return m.immediate(ops), nil
		}
		return m.compileComputedIota(l.X)

	default:
		return 0, errf("unsupported monadic operator %q", l.Op)
	}
}

// compileComputedIota lowers `!expr` using a counting loop built from
// Label/LJmpNZ. A Pop is inserted before the final Load(r) to discard
// the leftover decrement counter the loop otherwise leaves under the
// result.
func (m *Machine) compileComputedIota(expr ast.Leaf) (bytecode.BlockID, error) {
	nb, err := m.compileLeaf(expr)
	if err != nil {
		return 0, err
	}
	r := m.mkVar()
	label := m.mkLabel()
	ops := []bytecode.Instruction{
		bytecode.WithArg(bytecode.OpJmp, int(nb)),
		bytecode.Push(bytecode.F(1)),
		bytecode.Bare(bytecode.OpSubF),
		bytecode.Push(bytecode.F(0)),
		bytecode.WithArg(bytecode.OpVec, 1),
		bytecode.WithArg(bytecode.OpLocal, r),
		bytecode.WithArg(bytecode.OpLabel, label),
		bytecode.Bare(bytecode.OpDup),
		bytecode.WithArg(bytecode.OpVecLast, r),
		bytecode.Push(bytecode.F(1)),
		bytecode.Bare(bytecode.OpAddF),
		bytecode.Bare(bytecode.OpDup),
		bytecode.WithArg(bytecode.OpVecPush, r),
		bytecode.Bare(bytecode.OpCmpF),
		bytecode.WithArg(bytecode.OpLJmpNZ, label),
		bytecode.Bare(bytecode.OpPop),
		bytecode.WithArg(bytecode.OpLoad, r),
	}
	return m.immediate(ops), nil
}

func (m *Machine) compileDyadic(l ast.D) (bytecode.BlockID, error) {
	switch l.Op {
	case "+", "-", "*", "%":
		opsX, err := m.operandOps(l.X)
		if err != nil {
			return 0, err
		}
		opsY, err := m.operandOps(l.Y)
		if err != nil {
			return 0, err
		}
		var arith bytecode.Op
		switch l.Op {
		case "+":
			arith = bytecode.OpAddF
		case "-":
			arith = bytecode.OpSubF
		case "*":
			arith = bytecode.OpMulF
		case "%":
			arith = bytecode.OpDivF
		}
		ops := make([]bytecode.Instruction, 0, len(opsX)+len(opsY)+1)
		ops = append(ops, opsX...)
		ops = append(ops, opsY...)
		ops = append(ops, bytecode.Bare(arith))
		return m.immediate(ops), nil

	case "@":
		bf, err := m.compileLeaf(l.X)
		if err != nil {
			return 0, err
		}
		by, err := m.compileLeaf(l.Y)
		if err != nil {
			return 0, err
		}
		return m.immediate([]bytecode.Instruction{
			bytecode.Push(bytecode.FunVal(bf)),
			bytecode.Push(bytecode.FunVal(by)),
			bytecode.Bare(bytecode.OpApply0),
			bytecode.Bare(bytecode.OpApply1),
		}), nil

	case ".":
		bf, err := m.compileLeaf(l.X)
		if err != nil {
			return 0, err
		}
		if arr, ok := l.Y.(ast.A); ok {
			ops := make([]bytecode.Instruction, 0, len(arr.Items)+2)
			for _, item := range arr.Items {
				bi, err := m.compileLeaf(item)
				if err != nil {
					return 0, err
				}
				ops = append(ops, bytecode.WithArg(bytecode.OpJmp, int(bi)))
			}
			ops = append(ops, bytecode.Push(bytecode.FunVal(bf)), bytecode.Bare(bytecode.OpApplyN))
			return m.immediate(ops), nil
		}
		be, err := m.compileLeaf(l.Y)
		if err != nil {
			return 0, err
		}
		return m.immediate([]bytecode.Instruction{
			bytecode.WithArg(bytecode.OpJmp, int(be)),
			bytecode.Bare(bytecode.OpPopVec),
			bytecode.Push(bytecode.FunVal(bf)),
			bytecode.Bare(bytecode.OpApplyN),
		}), nil

	default:
		return 0, errf("unsupported dyadic operator %q", l.Op)
	}
}

func (m *Machine) compileFun(l ast.Fun) (bytecode.BlockID, error) {
	if len(l.Body) == 0 {
		return 0, errf("function body must contain at least one expression")
	}
	if len(l.Body) > 1 {
		return 0, errf("function body has %d expressions; only a single expression is supported", len(l.Body))
	}

	names := make([]bytecode.Param, len(l.Params))
	for i, p := range l.Params {
		names[i] = bytecode.Param{Name: p.Name, Kind: p.Kind}
	}

	// Register parameters rightmost-first: the caller pushes arguments in
	// source order, so the last-pushed (rightmost) argument is on top and
	// must be bound by the first Local in the prelude.
	prelude := make([]bytecode.Instruction, 0, len(l.Params))
	for i := len(l.Params) - 1; i >= 0; i-- {
		slot := m.addVar(l.Params[i].Name, l.Params[i].Kind)
		prelude = append(prelude, bytecode.WithArg(bytecode.OpLocal, slot))
	}

	bodyBlock, err := m.compileLeaf(l.Body[0])
	if err != nil {
		return 0, err
	}

	ops := append(prelude, bytecode.WithArg(bytecode.OpJmp, int(bodyBlock)))
	return m.deferred(ops, len(l.Params), names), nil
}

// operandOps lowers one operand of a dyadic arithmetic node: a direct
// Push for a literal, a direct Load for a variable reference, or a Jmp
// to a freshly compiled block for any other expression shape.
func (m *Machine) operandOps(l ast.Leaf) ([]bytecode.Instruction, error) {
	switch v := l.(type) {
	case ast.F:
		return []bytecode.Instruction{bytecode.Push(bytecode.F(v.Value))}, nil
	case ast.X:
		slot, ok := m.lookupVar(v.Name)
		if !ok {
			return nil, errf("undefined variable %q", v.Name)
		}
		return []bytecode.Instruction{bytecode.WithArg(bytecode.OpLoad, slot)}, nil
	default:
		b, err := m.compileLeaf(l)
		if err != nil {
			return nil, err
		}
		return []bytecode.Instruction{bytecode.WithArg(bytecode.OpJmp, int(b))}, nil
	}
}

// immediate appends ops plus a terminating Ret to the instruction buffer,
// wraps it in a zero-arg Body, and wraps that in an Immediate/Fun Block.
func (m *Machine) immediate(ops []bytecode.Instruction) bytecode.BlockID {
	start := len(m.instrs)
	m.instrs = append(m.instrs, ops...)
	m.instrs = append(m.instrs, bytecode.Bare(bytecode.OpRet))

	bodyIdx := len(m.bodies)
	m.bodies = append(m.bodies, bytecode.Body{Start: start, Vars: 0})

	blockIdx := len(m.blocks)
	m.blocks = append(m.blocks, bytecode.Block{Kind: bytecode.BlockFun, Time: bytecode.Immediate, Body: bodyIdx})

	m.logf("immediate block %d: body %d starts at %d (%d ops)", blockIdx, bodyIdx, start, len(ops))
	return bytecode.BlockID(blockIdx)
}

// deferred appends ops plus a terminating Ret, wraps it in a Body
// expecting vars formals named by names, and wraps that in a
// Deferred/Fun Block.
func (m *Machine) deferred(ops []bytecode.Instruction, vars int, names []bytecode.Param) bytecode.BlockID {
	start := len(m.instrs)
	m.instrs = append(m.instrs, ops...)
	m.instrs = append(m.instrs, bytecode.Bare(bytecode.OpRet))

	export := make([]bool, len(names))
	for i := range export {
		export[i] = true
	}

	bodyIdx := len(m.bodies)
	m.bodies = append(m.bodies, bytecode.Body{Start: start, Vars: vars, Names: names, Export: export})

	blockIdx := len(m.blocks)
	m.blocks = append(m.blocks, bytecode.Block{Kind: bytecode.BlockFun, Time: bytecode.Deferred, Body: bodyIdx})

	m.logf("deferred block %d: body %d starts at %d, %d formals", blockIdx, bodyIdx, start, vars)
	return bytecode.BlockID(blockIdx)
}

// mkVar allocates a fresh, unnamed variable slot (used for compiler-
// introduced temporaries such as the iota accumulator).
func (m *Machine) mkVar() int {
	slot := m.varNext
	m.varNext++
	return slot
}

// addVar allocates a fresh slot and registers it under name, shadowing
// any earlier registration of the same name.
func (m *Machine) addVar(name string, kind bytecode.ValueKind) int {
	slot := m.mkVar()
	m.vars = append(m.vars, varEntry{name: name, slot: slot, kind: kind})
	return slot
}

// lookupVar returns the most recently registered slot for name,
// approximating dynamic scope.
func (m *Machine) lookupVar(name string) (int, bool) {
	for i := len(m.vars) - 1; i >= 0; i-- {
		if m.vars[i].name == name {
			return m.vars[i].slot, true
		}
	}
	return 0, false
}

// mkLabel allocates a fresh label id.
func (m *Machine) mkLabel() int {
	id := m.labelNext
	m.labelNext++
	return id
}

func (m *Machine) logf(format string, args ...interface{}) {
	if m.trace != nil {
		m.trace(format, args...)
	}
}
