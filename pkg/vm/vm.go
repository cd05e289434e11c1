// Package vm implements the stack machine that executes bytecode emitted
// by pkg/compiler.
//
// Execution pipeline:
//
//	ast.Leaf -> compiler.Machine -> bytecode.Program -> vm.VM -> bytecode.Value
//
// The VM is single-threaded and cooperative-only: executing a block while
// already inside exeBody simply recurses. There is no preemption and no
// opcode blocks on external I/O. Two VM instances may safely share one
// compiled Program because instrs/blocks/bodies are immutable after
// compilation; RunAll in this package exploits exactly that to fan
// several entry blocks out across goroutines.
package vm

import (
	"github.com/kristofer/lispvm/pkg/bytecode"
)

// Option configures a VM at construction time.
type Option func(*VM)

// WithTrace installs a sink invoked once per executed instruction. See
// compiler.WithTrace for why this is a plain function type rather than a
// structured-logging dependency.
func WithTrace(fn func(format string, args ...interface{})) Option {
	return func(vm *VM) { vm.trace = fn }
}

// VM executes a compiled Program against a data stack, a variable
// environment, and a heap of tables.
type VM struct {
	instrs []bytecode.Instruction
	blocks []bytecode.Block
	bodies []bytecode.Body

	stack []bytecode.Value

	vars map[int]bytecode.Value

	tables    map[bytecode.TableID]*bytecode.Table
	nextTable bytecode.TableID

	trace func(format string, args ...interface{})
}

// New creates a VM ready to execute prog. Each VM owns an exclusive
// stack, variable map, and table heap; the instrs/blocks/bodies arrays
// are read-only views shared with whatever compiled them.
func New(prog bytecode.Program, opts ...Option) *VM {
	vm := &VM{
		instrs: prog.Instrs,
		blocks: prog.Blocks,
		bodies: prog.Bodies,
		vars:   make(map[int]bytecode.Value),
		tables: make(map[bytecode.TableID]*bytecode.Table),
	}
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// Run executes prog's entry block to completion and returns its result.
func Run(prog bytecode.Program, opts ...Option) (bytecode.Value, error) {
	return New(prog, opts...).ExeBlock(prog.Entry)
}

// Table exposes a live table by handle, satisfying pkg/format's
// TableLookup interface for rendering T(h) values.
func (vm *VM) Table(id bytecode.TableID) (*bytecode.Table, bool) {
	t, ok := vm.tables[id]
	return t, ok
}

// ExeBlock resolves block b and dispatches it per the three-way rule: an
// Immediate block always runs; a Deferred block with an empty stack
// yields its own handle back (partial application); a Deferred block
// with enough arguments on the stack runs; otherwise dispatch fails with
// ArityError.
func (vm *VM) ExeBlock(b bytecode.BlockID) (bytecode.Value, error) {
	if int(b) < 0 || int(b) >= len(vm.blocks) {
		return bytecode.Value{}, &LookupError{Kind: "block", ID: int(b)}
	}
	blk := vm.blocks[b]

	if blk.Time == bytecode.Immediate {
		return vm.exeBody(blk.Body)
	}

	want := vm.bodies[blk.Body].Vars
	switch {
	case len(vm.stack) == 0:
		return bytecode.FunVal(b), nil
	case len(vm.stack) >= want:
		return vm.exeBody(blk.Body)
	default:
		return bytecode.Value{}, &ArityError{
			Block: b, Want: want, Got: len(vm.stack),
			StateDump: vm.dumpState(),
		}
	}
}

// exeBody iterates instructions from bodies[i].Start until the first
// OpRet, executing each via exeInstr, then pops and returns the final
// stack-top. Backward label jumps (LJmpNZ/LJmpZ) reassign the local
// program counter and continue this same loop rather than recursing.
func (vm *VM) exeBody(i int) (bytecode.Value, error) {
	body := vm.bodies[i]
	pc := body.Start

	for {
		if pc >= len(vm.instrs) {
			return bytecode.Value{}, errf("body %d ran off the end of the instruction stream", i)
		}
		ins := vm.instrs[pc]
		if ins.Op == bytecode.OpRet {
			break
		}

		next, taken, err := vm.exeInstr(ins, pc)
		if err != nil {
			return bytecode.Value{}, err
		}
		if taken {
			pc = next
			continue
		}
		pc++
	}

	if len(vm.stack) == 0 {
		return bytecode.Value{}, errf("invalid return from body %d: no value on top of stack", i)
	}
	top := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return top, nil
}

func (vm *VM) findLabel(id int) (int, error) {
	for idx, ins := range vm.instrs {
		if ins.Op == bytecode.OpLabel && ins.Arg == id {
			return idx, nil
		}
	}
	return 0, &LookupError{Kind: "label", ID: id}
}

func (vm *VM) push(v bytecode.Value) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop(op bytecode.Op) (bytecode.Value, error) {
	if len(vm.stack) == 0 {
		return bytecode.Value{}, &UnderflowError{Op: op}
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v, nil
}

func (vm *VM) popFloat(op bytecode.Op) (float64, error) {
	v, err := vm.pop(op)
	if err != nil {
		return 0, err
	}
	if v.Kind != bytecode.KindFloat {
		return 0, &TypeError{Op: op, Expected: bytecode.KindFloat, Actual: v.Kind}
	}
	return v.Float, nil
}

func (vm *VM) popFun(op bytecode.Op) (bytecode.BlockID, error) {
	v, err := vm.pop(op)
	if err != nil {
		return 0, err
	}
	if v.Kind != bytecode.KindFun {
		return 0, &TypeError{Op: op, Expected: bytecode.KindFun, Actual: v.Kind}
	}
	return v.Fun, nil
}

func (vm *VM) popTable(op bytecode.Op) (*bytecode.Table, bytecode.TableID, error) {
	v, err := vm.pop(op)
	if err != nil {
		return nil, 0, err
	}
	if v.Kind != bytecode.KindTable {
		return nil, 0, &TypeError{Op: op, Expected: bytecode.KindTable, Actual: v.Kind}
	}
	t, ok := vm.tables[v.Table]
	if !ok {
		return nil, 0, &LookupError{Kind: "table", ID: int(v.Table)}
	}
	return t, v.Table, nil
}

func (vm *VM) varTable(op bytecode.Op, slot int) (*bytecode.Table, error) {
	v, ok := vm.vars[slot]
	if !ok {
		return nil, &LookupError{Kind: "variable", ID: slot}
	}
	if v.Kind != bytecode.KindTable {
		return nil, &TypeError{Op: op, Expected: bytecode.KindTable, Actual: v.Kind}
	}
	t, ok := vm.tables[v.Table]
	if !ok {
		return nil, &LookupError{Kind: "table", ID: int(v.Table)}
	}
	return t, nil
}

func (vm *VM) newTable(t *bytecode.Table) bytecode.Value {
	id := vm.nextTable
	vm.nextTable++
	vm.tables[id] = t
	return bytecode.T(id)
}

// exeInstr executes a single instruction at program position pc. It
// returns (targetPC, true, nil) when the instruction redirects control
// flow (LJmpNZ/LJmpZ taken), or (_, false, err) otherwise. The caller
// advances pc by one when taken is false and err is nil.
func (vm *VM) exeInstr(ins bytecode.Instruction, pc int) (int, bool, error) {
	if vm.trace != nil {
		vm.trace("pc=%d %s", pc, ins.Op)
	}

	switch ins.Op {
	case bytecode.OpPush:
		vm.push(ins.Val)

	case bytecode.OpPop:
		if len(vm.stack) > 0 {
			vm.stack = vm.stack[:len(vm.stack)-1]
		}

	case bytecode.OpDup:
		v, err := vm.pop(ins.Op)
		if err != nil {
			return 0, false, err
		}
		vm.push(v)
		vm.push(v)

	case bytecode.OpSwap2:
		a, err := vm.pop(ins.Op)
		if err != nil {
			return 0, false, err
		}
		b, err := vm.pop(ins.Op)
		if err != nil {
			return 0, false, err
		}
		vm.push(a)
		vm.push(b)

	case bytecode.OpLocal:
		v, err := vm.pop(ins.Op)
		if err != nil {
			return 0, false, err
		}
		vm.vars[ins.Arg] = v

	case bytecode.OpLoad:
		v, ok := vm.vars[ins.Arg]
		if !ok {
			return 0, false, &LookupError{Kind: "variable", ID: ins.Arg}
		}
		vm.push(v)

	case bytecode.OpAddF, bytecode.OpSubF, bytecode.OpMulF, bytecode.OpDivF:
		y, err := vm.popFloat(ins.Op)
		if err != nil {
			return 0, false, err
		}
		x, err := vm.popFloat(ins.Op)
		if err != nil {
			return 0, false, err
		}
		var r float64
		switch ins.Op {
		case bytecode.OpAddF:
			r = x + y
		case bytecode.OpSubF:
			r = x - y
		case bytecode.OpMulF:
			r = x * y
		case bytecode.OpDivF:
			r = x / y
		}
		vm.push(bytecode.F(r))

	case bytecode.OpNegF:
		x, err := vm.popFloat(ins.Op)
		if err != nil {
			return 0, false, err
		}
		vm.push(bytecode.F(-x))

	case bytecode.OpCmpF:
		y, err := vm.popFloat(ins.Op)
		if err != nil {
			return 0, false, err
		}
		x, err := vm.popFloat(ins.Op)
		if err != nil {
			return 0, false, err
		}
		switch {
		case x < y:
			vm.push(bytecode.F(-1))
		case x > y:
			vm.push(bytecode.F(1))
		default:
			vm.push(bytecode.F(0))
		}

	case bytecode.OpTable:
		n := ins.Arg
		if len(vm.stack) < 2*n {
			return 0, false, &UnderflowError{Op: ins.Op}
		}
		raw := vm.stack[len(vm.stack)-2*n:]
		pairs := make([]bytecode.KV, n)
		for i := 0; i < n; i++ {
			pairs[i] = bytecode.KV{Key: raw[2*i], Val: raw[2*i+1]}
		}
		vm.stack = vm.stack[:len(vm.stack)-2*n]
		vm.push(vm.newTable(&bytecode.Table{Pairs: pairs}))

	case bytecode.OpVec:
		n := ins.Arg
		if len(vm.stack) < n {
			return 0, false, &UnderflowError{Op: ins.Op}
		}
		raw := vm.stack[len(vm.stack)-n:]
		arr := make([]bytecode.Value, n)
		copy(arr, raw)
		vm.stack = vm.stack[:len(vm.stack)-n]
		vm.push(vm.newTable(&bytecode.Table{Array: arr}))

	case bytecode.OpVecFull:
		arr := make([]bytecode.Value, len(vm.stack))
		copy(arr, vm.stack)
		vm.stack = vm.stack[:0]
		vm.push(vm.newTable(&bytecode.Table{Array: arr}))

	case bytecode.OpVecPush:
		x, err := vm.pop(ins.Op)
		if err != nil {
			return 0, false, err
		}
		t, err := vm.varTable(ins.Op, ins.Arg)
		if err != nil {
			return 0, false, err
		}
		t.Array = append(t.Array, x)

	case bytecode.OpVecLast:
		t, err := vm.varTable(ins.Op, ins.Arg)
		if err != nil {
			return 0, false, err
		}
		if len(t.Array) == 0 {
			return 0, false, errf("vector in variable %d is empty", ins.Arg)
		}
		vm.push(t.Array[len(t.Array)-1])

	case bytecode.OpVecPop:
		t, err := vm.varTable(ins.Op, ins.Arg)
		if err != nil {
			return 0, false, err
		}
		if len(t.Array) == 0 {
			return 0, false, errf("vector in variable %d is empty", ins.Arg)
		}
		t.Array = t.Array[:len(t.Array)-1]

	case bytecode.OpPopVec:
		t, id, err := vm.popTable(ins.Op)
		if err != nil {
			return 0, false, err
		}
		for _, v := range t.Array {
			vm.push(v)
		}
		delete(vm.tables, id)

	case bytecode.OpApply0:
		b, err := vm.popFun(ins.Op)
		if err != nil {
			return 0, false, err
		}
		v, err := vm.ExeBlock(b)
		if err != nil {
			return 0, false, err
		}
		vm.push(v)

	case bytecode.OpApply1:
		y, err := vm.pop(ins.Op)
		if err != nil {
			return 0, false, err
		}
		b, err := vm.popFun(ins.Op)
		if err != nil {
			return 0, false, err
		}
		vm.push(y)
		v, err := vm.ExeBlock(b)
		if err != nil {
			return 0, false, err
		}
		vm.push(v)

	case bytecode.OpApplyN:
		b, err := vm.popFun(ins.Op)
		if err != nil {
			return 0, false, err
		}
		v, err := vm.ExeBlock(b)
		if err != nil {
			return 0, false, err
		}
		vm.push(v)

	case bytecode.OpJmp:
		v, err := vm.ExeBlock(bytecode.BlockID(ins.Arg))
		if err != nil {
			return 0, false, err
		}
		vm.push(v)

	case bytecode.OpJmpZ:
		x, err := vm.popFloat(ins.Op)
		if err != nil {
			return 0, false, err
		}
		if x == 0 {
			v, err := vm.ExeBlock(bytecode.BlockID(ins.Arg))
			if err != nil {
				return 0, false, err
			}
			vm.push(v)
		}

	case bytecode.OpLJmpNZ:
		x, err := vm.popFloat(ins.Op)
		if err != nil {
			return 0, false, err
		}
		if x != 0 {
			target, err := vm.findLabel(ins.Arg)
			if err != nil {
				return 0, false, err
			}
			return target + 1, true, nil
		}

	case bytecode.OpLJmpZ:
		x, err := vm.popFloat(ins.Op)
		if err != nil {
			return 0, false, err
		}
		if x == 0 {
			target, err := vm.findLabel(ins.Arg)
			if err != nil {
				return 0, false, err
			}
			return target + 1, true, nil
		}

	case bytecode.OpLabel, bytecode.OpNop, bytecode.OpBreak:
		// structural, no effect at execution

	default:
		return 0, false, errf("unknown instruction %s", ins.Op)
	}

	return 0, false, nil
}
