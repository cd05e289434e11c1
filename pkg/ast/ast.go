// Package ast defines the input tree the compiler consumes.
//
// A Leaf is not produced by anything in this module. The surface
// tokenizer/parser that would build one from source text is an external
// collaborator; tests and embedders construct Leaf values directly.
package ast

import "github.com/kristofer/lispvm/pkg/bytecode"

// Leaf is a node of the input AST. Every concrete type below implements it.
type Leaf interface {
	leaf()
}

// X is a variable reference.
type X struct {
	Name string
}

// F is a float literal.
type F struct {
	Value float64
}

// C is a character literal.
type C struct {
	Value rune
}

// A is an array literal. Elements are compiled and pushed left-to-right.
type A struct {
	Items []Leaf
}

// M is a monadic application. Op is one of "-" (negation) or "!" (iota).
type M struct {
	Op string
	X  Leaf
}

// D is a dyadic application. Op is one of "+", "-", "*", "%" (division),
// "@" (monadic application of X to Y), or "." (N-adic application of X to Y).
type D struct {
	Op string
	X  Leaf
	Y  Leaf
}

// Param is a formal parameter of a Fun literal: a name plus a compile-time
// type hint used only for documentation of the Body's Names field.
type Param struct {
	Name string
	Kind bytecode.ValueKind
}

// Fun is a function literal. Body must contain exactly one expression,
// whose value becomes the function's result.
type Fun struct {
	Params []Param
	Body   []Leaf
}

func (X) leaf()   {}
func (F) leaf()   {}
func (C) leaf()   {}
func (A) leaf()   {}
func (M) leaf()   {}
func (D) leaf()   {}
func (Fun) leaf() {}
