package compiler

import "fmt"

// CompileError reports an unsupported AST shape, an undefined variable
// reference, or an empty/oversized function body. Compile errors prevent
// any execution: Machine.Compile never returns a partial result
// alongside an error.
type CompileError struct {
	Message string
}

func (e *CompileError) Error() string { return "compile error: " + e.Message }

func errf(format string, args ...interface{}) *CompileError {
	return &CompileError{Message: fmt.Sprintf(format, args...)}
}
