package vm

import (
	"golang.org/x/sync/errgroup"

	"github.com/kristofer/lispvm/pkg/bytecode"
)

// RunAll executes each program's entry block on its own fresh VM,
// concurrently, and returns their results in input order.
//
// Two VMs can safely share one compiled Program because the program is
// read-only: every entry here may be (but need not be) the same
// bytecode.Program compiled once and evaluated from several different
// entry blocks, or entirely independent programs, run side by side with
// no locking. The first error is returned once every goroutine has
// finished; partial results are discarded, since a VM that errors is
// poisoned and should not be inspected further. There is no
// cancellation support: the VM blocks on nothing external, so there is
// nothing to cancel.
func RunAll(programs []bytecode.Program, opts ...Option) ([]bytecode.Value, error) {
	results := make([]bytecode.Value, len(programs))
	var g errgroup.Group
	for i, prog := range programs {
		i, prog := i, prog
		g.Go(func() error {
			v, err := Run(prog, opts...)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
