// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// jitrun compiles a module and runs one of its functions on generated operands, printing the results.
//
// Usage:
//
//	jitrun [flags] <module.mlir>
//
// Operands are allocated with the shapes declared by the function, dynamic dimensions are set
// to -dynamic_dim, and floating point operands are filled with -fill.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/jitrt/pkg/async"
	_ "github.com/gomlx/jitrt/pkg/compiler"
	"github.com/gomlx/jitrt/pkg/core/tensors"
	"github.com/gomlx/jitrt/pkg/core/types"
	"github.com/gomlx/jitrt/pkg/host"
	"github.com/gomlx/jitrt/pkg/ir"
	"github.com/gomlx/jitrt/pkg/jit"
	"github.com/gomlx/jitrt/pkg/kernels"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagEntry   = flag.String("entry", "", "Function to run. It can be omitted if the module has only one function.")
	flagOptions = flag.String("options", "", "YAML file with the compilation options. "+
		"See jit.Options for the fields.")
	flagCompiler   = flag.String("compiler", "", "Name of the registered compiler to use, it overrides the one in --options.")
	flagDynamicDim = flag.Int64("dynamic_dim", 4, "Size used for dynamic (?) dimensions of the operands.")
	flagFill       = flag.Float64("fill", 1, "Value of the elements of floating point operands.")
	flagThreads    = flag.Int("threads", 0, "Number of worker threads of the host. If 0, the number of CPUs.")
	flagRepeat     = flag.Int("repeat", 1, "Number of times to execute the function, reporting the mean time.")
	flagNoColor    = flag.Bool("nocolor", false, "Disable colors in the output.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagNoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	args := flag.Args()
	if len(args) != 1 {
		klog.Errorf("Expected exactly one module file to run. See 'jitrun -help'.")
		os.Exit(1)
	}
	if err := run(args[0]); err != nil {
		klog.Errorf("Failed: %+v", err)
		os.Exit(1)
	}
}

// loadOptions returns the compilation options read from path, or the default ones if path is empty.
// A non-empty compiler overrides the one configured.
func loadOptions(path, compiler string) (jit.Options, error) {
	opts := jit.DefaultOptions()
	if path != "" {
		var err error
		opts, err = jit.LoadOptions(path)
		if err != nil {
			return opts, errors.WithMessage(err, "-options")
		}
	}
	if compiler != "" {
		opts.Compiler = compiler
	}
	return opts, nil
}

func run(modulePath string) error {
	source, err := os.ReadFile(modulePath)
	if err != nil {
		return errors.Wrapf(err, "failed to read module %q", modulePath)
	}
	module, err := ir.Parse(source)
	if err != nil {
		return errors.WithMessagef(err, "module %q", modulePath)
	}
	fn, err := selectFunc(module, *flagEntry)
	if err != nil {
		return err
	}

	opts, err := loadOptions(*flagOptions, *flagCompiler)
	if err != nil {
		return err
	}
	hostCtx := host.NewHostContext(*flagThreads)
	request := host.NewRequestContext(hostCtx)
	rt := kernels.NewRuntime(nil, opts)
	defer rt.Cache().Clear()
	unit := kernels.CompilationUnit{Module: source, NestedSymbols: []string{fn.Name}}

	operands, err := newOperands(fn.Signature(), opts.WithDefaults().Alignment)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("@%s %s", fn.Name, fn.Signature())))
	table := newPlainTable(true)
	table.Headers("Operand", "Type", "Bytes")
	for ii, operand := range operands {
		table.Row(fmt.Sprintf("#%d", ii), fn.Args[ii].Type.String(), bytesOf(operand))
	}
	fmt.Println(table.Render())

	var bar *progressbar.ProgressBar
	if *flagRepeat > 1 {
		bar = progressbar.NewOptions(*flagRepeat,
			progressbar.OptionSetDescription("executing"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("calls"),
			progressbar.OptionClearOnFinish(),
		)
	}
	var (
		results []*async.Value
		elapsed time.Duration
	)
	for range max(*flagRepeat, 1) {
		start := time.Now()
		// Same call site on every iteration: compiled once, then cached.
		execCtx := host.Here(request)
		exec, err := rt.Compile(unit, execCtx)
		if err != nil {
			return err
		}
		results, _ = rt.Execute(exec, operands, execCtx)
		for _, result := range results {
			<-result.Done()
		}
		elapsed += time.Since(start)
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	hostCtx.Quiesce()
	printResults(fn, results)
	fmt.Printf("%d execution(s), mean time %s\n", max(*flagRepeat, 1), elapsed/time.Duration(max(*flagRepeat, 1)))
	return nil
}

// selectFunc returns the function named entry, or the only function of the module if entry is empty.
func selectFunc(module *ir.Module, entry string) (*ir.Func, error) {
	if entry == "" {
		if len(module.Funcs) != 1 {
			return nil, errors.Errorf("module has %d functions, use -entry to select one", len(module.Funcs))
		}
		return module.Funcs[0], nil
	}
	fn := module.Func(entry)
	if fn == nil {
		return nil, errors.Errorf("function @%s not found in module", entry)
	}
	return fn, nil
}

// newOperands allocates one tensor per input of signature.
func newOperands(signature types.FunctionType, alignment int) ([]*tensors.Dense, error) {
	operands := make([]*tensors.Dense, 0, signature.NumInputs())
	for ii, t := range signature.Inputs {
		m, ok := t.(types.MemRef)
		if !ok {
			return nil, errors.Errorf("operand #%d has type %s, only memref operands can be generated", ii, t)
		}
		dims := make([]int64, m.Rank())
		for axis, dim := range m.Dims {
			if dim == types.Dynamic {
				dim = *flagDynamicDim
			}
			dims[axis] = dim
		}
		operand, err := tensors.New(m.DType, alignment, dims...)
		if err != nil {
			return nil, errors.WithMessagef(err, "operand #%d", ii)
		}
		if m.DType.IsFloat() {
			must.M(operand.Fill(*flagFill))
		}
		operands = append(operands, operand)
	}
	return operands, nil
}
