// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"io"
	"os"
	"slices"

	"github.com/gomlx/jitrt/pkg/host"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultAlignment in bytes of the buffers allocated by compiled code.
const DefaultAlignment = 16

// MaxOptLevel is the highest optimization level.
const MaxOptLevel = 3

var (
	// DefaultDialects that compiled modules may use.
	DefaultDialects = []string{"memref", "linalg", "arith", "async"}

	// DefaultPipeline of passes run by the compiler.
	DefaultPipeline = []string{"verify", "canonicalize"}
)

// WorkQueue runs asynchronous work on behalf of compiled code. host.HostContext implements it.
type WorkQueue interface {
	// EnqueueWork schedules work to run on a worker thread. It must not block.
	EnqueueWork(work func())
}

var _ WorkQueue = (*host.HostContext)(nil)

// Options for the compilation of a module.
//
// The zero value is usable: WithDefaults fills in the alignment, dialects and pipeline, but the zero
// OptLevel means no optimization. DefaultOptions uses OptLevel 2.
type Options struct {
	// Alignment in bytes of the buffers allocated by compiled code. It must be a power of 2.
	// If 0, DefaultAlignment is used.
	Alignment int `yaml:"alignment"`

	// NumWorkerThreads visible to the compiled code to run its asynchronous work.
	// If 0, the compiler picks runtime.NumCPU().
	NumWorkerThreads int `yaml:"num_worker_threads"`

	// WorkQueue where compiled code enqueues its asynchronous work. If nil, compiled code runs its
	// asynchronous work inline, in the calling goroutine.
	WorkQueue WorkQueue `yaml:"-"`

	// OptLevel from 0 to MaxOptLevel. The compiler decides what each level means.
	// It is not defaulted by WithDefaults: 0 disables optimizations.
	OptLevel int `yaml:"opt_level"`

	// Dialects the module is legalized to: operations of other dialects are rejected.
	// If nil, DefaultDialects is used.
	Dialects []string `yaml:"dialects"`

	// Pipeline of passes to run, in order. If nil, DefaultPipeline is used.
	Pipeline []string `yaml:"pipeline"`

	// Compiler is the name of the registered Compiler to use. If empty, the default one is used.
	Compiler string `yaml:"compiler"`
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		Alignment: DefaultAlignment,
		OptLevel:  2,
		Dialects:  slices.Clone(DefaultDialects),
		Pipeline:  slices.Clone(DefaultPipeline),
	}
}

// WithDefaults returns a copy of the options with the unset fields set to their defaults.
// OptLevel and WorkQueue are kept as given.
func (o Options) WithDefaults() Options {
	if o.Alignment == 0 {
		o.Alignment = DefaultAlignment
	}
	if o.Dialects == nil {
		o.Dialects = slices.Clone(DefaultDialects)
	}
	if o.Pipeline == nil {
		o.Pipeline = slices.Clone(DefaultPipeline)
	}
	return o
}

// Validate returns an ErrCompilation error if the options are invalid.
func (o Options) Validate() error {
	if o.Alignment < 0 || o.Alignment&(o.Alignment-1) != 0 {
		return errors.Wrapf(ErrCompilation, "alignment %d is not a power of 2", o.Alignment)
	}
	if o.NumWorkerThreads < 0 {
		return errors.Wrapf(ErrCompilation, "invalid number of worker threads %d", o.NumWorkerThreads)
	}
	if o.OptLevel < 0 || o.OptLevel > MaxOptLevel {
		return errors.Wrapf(ErrCompilation, "optimization level %d out of range [0, %d]", o.OptLevel, MaxOptLevel)
	}
	return nil
}

// ParseOptions reads options in YAML format. Fields not given keep their defaults, and unknown fields are an error.
func ParseOptions(r io.Reader) (Options, error) {
	opts := DefaultOptions()
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		return Options{}, errors.Wrap(err, "failed to parse compilation options")
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// LoadOptions reads options from a YAML file. See ParseOptions.
func LoadOptions(path string) (Options, error) {
	f, err := os.Open(path)
	if err != nil {
		return Options{}, errors.Wrapf(err, "failed to open compilation options %q", path)
	}
	defer func() { _ = f.Close() }()
	opts, err := ParseOptions(f)
	if err != nil {
		return Options{}, errors.WithMessagef(err, "in %q", path)
	}
	return opts, nil
}
