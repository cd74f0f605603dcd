// Package suoerr declares the error kinds from spec §7 as sentinel
// values usable with errors.Is/errors.As, following the plain
// errors.New/fmt.Errorf("%w", ...) style used throughout the retrieval
// pack (no third-party errors package appears anywhere in it).
package suoerr

import "errors"

// The five observable error kinds of spec §7.
var (
	// ErrAllocation: a semi-space cannot satisfy a request even after a
	// collection. Policy: fatal abort at the cmd/suo boundary.
	ErrAllocation = errors.New("suo: allocation failure")

	// ErrReaderSyntax: EOF mid-construct, unbalanced delimiter, or an
	// out-of-range integer literal. Policy: diagnostic, returned value is
	// unspecified.
	ErrReaderSyntax = errors.New("suo: reader syntax error")

	// ErrEvalType: an opcode applied to the wrong shape in the bootstrap
	// evaluator. Policy: fatal abort (uncovered path).
	ErrEvalType = errors.New("suo: evaluator type error")

	// ErrCompile: the top form is not a :lambda, or an immutable var was
	// assigned. Policy: fatal, user-visible.
	ErrCompile = errors.New("suo: compilation error")

	// ErrDispatch: app of a non-closure after closure conversion. Policy:
	// invoke the installed error-handler closure, or trap via syscall if
	// none is bound.
	ErrDispatch = errors.New("suo: runtime dispatch error")
)
