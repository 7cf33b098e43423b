package asm

import (
	"fmt"
	"strings"
)

// SyntaxError reports a lexical or grammatical violation with its location.
type SyntaxError struct {
	Pos CodePosition
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error in %s: %s", e.Pos, e.Msg)
}

// IncludeError reports a missing or cyclic include.
type IncludeError struct {
	Pos  CodePosition
	Path string
	Msg  string
}

func (e *IncludeError) Error() string {
	return fmt.Sprintf("include error in %s: %q: %s", e.Pos, e.Path, e.Msg)
}

// MacroRecursionError is raised when expansion exceeds the depth limit.
// Frames holds the full macro call trace, outermost first.
type MacroRecursionError struct {
	Depth  int
	Frames []string
}

func (e *MacroRecursionError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "macro recursion exceeded depth %d. Macro call trace:\n", e.Depth)
	for i, f := range e.Frames {
		fmt.Fprintf(&sb, "  %d) %s\n", i, f)
	}
	return sb.String()
}

// UndefinedMacroError reports a call to a macro with no definition at all.
type UndefinedMacroError struct {
	Name   MacroName
	Pos    CodePosition
	Frames []string
}

func (e *UndefinedMacroError) Error() string {
	return withTrace(fmt.Sprintf("macro %s is used but isn't defined. In %s", e.Name, e.Pos), e.Frames)
}

// MacroArityError reports a call whose argument count matches no definition
// of that macro base name.
type MacroArityError struct {
	Name    MacroName
	Defined []int // arities that do exist for this base name
	Pos     CodePosition
	Frames  []string
}

func (e *MacroArityError) Error() string {
	arities := make([]string, len(e.Defined))
	for i, n := range e.Defined {
		arities[i] = fmt.Sprintf("%d", n)
	}
	return withTrace(fmt.Sprintf("macro %s called with %d arguments, but it is defined with %s. In %s",
		e.Name.Name, e.Name.Params, strings.Join(arities, "/"), e.Pos), e.Frames)
}

// UnresolvedRepCountError reports a rep count that is not a compile-time
// constant at its point of expansion.
type UnresolvedRepCountError struct {
	Pos    CodePosition
	Detail string
	Frames []string
}

func (e *UnresolvedRepCountError) Error() string {
	return withTrace(fmt.Sprintf("can't resolve rep count in %s: %s", e.Pos, e.Detail), e.Frames)
}

// PreprocessError covers the remaining fatal preprocessor diagnostics
// (misaligned segment/reserve values, bad label aliasing, duplicates).
type PreprocessError struct {
	Pos    CodePosition
	Msg    string
	Frames []string
}

func (e *PreprocessError) Error() string {
	return withTrace(fmt.Sprintf("preprocess error in %s: %s", e.Pos, e.Msg), e.Frames)
}

// UnresolvedLabelError reports a label that never received an address.
type UnresolvedLabelError struct {
	Labels []string
	Pos    CodePosition
	Frames []string
}

func (e *UnresolvedLabelError) Error() string {
	return withTrace(fmt.Sprintf("unresolved label(s) %s in %s",
		strings.Join(e.Labels, ", "), e.Pos), e.Frames)
}

// AddressOutOfRangeError reports an emitted address beyond the 2^w bit space.
type AddressOutOfRangeError struct {
	Address string // hex text; the value may not fit a machine word
	W       int
	Pos     CodePosition
	Frames  []string
}

func (e *AddressOutOfRangeError) Error() string {
	return withTrace(fmt.Sprintf("address %s exceeds the %d-bit memory in %s",
		e.Address, e.W, e.Pos), e.Frames)
}

// ArithmeticError reports a failed expression evaluation (division by zero,
// negative shift count and the like).
type ArithmeticError struct {
	Op     string
	Msg    string
	Pos    CodePosition
	Frames []string
}

func (e *ArithmeticError) Error() string {
	return withTrace(fmt.Sprintf("arithmetic error in %s: bad operation (%s): %s",
		e.Pos, e.Op, e.Msg), e.Frames)
}

func withTrace(msg string, frames []string) string {
	if len(frames) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	sb.WriteString("\nMacro call trace:\n")
	for i, f := range frames {
		fmt.Fprintf(&sb, "  %d) %s\n", i, f)
	}
	return sb.String()
}
