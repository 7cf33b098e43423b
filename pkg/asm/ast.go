package asm

import "fmt"

// CodePosition is a location in the .fj sources.
type CodePosition struct {
	File      string // full path as given to the parser
	FileShort string // shortened id, s1,s2,.. for prelude files, f1,f2,.. for the rest
	Line      int    // 1-based
	Col       int    // 1-based
}

func (p CodePosition) String() string {
	return fmt.Sprintf("file %s (line %d)", p.File, p.Line)
}

func (p CodePosition) ShortString() string {
	return fmt.Sprintf("%s:l%d", p.FileShort, p.Line)
}

// MacroName keys the macro registry. Params counts value parameters only;
// two macros with the same base name but different arities coexist.
type MacroName struct {
	Name   string
	Params int
}

func (m MacroName) String() string {
	if m.Params == 0 {
		return m.Name
	}
	return fmt.Sprintf("%s(%d)", m.Name, m.Params)
}

// Statement is one item of a parsed body: an op, a label declaration, a
// macro or rep call, a data string, or a placement directive.
type Statement interface {
	Position() CodePosition
}

// FlipJumpOp is the primitive `flip;jump` operation. Either expression may
// reference `$`, the address right past the op.
type FlipJumpOp struct {
	Flip *Expr
	Jump *Expr
	Pos  CodePosition
}

func (o *FlipJumpOp) Position() CodePosition { return o.Pos }

// LabelDecl binds a name to the current address.
type LabelDecl struct {
	Name string
	Pos  CodePosition
}

func (o *LabelDecl) Position() CodePosition { return o.Pos }

// MacroCall invokes a macro with value arguments. Namespace records the
// lexical scope of the call site for the registry's scope-chain lookup.
type MacroCall struct {
	Name      MacroName
	Args      []*Expr
	Namespace string
	Pos       CodePosition
}

func (o *MacroCall) Position() CodePosition { return o.Pos }

func (o *MacroCall) traceString() string {
	return fmt.Sprintf("macro %s (%s)", o.Name, o.Pos)
}

// RepCall duplicates its body statement Times times with Iterator bound to
// each index in [0, Times).
type RepCall struct {
	Times    *Expr
	Iterator string
	Body     Statement // a FlipJumpOp or a MacroCall
	Pos      CodePosition
}

func (o *RepCall) Position() CodePosition { return o.Pos }

func (o *RepCall) traceString(index int, times uint64) string {
	body := "op"
	if mc, ok := o.Body.(*MacroCall); ok {
		body = fmt.Sprintf("macro %s", mc.Name)
	}
	return fmt.Sprintf("rep(%s=%d, out of 0..%d) %s  (%s)", o.Iterator, index, times-1, body, o.Pos)
}

// SegmentStmt starts a new output segment at the given bit address.
type SegmentStmt struct {
	Start *Expr
	Pos   CodePosition
}

func (o *SegmentStmt) Position() CodePosition { return o.Pos }

// ReserveStmt advances the address by the given number of zero bits
// without emitting data.
type ReserveStmt struct {
	Bits *Expr
	Pos  CodePosition
}

func (o *ReserveStmt) Position() CodePosition { return o.Pos }

// PadStmt emits zero-ops until the op index is a multiple of the alignment.
type PadStmt struct {
	Align *Expr
	Pos   CodePosition
}

func (o *PadStmt) Position() CodePosition { return o.Pos }

// StringData lowers a standalone string literal: one op per byte whose flip
// word holds the byte value, building a byte vector in memory.
type StringData struct {
	Bytes []byte
	Pos   CodePosition
}

func (o *StringData) Position() CodePosition { return o.Pos }

// Macro is a parsed macro definition.
type Macro struct {
	Name      MacroName
	Params    []string // value parameters, bound to call arguments
	LabelsIn  []string // labels consumed from the enclosing scope (`<`)
	LabelsOut []string // labels declared here and exposed globally (`>`)
	Locals    []string // labels declared in the body that get hygienic names
	Body      []Statement
	Namespace string
	Pos       CodePosition
}

// declaredLabels collects the names bound by LabelDecl statements in a body.
func declaredLabels(body []Statement) []string {
	var names []string
	seen := map[string]bool{}
	for _, st := range body {
		if l, ok := st.(*LabelDecl); ok && !seen[l.Name] {
			seen[l.Name] = true
			names = append(names, l.Name)
		}
	}
	return names
}

// qualify joins a namespace and a base name.
func qualify(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}
