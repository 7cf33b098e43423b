package asm

import (
	"errors"
	"math/big"
	"testing"
)

func parseSource(t *testing.T, src string) *Program {
	t.Helper()
	prog, err := ParseFiles([]SourceFile{{Path: "test.fj", Text: src}}, 64)
	if err != nil {
		t.Fatalf("ParseFiles failed: %v", err)
	}
	return prog
}

func TestParseOps(t *testing.T) {
	prog := parseSource(t, "a;b\n;b\na;\n;\n")
	if len(prog.Main) != 4 {
		t.Fatalf("got %d statements; want 4", len(prog.Main))
	}

	op := prog.Main[0].(*FlipJumpOp)
	if op.Flip.LabelName() != "a" || op.Jump.LabelName() != "b" {
		t.Errorf("op 0 = %s;%s; want a;b", op.Flip, op.Jump)
	}

	op = prog.Main[1].(*FlipJumpOp)
	if !op.Flip.IsConst() || op.Flip.Const().Sign() != 0 {
		t.Errorf("omitted flip = %s; want 0", op.Flip)
	}

	op = prog.Main[2].(*FlipJumpOp)
	if op.Jump.LabelName() != "$" {
		t.Errorf("omitted jump = %s; want $", op.Jump)
	}

	op = prog.Main[3].(*FlipJumpOp)
	if !op.Flip.IsConst() || op.Jump.LabelName() != "$" {
		t.Errorf("bare ';' = %s;%s; want 0;$", op.Flip, op.Jump)
	}
}

func TestParseLabelsAndCalls(t *testing.T) {
	prog := parseSource(t, "start: x 1, 2\nnoargs\n")
	if len(prog.Main) != 3 {
		t.Fatalf("got %d statements; want 3", len(prog.Main))
	}
	if l := prog.Main[0].(*LabelDecl); l.Name != "start" {
		t.Errorf("label = %q; want start", l.Name)
	}
	call := prog.Main[1].(*MacroCall)
	if call.Name != (MacroName{Name: "x", Params: 2}) {
		t.Errorf("call name = %v; want x(2)", call.Name)
	}
	call = prog.Main[2].(*MacroCall)
	if call.Name != (MacroName{Name: "noargs", Params: 0}) {
		t.Errorf("call name = %v; want noargs", call.Name)
	}
}

func TestParseMacroDef(t *testing.T) {
	prog := parseSource(t, `
def foo a, b < gin > gout {
    local:
    a;b
    gout:
}
`)
	m := prog.Registry.Lookup(MacroName{Name: "foo", Params: 2}, "")
	if m == nil {
		t.Fatal("macro foo(2) not defined")
	}
	if len(m.Params) != 2 || m.Params[0] != "a" || m.Params[1] != "b" {
		t.Errorf("params = %v; want [a b]", m.Params)
	}
	if len(m.LabelsIn) != 1 || m.LabelsIn[0] != "gin" {
		t.Errorf("labels-in = %v; want [gin]", m.LabelsIn)
	}
	if len(m.LabelsOut) != 1 || m.LabelsOut[0] != "gout" {
		t.Errorf("labels-out = %v; want [gout]", m.LabelsOut)
	}
	if len(m.Locals) != 1 || m.Locals[0] != "local" {
		t.Errorf("locals = %v; want [local]", m.Locals)
	}
}

func TestParseDuplicateMacro(t *testing.T) {
	src := "def foo {\n;\n}\ndef foo {\n;\n}\n"
	_, err := ParseFiles([]SourceFile{{Path: "test.fj", Text: src}}, 64)
	var syntaxErr *SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Fatalf("error = %v; want SyntaxError for duplicate macro", err)
	}
}

func TestParseConstants(t *testing.T) {
	prog := parseSource(t, "n = 5\nm = n * 2 + w\nm;\n")
	op := prog.Main[0].(*FlipJumpOp)
	if !op.Flip.IsConst() || op.Flip.Const().Cmp(big.NewInt(74)) != 0 {
		t.Errorf("m = %s; want 74 (5*2 + w=64)", op.Flip)
	}
}

func TestParseConstRedeclare(t *testing.T) {
	_, err := ParseFiles([]SourceFile{{Path: "test.fj", Text: "n = 1\nn = 2\n"}}, 64)
	var syntaxErr *SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Fatalf("error = %v; want SyntaxError for const redeclaration", err)
	}
}

func TestParseNamespace(t *testing.T) {
	prog := parseSource(t, `
ns outer {
def inner {
    ;
}
top:
inner
}
`)
	if m := prog.Registry.Lookup(MacroName{Name: "outer.inner", Params: 0}, ""); m == nil {
		t.Error("outer.inner not defined")
	}
	var label *LabelDecl
	var call *MacroCall
	for _, st := range prog.Main {
		switch s := st.(type) {
		case *LabelDecl:
			label = s
		case *MacroCall:
			call = s
		}
	}
	if label == nil || label.Name != "outer.top" {
		t.Errorf("label = %v; want outer.top", label)
	}
	if call == nil || call.Namespace != "outer" {
		t.Errorf("call namespace = %v; want outer", call)
	}
}

func TestParseDottedIDs(t *testing.T) {
	prog := parseSource(t, `
ns a {
ns b {
.up;..topmost
}
}
`)
	var op *FlipJumpOp
	for _, st := range prog.Main {
		if o, ok := st.(*FlipJumpOp); ok {
			op = o
		}
	}
	if op == nil {
		t.Fatal("no op parsed")
	}
	if op.Flip.LabelName() != "a.b.up" {
		t.Errorf("flip = %s; want a.b.up", op.Flip)
	}
	if op.Jump.LabelName() != "a.topmost" {
		t.Errorf("jump = %s; want a.topmost", op.Jump)
	}
}

func TestParseRep(t *testing.T) {
	prog := parseSource(t, "rep(4, i) i;0\nrep(2, j) foo j\n")
	r := prog.Main[0].(*RepCall)
	if r.Iterator != "i" {
		t.Errorf("iterator = %q; want i", r.Iterator)
	}
	if _, ok := r.Body.(*FlipJumpOp); !ok {
		t.Errorf("rep body = %T; want *FlipJumpOp", r.Body)
	}
	r = prog.Main[1].(*RepCall)
	if _, ok := r.Body.(*MacroCall); !ok {
		t.Errorf("rep body = %T; want *MacroCall", r.Body)
	}
}

func TestParseStringItem(t *testing.T) {
	prog := parseSource(t, "\"hi\"\n")
	s := prog.Main[0].(*StringData)
	if string(s.Bytes) != "hi" {
		t.Errorf("string data = %q; want hi", s.Bytes)
	}
}

func TestParseStringExpr(t *testing.T) {
	prog := parseSource(t, "\"hi\" + 0;\n")
	op := prog.Main[0].(*FlipJumpOp)
	// "hi" packs little-endian: 'h' | 'i'<<8.
	want := big.NewInt(int64('h') | int64('i')<<8)
	if !op.Flip.IsConst() || op.Flip.Const().Cmp(want) != 0 {
		t.Errorf("flip = %s; want %s", op.Flip, want)
	}
}

func TestParsePrecedence(t *testing.T) {
	// + binds tighter than <<, which binds tighter than &.
	prog := parseSource(t, "1 + 2 << 3 & 15;\n")
	op := prog.Main[0].(*FlipJumpOp)
	if !op.Flip.IsConst() || op.Flip.Const().Cmp(big.NewInt(8)) != 0 {
		t.Errorf("flip = %s; want 8 ((1+2)<<3 & 15)", op.Flip)
	}
}

func TestParseTernaryAndUnary(t *testing.T) {
	prog := parseSource(t, "1 ? -2 : 3;\n~0 & 7;\n#100;\n")
	tests := []int64{-2, 7, 7}
	for i, want := range tests {
		op := prog.Main[i].(*FlipJumpOp)
		if !op.Flip.IsConst() || op.Flip.Const().Cmp(big.NewInt(want)) != 0 {
			t.Errorf("op %d flip = %s; want %d", i, op.Flip, want)
		}
	}
}

func TestParseChainedComparisonRejected(t *testing.T) {
	_, err := ParseFiles([]SourceFile{{Path: "test.fj", Text: "1 < 2 < 3;\n"}}, 64)
	var syntaxErr *SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Fatalf("error = %v; want SyntaxError for chained comparison", err)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"def {\n}\n",          // missing name
		"def foo {\n",         // unterminated body
		"1 + ;\n",             // bad expression
		"}\n",                 // unmatched brace
		"def foo a, a {\n}\n", // duplicate parameter
		"rep(2, i) x:\n",      // rep of a label
	}
	for _, src := range tests {
		_, err := ParseFiles([]SourceFile{{Path: "test.fj", Text: src}}, 64)
		if err == nil {
			t.Errorf("ParseFiles(%q) succeeded; want error", src)
		}
	}
}

func TestParseIncludeMissing(t *testing.T) {
	_, err := ParseFiles([]SourceFile{{Path: "test.fj", Text: "include \"no/such/file.fj\"\n"}}, 64)
	var includeErr *IncludeError
	if !errors.As(err, &includeErr) {
		t.Fatalf("error = %v; want IncludeError", err)
	}
}

func TestParseUnusedParamWarning(t *testing.T) {
	prog := parseSource(t, "def foo unused {\n;\n}\n")
	if len(prog.Warnings) == 0 {
		t.Error("expected an unused-parameter warning")
	}
}
