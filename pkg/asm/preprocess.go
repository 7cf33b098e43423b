package asm

import (
	"fmt"
)

// DefaultMaxDepth bounds the macro expansion stack.
const DefaultMaxDepth = 900

// macroSeparator joins the segments of a generated label name.
const macroSeparator = "---"

// StreamItem is one element of the preprocessor's flat output stream.
type StreamItem interface{ streamItem() }

// StreamOp is a primitive flip;jump whose expressions are evaluated but may
// still reference labels. Frame indexes the macro-stack arena.
type StreamOp struct {
	Flip  *Expr
	Jump  *Expr
	Frame int
	Pos   CodePosition
}

// StreamSegment starts a new output segment at StartBit.
type StreamSegment struct {
	StartBit uint64
	Pos      CodePosition
}

// StreamReserve skips Bits zero bits without emitting data.
type StreamReserve struct {
	Bits uint64
	Pos  CodePosition
}

// StreamPadding emits Ops zero-ops.
type StreamPadding struct {
	Ops uint64
	Pos CodePosition
}

func (*StreamOp) streamItem()      {}
func (*StreamSegment) streamItem() {}
func (*StreamReserve) streamItem() {}
func (*StreamPadding) streamItem() {}

// Expansion is the preprocessor result: the flat item stream, the label
// table (bit addresses), and the shared macro-stack arena.
type Expansion struct {
	W           int
	Stream      []StreamItem
	Labels      map[string]uint64
	Stacks      *StackArena
	LastAddress uint64
}

type preprocessor struct {
	w        uint64
	prog     *Program
	curAddr  uint64
	stream   []StreamItem
	labels   map[string]uint64
	labelPos map[string]CodePosition
	arena    *StackArena
	curFrame int
	depth    int
	maxDepth int
}

// Preprocess expands the program's macro tree into a flat stream of
// primitive items, assigning every label its bit address on the way.
func Preprocess(prog *Program, w int, maxDepth int) (*Expansion, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	pp := &preprocessor{
		w:        uint64(w),
		prog:     prog,
		labels:   map[string]uint64{},
		labelPos: map[string]CodePosition{},
		arena:    NewStackArena(),
		curFrame: NoFrame,
		maxDepth: maxDepth,
	}
	pp.stream = append(pp.stream, &StreamSegment{StartBit: 0})
	if err := pp.expandBody(prog.Main, map[string]*Expr{}, ""); err != nil {
		return nil, err
	}
	return &Expansion{
		W:           w,
		Stream:      pp.stream,
		Labels:      pp.labels,
		Stacks:      pp.arena,
		LastAddress: pp.curAddr,
	}, nil
}

func (pp *preprocessor) trace() []string {
	return pp.arena.Chain(pp.curFrame)
}

func (pp *preprocessor) insertLabel(name string, pos CodePosition) error {
	if other, ok := pp.labelPos[name]; ok {
		return &PreprocessError{
			Pos:    pos,
			Msg:    fmt.Sprintf("label declared twice - %q on %s and %s", name, pos, other),
			Frames: pp.trace(),
		}
	}
	pp.labels[name] = pp.curAddr
	pp.labelPos[name] = pos
	return nil
}

// exactEval evaluates an expression with the macro environment, then
// against the labels known so far.
func (pp *preprocessor) exactEval(e *Expr, env map[string]*Expr, pos CodePosition) (uint64, error) {
	sub, err := e.Eval(env, pos)
	if err != nil {
		return 0, pp.annotate(err)
	}
	v, err := sub.ExactEval(pp.labels, pos)
	if err != nil {
		return 0, pp.annotate(err)
	}
	if v.Sign() < 0 || v.BitLen() > 64 {
		return 0, &PreprocessError{
			Pos:    pos,
			Msg:    fmt.Sprintf("value %s out of range", v),
			Frames: pp.trace(),
		}
	}
	return v.Uint64(), nil
}

// annotate attaches the current macro-stack to diagnostics that carry one.
func (pp *preprocessor) annotate(err error) error {
	switch e := err.(type) {
	case *UnresolvedLabelError:
		if e.Frames == nil {
			e.Frames = pp.trace()
		}
	case *ArithmeticError:
		if e.Frames == nil {
			e.Frames = pp.trace()
		}
	}
	return err
}

// emitOp evaluates an op's expressions under env (with `$` bound to the
// address just past the op) and appends it to the stream.
func (pp *preprocessor) emitOp(flip, jump *Expr, env map[string]*Expr, pos CodePosition) error {
	pp.curAddr += 2 * pp.w
	env["$"] = uintExpr(pp.curAddr)
	defer delete(env, "$")

	f, err := flip.Eval(env, pos)
	if err != nil {
		return pp.annotate(err)
	}
	j, err := jump.Eval(env, pos)
	if err != nil {
		return pp.annotate(err)
	}
	pp.stream = append(pp.stream, &StreamOp{Flip: f, Jump: j, Frame: pp.curFrame, Pos: pos})
	return nil
}

func (pp *preprocessor) expandBody(body []Statement, env map[string]*Expr, prefix string) error {
	for _, st := range body {
		switch op := st.(type) {

		case *LabelDecl:
			name := op.Name
			if bound, ok := env[name]; ok {
				if !bound.IsLabel() {
					return &PreprocessError{
						Pos:    op.Pos,
						Msg:    fmt.Sprintf("bad label swap (from %s to %s)", name, bound),
						Frames: pp.trace(),
					}
				}
				name = bound.LabelName()
			}
			if err := pp.insertLabel(name, op.Pos); err != nil {
				return err
			}

		case *FlipJumpOp:
			if err := pp.emitOp(op.Flip, op.Jump, env, op.Pos); err != nil {
				return err
			}

		case *StringData:
			for _, b := range op.Bytes {
				pp.curAddr += 2 * pp.w
				pp.stream = append(pp.stream, &StreamOp{
					Flip: Num(int64(b)), Jump: Num(0), Frame: pp.curFrame, Pos: op.Pos,
				})
			}

		case *MacroCall:
			if err := pp.expandMacroCall(op, env, prefix); err != nil {
				return err
			}

		case *RepCall:
			if err := pp.expandRep(op, env, prefix); err != nil {
				return err
			}

		case *SegmentStmt:
			start, err := pp.exactEval(op.Start, env, op.Pos)
			if err != nil {
				return pp.repackUnresolved(err, "segment")
			}
			if start%pp.w != 0 {
				return &PreprocessError{
					Pos:    op.Pos,
					Msg:    fmt.Sprintf("segment ops must have a w-aligned address: %#x", start),
					Frames: pp.trace(),
				}
			}
			pp.stream = append(pp.stream, &StreamSegment{StartBit: start, Pos: op.Pos})
			pp.curAddr = start

		case *ReserveStmt:
			bits, err := pp.exactEval(op.Bits, env, op.Pos)
			if err != nil {
				return pp.repackUnresolved(err, "reserve")
			}
			if bits%pp.w != 0 {
				return &PreprocessError{
					Pos:    op.Pos,
					Msg:    fmt.Sprintf("reserve ops must have a w-aligned value: %#x", bits),
					Frames: pp.trace(),
				}
			}
			pp.curAddr += bits
			pp.stream = append(pp.stream, &StreamReserve{Bits: bits, Pos: op.Pos})

		case *PadStmt:
			align, err := pp.exactEval(op.Align, env, op.Pos)
			if err != nil || align == 0 {
				if err == nil {
					err = &PreprocessError{Pos: op.Pos, Msg: "pad alignment must be positive", Frames: pp.trace()}
				}
				return pp.repackUnresolved(err, "pad")
			}
			opSize := 2 * pp.w
			opsSoFar := (pp.curAddr + opSize - 1) / opSize
			toPad := (align - opsSoFar%align) % align
			pp.curAddr += toPad * opSize
			pp.stream = append(pp.stream, &StreamPadding{Ops: toPad, Pos: op.Pos})

		default:
			return &PreprocessError{
				Pos:    st.Position(),
				Msg:    fmt.Sprintf("can't assemble this statement - %T", st),
				Frames: pp.trace(),
			}
		}
	}
	return nil
}

// repackUnresolved keeps segment/reserve/pad failures informative without
// promoting them to label-resolution errors.
func (pp *preprocessor) repackUnresolved(err error, what string) error {
	if ul, ok := err.(*UnresolvedLabelError); ok {
		return &PreprocessError{
			Pos:    ul.Pos,
			Msg:    fmt.Sprintf("%s address must be known at expansion time; unresolved: %s", what, ul.Labels),
			Frames: ul.Frames,
		}
	}
	return err
}

// expandMacroCall resolves the callee, builds its binding environment and
// expands its body under a fresh stack frame.
func (pp *preprocessor) expandMacroCall(op *MacroCall, env map[string]*Expr, prefix string) error {
	args := make([]*Expr, len(op.Args))
	for i, a := range op.Args {
		v, err := a.Eval(env, op.Pos)
		if err != nil {
			return pp.annotate(err)
		}
		args[i] = v
	}

	callee := pp.prog.Registry.Lookup(op.Name, op.Namespace)
	if callee == nil {
		if arities := pp.prog.Registry.Arities(op.Name.Name, op.Namespace); len(arities) > 0 {
			return &MacroArityError{Name: op.Name, Defined: arities, Pos: op.Pos, Frames: pp.trace()}
		}
		return &UndefinedMacroError{Name: op.Name, Pos: op.Pos, Frames: pp.trace()}
	}

	if pp.depth+1 > pp.maxDepth {
		frames := append(pp.trace(), op.traceString())
		return &MacroRecursionError{Depth: pp.maxDepth, Frames: frames}
	}

	nextPrefix := op.Pos.ShortString() + ":" + op.Name.String()
	if prefix != "" {
		nextPrefix = prefix + macroSeparator + nextPrefix
	}

	parentFrame := pp.curFrame
	pp.curFrame = pp.arena.Push(parentFrame, op.traceString())
	pp.depth++
	err := pp.expandBody(callee.Body, pp.makeEnv(callee, args, nextPrefix), nextPrefix)
	pp.depth--
	pp.curFrame = parentFrame
	return err
}

// expandRep resolves the iteration count and expands the body once per
// index with the iterator bound.
func (pp *preprocessor) expandRep(op *RepCall, env map[string]*Expr, prefix string) error {
	countExpr, err := op.Times.Eval(env, op.Pos)
	if err != nil {
		return pp.annotate(err)
	}
	countVal, err := countExpr.ExactEval(pp.labels, op.Pos)
	if err != nil {
		if ae, ok := err.(*ArithmeticError); ok {
			return pp.annotate(ae)
		}
		return &UnresolvedRepCountError{
			Pos:    op.Pos,
			Detail: fmt.Sprintf("count %s depends on [%s]", countExpr, unresolvedList(countExpr)),
			Frames: pp.trace(),
		}
	}
	if countVal.Sign() < 0 || !countVal.IsUint64() {
		return &UnresolvedRepCountError{
			Pos:    op.Pos,
			Detail: fmt.Sprintf("count %s is not a valid repetition count", countVal),
			Frames: pp.trace(),
		}
	}
	times := countVal.Uint64()

	parentFrame := pp.curFrame
	for i := uint64(0); i < times; i++ {
		iterEnv := map[string]*Expr{op.Iterator: uintExpr(i)}

		switch body := op.Body.(type) {
		case *FlipJumpOp:
			merged := mergedEnv(env, iterEnv)
			pp.curFrame = pp.arena.Push(parentFrame, op.traceString(int(i), times))
			err := pp.emitOp(body.Flip, body.Jump, merged, body.Pos)
			pp.curFrame = parentFrame
			if err != nil {
				return err
			}

		case *MacroCall:
			iterPrefix := fmt.Sprintf("%s:rep%d:%s", op.Pos.ShortString(), i, body.Name)
			if prefix != "" {
				iterPrefix = prefix + macroSeparator + iterPrefix
			}
			pp.curFrame = pp.arena.Push(parentFrame, op.traceString(int(i), times))
			err := pp.expandRepCall(body, env, iterEnv, iterPrefix)
			pp.curFrame = parentFrame
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// expandRepCall is expandMacroCall with the iterator environment applied to
// the arguments and the rep-specific prefix already built.
func (pp *preprocessor) expandRepCall(op *MacroCall, env, iterEnv map[string]*Expr, prefix string) error {
	args := make([]*Expr, len(op.Args))
	for i, a := range op.Args {
		v, err := a.Eval(mergedEnv(env, iterEnv), op.Pos)
		if err != nil {
			return pp.annotate(err)
		}
		args[i] = v
	}

	callee := pp.prog.Registry.Lookup(op.Name, op.Namespace)
	if callee == nil {
		if arities := pp.prog.Registry.Arities(op.Name.Name, op.Namespace); len(arities) > 0 {
			return &MacroArityError{Name: op.Name, Defined: arities, Pos: op.Pos, Frames: pp.trace()}
		}
		return &UndefinedMacroError{Name: op.Name, Pos: op.Pos, Frames: pp.trace()}
	}
	if pp.depth+1 > pp.maxDepth {
		frames := append(pp.trace(), op.traceString())
		return &MacroRecursionError{Depth: pp.maxDepth, Frames: frames}
	}

	parentFrame := pp.curFrame
	pp.curFrame = pp.arena.Push(parentFrame, op.traceString())
	pp.depth++
	err := pp.expandBody(callee.Body, pp.makeEnv(callee, args, prefix), prefix)
	pp.depth--
	pp.curFrame = parentFrame
	return err
}

// makeEnv binds a macro's value parameters to the call arguments, its local
// labels to fresh invocation-scoped names, and its exposed labels to their
// namespace-qualified global names. Every binding is aliased under the
// macro's namespace so dotted and bare references agree.
func (pp *preprocessor) makeEnv(m *Macro, args []*Expr, prefix string) map[string]*Expr {
	env := make(map[string]*Expr, 2*(len(m.Params)+len(m.Locals)+len(m.LabelsOut)))
	for i, p := range m.Params {
		env[p] = args[i]
	}
	for _, l := range m.Locals {
		env[l] = LabelRef(prefix + macroSeparator + l)
	}
	for _, l := range m.LabelsOut {
		env[l] = LabelRef(qualify(m.Namespace, l))
	}
	if m.Namespace != "" {
		aliases := make(map[string]*Expr, len(env))
		for k, v := range env {
			aliases[m.Namespace+"."+k] = v
		}
		for k, v := range aliases {
			env[k] = v
		}
	}
	return env
}

func mergedEnv(base, extra map[string]*Expr) map[string]*Expr {
	merged := make(map[string]*Expr, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
