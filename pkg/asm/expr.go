package asm

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// Expr is a symbolic arithmetic tree over integers and label names.
// Exactly one of num, label or op is active. Operator nodes keep their
// source spelling in op and their operands in args.
type Expr struct {
	num   *big.Int
	label string
	op    string
	args  []*Expr
}

// Num builds a constant expression.
func Num(v int64) *Expr { return &Expr{num: big.NewInt(v)} }

// BigNum builds a constant expression from an arbitrary-precision value.
func BigNum(v *big.Int) *Expr { return &Expr{num: new(big.Int).Set(v)} }

// uintExpr builds a constant expression from an address-sized value.
func uintExpr(v uint64) *Expr { return &Expr{num: new(big.Int).SetUint64(v)} }

// LabelRef builds a reference to a named label.
func LabelRef(name string) *Expr { return &Expr{label: name} }

// Unary builds a one-operand operator node ("-", "~", "#").
func Unary(op string, e *Expr) *Expr { return &Expr{op: op, args: []*Expr{e}} }

// Binary builds a two-operand operator node.
func Binary(op string, l, r *Expr) *Expr { return &Expr{op: op, args: []*Expr{l, r}} }

// Ternary builds a conditional node (cond ? then : else).
func Ternary(cond, then, els *Expr) *Expr {
	return &Expr{op: "?:", args: []*Expr{cond, then, els}}
}

func (e *Expr) IsConst() bool     { return e.num != nil }
func (e *Expr) IsLabel() bool     { return e.label != "" && e.num == nil && e.op == "" }
func (e *Expr) Const() *big.Int   { return e.num }
func (e *Expr) LabelName() string { return e.label }

func (e *Expr) String() string {
	switch {
	case e.num != nil:
		return e.num.Text(16)
	case e.op == "":
		return e.label
	case len(e.args) == 1:
		return fmt.Sprintf("(%s%s)", e.op, e.args[0])
	case len(e.args) == 2:
		return fmt.Sprintf("(%s %s %s)", e.args[0], e.op, e.args[1])
	default:
		return fmt.Sprintf("(%s ? %s : %s)", e.args[0], e.args[1], e.args[2])
	}
}

// applyOp folds one operator over fully-constant operands. Division
// truncates toward zero; modulo follows the sign of the dividend.
func applyOp(op string, pos CodePosition, args ...*big.Int) (*big.Int, error) {
	boolInt := func(b bool) *big.Int {
		if b {
			return big.NewInt(1)
		}
		return big.NewInt(0)
	}
	arith := func(msg string) error {
		return &ArithmeticError{Op: op, Msg: msg, Pos: pos}
	}

	switch op {
	case "-":
		if len(args) == 1 {
			return new(big.Int).Neg(args[0]), nil
		}
		return new(big.Int).Sub(args[0], args[1]), nil
	case "~":
		return new(big.Int).Not(args[0]), nil
	case "#":
		return big.NewInt(int64(args[0].BitLen())), nil
	case "+":
		return new(big.Int).Add(args[0], args[1]), nil
	case "*":
		return new(big.Int).Mul(args[0], args[1]), nil
	case "/":
		if args[1].Sign() == 0 {
			return nil, arith("division by zero")
		}
		return new(big.Int).Quo(args[0], args[1]), nil
	case "%":
		if args[1].Sign() == 0 {
			return nil, arith("modulo by zero")
		}
		return new(big.Int).Rem(args[0], args[1]), nil
	case "&":
		return new(big.Int).And(args[0], args[1]), nil
	case "|":
		return new(big.Int).Or(args[0], args[1]), nil
	case "^":
		return new(big.Int).Xor(args[0], args[1]), nil
	case "<<", ">>":
		if !args[1].IsUint64() || args[1].Uint64() > 1<<20 {
			return nil, arith(fmt.Sprintf("bad shift count %s", args[1]))
		}
		n := uint(args[1].Uint64())
		if op == "<<" {
			return new(big.Int).Lsh(args[0], n), nil
		}
		return new(big.Int).Rsh(args[0], n), nil
	case "<":
		return boolInt(args[0].Cmp(args[1]) < 0), nil
	case ">":
		return boolInt(args[0].Cmp(args[1]) > 0), nil
	case "<=":
		return boolInt(args[0].Cmp(args[1]) <= 0), nil
	case ">=":
		return boolInt(args[0].Cmp(args[1]) >= 0), nil
	case "==":
		return boolInt(args[0].Cmp(args[1]) == 0), nil
	case "!=":
		return boolInt(args[0].Cmp(args[1]) != 0), nil
	case "?:":
		if args[0].Sign() != 0 {
			return args[1], nil
		}
		return args[2], nil
	default:
		return nil, arith("unknown operator")
	}
}

// Eval substitutes every name found in env and folds all fully-constant
// subtrees, returning a new expression. Unknown labels survive symbolically.
func (e *Expr) Eval(env map[string]*Expr, pos CodePosition) (*Expr, error) {
	switch {
	case e.num != nil:
		return e, nil
	case e.op == "":
		if sub, ok := env[e.label]; ok {
			// env values are already evaluated; a self-reference can't occur
			// because parameter names never appear in their own bindings.
			return sub.Eval(nil, pos)
		}
		return e, nil
	}

	evaluated := make([]*Expr, len(e.args))
	allConst := true
	for i, a := range e.args {
		sub, err := a.Eval(env, pos)
		if err != nil {
			return nil, err
		}
		evaluated[i] = sub
		if sub.num == nil {
			allConst = false
		}
	}
	if !allConst {
		return &Expr{op: e.op, args: evaluated}, nil
	}

	consts := make([]*big.Int, len(evaluated))
	for i, a := range evaluated {
		consts[i] = a.num
	}
	v, err := applyOp(e.op, pos, consts...)
	if err != nil {
		return nil, err
	}
	return &Expr{num: v}, nil
}

// ExactEval resolves the expression to a concrete integer against the final
// label table. Any name still unknown is a fatal diagnostic.
func (e *Expr) ExactEval(labels map[string]uint64, pos CodePosition) (*big.Int, error) {
	switch {
	case e.num != nil:
		return e.num, nil
	case e.op == "":
		if v, ok := labels[e.label]; ok {
			return new(big.Int).SetUint64(v), nil
		}
		return nil, &UnresolvedLabelError{Labels: []string{e.label}, Pos: pos}
	}

	consts := make([]*big.Int, len(e.args))
	for i, a := range e.args {
		v, err := a.ExactEval(labels, pos)
		if err != nil {
			return nil, err
		}
		consts[i] = v
	}
	return applyOp(e.op, pos, consts...)
}

// UnknownLabels returns the sorted set of names the expression references.
func (e *Expr) UnknownLabels() []string {
	set := map[string]bool{}
	e.collectLabels(set)
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (e *Expr) collectLabels(set map[string]bool) {
	switch {
	case e.num != nil:
	case e.op == "":
		set[e.label] = true
	default:
		for _, a := range e.args {
			a.collectLabels(set)
		}
	}
}

// unresolvedList formats the unknown labels of several expressions for
// diagnostics.
func unresolvedList(exprs ...*Expr) string {
	set := map[string]bool{}
	for _, e := range exprs {
		e.collectLabels(set)
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
