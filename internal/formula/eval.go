package formula

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
)

// DivisionDigits is the scale kept by intermediate division results.
const DivisionDigits = 20

var maxRoundPlaces = decimal.NewFromInt(DivisionDigits)

// Env resolves a column reference to the current cell value.
type Env func(name string) value.Value

// EvalError is a runtime failure: type mismatch, division by zero or an
// erroring input.
type EvalError struct {
	Message string
}

func (e *EvalError) Error() string { return e.Message }

func evalErrorf(format string, args ...any) error {
	return &EvalError{Message: fmt.Sprintf(format, args...)}
}

// Eval evaluates the expression. Runtime failures are returned as
// *EvalError.
func (e *Expr) Eval(env Env) (value.Value, error) {
	ev := evaluator{env: env}
	v, err := ev.eval(e.root)
	if err != nil {
		return value.Empty, err
	}
	if v.Kind == value.KindText && v.Text == "" {
		return value.Empty, nil
	}
	return v, nil
}

// Evaluate runs the expression and folds failures into the error
// sentinel. Numeric results are rounded half away from zero to precision.
func (e *Expr) Evaluate(env Env, precision int32) value.Value {
	v, err := e.Eval(env)
	if err != nil {
		return value.Error(err.Error())
	}
	if v.Kind == value.KindNumber {
		return value.Number(v.Number.Round(precision))
	}
	return v
}

// InputHash fingerprints the formula text, the output precision and the
// values of every referenced column.
func (e *Expr) InputHash(env Env, precision int32) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(e.src))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(int(precision))))
	for _, name := range e.refs {
		raw, err := json.Marshal(env(name))
		if err != nil {
			raw = []byte(err.Error())
		}
		h.Write([]byte{0})
		h.Write([]byte(strings.ToLower(name)))
		h.Write([]byte{0})
		h.Write(raw)
	}
	return hex.EncodeToString(h.Sum(nil))
}

type evaluator struct {
	env Env
}

var day = decimal.NewFromInt(int64(24 * time.Hour))

func (ev evaluator) eval(n node) (value.Value, error) {
	switch n := n.(type) {
	case numberLit:
		return value.Number(n.v), nil
	case stringLit:
		return value.Text(n.s), nil
	case boolLit:
		return value.Bool(n.b), nil
	case refNode:
		return ev.ref(n.name)
	case unaryNode:
		x, err := ev.eval(n.x)
		if err != nil {
			return value.Empty, err
		}
		if n.op == "-" {
			d, err := toNumber(x)
			if err != nil {
				return value.Empty, err
			}
			return value.Number(d.Neg()), nil
		}
		b, err := truthy(x)
		if err != nil {
			return value.Empty, err
		}
		return value.Bool(!b), nil
	case ternaryNode:
		return ev.conditional(n.cond, n.then, n.els)
	case binaryNode:
		if n.op == "&&" || n.op == "||" {
			return ev.logical(n)
		}
		l, err := ev.eval(n.l)
		if err != nil {
			return value.Empty, err
		}
		r, err := ev.eval(n.r)
		if err != nil {
			return value.Empty, err
		}
		return binary(n.op, l, r)
	case callNode:
		return functions[n.name].call(ev, n.args)
	}
	return value.Empty, evalErrorf("unsupported expression")
}

// ref normalizes a cell value into a formula operand.
func (ev evaluator) ref(name string) (value.Value, error) {
	v := ev.env(name)
	switch v.Kind {
	case value.KindError:
		return value.Empty, evalErrorf("{%s} has an error", name)
	case value.KindStale, value.KindNotLinked:
		return value.Empty, nil
	case value.KindRange:
		return value.Date(v.Time), nil
	case value.KindList, value.KindItemRef:
		return value.Text(v.String()), nil
	}
	return v, nil
}

func (ev evaluator) conditional(cond, then, els node) (value.Value, error) {
	c, err := ev.eval(cond)
	if err != nil {
		return value.Empty, err
	}
	b, err := truthy(c)
	if err != nil {
		return value.Empty, err
	}
	if b {
		return ev.eval(then)
	}
	if els == nil {
		return value.Empty, nil
	}
	return ev.eval(els)
}

func (ev evaluator) logical(n binaryNode) (value.Value, error) {
	l, err := ev.eval(n.l)
	if err != nil {
		return value.Empty, err
	}
	lb, err := truthy(l)
	if err != nil {
		return value.Empty, err
	}
	if n.op == "&&" && !lb || n.op == "||" && lb {
		return value.Bool(lb), nil
	}
	r, err := ev.eval(n.r)
	if err != nil {
		return value.Empty, err
	}
	rb, err := truthy(r)
	if err != nil {
		return value.Empty, err
	}
	return value.Bool(rb), nil
}

func binary(op string, l, r value.Value) (value.Value, error) {
	switch op {
	case "&":
		return value.Text(l.String() + r.String()), nil
	case "+":
		if l.Kind == value.KindText || r.Kind == value.KindText {
			return value.Text(l.String() + r.String()), nil
		}
		if l.Kind == value.KindDate {
			return shiftDate(l, r, 1)
		}
		if r.Kind == value.KindDate {
			return shiftDate(r, l, 1)
		}
	case "-":
		if l.Kind == value.KindDate && r.Kind == value.KindDate {
			diff := decimal.NewFromInt(int64(l.Time.Sub(r.Time)))
			return value.Number(diff.DivRound(day, DivisionDigits)), nil
		}
		if l.Kind == value.KindDate {
			return shiftDate(l, r, -1)
		}
	case "==", "!=", "<", "<=", ">", ">=":
		return compare(op, l, r)
	}

	a, err := toNumber(l)
	if err != nil {
		return value.Empty, err
	}
	b, err := toNumber(r)
	if err != nil {
		return value.Empty, err
	}
	switch op {
	case "+":
		return value.Number(a.Add(b)), nil
	case "-":
		return value.Number(a.Sub(b)), nil
	case "*":
		return value.Number(a.Mul(b)), nil
	case "/":
		if b.IsZero() {
			return value.Empty, evalErrorf("division by zero")
		}
		return value.Number(a.DivRound(b, DivisionDigits)), nil
	case "%":
		if b.IsZero() {
			return value.Empty, evalErrorf("division by zero")
		}
		return value.Number(a.Mod(b)), nil
	}
	return value.Empty, evalErrorf("unknown operator %s", op)
}

func shiftDate(date, days value.Value, sign int64) (value.Value, error) {
	n, err := toNumber(days)
	if err != nil {
		return value.Empty, err
	}
	d := time.Duration(n.Mul(day).Mul(decimal.NewFromInt(sign)).IntPart())
	return value.Date(date.Time.Add(d)), nil
}

func compare(op string, l, r value.Value) (value.Value, error) {
	var c int
	switch {
	case l.Kind == value.KindEmpty && r.Kind == value.KindEmpty:
		c = 0
	case isNumeric(l) && isNumeric(r):
		a, _ := toNumber(l)
		b, _ := toNumber(r)
		c = a.Cmp(b)
	case isTextual(l) && isTextual(r):
		c = strings.Compare(l.Text, r.Text)
	case isDate(l) && isDate(r):
		if l.Kind == value.KindEmpty || r.Kind == value.KindEmpty {
			c = boolCmp(l.Kind != value.KindEmpty, r.Kind != value.KindEmpty)
		} else {
			c = l.Time.Compare(r.Time)
		}
	case isBool(l) && isBool(r):
		c = boolCmp(l.Bool, r.Bool)
	default:
		switch op {
		case "==":
			return value.Bool(false), nil
		case "!=":
			return value.Bool(true), nil
		}
		return value.Empty, evalErrorf("cannot compare %s with %s", kindName(l), kindName(r))
	}
	switch op {
	case "==":
		return value.Bool(c == 0), nil
	case "!=":
		return value.Bool(c != 0), nil
	case "<":
		return value.Bool(c < 0), nil
	case "<=":
		return value.Bool(c <= 0), nil
	case ">":
		return value.Bool(c > 0), nil
	}
	return value.Bool(c >= 0), nil
}

func boolCmp(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

func isNumeric(v value.Value) bool {
	return v.Kind == value.KindNumber || v.Kind == value.KindEmpty
}

func isTextual(v value.Value) bool {
	return v.Kind == value.KindText || v.Kind == value.KindEmpty
}

func isDate(v value.Value) bool {
	return v.Kind == value.KindDate || v.Kind == value.KindEmpty
}

func isBool(v value.Value) bool {
	return v.Kind == value.KindBoolean || v.Kind == value.KindEmpty
}

func kindName(v value.Value) string {
	if v.Kind == value.KindEmpty {
		return "empty"
	}
	return string(v.Kind)
}

func toNumber(v value.Value) (decimal.Decimal, error) {
	switch v.Kind {
	case value.KindEmpty:
		return decimal.Zero, nil
	case value.KindNumber:
		return v.Number, nil
	case value.KindText:
		s := strings.TrimSpace(v.Text)
		if s == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, evalErrorf("%q is not a number", v.Text)
		}
		return d, nil
	}
	return decimal.Zero, evalErrorf("expected a number, got %s", kindName(v))
}

func truthy(v value.Value) (bool, error) {
	switch v.Kind {
	case value.KindEmpty:
		return false, nil
	case value.KindBoolean:
		return v.Bool, nil
	case value.KindNumber:
		return !v.Number.IsZero(), nil
	}
	return false, evalErrorf("expected a boolean, got %s", kindName(v))
}
