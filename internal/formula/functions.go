package formula

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
)

type function struct {
	min, max int // max < 0 means variadic
	call     func(ev evaluator, args []node) (value.Value, error)
}

func (f function) checkArity(n int) error {
	if n < f.min {
		return fmt.Errorf("needs at least %d arguments", f.min)
	}
	if f.max >= 0 && n > f.max {
		return fmt.Errorf("takes at most %d arguments", f.max)
	}
	return nil
}

var functions map[string]function

func init() {
	functions = map[string]function{
		"IF": {min: 2, max: 3, call: func(ev evaluator, args []node) (value.Value, error) {
			var els node
			if len(args) == 3 {
				els = args[2]
			}
			return ev.conditional(args[0], args[1], els)
		}},
		"CONCAT": {min: 1, max: -1, call: func(ev evaluator, args []node) (value.Value, error) {
			vals, err := ev.evalAll(args)
			if err != nil {
				return value.Empty, err
			}
			var b strings.Builder
			for _, v := range vals {
				b.WriteString(v.String())
			}
			return value.Text(b.String()), nil
		}},
		"ROUND": {min: 1, max: 2, call: func(ev evaluator, args []node) (value.Value, error) {
			nums, err := ev.numbers(args)
			if err != nil {
				return value.Empty, err
			}
			places := int32(0)
			if len(nums) == 2 {
				if nums[1].Abs().GreaterThan(maxRoundPlaces) {
					return value.Empty, evalErrorf("ROUND places must be between -%d and %d", DivisionDigits, DivisionDigits)
				}
				places = int32(nums[1].IntPart())
			}
			return value.Number(nums[0].Round(places)), nil
		}},
		"ABS": {min: 1, max: 1, call: func(ev evaluator, args []node) (value.Value, error) {
			nums, err := ev.numbers(args)
			if err != nil {
				return value.Empty, err
			}
			return value.Number(nums[0].Abs()), nil
		}},
		"MIN": {min: 1, max: -1, call: func(ev evaluator, args []node) (value.Value, error) {
			nums, err := ev.numbers(args)
			if err != nil {
				return value.Empty, err
			}
			return value.Number(decimal.Min(nums[0], nums[1:]...)), nil
		}},
		"MAX": {min: 1, max: -1, call: func(ev evaluator, args []node) (value.Value, error) {
			nums, err := ev.numbers(args)
			if err != nil {
				return value.Empty, err
			}
			return value.Number(decimal.Max(nums[0], nums[1:]...)), nil
		}},
		"SUM": {min: 1, max: -1, call: func(ev evaluator, args []node) (value.Value, error) {
			nums, err := ev.numbers(args)
			if err != nil {
				return value.Empty, err
			}
			return value.Number(decimal.Sum(nums[0], nums[1:]...)), nil
		}},
		"AVERAGE": {min: 1, max: -1, call: func(ev evaluator, args []node) (value.Value, error) {
			vals, err := ev.evalAll(args)
			if err != nil {
				return value.Empty, err
			}
			sum, count := decimal.Zero, int64(0)
			for _, v := range vals {
				if v.Kind == value.KindEmpty {
					continue
				}
				d, err := toNumber(v)
				if err != nil {
					return value.Empty, err
				}
				sum = sum.Add(d)
				count++
			}
			if count == 0 {
				return value.Empty, nil
			}
			return value.Number(sum.DivRound(decimal.NewFromInt(count), DivisionDigits)), nil
		}},
		"DAYS": {min: 2, max: 2, call: func(ev evaluator, args []node) (value.Value, error) {
			vals, err := ev.evalAll(args)
			if err != nil {
				return value.Empty, err
			}
			if vals[0].Kind == value.KindEmpty || vals[1].Kind == value.KindEmpty {
				return value.Empty, nil
			}
			if vals[0].Kind != value.KindDate || vals[1].Kind != value.KindDate {
				return value.Empty, evalErrorf("DAYS expects two dates")
			}
			return binary("-", vals[0], vals[1])
		}},
		"LEN": {min: 1, max: 1, call: func(ev evaluator, args []node) (value.Value, error) {
			v, err := ev.eval(args[0])
			if err != nil {
				return value.Empty, err
			}
			return value.Int(int64(utf8.RuneCountInString(v.String()))), nil
		}},
		"UPPER": {min: 1, max: 1, call: func(ev evaluator, args []node) (value.Value, error) {
			v, err := ev.eval(args[0])
			if err != nil {
				return value.Empty, err
			}
			return value.Text(strings.ToUpper(v.String())), nil
		}},
		"LOWER": {min: 1, max: 1, call: func(ev evaluator, args []node) (value.Value, error) {
			v, err := ev.eval(args[0])
			if err != nil {
				return value.Empty, err
			}
			return value.Text(strings.ToLower(v.String())), nil
		}},
	}
}

func (ev evaluator) evalAll(args []node) ([]value.Value, error) {
	out := make([]value.Value, len(args))
	for i, a := range args {
		v, err := ev.eval(a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (ev evaluator) numbers(args []node) ([]decimal.Decimal, error) {
	vals, err := ev.evalAll(args)
	if err != nil {
		return nil, err
	}
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		d, err := toNumber(v)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}
