package formula

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
)

func envOf(values map[string]value.Value) Env {
	return func(name string) value.Value {
		for k, v := range values {
			if strings.EqualFold(k, name) {
				return v
			}
		}
		return value.Empty
	}
}

func num(s string) value.Value { return value.Number(decimal.RequireFromString(s)) }

func TestEvaluate(t *testing.T) {
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	env := envOf(map[string]value.Value{
		"Price":    num("19.99"),
		"Qty":      value.Int(3),
		"Name":     value.Text("Widget"),
		"Done":     value.Bool(true),
		"Start":    value.Date(day),
		"End":      value.Date(day.AddDate(0, 0, 5)),
		"Window":   value.Range(day, day.AddDate(0, 0, 2)),
		"Tags":     value.List([]string{"a", "b"}),
		"Nothing":  value.Empty,
		"Upstream": value.Stale(),
	})
	cases := []struct {
		src  string
		want value.Value
	}{
		{"{Price} * {Qty}", num("59.97")},
		{"={Price}*{Qty}", num("59.97")},
		{"10 / 3", num("3.33")},
		{"2 + 3 * 4", value.Int(14)},
		{"(2 + 3) * 4", value.Int(20)},
		{"-{Qty} + 1", value.Int(-2)},
		{"7 % 4", value.Int(3)},
		{"{Name} & \" x\" & {Qty}", value.Text("Widget x3")},
		{"{Name} + \"!\"", value.Text("Widget!")},
		{"{Qty} > 2", value.Bool(true)},
		{"{Qty} = 3 && {Done}", value.Bool(true)},
		{"NOT {Done} OR {Qty} <> 3", value.Bool(false)},
		{"{Qty} > 5 ? \"big\" : \"small\"", value.Text("small")},
		{"IF({Done}, 1, 0)", value.Int(1)},
		{"IF(FALSE, 1)", value.Empty},
		{"{End} - {Start}", value.Int(5)},
		{"DAYS({End}, {Start})", value.Int(5)},
		{"{Start} + 1", value.Date(day.AddDate(0, 0, 1))},
		{"{Window} - 1", value.Date(day.AddDate(0, 0, -1))},
		{"ROUND(2.567, 1)", num("2.6")},
		{"ROUND(2.5)", value.Int(3)},
		{"ABS(-4)", value.Int(4)},
		{"MIN(4, 2, 9)", value.Int(2)},
		{"MAX(4, 2, 9)", value.Int(9)},
		{"SUM({Qty}, {Price})", num("22.99")},
		{"AVERAGE(1, 2, {Nothing})", num("1.5")},
		{"CONCAT({Name}, \"-\", {Tags})", value.Text("Widget-a, b")},
		{"LEN({Name})", value.Int(6)},
		{"UPPER({Name})", value.Text("WIDGET")},
		{"LOWER('ABC')", value.Text("abc")},
		{"{Nothing} + 1", value.Int(1)},
		{"{Upstream} & \"\"", value.Empty},
		{"{Qty} == \"3\"", value.Bool(false)},
	}
	for _, tc := range cases {
		expr, err := Parse(tc.src)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.src, err)
		}
		got := expr.Evaluate(env, 2)
		if !got.Equal(tc.want) {
			t.Fatalf("%q = %+v, want %+v", tc.src, got, tc.want)
		}
	}
}

func TestEvaluateErrors(t *testing.T) {
	env := envOf(map[string]value.Value{
		"Name":   value.Text("Widget"),
		"Broken": value.Error("division by zero"),
		"Start":  value.Date(time.Now()),
	})
	for _, src := range []string{
		"1 / 0",
		"5 % 0",
		"{Name} * 2",
		"{Broken} + 1",
		"{Start} < 3",
		"IF({Name}, 1, 2)",
		"DAYS({Name}, {Start})",
		"ROUND(1.5, 100000000)",
		"ROUND(1.5, -21)",
		"ROUND(1.5, 100000000000000000000000)",
	} {
		expr, err := Parse(src)
		if err != nil {
			t.Fatalf("parse %q: %v", src, err)
		}
		got := expr.Evaluate(env, 2)
		if got.Kind != value.KindError || got.Reason == "" {
			t.Fatalf("%q: expected error sentinel, got %+v", src, got)
		}
	}
}

func TestRoundPlacesBounds(t *testing.T) {
	for src, want := range map[string]string{
		"ROUND(2.345, 20)":  "2.345",
		"ROUND(1234, -2)":   "1200",
		"ROUND(2.345, 1.9)": "2.3",
	} {
		expr, err := Parse(src)
		if err != nil {
			t.Fatalf("parse %q: %v", src, err)
		}
		got := expr.Evaluate(envOf(nil), 10)
		if got.Kind != value.KindNumber || !got.Number.Equal(num(want).Number) {
			t.Errorf("%q = %+v, want %s", src, got, want)
		}
	}
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"=",
		"{Price",
		"{}",
		"1 +",
		"(1 + 2",
		"FOO(1)",
		"price * 2",
		"IF(1)",
		"1 ? 2",
		"'open",
		"1 $ 2",
	} {
		_, err := Parse(src)
		var se *SyntaxError
		if !errors.As(err, &se) {
			t.Fatalf("%q: expected syntax error, got %v", src, err)
		}
	}
}

func TestRefs(t *testing.T) {
	expr, err := Parse("{Price} * {qty} + {price} + {Tax Rate}")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := expr.Refs(); !slices.Equal(got, []string{"Price", "qty", "Tax Rate"}) {
		t.Fatalf("refs = %v", got)
	}
}

func TestRename(t *testing.T) {
	got, err := Rename("={Price} * {qty} + {PRICE}", "price", "Unit Price")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if got != "={Unit Price} * {qty} + {Unit Price}" {
		t.Fatalf("rename = %q", got)
	}
}

func TestInputHashTracksInputs(t *testing.T) {
	expr, err := Parse("{A} + {B}")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	vals := map[string]value.Value{"A": value.Int(1), "B": value.Int(2)}
	h1 := expr.InputHash(envOf(vals), 2)
	h2 := expr.InputHash(envOf(vals), 2)
	if h1 != h2 {
		t.Fatal("hash must be deterministic")
	}
	if expr.InputHash(envOf(vals), 0) == h1 {
		t.Fatal("hash must change when the precision changes")
	}
	vals["B"] = value.Int(3)
	if expr.InputHash(envOf(vals), 2) == h1 {
		t.Fatal("hash must change when an input changes")
	}
}

// Evaluating the same inputs twice yields the same value.
func TestEvaluateIsDeterministic(t *testing.T) {
	expr, err := Parse("ROUND({A} / 7, 4) & {B}")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	env := envOf(map[string]value.Value{"A": value.Int(22), "B": value.Text("x")})
	first := expr.Evaluate(env, 2)
	for i := 0; i < 5; i++ {
		if got := expr.Evaluate(env, 2); !got.Equal(first) {
			t.Fatalf("run %d: %+v != %+v", i, got, first)
		}
	}
}
