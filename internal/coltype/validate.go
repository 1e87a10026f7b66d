package coltype

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
)

const maxTextLength = 10000

var validate = validator.New()

func validateText(t Type, _ Settings, raw any) (value.Value, error) {
	s, ok := raw.(string)
	if !ok {
		return value.Empty, invalid(t, "expected a string, got %T", raw)
	}
	if len(s) > maxTextLength {
		return value.Empty, invalid(t, "text longer than %d bytes", maxTextLength)
	}
	if s == "" {
		return value.Empty, nil
	}
	return value.Text(s), nil
}

func validateEmail(t Type, _ Settings, raw any) (value.Value, error) {
	s, ok := raw.(string)
	if !ok {
		return value.Empty, invalid(t, "expected a string, got %T", raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return value.Empty, nil
	}
	if err := validate.Var(s, "email"); err != nil {
		return value.Empty, invalid(t, "%q is not an email address", s)
	}
	return value.Text(s), nil
}

func validatePhone(t Type, _ Settings, raw any) (value.Value, error) {
	s, ok := raw.(string)
	if !ok {
		return value.Empty, invalid(t, "expected a string, got %T", raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return value.Empty, nil
	}
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return value.Empty, invalid(t, "unexpected character %q", r)
		}
	}
	if digits < 7 || digits > 15 {
		return value.Empty, invalid(t, "phone numbers have 7 to 15 digits")
	}
	return value.Text(s), nil
}

func validateLabel(t Type, s Settings, raw any) (value.Value, error) {
	var label string
	switch v := raw.(type) {
	case string:
		label = v
	case map[string]any:
		if l, ok := v["label"].(string); ok {
			label = l
		} else if idx, ok := toDecimal(v["index"]); ok {
			labels := LabelsFor(t, s)
			i := int(idx.IntPart())
			if i < 0 || i >= len(labels) {
				return value.Empty, invalid(t, "label index %d out of range", i)
			}
			label = labels[i]
		} else {
			return value.Empty, invalid(t, "expected a label")
		}
	default:
		return value.Empty, invalid(t, "expected a label, got %T", raw)
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return value.Empty, nil
	}
	labels := LabelsFor(t, s)
	idx := labelIndex(labels, label)
	if idx < 0 {
		return value.Empty, invalid(t, "unknown label %q", label)
	}
	return value.Text(labels[idx]), nil
}

func validatePeople(t Type, _ Settings, raw any) (value.Value, error) {
	items, err := toStrings(t, raw)
	if err != nil {
		return value.Empty, err
	}
	return listValue(dedupe(items)), nil
}

func validateDropdown(t Type, s Settings, raw any) (value.Value, error) {
	items, err := toStrings(t, raw)
	if err != nil {
		return value.Empty, err
	}
	items = dedupe(items)
	if len(s.Labels) > 0 {
		for i, item := range items {
			idx := labelIndex(s.Labels, item)
			if idx < 0 {
				return value.Empty, invalid(t, "unknown option %q", item)
			}
			items[i] = s.Labels[idx]
		}
	}
	return listValue(items), nil
}

func validateTags(t Type, _ Settings, raw any) (value.Value, error) {
	items, err := toStrings(t, raw)
	if err != nil {
		return value.Empty, err
	}
	return listValue(dedupe(items)), nil
}

func validateFiles(t Type, _ Settings, raw any) (value.Value, error) {
	items, err := toStrings(t, raw)
	if err != nil {
		return value.Empty, err
	}
	return listValue(items), nil
}

func validateRefs(t Type, _ Settings, raw any) (value.Value, error) {
	if m, ok := raw.(map[string]any); ok {
		raw = m["itemIds"]
		if raw == nil {
			return value.Empty, nil
		}
	}
	var ids []int64
	add := func(x any) error {
		d, ok := toDecimal(x)
		if !ok || !d.IsInteger() || d.Sign() <= 0 {
			return invalid(t, "item ids must be positive integers, got %v", x)
		}
		ids = append(ids, d.IntPart())
		return nil
	}
	switch v := raw.(type) {
	case []int64:
		for _, id := range v {
			if err := add(id); err != nil {
				return value.Empty, err
			}
		}
	case []any:
		for _, x := range v {
			if err := add(x); err != nil {
				return value.Empty, err
			}
		}
	default:
		if err := add(v); err != nil {
			return value.Empty, err
		}
	}
	seen := make(map[int64]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return value.Empty, nil
	}
	return value.Refs(out), nil
}

func validateNumber(t Type, s Settings, raw any) (value.Value, error) {
	d, ok := toDecimal(raw)
	if !ok {
		if str, isStr := raw.(string); isStr && strings.TrimSpace(str) == "" {
			return value.Empty, nil
		}
		return value.Empty, invalid(t, "expected a number, got %v", raw)
	}
	if s.Precision != nil {
		d = d.Round(*s.Precision)
	}
	return value.Number(d), nil
}

func validateRating(t Type, s Settings, raw any) (value.Value, error) {
	d, ok := toDecimal(raw)
	if !ok || !d.IsInteger() {
		return value.Empty, invalid(t, "expected a whole number, got %v", raw)
	}
	limit := s.Max
	if limit <= 0 {
		limit = 5
	}
	if d.Sign() < 0 || d.IntPart() > int64(limit) {
		return value.Empty, invalid(t, "rating must be between 0 and %d", limit)
	}
	return value.Number(d), nil
}

var hundred = decimal.NewFromInt(100)

func validateProgress(t Type, _ Settings, raw any) (value.Value, error) {
	d, ok := toDecimal(raw)
	if !ok {
		return value.Empty, invalid(t, "expected a number, got %v", raw)
	}
	if d.Sign() < 0 || d.GreaterThan(hundred) {
		return value.Empty, invalid(t, "progress must be between 0 and 100")
	}
	return value.Number(d), nil
}

func validateCheckbox(t Type, _ Settings, raw any) (value.Value, error) {
	switch v := raw.(type) {
	case bool:
		return value.Bool(v), nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return value.Empty, invalid(t, "expected true or false, got %q", v)
		}
		return value.Bool(b), nil
	case map[string]any:
		if b, ok := v["checked"].(bool); ok {
			return value.Bool(b), nil
		}
	}
	return value.Empty, invalid(t, "expected a boolean, got %T", raw)
}

func validateDate(t Type, _ Settings, raw any) (value.Value, error) {
	if m, ok := raw.(map[string]any); ok {
		raw = m["date"]
	}
	at, ok, err := toTime(raw)
	if err != nil {
		return value.Empty, invalid(t, "%v", err)
	}
	if !ok {
		return value.Empty, nil
	}
	return value.Date(at), nil
}

func validateTimeline(t Type, _ Settings, raw any) (value.Value, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return value.Empty, invalid(t, "expected {from, to}, got %T", raw)
	}
	from, okFrom, err := toTime(m["from"])
	if err != nil {
		return value.Empty, invalid(t, "from: %v", err)
	}
	to, okTo, err := toTime(m["to"])
	if err != nil {
		return value.Empty, invalid(t, "to: %v", err)
	}
	if !okFrom && !okTo {
		return value.Empty, nil
	}
	if !okFrom || !okTo {
		return value.Empty, invalid(t, "timeline needs both from and to")
	}
	if to.Before(from) {
		return value.Empty, invalid(t, "timeline ends before it starts")
	}
	return value.Range(from, to), nil
}

func listValue(items []string) value.Value {
	if len(items) == 0 {
		return value.Empty
	}
	return value.List(items)
}

func toStrings(t Type, raw any) ([]string, error) {
	var out []string
	add := func(x any) error {
		switch v := x.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				out = append(out, s)
			}
		case float64, json.Number, int, int64:
			d, _ := toDecimal(v)
			out = append(out, d.String())
		default:
			return invalid(t, "expected strings, got %T", x)
		}
		return nil
	}
	switch v := raw.(type) {
	case []string:
		for _, s := range v {
			_ = add(s)
		}
	case []any:
		for _, x := range v {
			if err := add(x); err != nil {
				return nil, err
			}
		}
	default:
		if err := add(v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func toDecimal(raw any) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, true
	case float64:
		return decimal.NewFromFloat(v), true
	case float32:
		return decimal.NewFromFloat32(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt32(v), true
	case int64:
		return decimal.NewFromInt(v), true
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

func toTime(raw any) (time.Time, bool, error) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false, nil
		}
		return v.UTC(), true, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false, nil
		}
		if at, err := time.Parse(time.DateOnly, s); err == nil {
			return at, true, nil
		}
		at, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%q is not a date", s)
		}
		return at.UTC(), true, nil
	}
	return time.Time{}, false, fmt.Errorf("expected a date string, got %T", raw)
}
