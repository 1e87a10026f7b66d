package coltype

import (
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
)

// ParseOperand turns a filter operand into a value comparable with cells
// of type t. Writable types use their own validation; computed types
// accept the loosest reasonable reading.
func ParseOperand(t Type, s Settings, raw any) (value.Value, error) {
	c, ok := Lookup(t)
	if !ok {
		return value.Empty, invalid(t, "unknown column type")
	}
	if raw == nil {
		return value.Empty, nil
	}
	if !c.Derived {
		switch c.Type {
		case TypeProgress, TypeRating:
			// Range checks do not apply to operands.
			return validateNumber(t, Settings{}, raw)
		case TypeTimeline:
			if _, isMap := raw.(map[string]any); !isMap {
				return validateDate(TypeDate, s, raw)
			}
		}
		return c.Validate(s, raw)
	}
	switch c.Class {
	case ClassNumber:
		return validateNumber(t, Settings{}, raw)
	case ClassDate:
		return validateDate(TypeDate, Settings{}, raw)
	}
	return looseValue(raw), nil
}

func looseValue(raw any) value.Value {
	switch v := raw.(type) {
	case bool:
		return value.Bool(v)
	case string:
		if at, ok, err := toTime(v); err == nil && ok {
			return value.Date(at)
		}
		if d, ok := toDecimal(v); ok {
			return value.Number(d)
		}
		return value.Text(v)
	}
	if d, ok := toDecimal(raw); ok {
		return value.Number(d)
	}
	return value.Empty
}
