// Package value holds the tagged cell value shared by every column type.
package value

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindEmpty     Kind = ""
	KindText      Kind = "text"
	KindNumber    Kind = "number"
	KindDate      Kind = "date"
	KindRange     Kind = "range"
	KindBoolean   Kind = "boolean"
	KindList      Kind = "list"
	KindItemRef   Kind = "itemRef"
	KindError     Kind = "error"
	KindStale     Kind = "stale"
	KindNotLinked Kind = "notLinked"
)

// Value is an immutable cell value. Only the fields matching Kind are set;
// the zero Value is empty.
type Value struct {
	Kind   Kind
	Text   string
	Number decimal.Decimal
	Time   time.Time
	End    time.Time
	Bool   bool
	Items  []string
	Refs   []int64
	// Reason explains an error sentinel.
	Reason string
}

var Empty = Value{}

func Text(s string) Value { return Value{Kind: KindText, Text: s} }

func Number(d decimal.Decimal) Value { return Value{Kind: KindNumber, Number: d} }

func Int(n int64) Value { return Number(decimal.NewFromInt(n)) }

func Date(t time.Time) Value { return Value{Kind: KindDate, Time: t.UTC()} }

func Range(from, to time.Time) Value {
	return Value{Kind: KindRange, Time: from.UTC(), End: to.UTC()}
}

func Bool(b bool) Value { return Value{Kind: KindBoolean, Bool: b} }

func List(items []string) Value {
	return Value{Kind: KindList, Items: slices.Clone(items)}
}

func Refs(ids []int64) Value {
	return Value{Kind: KindItemRef, Refs: slices.Clone(ids)}
}

func Error(reason string) Value { return Value{Kind: KindError, Reason: reason} }

func Stale() Value { return Value{Kind: KindStale} }

func NotLinked() Value { return Value{Kind: KindNotLinked} }

// IsEmpty reports whether v carries no user-visible data. Stale and
// not-linked sentinels count as empty; errors do not.
func (v Value) IsEmpty() bool {
	switch v.Kind {
	case KindEmpty, KindStale, KindNotLinked:
		return true
	case KindText:
		return v.Text == ""
	case KindList:
		return len(v.Items) == 0
	case KindItemRef:
		return len(v.Refs) == 0
	}
	return false
}

// IsSentinel reports whether v is one of the derived-cell markers.
func (v Value) IsSentinel() bool {
	return v.Kind == KindError || v.Kind == KindStale || v.Kind == KindNotLinked
}

func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindText:
		return v.Text == o.Text
	case KindNumber:
		return v.Number.Equal(o.Number)
	case KindDate:
		return v.Time.Equal(o.Time)
	case KindRange:
		return v.Time.Equal(o.Time) && v.End.Equal(o.End)
	case KindBoolean:
		return v.Bool == o.Bool
	case KindList:
		return slices.Equal(v.Items, o.Items)
	case KindItemRef:
		return slices.Equal(v.Refs, o.Refs)
	case KindError:
		return v.Reason == o.Reason
	}
	return true
}

func (v Value) String() string {
	switch v.Kind {
	case KindEmpty:
		return ""
	case KindText:
		return v.Text
	case KindNumber:
		return v.Number.String()
	case KindDate:
		return FormatTime(v.Time)
	case KindRange:
		return FormatTime(v.Time) + " - " + FormatTime(v.End)
	case KindBoolean:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindList:
		return strings.Join(v.Items, ", ")
	case KindItemRef:
		parts := make([]string, len(v.Refs))
		for i, id := range v.Refs {
			parts[i] = fmt.Sprintf("#%d", id)
		}
		return strings.Join(parts, ", ")
	case KindError:
		return "ERROR"
	case KindStale:
		return "STALE"
	}
	return ""
}

// FormatTime renders midnight timestamps as plain dates.
func FormatTime(t time.Time) string {
	t = t.UTC()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.RFC3339)
}

type wire struct {
	Kind    Kind       `json:"kind"`
	Text    *string    `json:"text,omitempty"`
	Number  *string    `json:"number,omitempty"`
	Date    *time.Time `json:"date,omitempty"`
	From    *time.Time `json:"from,omitempty"`
	To      *time.Time `json:"to,omitempty"`
	Bool    *bool      `json:"bool,omitempty"`
	Items   []string   `json:"items,omitempty"`
	ItemIDs []int64    `json:"itemIds,omitempty"`
	Reason  string     `json:"reason,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.Kind == KindEmpty {
		return []byte("null"), nil
	}
	w := wire{Kind: v.Kind}
	switch v.Kind {
	case KindText:
		w.Text = &v.Text
	case KindNumber:
		s := v.Number.String()
		w.Number = &s
	case KindDate:
		w.Date = &v.Time
	case KindRange:
		w.From, w.To = &v.Time, &v.End
	case KindBoolean:
		w.Bool = &v.Bool
	case KindList:
		w.Items = v.Items
		if w.Items == nil {
			w.Items = []string{}
		}
	case KindItemRef:
		w.ItemIDs = v.Refs
		if w.ItemIDs == nil {
			w.ItemIDs = []int64{}
		}
	case KindError:
		w.Reason = v.Reason
	case KindStale, KindNotLinked:
	default:
		return nil, fmt.Errorf("marshal value: unknown kind %q", v.Kind)
	}
	return json.Marshal(w)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Empty
		return nil
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	out := Value{Kind: w.Kind}
	switch w.Kind {
	case KindEmpty:
	case KindText:
		if w.Text != nil {
			out.Text = *w.Text
		}
	case KindNumber:
		if w.Number == nil {
			return fmt.Errorf("unmarshal value: number missing")
		}
		d, err := decimal.NewFromString(*w.Number)
		if err != nil {
			return fmt.Errorf("unmarshal value: %w", err)
		}
		out.Number = d
	case KindDate:
		if w.Date == nil {
			return fmt.Errorf("unmarshal value: date missing")
		}
		out.Time = w.Date.UTC()
	case KindRange:
		if w.From == nil || w.To == nil {
			return fmt.Errorf("unmarshal value: range bounds missing")
		}
		out.Time, out.End = w.From.UTC(), w.To.UTC()
	case KindBoolean:
		out.Bool = w.Bool != nil && *w.Bool
	case KindList:
		out.Items = w.Items
	case KindItemRef:
		out.Refs = w.ItemIDs
	case KindError:
		out.Reason = w.Reason
	case KindStale, KindNotLinked:
	default:
		return fmt.Errorf("unmarshal value: unknown kind %q", w.Kind)
	}
	*v = out
	return nil
}
