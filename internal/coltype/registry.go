package coltype

import (
	"slices"
	"strings"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
)

type validateFunc func(t Type, s Settings, raw any) (value.Value, error)

type compareFunc func(t Type, s Settings, a, b value.Value) int

// Capability describes one column type.
type Capability struct {
	Type    Type
	Class   Class
	Derived bool

	validate validateFunc
	compare  compareFunc
}

var registry = map[Type]Capability{
	TypeText:        {Type: TypeText, Class: ClassText, validate: validateText},
	TypeLongText:    {Type: TypeLongText, Class: ClassText, validate: validateText},
	TypeEmail:       {Type: TypeEmail, Class: ClassText, validate: validateEmail},
	TypePhone:       {Type: TypePhone, Class: ClassText, validate: validatePhone},
	TypeStatus:      {Type: TypeStatus, Class: ClassText, validate: validateLabel, compare: compareLabel},
	TypePriority:    {Type: TypePriority, Class: ClassText, validate: validateLabel, compare: compareLabel},
	TypePeople:      {Type: TypePeople, Class: ClassList, validate: validatePeople},
	TypeDate:        {Type: TypeDate, Class: ClassDate, validate: validateDate},
	TypeTimeline:    {Type: TypeTimeline, Class: ClassDate, validate: validateTimeline},
	TypeNumbers:     {Type: TypeNumbers, Class: ClassNumber, validate: validateNumber},
	TypeRating:      {Type: TypeRating, Class: ClassNumber, validate: validateRating},
	TypeCheckbox:    {Type: TypeCheckbox, Class: ClassBoolean, validate: validateCheckbox},
	TypeDropdown:    {Type: TypeDropdown, Class: ClassList, validate: validateDropdown},
	TypeTags:        {Type: TypeTags, Class: ClassList, validate: validateTags},
	TypeFiles:       {Type: TypeFiles, Class: ClassList, validate: validateFiles},
	TypeLink:        {Type: TypeLink, Class: ClassRef, validate: validateRefs},
	TypeProgress:    {Type: TypeProgress, Class: ClassNumber, validate: validateProgress},
	TypeDependency:  {Type: TypeDependency, Class: ClassRef, validate: validateRefs},
	TypeMirror:      {Type: TypeMirror, Class: ClassDynamic, Derived: true},
	TypeFormula:     {Type: TypeFormula, Class: ClassDynamic, Derived: true},
	TypeAutoNumber:  {Type: TypeAutoNumber, Class: ClassNumber, Derived: true},
	TypeCreationLog: {Type: TypeCreationLog, Class: ClassDate, Derived: true},
	TypeLastUpdated: {Type: TypeLastUpdated, Class: ClassDate, Derived: true},
	TypeItemID:      {Type: TypeItemID, Class: ClassNumber, Derived: true},
}

// Lookup returns the capability record for t.
func Lookup(t Type) (Capability, bool) {
	c, ok := registry[t]
	return c, ok
}

// Types lists every registered type in a stable order.
func Types() []Type {
	out := make([]Type, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

func (t Type) Valid() bool {
	_, ok := registry[t]
	return ok
}

// Validate checks raw against the type and returns its canonical value.
// A nil raw clears the cell.
func (c Capability) Validate(s Settings, raw any) (value.Value, error) {
	if raw == nil {
		return value.Empty, nil
	}
	if c.Derived || c.validate == nil {
		return value.Empty, invalid(c.Type, "column is computed")
	}
	if v, ok := raw.(value.Value); ok {
		if v.Kind == value.KindEmpty {
			return value.Empty, nil
		}
		raw = rawOf(v)
	}
	return c.validate(c.Type, s, raw)
}

// Shadow projects v onto the type's index column.
func (c Capability) Shadow(v value.Value) Shadow {
	if v.IsSentinel() || v.Kind == value.KindEmpty {
		return Shadow{}
	}
	class := c.Class
	if class == ClassDynamic {
		class = classOfKind(v.Kind)
	}
	var sh Shadow
	switch class {
	case ClassText, ClassList, ClassRef:
		s := v.String()
		sh.Text = &s
	case ClassNumber:
		if v.Kind == value.KindNumber {
			sh.Number.Decimal, sh.Number.Valid = v.Number, true
		}
	case ClassDate:
		if v.Kind == value.KindDate || v.Kind == value.KindRange {
			t := v.Time
			sh.Date = &t
		}
	case ClassBoolean:
		if v.Kind == value.KindBoolean {
			b := v.Bool
			sh.Boolean = &b
		}
	}
	return sh
}

func classOfKind(k value.Kind) Class {
	switch k {
	case value.KindNumber:
		return ClassNumber
	case value.KindDate, value.KindRange:
		return ClassDate
	case value.KindBoolean:
		return ClassBoolean
	case value.KindList:
		return ClassList
	case value.KindItemRef:
		return ClassRef
	}
	return ClassText
}

// Compare orders two values of this type. Empty values sort after
// everything else.
func (c Capability) Compare(s Settings, a, b value.Value) int {
	ae, be := a.IsEmpty(), b.IsEmpty()
	switch {
	case ae && be:
		return 0
	case ae:
		return 1
	case be:
		return -1
	}
	if c.compare != nil && a.Kind == value.KindText && b.Kind == value.KindText {
		return c.compare(c.Type, s, a, b)
	}
	return CompareValues(a, b)
}

// Format renders v for display.
func (c Capability) Format(s Settings, v value.Value) string {
	if v.Kind == value.KindNumber && s.Precision != nil && (c.Type == TypeNumbers || c.Type == TypeFormula) {
		return v.Number.StringFixed(*s.Precision)
	}
	return v.String()
}

var kindRank = map[value.Kind]int{
	value.KindNumber:  1,
	value.KindDate:    2,
	value.KindRange:   2,
	value.KindText:    3,
	value.KindBoolean: 4,
	value.KindList:    5,
	value.KindItemRef: 6,
	value.KindError:   7,
}

// CompareValues is the kind-level ordering shared by every type.
func CompareValues(a, b value.Value) int {
	if a.Kind != b.Kind {
		if (a.Kind == value.KindDate || a.Kind == value.KindRange) &&
			(b.Kind == value.KindDate || b.Kind == value.KindRange) {
			return a.Time.Compare(b.Time)
		}
		return kindRank[a.Kind] - kindRank[b.Kind]
	}
	switch a.Kind {
	case value.KindNumber:
		return a.Number.Cmp(b.Number)
	case value.KindDate:
		return a.Time.Compare(b.Time)
	case value.KindRange:
		if c := a.Time.Compare(b.Time); c != 0 {
			return c
		}
		return a.End.Compare(b.End)
	case value.KindBoolean:
		switch {
		case a.Bool == b.Bool:
			return 0
		case !a.Bool:
			return -1
		}
		return 1
	case value.KindItemRef:
		return slices.Compare(a.Refs, b.Refs)
	case value.KindError:
		return strings.Compare(a.Reason, b.Reason)
	}
	return compareText(a.String(), b.String())
}

func compareText(a, b string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

func compareLabel(t Type, s Settings, a, b value.Value) int {
	labels := LabelsFor(t, s)
	ai, bi := labelIndex(labels, a.Text), labelIndex(labels, b.Text)
	switch {
	case ai >= 0 && bi >= 0:
		return ai - bi
	case ai >= 0:
		return -1
	case bi >= 0:
		return 1
	}
	return compareText(a.Text, b.Text)
}

// rawOf turns an already-typed value back into the loose shape Validate
// accepts, so stored values can be revalidated.
func rawOf(v value.Value) any {
	switch v.Kind {
	case value.KindText:
		return v.Text
	case value.KindNumber:
		return v.Number
	case value.KindDate:
		return v.Time
	case value.KindRange:
		return map[string]any{"from": v.Time, "to": v.End}
	case value.KindBoolean:
		return v.Bool
	case value.KindList:
		return slices.Clone(v.Items)
	case value.KindItemRef:
		return slices.Clone(v.Refs)
	}
	return v.String()
}
