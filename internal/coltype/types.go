// Package coltype is the column type registry: what each column type
// accepts, how it is indexed, compared and rendered.
package coltype

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Type string

const (
	TypeText        Type = "text"
	TypeLongText    Type = "long_text"
	TypeEmail       Type = "email"
	TypePhone       Type = "phone"
	TypeStatus      Type = "status"
	TypePriority    Type = "priority"
	TypePeople      Type = "people"
	TypeDate        Type = "date"
	TypeTimeline    Type = "timeline"
	TypeNumbers     Type = "numbers"
	TypeRating      Type = "rating"
	TypeCheckbox    Type = "checkbox"
	TypeDropdown    Type = "dropdown"
	TypeTags        Type = "tags"
	TypeFiles       Type = "files"
	TypeLink        Type = "link"
	TypeProgress    Type = "progress"
	TypeMirror      Type = "mirror"
	TypeDependency  Type = "dependency"
	TypeFormula     Type = "formula"
	TypeAutoNumber  Type = "auto_number"
	TypeCreationLog Type = "creation_log"
	TypeLastUpdated Type = "last_updated"
	TypeItemID      Type = "item_id"
)

// Class picks which shadow column a type is indexed under.
type Class int

const (
	ClassText Class = iota + 1
	ClassNumber
	ClassDate
	ClassBoolean
	ClassList
	ClassRef
	// ClassDynamic types index by the kind of the value they hold.
	ClassDynamic
)

func (c Class) String() string {
	switch c {
	case ClassText:
		return "text"
	case ClassNumber:
		return "number"
	case ClassDate:
		return "date"
	case ClassBoolean:
		return "boolean"
	case ClassList:
		return "list"
	case ClassRef:
		return "ref"
	case ClassDynamic:
		return "dynamic"
	}
	return "unknown"
}

// Settings is the per-column configuration. Which fields apply depends on
// the column type.
type Settings struct {
	Labels         []string `json:"labels,omitempty"`
	Precision      *int32   `json:"precision,omitempty"`
	Max            int      `json:"max,omitempty"`
	Formula        string   `json:"formula,omitempty"`
	LinkColumnID   int64    `json:"linkColumnId,omitempty"`
	MirrorBoardID  int64    `json:"mirrorBoardId,omitempty"`
	MirrorColumnID int64    `json:"mirrorColumnId,omitempty"`
	LinkedBoardID  int64    `json:"linkedBoardId,omitempty"`
	StatusColumnID int64    `json:"statusColumnId,omitempty"`
	WeightColumnID int64    `json:"weightColumnId,omitempty"`
}

// PrecisionOr returns the configured precision or def.
func (s Settings) PrecisionOr(def int32) int32 {
	if s.Precision == nil {
		return def
	}
	return *s.Precision
}

var (
	defaultStatusLabels   = []string{"Working on it", "Stuck", "Done"}
	defaultPriorityLabels = []string{"Critical", "High", "Medium", "Low"}
)

// LabelsFor returns the labels a status-like column accepts.
func LabelsFor(t Type, s Settings) []string {
	if len(s.Labels) > 0 {
		return s.Labels
	}
	switch t {
	case TypeStatus:
		return defaultStatusLabels
	case TypePriority:
		return defaultPriorityLabels
	}
	return nil
}

// HasLabel reports whether label is one of labels, ignoring case.
func HasLabel(labels []string, label string) bool {
	return labelIndex(labels, label) >= 0
}

func labelIndex(labels []string, label string) int {
	for i, l := range labels {
		if strings.EqualFold(strings.TrimSpace(l), strings.TrimSpace(label)) {
			return i
		}
	}
	return -1
}

// Shadow is the typed projection of a value used for indexing. At most
// one field is set.
type Shadow struct {
	Text    *string
	Number  decimal.NullDecimal
	Date    *time.Time
	Boolean *bool
}
