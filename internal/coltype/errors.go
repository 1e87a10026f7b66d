package coltype

import "fmt"

// ValidationError reports a value or setting that does not fit its column.
type ValidationError struct {
	ColumnID int64
	Type     Type
	Message  string
}

func (e *ValidationError) Error() string {
	if e.ColumnID != 0 {
		return fmt.Sprintf("column %d (%s): %s", e.ColumnID, e.Type, e.Message)
	}
	if e.Type != "" {
		return fmt.Sprintf("invalid %s value: %s", e.Type, e.Message)
	}
	return e.Message
}

func invalid(t Type, format string, args ...any) error {
	return &ValidationError{Type: t, Message: fmt.Sprintf(format, args...)}
}
