package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/export"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/gitrepo"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/grid"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"domain", validationError("bad"), http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"blocked", &grid.BlockedTransitionError{ItemID: 2, Blocking: []int64{1}}, http.StatusConflict, "BLOCKED"},
		{"cycle", fmt.Errorf("add: %w", &grid.CycleError{Path: []int64{1, 2, 1}}), http.StatusConflict, "CYCLE"},
		{"rejected", &grid.WriteRejectedError{ColumnID: 3, Type: coltype.TypeFormula}, http.StatusConflict, "WRITE_REJECTED"},
		{"concurrent", &grid.ConcurrentModificationError{}, http.StatusConflict, "CONCURRENT_MODIFICATION"},
		{"self", &grid.SelfDependencyError{ItemID: 1}, http.StatusUnprocessableEntity, "SELF_DEPENDENCY"},
		{"cell", &coltype.ValidationError{ColumnID: 4, Message: "expected a number"}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"not found", fmt.Errorf("get item 9: %w", grid.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"no history", gitrepo.ErrNoHistory, http.StatusNotFound, "NOT_FOUND"},
		{"format", export.ErrUnsupportedFormat, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"pdf", export.ErrPDFDependencyMissing, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE"},
		{"cancelled", context.Canceled, http.StatusServiceUnavailable, "TIMEOUT"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _, _ := mapError(tt.err)
			if status != tt.status || code != tt.code {
				t.Errorf("mapError(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
			}
		})
	}
}

func TestMapErrorDetails(t *testing.T) {
	_, _, _, details := mapError(&coltype.ValidationError{ColumnID: 4, Message: "expected a number"})
	if d, ok := details.(map[string]any); !ok || d["columnId"] != int64(4) {
		t.Errorf("expected columnId details, got %v", details)
	}
	if _, _, _, details := mapError(&coltype.ValidationError{Message: "view: bad"}); details != nil {
		t.Errorf("expected no details without a column, got %v", details)
	}
}
