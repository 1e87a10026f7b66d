package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/export"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/gitrepo"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/grid"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

// fieldErrors turns validator output into one message per JSON field.
func fieldErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		details[fe.Field()] = msg
	}
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid request body", details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var (
		validationErr *coltype.ValidationError
		rejectedErr   *grid.WriteRejectedError
		cycleErr      *grid.CycleError
		selfErr       *grid.SelfDependencyError
		blockedErr    *grid.BlockedTransitionError
		concurrentErr *grid.ConcurrentModificationError
	)
	switch {
	case errors.As(err, &blockedErr):
		return http.StatusConflict, "BLOCKED", blockedErr.Error(), map[string]any{"blocking": blockedErr.Blocking}
	case errors.As(err, &cycleErr):
		return http.StatusConflict, "CYCLE", cycleErr.Error(), map[string]any{"path": cycleErr.Path}
	case errors.As(err, &rejectedErr):
		return http.StatusConflict, "WRITE_REJECTED", rejectedErr.Error(), map[string]any{"columnId": rejectedErr.ColumnID}
	case errors.As(err, &concurrentErr):
		return http.StatusConflict, "CONCURRENT_MODIFICATION", concurrentErr.Error(), nil
	case errors.As(err, &selfErr):
		return http.StatusUnprocessableEntity, "SELF_DEPENDENCY", selfErr.Error(), nil
	case errors.As(err, &validationErr):
		var details any
		if validationErr.ColumnID != 0 {
			details = map[string]any{"columnId": validationErr.ColumnID}
		}
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Message, details
	case errors.Is(err, grid.ErrNotFound), errors.Is(err, gitrepo.ErrNoHistory):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be csv, pdf or docx", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing), errors.Is(err, export.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "TIMEOUT", "Request cancelled", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
