package utils

import (
	"errors"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

func ProcessValidationErrors(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}

	errorResponse := make(map[string]string)
	for _, ve := range validationErrors {
		errorResponse[ve.Namespace()] = ve.Tag()
	}
	return errorResponse
}

// ValidationSummary renders ProcessValidationErrors as "Field:tag, ..." in stable order.
func ValidationSummary(err error) string {
	fields := ProcessValidationErrors(err)
	if len(fields) == 0 {
		return ErrorMessage(err)
	}
	parts := make([]string, 0, len(fields))
	for f, tag := range fields {
		parts = append(parts, f+":"+tag)
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
