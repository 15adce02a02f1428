package core

import "fmt"

// ValidationError reports that the catalog rejected a resource update as
// structurally invalid. Detail carries the catalog's own description of the
// rejection so the run report can reproduce it.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return "catalog rejected resource update"
	}
	return fmt.Sprintf("catalog rejected resource update: %s", e.Detail)
}

// MissingFieldError reports a malformed resource record: a field the
// migration cannot proceed without was absent or empty.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("resource record is missing required field %q", e.Field)
}
