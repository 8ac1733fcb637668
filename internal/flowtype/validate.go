package flowtype

import "fmt"

// Validation error codes (E200-E209).
const (
	ErrEmptyName      = "E201" // declaration has no name
	ErrDuplicateName  = "E202" // name declared twice
	ErrUnknownParent  = "E203" // extends names an undeclared type
	ErrInheritCycle   = "E204" // extends chain loops
	ErrEmptyProtocol  = "E205" // initiatedBy without a protocol
	ErrInvalidVersion = "E206" // initiatedBy version < 1
)

// ValidationError is one problem found in a declaration set.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a declaration set and returns every problem found, in
// declaration order, followed by any inheritance cycles. NewRegistry
// succeeds exactly when Validate returns nothing.
func Validate(decls []Declaration) []ValidationError {
	var errs []ValidationError

	declared := make(map[string]bool, len(decls))
	for _, d := range decls {
		if d.Name == "" {
			errs = append(errs, ValidationError{Field: "name", Message: "flow type name is required", Code: ErrEmptyName})
			continue
		}
		if declared[d.Name] {
			errs = append(errs, ValidationError{Field: d.Name, Message: "flow type declared twice", Code: ErrDuplicateName})
		}
		declared[d.Name] = true
	}

	for _, d := range decls {
		if d.Name == "" {
			continue
		}
		if d.Extends != "" && !declared[d.Extends] {
			errs = append(errs, ValidationError{
				Field:   d.Name + ".extends",
				Message: fmt.Sprintf("unknown parent type %s", d.Extends),
				Code:    ErrUnknownParent,
			})
		}
		if d.InitiatedBy != nil {
			if d.InitiatedBy.Protocol == "" {
				errs = append(errs, ValidationError{
					Field:   d.Name + ".initiatedBy.protocol",
					Message: "protocol is required",
					Code:    ErrEmptyProtocol,
				})
			}
			if d.InitiatedBy.Version < 1 {
				errs = append(errs, ValidationError{
					Field:   d.Name + ".initiatedBy.version",
					Message: fmt.Sprintf("version %d must be >= 1", d.InitiatedBy.Version),
					Code:    ErrInvalidVersion,
				})
			}
		}
	}

	for _, c := range FindCycles(decls) {
		errs = append(errs, ValidationError{Field: c.Path[0], Message: c.Message, Code: ErrInheritCycle})
	}

	return errs
}
