package flowtype

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// CompileFlow parses one flow type declaration from its CUE value.
//
// name is the unquoted field label under the top-level flow struct:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`flow: PaymentFlow: initiatedBy: {protocol: "payment", version: 1}`)
//	decl, err := CompileFlow("PaymentFlow", v.LookupPath(cue.ParsePath("flow.PaymentFlow")))
func CompileFlow(name string, v cue.Value) (*Declaration, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if v.IncompleteKind() != cue.StructKind {
		return nil, &CompileError{
			Field:   "flow." + name,
			Message: "flow declaration must be a struct",
			Pos:     v.Pos(),
		}
	}

	decl := &Declaration{Name: name}

	extendsVal := v.LookupPath(cue.ParsePath("extends"))
	if extendsVal.Exists() {
		parent, err := extendsVal.String()
		if err != nil {
			return nil, &CompileError{
				Field:   "extends",
				Message: "extends must be a flow type name",
				Pos:     extendsVal.Pos(),
			}
		}
		decl.Extends = parent
	}

	annVal := v.LookupPath(cue.ParsePath("initiatedBy"))
	if annVal.Exists() {
		ann, err := parseAnnotation(annVal)
		if err != nil {
			return nil, err
		}
		decl.InitiatedBy = ann
	}

	return decl, nil
}

// parseAnnotation reads {protocol: string, version: int}.
func parseAnnotation(v cue.Value) (*Annotation, error) {
	protoVal := v.LookupPath(cue.ParsePath("protocol"))
	if !protoVal.Exists() {
		return nil, &CompileError{
			Field:   "initiatedBy.protocol",
			Message: "protocol is required",
			Pos:     v.Pos(),
		}
	}
	protocol, err := protoVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}

	versionVal := v.LookupPath(cue.ParsePath("version"))
	if !versionVal.Exists() {
		return nil, &CompileError{
			Field:   "initiatedBy.version",
			Message: "version is required",
			Pos:     v.Pos(),
		}
	}
	if k := versionVal.IncompleteKind(); k != cue.IntKind {
		return nil, &CompileError{
			Field:   "initiatedBy.version",
			Message: fmt.Sprintf("version must be an int, got %v", k),
			Pos:     versionVal.Pos(),
		}
	}
	version, err := versionVal.Int64()
	if err != nil {
		return nil, formatCUEError(err)
	}

	return &Annotation{Protocol: protocol, Version: int(version)}, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
