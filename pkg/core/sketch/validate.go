package sketch

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validator checks actions structurally: field shapes, vocabularies and
// per-kind required fields. It does not look at any graph; referential checks
// belong to the applier.
type Validator struct {
	validate *validator.Validate
}

// NewValidator builds a Validator with the sketch vocabularies registered.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	mustRegister(v, "action_kind", oneOf(Kinds))
	mustRegister(v, "node_type", oneOf(NodeTypes))
	mustRegister(v, "node_color", oneOf(Colors))
	mustRegister(v, "node_position", oneOf(Positions))
	mustRegister(v, "sketch_id", func(fl validator.FieldLevel) bool {
		return idPattern.MatchString(fl.Field().String())
	})
	v.RegisterStructValidation(actionKindRules, Action{})

	return &Validator{validate: v}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("sketch: register %s: %v", tag, err))
	}
}

func oneOf[T ~string](allowed []T) validator.Func {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[string(a)] = struct{}{}
	}
	return func(fl validator.FieldLevel) bool {
		_, ok := set[fl.Field().String()]
		return ok
	}
}

// actionKindRules enforces the fields each kind cannot do without.
func actionKindRules(sl validator.StructLevel) {
	a := sl.Current().Interface().(Action)
	switch a.Kind {
	case KindCreateNode:
		if strings.TrimSpace(a.LabelOr("")) == "" {
			sl.ReportError(a.Label, "label", "Label", "required_for_create_node", "")
		}
		if a.Type == nil {
			sl.ReportError(a.Type, "type", "Type", "required_for_create_node", "")
		}
	case KindCreateEdge:
		if strings.TrimSpace(a.Source()) == "" {
			sl.ReportError(a.SourceID, "source_id", "SourceID", "required_for_create_edge", "")
		}
		if strings.TrimSpace(a.Target()) == "" {
			sl.ReportError(a.TargetID, "target_id", "TargetID", "required_for_create_edge", "")
		}
	}
}

// Issue is one structural problem, addressed by JSON path.
type Issue struct {
	Path    string
	Message string
}

// ValidationError aggregates every Issue found in one response.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "invalid actions"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, is.Path+": "+is.Message)
	}
	return "invalid actions: " + strings.Join(parts, "; ")
}

// ValidateResponse checks r and returns a *ValidationError listing all issues.
func (v *Validator) ValidateResponse(r *Response) error {
	return v.toValidationError(v.validate.Struct(r))
}

func (v *Validator) toValidationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Issues: make([]Issue, 0, len(verrs))}
	for _, fe := range verrs {
		out.Issues = append(out.Issues, Issue{
			Path:    trimRootNamespace(fe.Namespace()),
			Message: describe(fe),
		})
	}
	return out
}

func trimRootNamespace(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gte", "lte":
		return "must be between 0 and 1"
	case "sketch_id":
		return "must contain only letters, digits, '_' or '-'"
	case "action_kind":
		return fmt.Sprintf("unknown action %q; expected one of %s", fe.Value(), joinVocab(Kinds))
	case "node_type":
		return fmt.Sprintf("unknown node type %v; expected one of %s", deref(fe.Value()), joinVocab(NodeTypes))
	case "node_color":
		return fmt.Sprintf("unknown color %v; expected one of %s", deref(fe.Value()), joinVocab(Colors))
	case "node_position":
		return fmt.Sprintf("unknown position %v; expected one of %s", deref(fe.Value()), joinVocab(Positions))
	case "required_for_create_node":
		return "is required for create_node"
	case "required_for_create_edge":
		return "is required for create_edge"
	default:
		return "failed " + fe.Tag()
	}
}

func deref(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		return fmt.Sprintf("%q", rv.Elem().Interface())
	}
	return fmt.Sprintf("%q", v)
}

func joinVocab[T ~string](vals []T) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}

// JoinVocab renders a vocabulary as a comma separated list.
func JoinVocab[T ~string](vals []T) string { return joinVocab(vals) }
