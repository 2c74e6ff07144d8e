package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the numeric bounds and closed enumerations of a config
// built outside Parse.
func Validate(cfg *SimulationConfig) error {
	d := &decoder{lines: map[string]int{}, skipped: map[string]bool{}}
	return d.validate(cfg)
}

func (d *decoder) validate(cfg *SimulationConfig) error {
	v := structValidator()
	if err := d.check(v.Struct(cfg), "SimulationConfig", "SimulationConfig"); err != nil {
		return err
	}
	if cfg.Socket == nil && cfg.Potential == nil {
		return &ParseError{Field: "SimulationConfig", Msg: "no force provider declared"}
	}
	if cfg.Socket != nil && cfg.Potential != nil {
		return &ParseError{Field: "SimulationConfig", Msg: "exactly one force provider may be declared"}
	}
	if cfg.System.Motion == nil {
		return &ParseError{Field: "SimulationConfig.System.Motion", Msg: "missing motion"}
	}
	return d.validateMotion(cfg.System.Motion, "SimulationConfig.System.Motion")
}

func (d *decoder) validateMotion(m Motion, ns string) error {
	v := structValidator()
	switch m := m.(type) {
	case DynamicsMotion:
		return d.check(v.Struct(m), "DynamicsMotion", ns)
	case MultiMotion:
		if len(m.Motions) == 0 {
			return &ParseError{Field: ns, Line: d.lines[ns], Msg: "multi motion has no children"}
		}
		for i, child := range m.Motions {
			if err := d.validateMotion(child, fmt.Sprintf("%s.Motions[%d]", ns, i)); err != nil {
				return err
			}
		}
		return nil
	case MinimizeMotion:
		return d.check(v.Struct(m), "MinimizeMotion", ns)
	case DummyMotion:
		return nil
	}
	return &ParseError{Field: ns, Line: d.lines[ns], Msg: fmt.Sprintf("unknown motion %T", m)}
}

// check turns the first validator failure that does not sit on an
// unresolved placeholder into a ParseError. root is the namespace prefix
// produced by the validator, replaced by ns.
func (d *decoder) check(err error, root, ns string) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: validate: %w", err)
	}
	for _, fe := range verrs {
		field := ns + strings.TrimPrefix(fe.StructNamespace(), root)
		if d.skipped[field] || d.dependsOnSkipped(fe, field) {
			continue
		}
		return &ParseError{Field: field, Line: d.lines[field], Msg: describe(fe)}
	}
	return nil
}

func (d *decoder) dependsOnSkipped(fe validator.FieldError, field string) bool {
	if !strings.HasSuffix(fe.Tag(), "field") {
		return false
	}
	i := strings.LastIndex(field, ".")
	return d.skipped[field[:i+1]+fe.Param()]
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return fmt.Sprintf("is required when %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %v", fe.Param(), fe.Value())
	case "min", "gte":
		return fmt.Sprintf("must be >= %s, got %v", fe.Param(), fe.Value())
	case "max", "lte":
		return fmt.Sprintf("must be <= %s, got %v", fe.Param(), fe.Value())
	case "gt":
		return fmt.Sprintf("must be > %s, got %v", fe.Param(), fe.Value())
	case "ltefield":
		return fmt.Sprintf("must not exceed %s, got %v", fe.Param(), fe.Value())
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}
