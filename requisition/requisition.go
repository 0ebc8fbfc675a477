// Package requisition describes third-party API endpoints and the typed
// parameter schemas that govern what input they accept.
package requisition

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParamType enumerates the value types a parameter can declare.
type ParamType string

const (
	TypeString ParamType = "string"
	TypeInt    ParamType = "int"
	TypeFloat  ParamType = "float"
	TypeBool   ParamType = "bool"
)

// ParseParamType converts a configuration string into a ParamType.
func ParseParamType(s string) (ParamType, error) {
	switch ParamType(strings.ToLower(s)) {
	case TypeString, TypeInt, TypeFloat, TypeBool:
		return ParamType(strings.ToLower(s)), nil
	case "":
		return TypeString, nil
	default:
		return "", fmt.Errorf("unknown parameter type: %s", s)
	}
}

// Supplier identifies a provider ecosystem (e.g. "virustotal").
// Suppliers are configured out of band and referenced by name.
type Supplier struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// Choice is one allowed (value, label) pair for a parameter.
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// ParameterSpec declares one endpoint parameter.
type ParameterSpec struct {
	Name     string    `json:"name"`
	Type     ParamType `json:"type"`
	Default  string    `json:"default,omitempty"`
	Choices  []Choice  `json:"choices,omitempty"`
	Required bool      `json:"required"`
	HelpText string    `json:"help_text,omitempty"`
}

// Validate reports whether value satisfies the spec. A nil value or an
// empty string counts as absent: acceptable for optional parameters,
// a failure for required ones.
func (p *ParameterSpec) Validate(value any) bool {
	s := stringForm(value)
	if s == "" {
		return !p.Required
	}
	return p.parses(s)
}

// CheckDefault verifies the declared default parses as the declared
// type. Called once at catalog load so misconfigured defaults fail
// before any order references them.
func (p *ParameterSpec) CheckDefault() error {
	if p.Default == "" {
		return nil
	}
	if !p.parses(p.Default) {
		return fmt.Errorf("parameter %s: default %q is not a valid %s", p.Name, p.Default, p.Type)
	}
	return nil
}

func (p *ParameterSpec) parses(s string) bool {
	switch p.Type {
	case TypeInt:
		_, err := strconv.ParseInt(s, 10, 64)
		return err == nil
	case TypeFloat:
		_, err := strconv.ParseFloat(s, 64)
		return err == nil
	case TypeBool:
		switch strings.ToLower(s) {
		case "true", "false":
			return true
		}
		return false
	default:
		return true
	}
}

// stringForm renders a dynamic input value for validation. Provider
// payloads arrive as string-keyed maps of JSON values, so anything can
// show up here.
func stringForm(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Requisition describes one API endpoint: its supplier, api class, URL
// and parameter schema. (Supplier, APIClass) is unique within a catalog
// and selects the request handler.
type Requisition struct {
	ID           string           `json:"id"`
	Supplier     string           `json:"supplier"`
	APIClass     string           `json:"api_class"`
	URL          string           `json:"url"`
	VisaRequired bool             `json:"visa_required"`
	Parameters   []*ParameterSpec `json:"parameters"`
}

// Key returns the lookup key used by the handler registry and by
// quartermaster endpoint sets.
func (r *Requisition) Key() string {
	return r.Supplier + ":" + r.APIClass
}

// Parameter returns the named parameter spec, or nil.
func (r *Requisition) Parameter(name string) *ParameterSpec {
	for _, p := range r.Parameters {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// RequiredParameters returns the specs that must be supplied, sorted by
// name for stable error reporting.
func (r *Requisition) RequiredParameters() []*ParameterSpec {
	var required []*ParameterSpec
	for _, p := range r.Parameters {
		if p.Required {
			required = append(required, p)
		}
	}
	sort.Slice(required, func(i, j int) bool { return required[i].Name < required[j].Name })
	return required
}

// Validate checks input against every declared parameter.
func (r *Requisition) Validate(input map[string]any) error {
	var bad []string
	for _, p := range r.Parameters {
		if !p.Validate(input[p.Name]) {
			bad = append(bad, p.Name)
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return fmt.Errorf("invalid values for parameters: %s", strings.Join(bad, ", "))
	}
	return nil
}

// BuildParams copies each declared parameter's value, or its default
// when the value is absent, into a fresh map keyed by parameter name.
// Undeclared input keys are dropped.
func (r *Requisition) BuildParams(input map[string]any) map[string]any {
	params := make(map[string]any, len(r.Parameters))
	for _, p := range r.Parameters {
		v, ok := input[p.Name]
		if !ok || stringForm(v) == "" {
			if p.Default == "" {
				continue
			}
			v = p.Default
		}
		params[p.Name] = v
	}
	return params
}
