// Package supplychain models the linear workflow that chains provider
// calls: ordered links, the field couplings that feed each link, and
// the validation rules that make a chain usable.
package supplychain

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harborline/procurer/requisition"
)

// TimeUnit is the unit of a link's pre-call wait interval.
type TimeUnit string

const (
	UnitSeconds TimeUnit = "s"
	UnitMinutes TimeUnit = "m"
	UnitHours   TimeUnit = "h"
	UnitDays    TimeUnit = "d"
)

// Duration converts the unit into its length in seconds.
func (u TimeUnit) Duration() time.Duration {
	switch u {
	case UnitMinutes:
		return time.Minute
	case UnitHours:
		return time.Hour
	case UnitDays:
		return 24 * time.Hour
	default:
		return time.Second
	}
}

// ParseTimeUnit converts a configuration string into a TimeUnit.
func ParseTimeUnit(s string) (TimeUnit, error) {
	switch TimeUnit(s) {
	case UnitSeconds, UnitMinutes, UnitHours, UnitDays:
		return TimeUnit(s), nil
	case "":
		return UnitSeconds, nil
	default:
		return "", fmt.Errorf("unknown time unit: %s", s)
	}
}

// FieldCoupling maps one input-dictionary key onto one parameter of a
// link's requisition.
type FieldCoupling struct {
	FieldName string
	Parameter *requisition.ParameterSpec
}

// String identifies the coupling in validation errors.
func (c *FieldCoupling) String() string {
	return fmt.Sprintf("FieldCoupling(%s->%s)", c.FieldName, c.Parameter.Name)
}

// Validate reports whether the coupled field of data satisfies the
// parameter spec.
func (c *FieldCoupling) Validate(data map[string]any) bool {
	return c.Parameter.Validate(data[c.FieldName])
}

// SupplyLink is one step of a chain: a requisition, an ordered
// position, a wait interval applied before the call, and the couplings
// that translate chain input into requisition parameters.
//
// Couplings must not change after the link is first used; the derived
// coupling and input-field maps are computed once.
type SupplyLink struct {
	ID          string
	Name        string
	Requisition *requisition.Requisition
	Position    int
	WaitTime    int
	Unit        TimeUnit
	Couplings   []*FieldCoupling

	couplingOnce sync.Once
	coupling     map[string]string

	fieldsOnce  sync.Once
	inputFields map[string]requisition.ParamType
}

// Coupling returns the field-name to parameter-name rename map.
func (l *SupplyLink) Coupling() map[string]string {
	l.couplingOnce.Do(func() {
		l.coupling = make(map[string]string, len(l.Couplings))
		for _, c := range l.Couplings {
			l.coupling[c.FieldName] = c.Parameter.Name
		}
	})
	return l.coupling
}

// InputFields returns the field-name to parameter-type map derived from
// the link's couplings.
func (l *SupplyLink) InputFields() map[string]requisition.ParamType {
	l.fieldsOnce.Do(func() {
		l.inputFields = make(map[string]requisition.ParamType, len(l.Couplings))
		for _, c := range l.Couplings {
			l.inputFields[c.FieldName] = c.Parameter.Type
		}
	})
	return l.inputFields
}

// Errors lists every required parameter of the requisition that lacks a
// coupling. A non-empty result means the link is structurally invalid.
func (l *SupplyLink) Errors() []string {
	coupled := make(map[string]bool, len(l.Couplings))
	for _, c := range l.Couplings {
		coupled[c.Parameter.Name] = true
	}

	var errs []string
	for _, p := range l.Requisition.RequiredParameters() {
		if !coupled[p.Name] {
			errs = append(errs, fmt.Sprintf("A FieldCoupling is missing for Parameter %s, which is required.", p.Name))
		}
	}
	return errs
}

// ValidateInput checks data against every coupling. Failure lists each
// offending coupling.
func (l *SupplyLink) ValidateInput(data map[string]any) error {
	var invalid []string
	for _, c := range l.Couplings {
		if !c.Validate(data) {
			invalid = append(invalid, c.String())
		}
	}
	if len(invalid) > 0 {
		return &ValidationError{Couplings: invalid}
	}
	return nil
}

// Params renames data keys into requisition parameter names using the
// coupling map. Keys without a coupling are dropped.
func (l *SupplyLink) Params(data map[string]any) map[string]any {
	params := make(map[string]any, len(l.Couplings))
	for field, param := range l.Coupling() {
		if v, ok := data[field]; ok {
			params[param] = v
		}
	}
	return params
}

// Countdown is the wait applied before the link's provider call.
func (l *SupplyLink) Countdown() time.Duration {
	return time.Duration(l.WaitTime) * l.Unit.Duration()
}

// SupplyChain is an ordered, non-empty list of supply links. The first
// link defines the chain's input contract; the last link's supplier
// names the platform of the final output.
type SupplyChain struct {
	ID    string
	Name  string
	Links []*SupplyLink
}

// OrderedLinks returns the links sorted by ascending position.
func (c *SupplyChain) OrderedLinks() []*SupplyLink {
	links := make([]*SupplyLink, len(c.Links))
	copy(links, c.Links)
	sort.SliceStable(links, func(i, j int) bool { return links[i].Position < links[j].Position })
	return links
}

// First returns the lowest-position link, or nil for an empty chain.
func (c *SupplyChain) First() *SupplyLink {
	links := c.OrderedLinks()
	if len(links) == 0 {
		return nil
	}
	return links[0]
}

// Last returns the highest-position link, or nil for an empty chain.
func (c *SupplyChain) Last() *SupplyLink {
	links := c.OrderedLinks()
	if len(links) == 0 {
		return nil
	}
	return links[len(links)-1]
}

// InputFields delegates to the first link.
func (c *SupplyChain) InputFields() map[string]requisition.ParamType {
	first := c.First()
	if first == nil {
		return nil
	}
	return first.InputFields()
}

// Platform returns the supplier name of the last link.
func (c *SupplyChain) Platform() string {
	last := c.Last()
	if last == nil {
		return ""
	}
	return last.Requisition.Supplier
}

// Errors reports every structural problem with the chain.
func (c *SupplyChain) Errors() []string {
	if len(c.Links) == 0 {
		return []string{"SupplyChain has no SupplyLinks."}
	}
	var errs []string
	for _, l := range c.OrderedLinks() {
		errs = append(errs, l.Errors()...)
	}
	return errs
}

// ValidateInput delegates to the first link.
func (c *SupplyChain) ValidateInput(data map[string]any) error {
	first := c.First()
	if first == nil {
		return &ConfigError{Chain: c.Name, Problems: []string{"SupplyChain has no SupplyLinks."}}
	}
	return first.ValidateInput(data)
}

// Validate checks the chain is usable: it has links, positions are
// unique, and every link has couplings for its required parameters.
func (c *SupplyChain) Validate() error {
	problems := c.Errors()

	seen := make(map[int]bool, len(c.Links))
	for _, l := range c.Links {
		if seen[l.Position] {
			problems = append(problems, fmt.Sprintf("duplicate position %d", l.Position))
		}
		seen[l.Position] = true
	}

	if len(problems) > 0 {
		return &ConfigError{Chain: c.Name, Problems: problems}
	}
	return nil
}
