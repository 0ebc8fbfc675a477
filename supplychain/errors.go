package supplychain

import "strings"

// ConfigError reports a structurally unusable chain: no links, missing
// required couplings, or duplicate positions. Raised to the submitter;
// no order is created.
type ConfigError struct {
	Chain    string
	Problems []string
}

func (e *ConfigError) Error() string {
	return "supply chain " + e.Chain + " is misconfigured: " + strings.Join(e.Problems, "; ")
}

// ValidationError reports input data that failed coupling validation.
// Raised to the submitter; no order is created.
type ValidationError struct {
	Couplings []string
}

func (e *ValidationError) Error() string {
	return "The following couplings were invalid: " + quotedList(e.Couplings)
}

func quotedList(items []string) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, s := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('\'')
		b.WriteString(s)
		b.WriteByte('\'')
	}
	b.WriteByte(']')
	return b.String()
}
