package core

import "strings"

// OverrideKind classifies the raw content of an edit buffer.
type OverrideKind int

const (
	// OverrideUnset means no edit is in progress for the category.
	OverrideUnset OverrideKind = iota
	// OverrideIncomplete is input that is not yet decidable: an empty
	// string or a trailing decimal separator while the user is typing.
	OverrideIncomplete
	// OverrideInvalid is input that can never become a non-negative number.
	OverrideInvalid
	// OverrideValid carries a parsed non-negative amount.
	OverrideValid
)

// Override is the parsed form of an in-flight edit value. It is computed
// once per update so consumers never re-parse the raw string.
type Override struct {
	Kind   OverrideKind
	Raw    string
	Amount Money // meaningful only when Kind == OverrideValid
}

// Unset is the zero override, present for readability at call sites.
var Unset = Override{Kind: OverrideUnset}

// ParseOverride classifies a raw edit-buffer string.
func ParseOverride(raw string) Override {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Override{Kind: OverrideIncomplete, Raw: raw}
	}
	norm := strings.ReplaceAll(s, ",", ".")
	if strings.HasSuffix(norm, ".") && strings.Count(norm, ".") == 1 {
		// "12." during typing: wait for the user to finish.
		head := strings.TrimSuffix(norm, ".")
		if head == "" || allDigits(head) {
			return Override{Kind: OverrideIncomplete, Raw: raw}
		}
	}
	cents, err := ParseAmountCents(s)
	if err != nil {
		return Override{Kind: OverrideInvalid, Raw: raw}
	}
	return Override{Kind: OverrideValid, Raw: raw, Amount: Money{Cents: cents}}
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Numeric reports whether the override carries a usable amount.
func (o Override) Numeric() bool {
	return o.Kind == OverrideValid
}
