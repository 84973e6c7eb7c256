// Package entitlement derives a user's subscription state from paid-order
// history. Everything here is pure: no I/O, no clock, no logging.
package entitlement

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/DukeRupert/tally/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// descriptionKeys are read from a provider-response blob, first match wins.
var descriptionKeys = []string{"description", "subject", "body"}

// ParseTier extracts the plan tier from an order. It reads the direct
// description first and falls back to the provider-response blob. The second
// return value is false when the plan cannot be identified; such orders are
// skipped by the calculator, never treated as errors.
func ParseTier(o domain.PaidOrder) (domain.Tier, bool) {
	text := strings.TrimSpace(o.PlanDescription)
	if text == "" {
		text = nestedDescription(o.ProviderResponse)
	}
	return TierFromText(text)
}

// TierFromText matches plan vocabulary in free text, case-insensitively.
func TierFromText(text string) (domain.Tier, bool) {
	if text == "" {
		return domain.TierNone, false
	}
	folded := cases.Lower(language.Und).String(text)
	switch {
	case strings.Contains(folded, "monthly"):
		return domain.TierMonthly, true
	case strings.Contains(folded, "yearly"):
		return domain.TierYearly, true
	}
	return domain.TierNone, false
}

// nestedDescription reads the description out of a provider-response blob
// stored either as a JSON object or as a JSON string holding one. Malformed
// input yields "".
func nestedDescription(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		raw = bytes.TrimSpace([]byte(s))
	}
	if len(raw) == 0 || raw[0] != '{' {
		return ""
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	return describe(obj)
}

func describe(obj map[string]json.RawMessage) string {
	for _, key := range descriptionKeys {
		if v, ok := stringField(obj, key); ok && v != "" {
			return v
		}
	}

	// PayPal order resources carry the description per purchase unit.
	if units, ok := obj["purchase_units"]; ok {
		var list []map[string]json.RawMessage
		if err := json.Unmarshal(units, &list); err == nil {
			for _, unit := range list {
				if v, ok := stringField(unit, "description"); ok && v != "" {
					return v
				}
			}
		}
	}
	return ""
}

func stringField(obj map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := obj[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return strings.TrimSpace(s), true
}
