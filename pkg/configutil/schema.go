package configutil

import (
	"slices"
	"strings"

	"github.com/harunnryd/vocalink/pkg/errorsx"
)

// Schema lists the keys a provider_settings map may carry. Key matching
// ignores case, underscores and hyphens.
type Schema struct {
	Required     []string
	Optional     []string
	AllowUnknown bool
}

// SettingsError names the offending keys, sorted.
type SettingsError struct {
	Missing []string
	Unknown []string
}

func (e *SettingsError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(e.Unknown, ", "))
	}
	return strings.Join(parts, "; ")
}

// ValidateSettings checks input against schema. Failures wrap a
// *SettingsError with ReasonConfigInvalid.
func ValidateSettings(input map[string]any, schema Schema) error {
	known := make(map[string]bool, len(schema.Required)+len(schema.Optional))
	for _, k := range schema.Optional {
		known[normalizeKey(k)] = true
	}
	for _, k := range schema.Required {
		known[normalizeKey(k)] = true
	}

	present := make(map[string]any, len(input))
	serr := &SettingsError{}
	for k, v := range input {
		nk := normalizeKey(k)
		present[nk] = v
		if !known[nk] && !schema.AllowUnknown {
			serr.Unknown = append(serr.Unknown, k)
		}
	}
	for _, k := range schema.Required {
		v, ok := present[normalizeKey(k)]
		if !ok || isBlank(v) {
			serr.Missing = append(serr.Missing, k)
		}
	}

	if len(serr.Missing) == 0 && len(serr.Unknown) == 0 {
		return nil
	}
	slices.Sort(serr.Missing)
	slices.Sort(serr.Unknown)
	return errorsx.Wrap(serr, errorsx.ReasonConfigInvalid)
}

func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	default:
		return false
	}
}
