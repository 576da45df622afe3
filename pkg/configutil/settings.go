package configutil

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/harunnryd/vocalink/pkg/errorsx"
	"github.com/mitchellh/mapstructure"
)

// DecodeSettings decodes a free-form provider settings map into a typed struct.
func DecodeSettings(input map[string]any, out any) error {
	if len(input) == 0 {
		return nil
	}
	cfg := &mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           out,
		WeaklyTypedInput: true,
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	return nil
}

// RequireString ensures a value is present for a required config field.
func RequireString(value, path string) error {
	if strings.TrimSpace(value) == "" {
		return errorsx.Newf(errorsx.ReasonConfigInvalid, "%s is required", path)
	}
	return nil
}

// RequireOrigin parses an endpoint origin. Only http and https origins are
// accepted; a trailing slash is dropped.
func RequireOrigin(value, path string) (*url.URL, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errorsx.Newf(errorsx.ReasonConfigInvalidURL, "%s is required", path)
	}
	u, err := url.Parse(strings.TrimRight(value, "/"))
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("%s: %w", path, err), errorsx.ReasonConfigInvalidURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errorsx.Newf(errorsx.ReasonConfigInvalidURL, "%s: unsupported scheme %q", path, u.Scheme)
	}
	if u.Host == "" {
		return nil, errorsx.Newf(errorsx.ReasonConfigInvalidURL, "%s: missing host", path)
	}
	return u, nil
}

// StringValue returns fallback when value is blank.
func StringValue(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// IntValue returns fallback when value is nil.
func IntValue(value *int, fallback int) int {
	if value == nil {
		return fallback
	}
	return *value
}

func normalizeKey(value string) string {
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", "")
	value = strings.ReplaceAll(value, "-", "")
	return value
}
