package inputs

import (
	"fmt"
	"strings"
)

// Config is a key-value map for input-type-specific configuration.
// The backend passes it when creating an input; implementations interpret it.
type Config map[string]any

// String returns the trimmed string value of key, or "" if absent or not a string.
func (c Config) String(key string) string {
	s, _ := c[key].(string)
	return strings.TrimSpace(s)
}

// Validate checks c against the required fields of info.
func (c Config) Validate(info TypeInfo) error {
	for _, f := range info.Fields {
		if !f.Required {
			continue
		}
		v, ok := c[f.Name]
		if !ok || v == nil {
			return fmt.Errorf("%s input: missing %q", info.Type, f.Name)
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s input: empty %q", info.Type, f.Name)
		}
	}
	return nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}
