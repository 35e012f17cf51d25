package schema

import (
	"sort"
	"strings"
)

// ConfigurationError reports structurally invalid declarations or wiring.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

func newConfigurationError(messages []Message) *ConfigurationError {
	texts := make([]string, 0, len(messages))
	for _, m := range messages {
		texts = append(texts, m.String())
	}
	return &ConfigurationError{Message: "invalid declarations: " + strings.Join(texts, "; ")}
}

func sortStrings(s []string) {
	sort.Strings(s)
}
