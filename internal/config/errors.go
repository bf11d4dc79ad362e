// Package config implements layered INI configuration resolution for the
// bears harness. Sources merge in a fixed precedence order (base file ->
// defaults file -> product layers -> environment overrides), last-wins per
// key, into a single section/key namespace guarded for concurrent reads.
package config

import (
	"fmt"
	"sort"
	"strings"
)

// ConfigError reports a configuration namespace that is unusable after all
// layers merged, typically a missing mandatory base key. Details carries the
// field values involved so callers can assert on the failure kind without
// parsing the message.
type ConfigError struct {
	Message string
	Details map[string]string
}

func (e *ConfigError) Error() string {
	if len(e.Details) == 0 {
		return "config: " + e.Message
	}

	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, e.Details[k]))
	}

	return fmt.Sprintf("config: %s (%s)", e.Message, strings.Join(parts, " "))
}
