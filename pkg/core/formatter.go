package core

import (
	"fmt"
	"sort"
	"strings"
)

// FormatAttributes renders attributes as an indented block, keys sorted.
// Long values are truncated to 100 characters.
func FormatAttributes(attrs map[string]any) string {
	if len(attrs) == 0 {
		return ""
	}

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("\n  Attributes:")
	for _, key := range keys {
		value := fmt.Sprintf("%v", attrs[key])
		if len(value) > 100 {
			value = value[:97] + "..."
		}
		fmt.Fprintf(&b, "\n    %s: %s", key, value)
	}
	return b.String()
}
