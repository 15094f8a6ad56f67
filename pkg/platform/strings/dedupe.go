// Package strings provides string slice utilities.
package strings

import "strings"

// DedupeAndTrim removes duplicates and blank entries from a slice, trimming
// whitespace from each element. Order is preserved. Batch endpoints run their
// id lists through this so a client retry with repeated ids does not hit the
// provider twice.
//
// Example:
//
//	DedupeAndTrim([]string{"  a ", "b", "a", "", "  "})
//	// Returns: []string{"a", "b"}
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}
