// Package grading compares answers against answer keys.
package grading

import "strings"

// Match grades a response: equality after trimming surrounding whitespace, ignoring case.
func Match(submitted, key string) bool {
	return strings.EqualFold(strings.TrimSpace(submitted), strings.TrimSpace(key))
}

// Contains reports whether the trimmed key equals one of the options exactly.
// Content validation uses this stricter, case-sensitive rule.
func Contains(options []string, key string) bool {
	key = strings.TrimSpace(key)
	for _, o := range options {
		if o == key {
			return true
		}
	}
	return false
}
