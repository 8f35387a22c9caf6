package domain

import "strings"

// NormalizePrompt lower-cases, trims leading/trailing whitespace and
// collapses internal whitespace runs. Two prompts that differ only in
// casing or spacing normalize to the same string and therefore share a
// fingerprint.
func NormalizePrompt(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
