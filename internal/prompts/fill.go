package prompts

import (
	"regexp"
	"strings"
)

var (
	blockRegex       = regexp.MustCompile(`(?s)\{\{#(\w+)\}\}(.*?)\{\{/(\w+)\}\}`)
	placeholderRegex = regexp.MustCompile(`\{\{(\w+)\}\}`)
	variableRegex    = regexp.MustCompile(`\{\{[#/]?(\w+)\}\}`)
)

// Fill substitutes values into a template.
//
// A block {{#name}}...{{/name}} is kept without its markers when values[name] is
// non-empty and removed entirely otherwise. Blocks do not nest. Every remaining
// {{name}} is replaced by its value, or by nothing when absent. Substituted values
// are never expanded again. The result is trimmed.
func Fill(template string, values map[string]string) string {
	out := blockRegex.ReplaceAllStringFunc(template, func(match string) string {
		m := blockRegex.FindStringSubmatch(match)
		if m[1] != m[3] {
			return match
		}
		if values[m[1]] == "" {
			return ""
		}
		return m[2]
	})

	out = placeholderRegex.ReplaceAllStringFunc(out, func(match string) string {
		return values[placeholderRegex.FindStringSubmatch(match)[1]]
	})

	return strings.TrimSpace(out)
}

// ParseTemplateVariables extracts the distinct variable names of a template in
// order of first appearance, including block names.
func ParseTemplateVariables(templateContent string) []string {
	seen := make(map[string]bool)
	var vars []string
	for _, match := range variableRegex.FindAllStringSubmatch(templateContent, -1) {
		if !seen[match[1]] {
			seen[match[1]] = true
			vars = append(vars, match[1])
		}
	}
	return vars
}
