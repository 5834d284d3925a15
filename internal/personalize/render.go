// Package personalize substitutes template-style placeholders in message
// content. Placeholders use literal double braces around a key, tolerate
// inner whitespace and match keys case-insensitively: "{{ name }}", "{{NAME}}"
// and "{{name}}" are equivalent. Placeholders without a matching key are left
// untouched.
package personalize

import (
	"regexp"

	"github.com/example/dispatch-service/internal/store"
)

// Render substitutes per-recipient values: the contact's name and phone under
// a localized and an English alias each, plus every key of the contact's
// metadata map. Runs at send time so one campaign can greet each recipient by
// name, in addition to any campaign-level RenderVars pass at creation time.
func Render(text string, c store.Contact) string {
	values := map[string]string{
		"name": c.Name,
		"nom":  c.Name,
	}
	if c.Phone != nil {
		values["phone"] = *c.Phone
		values["telephone"] = *c.Phone
	}
	for k, v := range c.Metadata {
		values[k] = v
	}
	return RenderVars(text, values)
}

// RenderVars replaces every occurrence of "{{ key }}" for each key in vars.
// Used on its own for campaign-level variables supplied at creation time.
func RenderVars(text string, vars map[string]string) string {
	for key, value := range vars {
		if key == "" {
			continue
		}
		text = placeholderPattern(key).ReplaceAllLiteralString(text, value)
	}
	return text
}

func placeholderPattern(key string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\{\{\s*` + regexp.QuoteMeta(key) + `\s*\}\}`)
}
