// Package sanitize cleans popup markup before it is mounted into a page.
// Scripts, event handlers and javascript: URLs are removed; popup JS travels
// separately and runs through the trigger engine's script boundary.
package sanitize

import (
	"regexp"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.UGCPolicy()

		// Popup layouts are built from classes, ids and inline styles.
		policy.AllowAttrs("class", "id", "style").Globally()
		policy.AllowDataAttributes()
		policy.AllowStyling()

		policy.AllowElements("section", "header", "footer", "figure", "figcaption", "button", "span", "div")
		policy.AllowAttrs("type").OnElements("button")
		policy.AllowAttrs("target", "rel").OnElements("a")

		// Sign-up forms are the most common popup body.
		policy.AllowElements("form", "input", "label", "select", "option", "textarea")
		policy.AllowAttrs("action", "method").OnElements("form")
		policy.AllowAttrs("type", "name", "value", "placeholder", "required", "checked").OnElements("input")
		policy.AllowAttrs("for").OnElements("label")
		policy.AllowAttrs("name").OnElements("select", "textarea")
		policy.AllowAttrs("value", "selected").OnElements("option")
	})
	return policy
}

// HTML sanitizes popup container markup.
func HTML(input string) string {
	if input == "" {
		return ""
	}
	return getPolicy().Sanitize(input)
}

var styleBreakoutRe = regexp.MustCompile(`(?i)</\s*style`)

// CSS neutralizes sequences that would close the surrounding <style> element.
func CSS(input string) string {
	return styleBreakoutRe.ReplaceAllString(input, `<\/style`)
}
