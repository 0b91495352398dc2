package notification

import "regexp"

// templateVar matches literal {{key}} placeholders. The engine's template
// contract is plain substitution: no pipelines, no conditionals, and
// placeholders without a matching variable are left verbatim, which rules
// out text/template.
var templateVar = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}`)

// RenderTemplate substitutes {{key}} placeholders in tmpl with values from
// vars. Unresolved placeholders are kept as-is.
func RenderTemplate(tmpl string, vars map[string]string) string {
	if len(vars) == 0 {
		return tmpl
	}
	return templateVar.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := templateVar.FindStringSubmatch(match)[1]
		if val, ok := vars[key]; ok {
			return val
		}
		return match
	})
}
