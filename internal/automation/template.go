package automation

import "regexp"

var tokenPattern = regexp.MustCompile(`(?i)\{\{\s*([a-z0-9_.]+)\s*\}\}`)

// Render substitutes {{ namespace.field }} tokens in template with values
// from vars. Unknown tokens render as the empty string. Substituted text is
// not scanned again.
func Render(template string, vars Variables) string {
	if template == "" {
		return ""
	}
	return tokenPattern.ReplaceAllStringFunc(template, func(token string) string {
		match := tokenPattern.FindStringSubmatch(token)
		if len(match) < 2 {
			return ""
		}
		return vars[match[1]]
	})
}
