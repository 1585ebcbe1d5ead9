// Package pattern expands branch path templates into concrete repository
// locations. Resolution is a pure function: no I/O, no side effects.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultTemplate is the system-wide path template used when a branch carries
// no override.
const DefaultTemplate = "{project}/{component_lower}/{branch}"

// Values supplies the substitution values for a template. ProjectKey,
// Component, and Branch are required by any template that references them;
// BuildDate and BuildNumber are only known at download time and may be empty
// for prefix resolution.
type Values struct {
	ProjectKey  string
	Component   string
	Branch      string
	BuildDate   string
	BuildNumber string
}

// TemplateError reports an unresolvable template: an unrecognized placeholder
// or a referenced value that is absent.
type TemplateError struct {
	Template    string
	Placeholder string
	Reason      string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %q: placeholder %q: %s", e.Template, e.Placeholder, e.Reason)
}

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// Resolve expands every placeholder in the template. Recognized placeholders:
// {project}, {component}, {component_lower}, {branch}, {build_date},
// {build_number}.
func Resolve(template string, v Values) (string, error) {
	lookup := map[string]string{
		"project":         v.ProjectKey,
		"component":       v.Component,
		"component_lower": strings.ToLower(v.Component),
		"branch":          v.Branch,
		"build_date":      v.BuildDate,
		"build_number":    v.BuildNumber,
	}

	var resolveErr error
	resolved := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := strings.Trim(m, "{}")
		value, ok := lookup[name]
		if !ok {
			if resolveErr == nil {
				resolveErr = &TemplateError{Template: template, Placeholder: name, Reason: "unrecognized placeholder"}
			}
			return m
		}
		if value == "" {
			if resolveErr == nil {
				resolveErr = &TemplateError{Template: template, Placeholder: name, Reason: "no substitution value"}
			}
			return m
		}
		return value
	})
	if resolveErr != nil {
		return "", resolveErr
	}

	// Reject malformed templates with stray braces, e.g. "{Project}".
	if i := strings.IndexAny(resolved, "{}"); i >= 0 {
		return "", &TemplateError{Template: template, Placeholder: resolved[i:], Reason: "malformed placeholder"}
	}

	return strings.Trim(resolved, "/"), nil
}
