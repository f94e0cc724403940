// Package template resolves endpoint expressions against execution variables.
package template

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"time"
)

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_.-]*)\}`)

// MissingVariableError reports a ${NAME} placeholder that resolved to nothing.
type MissingVariableError struct {
	Name string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("unresolved placeholder ${%s}", e.Name)
}

// Lookup resolves a variable by name.
type Lookup func(name string) (any, bool)

// ResolveEndpoint expands ${NAME} placeholders first from vars and then from env,
// and afterwards runs Go template actions with .vars and .env in scope. env holds
// the values the engine was configured to expose; the process environment is
// never read here. The result is always a string.
func ResolveEndpoint(endpoint string, vars, env map[string]any) (string, error) {
	expanded, err := Expand(endpoint, func(name string) (any, bool) {
		if value, ok := vars[name]; ok && value != nil {
			return value, true
		}

		value, ok := env[name]

		return value, ok
	})
	if err != nil {
		return "", err
	}

	if !strings.Contains(expanded, "{{") {
		return expanded, nil
	}

	return RenderString(expanded, map[string]any{
		"vars": vars,
		"env":  env,
	})
}

// Expand replaces every ${NAME} with the stringified lookup result.
func Expand(input string, lookup Lookup) (string, error) {
	var missing error

	result := placeholder.ReplaceAllStringFunc(input, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]

		value, ok := lookup(name)
		if !ok {
			if missing == nil {
				missing = &MissingVariableError{Name: name}
			}

			return match
		}

		return Stringify(value)
	})

	if missing != nil {
		return "", missing
	}

	return result, nil
}

// Stringify formats a variable value for embedding in text.
func Stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// RenderString executes templateStr and returns the raw output.
func RenderString(templateStr string, data any) (string, error) {
	tmpl, err := parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

func parse(templateStr string) (*template.Template, error) {
	tmpl, err := template.
		New("endpoint").
		Option("missingkey=error").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(maxValue int) int {
				if maxValue <= 0 {
					return 0
				}

				num := make([]byte, 1)

				_, err := rand.Read(num)
				if err != nil {
					return 0
				}

				return int(num[0]) % maxValue
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	return tmpl, nil
}
