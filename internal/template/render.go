// internal/template/render.go
package template

import (
	"fmt"
	"strings"

	"notification-outbox/internal/models"
)

// segment is one piece of a compiled template: either a literal run or a
// {{variable}} placeholder.
type segment struct {
	literal  string
	variable string
}

// Compiled is a template body parsed once into literal/variable segments so
// rendering never rescans the string. Placeholders with no matching payload
// key render back as {{name}} untouched, so malformed payloads stay visible
// in the output instead of being silently dropped.
type Compiled struct {
	segments []segment
}

// Compile parses {{name}} placeholders out of a template string. A "{{"
// without a closing "}}" is treated as literal text.
func Compile(tmpl string) *Compiled {
	var segs []segment
	rest := tmpl

	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			break
		}
		end += start

		if start > 0 {
			segs = append(segs, segment{literal: rest[:start]})
		}
		segs = append(segs, segment{variable: rest[start+2 : end]})
		rest = rest[end+2:]
	}

	if rest != "" {
		segs = append(segs, segment{literal: rest})
	}

	return &Compiled{segments: segs}
}

// Render substitutes payload values into the compiled template.
func (c *Compiled) Render(payload map[string]interface{}) string {
	var b strings.Builder
	for _, seg := range c.segments {
		if seg.variable == "" {
			b.WriteString(seg.literal)
			continue
		}
		if val, ok := payload[seg.variable]; ok {
			b.WriteString(stringify(val))
		} else {
			b.WriteString("{{" + seg.variable + "}}")
		}
	}
	return b.String()
}

// Variables returns the distinct placeholder names in order of first use.
// Lets the admin surface flag unknown variables at template-save time.
func (c *Compiled) Variables() []string {
	seen := map[string]bool{}
	var names []string
	for _, seg := range c.segments {
		if seg.variable != "" && !seen[seg.variable] {
			seen[seg.variable] = true
			names = append(names, seg.variable)
		}
	}
	return names
}

// Render is the one-shot convenience used by the delivery worker.
func Render(tmpl string, payload map[string]interface{}) string {
	return Compile(tmpl).Render(payload)
}

// Validate returns the required variable names missing from payload.
// Presence only; types are not checked.
func Validate(schema []models.TemplateVariable, payload map[string]interface{}) []string {
	var missing []string
	for _, v := range schema {
		if !v.Required {
			continue
		}
		if _, ok := payload[v.Name]; !ok {
			missing = append(missing, v.Name)
		}
	}
	return missing
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}
