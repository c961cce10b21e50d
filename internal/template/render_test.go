// internal/template/render_test.go
package template

import (
	"testing"

	"notification-outbox/internal/models"

	"github.com/stretchr/testify/assert"
)

// ==========================
// Rendering Tests
// ==========================

func TestRender_Substitution(t *testing.T) {
	tests := []struct {
		name     string
		template string
		payload  map[string]interface{}
		expected string
	}{
		{
			name:     "single variable",
			template: "Hello {{name}}!",
			payload:  map[string]interface{}{"name": "Priya"},
			expected: "Hello Priya!",
		},
		{
			name:     "repeated variable",
			template: "{{name}} and {{name}} again",
			payload:  map[string]interface{}{"name": "Priya"},
			expected: "Priya and Priya again",
		},
		{
			name:     "multiple variables",
			template: "Fee of {{amount}} due on {{dueDate}}",
			payload:  map[string]interface{}{"amount": "1500", "dueDate": "2026-09-01"},
			expected: "Fee of 1500 due on 2026-09-01",
		},
		{
			name:     "unknown variable stays visible",
			template: "Hello {{name}}, fee {{amount}}",
			payload:  map[string]interface{}{"name": "Priya"},
			expected: "Hello Priya, fee {{amount}}",
		},
		{
			name:     "no variables",
			template: "Plain text body",
			payload:  map[string]interface{}{"name": "unused"},
			expected: "Plain text body",
		},
		{
			name:     "unclosed placeholder is literal",
			template: "Broken {{name",
			payload:  map[string]interface{}{"name": "Priya"},
			expected: "Broken {{name",
		},
		{
			name:     "non-string value formatted",
			template: "Attempt {{count}}",
			payload:  map[string]interface{}{"count": 3},
			expected: "Attempt 3",
		},
		{
			name:     "nil value renders empty",
			template: "Note: {{note}}",
			payload:  map[string]interface{}{"note": nil},
			expected: "Note: ",
		},
		{
			name:     "empty template",
			template: "",
			payload:  map[string]interface{}{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Render(tt.template, tt.payload))
		})
	}
}

func TestCompile_RenderIsRepeatable(t *testing.T) {
	c := Compile("Hi {{name}}, your code is {{code}}")

	first := c.Render(map[string]interface{}{"name": "A", "code": "1"})
	second := c.Render(map[string]interface{}{"name": "B", "code": "2"})

	assert.Equal(t, "Hi A, your code is 1", first)
	assert.Equal(t, "Hi B, your code is 2", second)
}

func TestCompiled_Variables(t *testing.T) {
	c := Compile("{{a}} {{b}} {{a}} text {{c}}")
	assert.Equal(t, []string{"a", "b", "c"}, c.Variables())

	assert.Empty(t, Compile("no placeholders").Variables())
}

// ==========================
// Validation Tests
// ==========================

func TestValidate_MissingRequiredVariables(t *testing.T) {
	schema := []models.TemplateVariable{
		{Name: "studentName", Required: true},
		{Name: "amount", Required: true},
		{Name: "note", Required: false},
	}

	tests := []struct {
		name    string
		payload map[string]interface{}
		missing []string
	}{
		{
			name:    "all present",
			payload: map[string]interface{}{"studentName": "Priya", "amount": "1500"},
			missing: nil,
		},
		{
			name:    "one missing",
			payload: map[string]interface{}{"studentName": "Priya"},
			missing: []string{"amount"},
		},
		{
			name:    "all required missing",
			payload: map[string]interface{}{"note": "extra"},
			missing: []string{"studentName", "amount"},
		},
		{
			name:    "optional missing is fine",
			payload: map[string]interface{}{"studentName": "Priya", "amount": "1500"},
			missing: nil,
		},
		{
			name:    "present but nil still counts as present",
			payload: map[string]interface{}{"studentName": nil, "amount": "1500"},
			missing: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.missing, Validate(schema, tt.payload))
		})
	}
}
