package personalize

import (
	"testing"

	"github.com/example/dispatch-service/internal/store"
)

func strPtr(s string) *string { return &s }

func TestRender(t *testing.T) {
	contact := store.Contact{
		Name:  "Jean Dupont",
		Phone: strPtr("+33612345678"),
		Metadata: map[string]string{
			"ville":   "Paris",
			"company": "ACME",
		},
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "english alias",
			input:    "Hello {{name}}",
			expected: "Hello Jean Dupont",
		},
		{
			name:     "localized alias",
			input:    "Bonjour {{nom}}",
			expected: "Bonjour Jean Dupont",
		},
		{
			name:     "whitespace tolerant",
			input:    "Hello {{  name  }}",
			expected: "Hello Jean Dupont",
		},
		{
			name:     "case insensitive",
			input:    "Hello {{NAME}} / {{Telephone}}",
			expected: "Hello Jean Dupont / +33612345678",
		},
		{
			name:     "metadata keys",
			input:    "{{ville}} - {{company}}",
			expected: "Paris - ACME",
		},
		{
			name:     "unmatched placeholder untouched",
			input:    "Hi {{name}}, code: {{code}}",
			expected: "Hi Jean Dupont, code: {{code}}",
		},
		{
			name:     "no placeholders is a no-op",
			input:    "plain text, no braces",
			expected: "plain text, no braces",
		},
		{
			name:     "repeated placeholder",
			input:    "{{name}} {{name}}",
			expected: "Jean Dupont Jean Dupont",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Render(tc.input, contact); got != tc.expected {
				t.Fatalf("Render(%q)=%q, expected %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestRenderNoPhone(t *testing.T) {
	contact := store.Contact{Name: "Ada"}
	if got := Render("{{name}}: {{phone}}", contact); got != "Ada: {{phone}}" {
		t.Fatalf("got %q, expected phone placeholder untouched", got)
	}
}

func TestRenderVars(t *testing.T) {
	vars := map[string]string{"date": "2024-06-01", "lieu": "Lyon"}
	got := RenderVars("RDV le {{ date }} a {{LIEU}} ({{autre}})", vars)
	expected := "RDV le 2024-06-01 a Lyon ({{autre}})"
	if got != expected {
		t.Fatalf("got %q, expected %q", got, expected)
	}
}
