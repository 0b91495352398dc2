package notification

import "testing"

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		vars map[string]string
		want string
	}{
		{
			name: "simple substitution",
			tmpl: "Ticket {{ticket_id}} assigned",
			vars: map[string]string{"ticket_id": "T-100"},
			want: "Ticket T-100 assigned",
		},
		{
			name: "multiple placeholders",
			tmpl: "{{a}} and {{b}} and {{a}}",
			vars: map[string]string{"a": "x", "b": "y"},
			want: "x and y and x",
		},
		{
			name: "unresolved placeholder kept verbatim",
			tmpl: "Hello {{name}}, job {{job_id}}",
			vars: map[string]string{"name": "Ada"},
			want: "Hello Ada, job {{job_id}}",
		},
		{
			name: "nil vars",
			tmpl: "Hello {{name}}",
			vars: nil,
			want: "Hello {{name}}",
		},
		{
			name: "no placeholders",
			tmpl: "plain text",
			vars: map[string]string{"name": "Ada"},
			want: "plain text",
		},
		{
			name: "empty value substitutes",
			tmpl: "[{{gone}}]",
			vars: map[string]string{"gone": ""},
			want: "[]",
		},
		{
			name: "malformed braces untouched",
			tmpl: "{{not closed and {single}",
			vars: map[string]string{"single": "x"},
			want: "{{not closed and {single}",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderTemplate(tt.tmpl, tt.vars); got != tt.want {
				t.Errorf("RenderTemplate = %q, want %q", got, tt.want)
			}
		})
	}
}
