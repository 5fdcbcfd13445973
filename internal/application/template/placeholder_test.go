package template

import (
	"reflect"
	"testing"
)

func TestSubstitute(t *testing.T) {
	cases := []struct {
		name string
		tpl  string
		vars map[string]string
		want string
	}{
		{"simple", "Hello {{name}}", map[string]string{"name": "Ana"}, "Hello Ana"},
		{"missing variable becomes empty", "Hi {{x}}", map[string]string{}, "Hi "},
		{"nil vars", "Hi {{x}}!", nil, "Hi !"},
		{"repeated marker", "{{a}}-{{a}}", map[string]string{"a": "1"}, "1-1"},
		{"inner whitespace", "Dear {{ patientName }},", map[string]string{"patientName": "Mr Lee"}, "Dear Mr Lee,"},
		{"no recursion", "{{a}}", map[string]string{"a": "{{b}}", "b": "boom"}, "{{b}}"},
		{"unterminated marker left alone", "{{a} and {b}}", map[string]string{"a": "x", "b": "y"}, "{{a} and {b}}"},
		{"empty template", "", map[string]string{"a": "x"}, ""},
		{"dotted name", "{{patient.dob}}", map[string]string{"patient.dob": "1970-01-01"}, "1970-01-01"},
		{"adjacent markers", "{{a}}{{b}}", map[string]string{"a": "x", "b": "y"}, "xy"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Substitute(tc.tpl, tc.vars); got != tc.want {
				t.Fatalf("Substitute(%q) = %q, want %q", tc.tpl, got, tc.want)
			}
		})
	}
}

// 缺失的必填变量（如患者姓名）不会报错，只能通过 Missing 观察到
func TestMissingRequiredVariableIsPermissive(t *testing.T) {
	tpl := "Letter for {{patientName}} regarding {{condition}}"
	vars := map[string]string{"condition": "asthma"}

	if got := Substitute(tpl, vars); got != "Letter for  regarding asthma" {
		t.Fatalf("Substitute = %q", got)
	}
	if got := Missing(tpl, vars); !reflect.DeepEqual(got, []string{"patientName"}) {
		t.Fatalf("Missing = %v", got)
	}
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders("{{b}} {{a}} {{ b }} {{c}}")
	want := []string{"b", "a", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Placeholders = %v, want %v", got, want)
	}
	if len(Placeholders("plain text")) != 0 {
		t.Fatal("expected no placeholders")
	}
}
