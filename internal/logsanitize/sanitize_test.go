package logsanitize

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "SessionName", "SessionName"},
		{"newline", "user\nlevel=INFO", "user_level=INFO"},
		{"carriage return", "a\rb", "a_b"},
		{"tab kept", "a\tb", "a\tb"},
		{"del", "a\x7fb", "a_b"},
		{"c1", "a\u0085b", "a_b"},
		{"unicode", "héllo", "héllo"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeTruncates(t *testing.T) {
	got := Sanitize(strings.Repeat("x", MaxLen+10))
	want := strings.Repeat("x", MaxLen) + "..."
	if got != want {
		t.Errorf("len(Sanitize) = %d, want %d", len(got), len(want))
	}
}
