package util

import "testing"

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "clean string",
			input:    "Hello World",
			expected: "Hello World",
		},
		{
			name:     "string with newline",
			input:    "Hello\nWorld",
			expected: "Hello World",
		},
		{
			name:     "string with carriage return and newline",
			input:    "Hello\r\nWorld",
			expected: "Hello World",
		},
		{
			name:     "string with multiple newlines",
			input:    "Hello\nWorld\nTest",
			expected: "Hello World Test",
		},
		{
			name:     "string with control characters",
			input:    "Hello\x00\x01\x1FWorld",
			expected: "Hello World",
		},
		{
			name:     "string with DEL character (0x7F)",
			input:    "Hello\x7FWorld",
			expected: "Hello World",
		},
		{
			name:     "complex string with mixed control chars",
			input:    "Line1\r\nLine2\nLine3\x00\x01\x7F",
			expected: "Line1 Line2 Line3 ",
		},
		{
			name:     "string with tabs (0x09 is control char)",
			input:    "Hello\tWorld",
			expected: "Hello World",
		},
		{
			name:     "string with only control chars",
			input:    "\x00\x01\x02\x1F\x7F",
			expected: " ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeForLog(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeForLog(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestTruncateForLog(t *testing.T) {
	if got := TruncateForLog("short", 10); got != "short" {
		t.Errorf("unexpected truncation: %q", got)
	}
	if got := TruncateForLog("abcdef", 3); got != "abc" {
		t.Errorf("TruncateForLog = %q, want abc", got)
	}
	// "é" is two bytes; cutting in the middle must drop it entirely.
	if got := TruncateForLog("aé", 2); got != "a" {
		t.Errorf("TruncateForLog split a rune: %q", got)
	}
}

func TestNormalizeIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"203.0.113.7", "203.0.113.7", true},
		{" 2001:DB8::1 ", "2001:db8::1", true},
		{"::ffff:192.0.2.1", "192.0.2.1", true},
		{"fe80::1%eth0", "fe80::1", true},
		{"example.com", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeIP(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("NormalizeIP(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
