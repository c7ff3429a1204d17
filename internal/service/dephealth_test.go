package service

import "testing"

// TestJWKSHealthPath проверяет выбор пути проверки JWKS endpoint.
func TestJWKSHealthPath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"путь JWKS", "https://kc.example.org/realms/intake/protocol/openid-connect/certs",
			"/realms/intake/protocol/openid-connect/certs"},
		{"без пути", "https://kc.example.org", "/health"},
		{"некорректный URL", "://bad", "/health"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := jwksHealthPath(tt.input); got != tt.want {
				t.Errorf("jwksHealthPath(%q) = %q, ожидалось %q", tt.input, got, tt.want)
			}
		})
	}
}
