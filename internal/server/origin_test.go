package server

import (
	"net/http/httptest"
	"testing"
)

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"allowed origin", []string{"http://localhost:8080"}, "http://localhost:8080", true},
		{"case insensitive", []string{"http://LocalHost:8080"}, "HTTP://localhost:8080", true},
		{"other origin", []string{"http://localhost:8080"}, "http://evil.example", false},
		{"missing origin", []string{"http://localhost:8080"}, "", false},
		{"malformed origin", []string{"*"}, "not a url", false},
		{"wildcard", []string{"*"}, "https://anything.example", true},
		{"invalid config entry ignored", []string{"bogus", "http://ok.example"}, "http://ok.example", true},
		{"empty allowlist", nil, "http://localhost:8080", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newOriginPolicy(tt.allowed)
			r := httptest.NewRequest("GET", "/ws/1", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := p.checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
