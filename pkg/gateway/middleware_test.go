package gateway

import (
	"encoding/base64"
	"net/http/httptest"
	"testing"
)

func base64Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func base64Decode(s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	return string(raw), err
}

func TestIsLoopbackBindAddress(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:4590", true},
		{"localhost:4590", true},
		{"[::1]:4590", true},
		{"0.0.0.0:4590", false},
		{"[::]:4590", false},
		{"192.168.1.10:4590", false},
		{"example.com:4590", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			if got := isLoopbackBindAddress(tt.addr); got != tt.want {
				t.Errorf("isLoopbackBindAddress(%q) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		query     string
		want      string
		fromQuery bool
	}{
		{"header", "Bearer abc123", "", "abc123", false},
		{"header case insensitive", "bearer abc123", "", "abc123", false},
		{"query", "", "tok456", "tok456", true},
		{"header beats query", "Bearer abc", "tok", "abc", false},
		{"neither", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/projects"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest("GET", target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, fromQuery := extractBearerToken(req)
			if got != tt.want || fromQuery != tt.fromQuery {
				t.Errorf("extractBearerToken() = (%q, %v), want (%q, %v)", got, fromQuery, tt.want, tt.fromQuery)
			}
		})
	}
}

func TestIntToUint16(t *testing.T) {
	tests := []struct {
		name   string
		value  int
		want   uint16
		wantOK bool
	}{
		{"zero", 0, 0, false},
		{"negative", -1, 0, false},
		{"typical cols", 80, 80, true},
		{"max uint16", 65535, 65535, true},
		{"over max", 65536, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := intToUint16(tt.value)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("intToUint16(%d) = (%d, %v), want (%d, %v)", tt.value, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestIsWebSocketOriginAllowed(t *testing.T) {
	s := &Server{}
	s.cfg.AllowedOrigins = []string{"http://localhost:3000"}

	tests := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{"no origin header", "", "127.0.0.1:4590", true},
		{"same host", "http://127.0.0.1:4590", "127.0.0.1:4590", true},
		{"allowed origin", "http://localhost:3000", "127.0.0.1:4590", true},
		{"unlisted origin", "http://evil.example", "127.0.0.1:4590", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/projects/demo/jobs/j/stream", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := s.isWebSocketOriginAllowed(req); got != tt.want {
				t.Errorf("isWebSocketOriginAllowed() = %v, want %v", got, tt.want)
			}
		})
	}
}
