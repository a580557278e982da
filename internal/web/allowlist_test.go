package web

import "testing"

func TestParseCIDRAllowlist(t *testing.T) {
	allow, err := ParseCIDRAllowlist([]string{"10.0.0.0/8", "192.0.2.7", "localhost"})
	if err != nil {
		t.Fatalf("ParseCIDRAllowlist: %v", err)
	}

	tests := []struct {
		host string
		want bool
	}{
		{"10.1.2.3", true},
		{"192.0.2.7", true},
		{"192.0.2.8", false},
		{"127.0.0.1", true},
		{"::1", true},
		{"203.0.113.9", false},
		{"fe80::1%eth0", false},
		{"not-an-ip", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := allow.Allows(tt.host); got != tt.want {
			t.Errorf("Allows(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestParseCIDRAllowlistEmpty(t *testing.T) {
	allow, err := ParseCIDRAllowlist([]string{"", "  "})
	if err != nil {
		t.Fatalf("ParseCIDRAllowlist: %v", err)
	}
	if allow != nil {
		t.Fatal("expected nil allowlist for empty entries")
	}
	if !allow.Allows("203.0.113.9") {
		t.Fatal("nil allowlist must permit everything")
	}
}

func TestParseCIDRAllowlistInvalid(t *testing.T) {
	if _, err := ParseCIDRAllowlist([]string{"10.0.0.0/99"}); err == nil {
		t.Fatal("expected error for invalid prefix")
	}
	if _, err := ParseCIDRAllowlist([]string{"not-an-ip"}); err == nil {
		t.Fatal("expected error for invalid address")
	}
}
