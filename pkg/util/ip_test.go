package util

import (
	"testing"
)

func TestParseIPv4Prefix(t *testing.T) {
	tests := []struct {
		name    string
		cidr    string
		want    string
		wantErr bool
	}{
		{name: "valid /24", cidr: "192.0.2.0/24", want: "192.0.2.0/24"},
		{name: "valid /8", cidr: "10.0.0.0/8", want: "10.0.0.0/8"},
		{name: "surrounding whitespace", cidr: " 198.51.100.0/24\n", want: "198.51.100.0/24"},
		{name: "host bits set", cidr: "192.0.2.1/24", wantErr: true},
		{name: "ipv6", cidr: "2001:db8::/32", wantErr: true},
		{name: "no mask", cidr: "192.0.2.0", wantErr: true},
		{name: "garbage", cidr: "not-a-prefix", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIPv4Prefix(tt.cidr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseIPv4Prefix(%q) error = %v, wantErr %v", tt.cidr, err, tt.wantErr)
			}
			if !tt.wantErr && got.String() != tt.want {
				t.Errorf("ParseIPv4Prefix(%q) = %s, want %s", tt.cidr, got, tt.want)
			}
		})
	}
}

func TestIsValidIPv4CIDR(t *testing.T) {
	if !IsValidIPv4CIDR("10.0.1.0/24") {
		t.Error("10.0.1.0/24 should be valid")
	}
	if IsValidIPv4CIDR("10.0.1.0/33") {
		t.Error("10.0.1.0/33 should be invalid")
	}
}

func TestValidateMaskLength(t *testing.T) {
	for _, m := range []int{0, 24, 32} {
		if err := ValidateMaskLength(m); err != nil {
			t.Errorf("ValidateMaskLength(%d) = %v", m, err)
		}
	}
	for _, m := range []int{-1, 33} {
		if err := ValidateMaskLength(m); err == nil {
			t.Errorf("ValidateMaskLength(%d) should fail", m)
		}
	}
}
