package util

import (
	"fmt"
	"net/netip"
	"strings"
)

// ParseIPv4Prefix parses an IPv4 CIDR. Host bits must be zero.
func ParseIPv4Prefix(cidr string) (netip.Prefix, error) {
	pfx, err := netip.ParsePrefix(strings.TrimSpace(cidr))
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid CIDR notation: %s", cidr)
	}
	if !pfx.Addr().Is4() {
		return netip.Prefix{}, fmt.Errorf("not an IPv4 prefix: %s", cidr)
	}
	if pfx.Masked() != pfx {
		return netip.Prefix{}, fmt.Errorf("host bits set in prefix: %s", cidr)
	}
	return pfx, nil
}

// IsValidIPv4CIDR checks if a string is a valid IPv4 network in CIDR notation
func IsValidIPv4CIDR(cidr string) bool {
	_, err := ParseIPv4Prefix(cidr)
	return err == nil
}

// ValidateMaskLength checks an IPv4 mask length
func ValidateMaskLength(maskLen int) error {
	if maskLen < 0 || maskLen > 32 {
		return fmt.Errorf("mask length must be between 0 and 32, got %d", maskLen)
	}
	return nil
}
