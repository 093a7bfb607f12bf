package lookupd

import (
	"net"
	"strings"
)

// IPChecker classifies a literal string as an IPv4 address, an IPv6
// address, or neither. It performs no I/O and keeps no cache of its own;
// the controller memoizes results in its IP-check cache (see §3 of the
// controller's cache entry model).
type IPChecker interface {
	IsV4(s string) bool
	IsV6(s string) bool
}

// netIPChecker is the default IPChecker, built on net.ParseIP. It matches
// the conventional system semantics: numeric dotted-quad for v4, hex
// groups including zero-compression and v4-in-v6 notation for v6.
type netIPChecker struct{}

// NewIPChecker returns the default net.ParseIP-backed IPChecker.
func NewIPChecker() IPChecker { return netIPChecker{} }

func (netIPChecker) IsV4(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	// A dotted-quad literal never contains ':'; this also rejects
	// IPv4-in-IPv6 forms like "::ffff:1.2.3.4", which are IPv6 literals.
	return !strings.Contains(s, ":") && ip.To4() != nil
}

func (netIPChecker) IsV6(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	return strings.Contains(s, ":") && ip.To16() != nil
}

// ipCheckResult is cached by the controller, keyed by the literal string.
type ipCheckResult struct {
	isV4, isV6 bool
}
