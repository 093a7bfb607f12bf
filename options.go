package lookupd

import "fmt"

// Family selectors for LookupOptions.Family. Zero means "either family".
const (
	FamilyAny  = 0
	FamilyIPv4 = 4
	FamilyIPv6 = 6
)

// ParseFamily accepts the numeric family values plus the string aliases
// "IPv4"/"ipv4", "IPv6"/"ipv6", and "", "0" or "any" for either family.
func ParseFamily(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return normalizeFamilyInt(t)
	case string:
		switch t {
		case "IPv4", "ipv4":
			return FamilyIPv4, nil
		case "IPv6", "ipv6":
			return FamilyIPv6, nil
		case "", "0", "any":
			return FamilyAny, nil
		}
	}
	return 0, fmt.Errorf("lookupd: invalid family %v", v)
}

func normalizeFamilyInt(n int) (int, error) {
	switch n {
	case FamilyAny, FamilyIPv4, FamilyIPv6:
		return n, nil
	default:
		return 0, fmt.Errorf("lookupd: invalid family %d", n)
	}
}

// Hints is a bit-set over the getaddrinfo-style resolution hints.
type Hints uint8

const (
	HintADDRCONFIG Hints = 1 << iota
	HintV4MAPPED
	HintALL
)

func (h Hints) has(f Hints) bool { return h&f != 0 }

// Order controls how v4/v6 candidates are combined when both families were
// requested.
type Order string

const (
	OrderVerbatim  Order = "verbatim"
	OrderIPv4First Order = "ipv4first"
	OrderIPv6First Order = "ipv6first"
)

// LookupOptions mirrors the options accepted by a conventional host lookup
// call.
type LookupOptions struct {
	// All requests every matching address instead of one.
	All bool
	// Family restricts results to FamilyIPv4 or FamilyIPv6; FamilyAny (0,
	// the default) accepts both.
	Family int
	// Hints is a bit-OR of HintADDRCONFIG, HintV4MAPPED, HintALL.
	Hints Hints
	// Order controls v4/v6 interleaving. Defaults to OrderVerbatim, unless
	// Verbatim is explicitly set to false with Order left empty.
	Order Order
	// Verbatim is deprecated: false maps to OrderIPv4First when Order is
	// unset. Left nil to not participate in normalization.
	Verbatim *bool
}

// normalize applies the defaults and legacy-option translation described in
// the request pipeline's step 1.
func (o LookupOptions) normalize() LookupOptions {
	if o.Order == "" {
		if o.Verbatim != nil && !*o.Verbatim {
			o.Order = OrderIPv4First
		} else {
			o.Order = OrderVerbatim
		}
	}
	return o
}

// AddressResult is one shaped candidate, carrying the numeric family it was
// produced for (relevant once V4MAPPED has re-tagged a v4 address as v6).
type AddressResult struct {
	Address string
	Family  int
}

// LookupResult is the shaped response of a Lookup call. Only Address/Family
// are populated when the request was for a single address (All == false);
// only Addresses is populated otherwise.
type LookupResult struct {
	All       bool
	Address   string
	Family    int
	Addresses []AddressResult
}
