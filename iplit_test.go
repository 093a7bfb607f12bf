package lookupd

import "testing"

func TestNetIPChecker(t *testing.T) {
	c := NewIPChecker()

	cases := []struct {
		in       string
		wantV4   bool
		wantV6   bool
	}{
		{"1.2.3.4", true, false},
		{"255.255.255.255", true, false},
		{"::1", false, true},
		{"2001:db8::1", false, true},
		{"::ffff:1.2.3.4", false, true},
		{"not-an-ip", false, false},
		{"example.com", false, false},
	}

	for _, tc := range cases {
		if got := c.IsV4(tc.in); got != tc.wantV4 {
			t.Errorf("IsV4(%q) = %v, want %v", tc.in, got, tc.wantV4)
		}
		if got := c.IsV6(tc.in); got != tc.wantV6 {
			t.Errorf("IsV6(%q) = %v, want %v", tc.in, got, tc.wantV6)
		}
	}
}
