package lookupd

import (
	"slices"
	"strings"
	"testing"
)

func TestParseHostsFile(t *testing.T) {
	input := `
127.0.0.1 localhost
::1 localhost ip6-localhost
10.0.0.5 router.lan router   # trailing comment
# full line comment
not-an-ip badhost
`
	entries, err := parseHostsFile(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string][]string{
		"localhost":     {"127.0.0.1", "::1"},
		"router.lan":    {"10.0.0.5"},
		"router":        {"10.0.0.5"},
		"ip6-localhost": {"::1"},
	}
	got := make(map[string][]string)
	for _, e := range entries {
		got[e.Host] = append(got[e.Host], e.Address)
	}

	for host, addrs := range want {
		if !slices.Equal(got[host], addrs) {
			t.Errorf("host %q: got %v, want %v", host, got[host], addrs)
		}
	}
	if _, ok := got["badhost"]; ok {
		t.Error("expected line with an invalid IP to be skipped")
	}
}

func TestHostsSnapshot_LookupIsCaseInsensitiveAndFamilySplit(t *testing.T) {
	snap := newHostsSnapshot([]HostsEntry{
		{Host: "Router.LAN", Address: "10.0.0.1"},
		{Host: "router.lan", Address: "fe80::1"},
	})

	addrs, ok := snap.lookup("router.lan")
	if !ok {
		t.Fatal("expected a hit for router.lan")
	}
	if len(addrs.v4) != 1 || addrs.v4[0] != "10.0.0.1" {
		t.Errorf("v4 = %v", addrs.v4)
	}
	if len(addrs.v6) != 1 || addrs.v6[0] != "fe80::1" {
		t.Errorf("v6 = %v", addrs.v6)
	}
}

func TestHostsSnapshot_LookupMiss(t *testing.T) {
	snap := newHostsSnapshot(nil)
	if _, ok := snap.lookup("nowhere.test"); ok {
		t.Error("expected a miss against an empty snapshot")
	}
}

func TestHostsSnapshot_NilReceiverIsSafeMiss(t *testing.T) {
	var snap *HostsSnapshot
	if _, ok := snap.lookup("anything"); ok {
		t.Error("expected nil snapshot to always report a miss")
	}
}

func TestDefaultHostsPath(t *testing.T) {
	path, err := DefaultHostsPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path == "" {
		t.Error("expected a non-empty hosts path")
	}
}
