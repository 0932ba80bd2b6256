package scan

import (
	"errors"
	"testing"
)

func TestExpandSmallNetwork(t *testing.T) {
	hosts, err := Expand("203.0.113.0/30")
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}

	want := []string{"203.0.113.1", "203.0.113.2"}
	if len(hosts) != len(want) {
		t.Fatalf("Expand() returned %d hosts, want %d", len(hosts), len(want))
	}
	for i := range want {
		if hosts[i] != want[i] {
			t.Errorf("hosts[%d] = %q, want %q", i, hosts[i], want[i])
		}
	}
}

func TestExpandSingleHost(t *testing.T) {
	hosts, err := Expand("192.0.2.7/32")
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(hosts) != 1 || hosts[0] != "192.0.2.7" {
		t.Errorf("Expand(/32) = %v, want [192.0.2.7]", hosts)
	}
}

func TestExpandPointToPoint(t *testing.T) {
	hosts, err := Expand("192.0.2.4/31")
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(hosts) != 2 {
		t.Fatalf("Expand(/31) returned %d hosts, want 2", len(hosts))
	}
	if hosts[0] != "192.0.2.4" || hosts[1] != "192.0.2.5" {
		t.Errorf("Expand(/31) = %v, want [192.0.2.4 192.0.2.5]", hosts)
	}
}

func TestExpandUsableHostCount(t *testing.T) {
	tests := []struct {
		cidr string
		want int
	}{
		{"10.0.0.0/24", 254},
		{"10.0.0.0/28", 14},
		{"10.0.0.0/29", 6},
		{"10.0.0.0/16", 65534},
	}

	for _, tt := range tests {
		t.Run(tt.cidr, func(t *testing.T) {
			hosts, err := Expand(tt.cidr)
			if err != nil {
				t.Fatalf("Expand(%q) error = %v", tt.cidr, err)
			}
			if len(hosts) != tt.want {
				t.Errorf("Expand(%q) returned %d hosts, want %d", tt.cidr, len(hosts), tt.want)
			}
		})
	}
}

func TestExpandExcludesNetworkAndBroadcast(t *testing.T) {
	hosts, err := Expand("10.1.2.0/24")
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	for _, h := range hosts {
		if h == "10.1.2.0" {
			t.Error("network address included in host list")
		}
		if h == "10.1.2.255" {
			t.Error("broadcast address included in host list")
		}
	}
}

func TestExpandUnmaskedInput(t *testing.T) {
	// Host-part bits set; the prefix is masked before expansion.
	hosts, err := Expand("192.0.2.77/30")
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(hosts) != 2 || hosts[0] != "192.0.2.77" {
		t.Errorf("Expand(unmasked /30) = %v, want [192.0.2.77 192.0.2.78]", hosts)
	}
}

func TestExpandInvalidRange(t *testing.T) {
	tests := []string{
		"not-a-cidr",
		"300.0.0.0/24",
		"10.0.0.0",
		"10.0.0.0/33",
		"",
	}

	for _, cidr := range tests {
		t.Run(cidr, func(t *testing.T) {
			_, err := Expand(cidr)
			if !errors.Is(err, ErrInvalidRange) {
				t.Errorf("Expand(%q) error = %v, want ErrInvalidRange", cidr, err)
			}
		})
	}
}

func TestExpandTooLarge(t *testing.T) {
	_, err := Expand("10.0.0.0/8")
	if !errors.Is(err, ErrRangeTooLarge) {
		t.Errorf("Expand(/8) error = %v, want ErrRangeTooLarge", err)
	}

	// Custom ceiling.
	if _, err := ExpandLimit("10.0.0.0/24", 4); !errors.Is(err, ErrRangeTooLarge) {
		t.Errorf("ExpandLimit(/24, 4 bits) error = %v, want ErrRangeTooLarge", err)
	}
}

func TestExpandIPv6Ceiling(t *testing.T) {
	// An IPv6 /64 has 64 host bits and must be rejected at the default ceiling.
	if _, err := Expand("2001:db8::/64"); !errors.Is(err, ErrRangeTooLarge) {
		t.Errorf("Expand(v6 /64) error = %v, want ErrRangeTooLarge", err)
	}

	hosts, err := Expand("2001:db8::/127")
	if err != nil {
		t.Fatalf("Expand(v6 /127) error = %v", err)
	}
	if len(hosts) != 2 {
		t.Errorf("Expand(v6 /127) returned %d hosts, want 2", len(hosts))
	}
}

func TestExpandDeterministic(t *testing.T) {
	a, err := Expand("198.51.100.0/28")
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	b, _ := Expand("198.51.100.0/28")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expansion not stable at index %d: %q vs %q", i, a[i], b[i])
		}
	}
}
