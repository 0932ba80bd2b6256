package scan

import (
	"errors"
	"fmt"
	"net/netip"
)

// DefaultMaxHostBits caps expansion at a /16-equivalent (65534 usable hosts).
const DefaultMaxHostBits = 16

// Sentinel errors returned by Expand. Both are configuration problems and
// surface immediately to the caller; they are never retried.
var (
	ErrInvalidRange  = errors.New("scan: invalid network range")
	ErrRangeTooLarge = errors.New("scan: network range exceeds size ceiling")
)

// Expand converts a CIDR string into the list of usable host addresses with
// the default size ceiling.
func Expand(cidr string) ([]string, error) {
	return ExpandLimit(cidr, DefaultMaxHostBits)
}

// Check validates a CIDR against the size ceiling without materializing the
// host list.
func Check(cidr string, maxHostBits int) error {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidRange, cidr, err)
	}
	if maxHostBits <= 0 {
		maxHostBits = DefaultMaxHostBits
	}
	if hostBits := prefix.Addr().BitLen() - prefix.Bits(); hostBits > maxHostBits {
		return fmt.Errorf("%w: %q has %d host bits, limit %d", ErrRangeTooLarge, cidr, hostBits, maxHostBits)
	}
	return nil
}

// ExpandLimit converts a CIDR string into usable host addresses, rejecting
// ranges with more than 2^maxHostBits addresses. The network and broadcast
// addresses are excluded except for point-to-point (/31) and single-host
// (/32) ranges, where every address is usable. Output is in ascending
// address order and stable for a given input.
func ExpandLimit(cidr string, maxHostBits int) ([]string, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRange, cidr, err)
	}
	prefix = prefix.Masked()

	if maxHostBits <= 0 {
		maxHostBits = DefaultMaxHostBits
	}
	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	if hostBits > maxHostBits {
		return nil, fmt.Errorf("%w: %q has %d host bits, limit %d", ErrRangeTooLarge, cidr, hostBits, maxHostBits)
	}

	switch hostBits {
	case 0:
		return []string{prefix.Addr().String()}, nil
	case 1:
		// RFC 3021 point-to-point: both addresses are hosts.
		first := prefix.Addr()
		return []string{first.String(), first.Next().String()}, nil
	}

	// Skip the network address, stop before the broadcast address.
	total := (1 << hostBits) - 2
	hosts := make([]string, 0, total)
	addr := prefix.Addr().Next()
	for i := 0; i < total; i++ {
		hosts = append(hosts, addr.String())
		addr = addr.Next()
	}
	return hosts, nil
}
