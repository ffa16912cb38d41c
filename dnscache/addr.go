// SPDX-License-Identifier: GPL-3.0-or-later

package dnscache

import "net/netip"

// canonicalize converts an IPv4 address into its IPv4-in-IPv6 canonical
// form (the "::ffff:a.b.c.d" header plus the four address bytes) so that
// addresses coming from A and AAAA records compare uniformly, matching
// spec.md §6's DNS canonicalization rule.
func canonicalize(a netip.Addr) netip.Addr {
	if !a.Is4() {
		return a
	}
	b4 := a.As4()
	var b16 [16]byte
	b16[10] = 0xff
	b16[11] = 0xff
	copy(b16[12:], b4[:])
	return netip.AddrFrom16(b16)
}
