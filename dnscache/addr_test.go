// SPDX-License-Identifier: GPL-3.0-or-later

package dnscache

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalizeIPv4(t *testing.T) {
	a := netip.MustParseAddr("192.0.2.1")
	c := canonicalize(a)
	assert.True(t, c.Is6())
	assert.Equal(t, "192.0.2.1", c.Unmap().String())
}

func TestCanonicalizeIPv6Unchanged(t *testing.T) {
	a := netip.MustParseAddr("2001:db8::1")
	assert.Equal(t, a, canonicalize(a))
}
