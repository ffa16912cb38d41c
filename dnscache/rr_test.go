// SPDX-License-Identifier: GPL-3.0-or-later

package dnscache

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickRoundRobinSkipsCooldown(t *testing.T) {
	now := time.Now()
	hs := &hostState{records: []addrRecord{
		{addr: netip.MustParseAddr("10.0.0.1"), cooldownUntil: now.Add(time.Second)},
		{addr: netip.MustParseAddr("10.0.0.2")},
	}}

	addr, ok := pickRoundRobin(hs, now, time.Second)
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("10.0.0.2"), addr)
}

func TestPickRoundRobinAllInCooldown(t *testing.T) {
	now := time.Now()
	hs := &hostState{records: []addrRecord{
		{addr: netip.MustParseAddr("10.0.0.1"), cooldownUntil: now.Add(time.Second)},
	}}

	_, ok := pickRoundRobin(hs, now, time.Second)
	assert.False(t, ok)
}

func TestEarliestCooldown(t *testing.T) {
	now := time.Now()
	hs := &hostState{records: []addrRecord{
		{cooldownUntil: now.Add(3 * time.Second)},
		{cooldownUntil: now.Add(time.Second)},
	}}
	assert.Equal(t, time.Second, earliestCooldown(hs, now))
}

func TestMergeRecordsCarriesCooldownForward(t *testing.T) {
	now := time.Now()
	existing := []addrRecord{
		{addr: netip.MustParseAddr("10.0.0.1"), cooldownUntil: now.Add(time.Minute)},
	}
	fresh := []netip.Addr{netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2")}

	merged := mergeRecords(existing, fresh, now)
	require.Len(t, merged, 2)
	assert.True(t, merged[0].cooldownUntil.After(now))
	assert.True(t, merged[1].cooldownUntil.IsZero())
}
