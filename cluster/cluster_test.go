// SPDX-License-Identifier: GPL-3.0-or-later

package cluster

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/bassosimone/corenet/dnscache"
	"github.com/bassosimone/corenet/reactor"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	r := reactor.New(reactor.Options{NumWorkers: 2})
	require.NoError(t, r.Start(0, false))
	t.Cleanup(func() {
		r.Stop()
		r.Join()
	})
	return r
}

// newTestDNS starts a local authoritative server answering host with the
// given A records.
func newTestDNS(t *testing.T, host string, ips []string) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc(dns.Fqdn(host), func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		if r.Question[0].Qtype == dns.TypeA {
			for _, ip := range ips {
				m.Answer = append(m.Answer, &dns.A{
					Hdr: dns.RR_Header{Name: dns.Fqdn(host), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 5},
					A:   net.ParseIP(ip),
				})
			}
		}
		_ = w.WriteMsg(m)
	})
	srv := &dns.Server{PacketConn: pc, Handler: mux}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })
	return pc.LocalAddr().String()
}

// startEcho binds an echo listener on addr:port: every single byte
// request received gets id written back, looped until the peer closes.
// Used so a test can identify, from the client side, which endpoint a
// connection (fresh or reused from the idle pool) actually reached.
func startEcho(t *testing.T, addr string, port int, id byte) func() {
	t.Helper()
	ln, err := net.Listen("tcp", net.JoinHostPort(addr, strconv.Itoa(port)))
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 1)
				for {
					if _, err := conn.Read(buf); err != nil {
						return
					}
					if _, err := conn.Write([]byte{id}); err != nil {
						return
					}
				}
			}()
		}
	}()
	return func() { ln.Close() }
}

// refuse binds and immediately releases addr:port so a subsequent connect
// attempt is refused.
func refuse(t *testing.T, addr string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", net.JoinHostPort(addr, strconv.Itoa(port)))
	require.NoError(t, err)
	require.NoError(t, ln.Close())
}

func queryFn(t *testing.T) (func(Conn) bool, *[]byte) {
	var got []byte
	fn := func(c Conn) bool {
		_, err := c.Write([]byte{'?'})
		require.NoError(t, err)
		buf := make([]byte, 1)
		_, err = c.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[0])
		return true
	}
	return fn, &got
}

// TestLookupAndRoundRobinFourCalls is the S1 scenario: host resolves to
// [A1, A2, A3]; four sequential with_connected_pipe calls bind to
// A1, A2, A3, A1 in order.
func TestLookupAndRoundRobinFourCalls(t *testing.T) {
	const port = 18080
	defer startEcho(t, "127.0.0.1", port, 'A')()
	defer startEcho(t, "127.0.0.2", port, 'B')()
	defer startEcho(t, "127.0.0.3", port, 'C')()

	server := newTestDNS(t, "h.test", []string{"127.0.0.1", "127.0.0.2", "127.0.0.3"})
	dnsCache := dnscache.New(&dnscache.Config{Upstream: []string{server}}, newTestReactor(t))
	r := newTestReactor(t)
	cl := New(&Config{Host: "h.test", Port: uint16(port)}, dnsCache, r)
	defer cl.Close()

	fn, got := queryFn(t)
	for i := 0; i < 4; i++ {
		require.NoError(t, cl.WithConnectedPipe(context.Background(), fn))
	}
	assert.Equal(t, []byte{'A', 'B', 'C', 'A'}, *got)
}

// TestConnectFailureEviction is the S2 scenario: host resolves to
// [A1, A2]; A1 refuses, A2 accepts; the first with_connected_pipe call
// removes A1 and returns via A2 after exactly one retry.
func TestConnectFailureEviction(t *testing.T) {
	const port = 18081
	refuse(t, "127.0.0.1", port)
	defer startEcho(t, "127.0.0.2", port, 'B')()

	server := newTestDNS(t, "h2.test", []string{"127.0.0.1", "127.0.0.2"})
	dnsCache := dnscache.New(&dnscache.Config{Upstream: []string{server}}, newTestReactor(t))
	r := newTestReactor(t)
	cl := New(&Config{Host: "h2.test", Port: uint16(port), InitialBackoff: time.Millisecond}, dnsCache, r)
	defer cl.Close()

	fn, got := queryFn(t)
	require.NoError(t, cl.WithConnectedPipe(context.Background(), fn))
	assert.Equal(t, []byte{'B'}, *got)

	cl.mu.Lock()
	n := len(cl.endpoints)
	cl.mu.Unlock()
	assert.Equal(t, 1, n)
}

// TestIdleReuseAndExpiry is the S3 scenario: a connection returned to the
// idle pool is reused while younger than MaxIdleTime, and redialed once
// it ages past it.
func TestIdleReuseAndExpiry(t *testing.T) {
	const port = 18082
	defer startEcho(t, "127.0.0.1", port, 'A')()

	server := newTestDNS(t, "h3.test", []string{"127.0.0.1"})
	dnsCache := dnscache.New(&dnscache.Config{Upstream: []string{server}}, newTestReactor(t))
	r := newTestReactor(t)
	cl := New(&Config{Host: "h3.test", Port: uint16(port), MaxIdleTime: 20 * time.Millisecond}, dnsCache, r)
	defer cl.Close()

	fn, got := queryFn(t)
	require.NoError(t, cl.WithConnectedPipe(context.Background(), fn))
	require.NoError(t, cl.WithConnectedPipe(context.Background(), fn))
	assert.Equal(t, []byte{'A', 'A'}, *got)

	time.Sleep(40 * time.Millisecond) // idle connection now past MaxIdleTime
	require.NoError(t, cl.WithConnectedPipe(context.Background(), fn))
	assert.Equal(t, []byte{'A', 'A', 'A'}, *got)
}
