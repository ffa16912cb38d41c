// SPDX-License-Identifier: GPL-3.0-or-later

package tlspipe

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/bassosimone/corenet/pipe"
	"github.com/bassosimone/corenet/reactor"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func generateTestCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "example.test"},
		DNSNames:     []string{"example.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestClientServerHandshakeAndRoundTrip(t *testing.T) {
	r := reactor.New(reactor.Options{NumWorkers: 2})
	require.NoError(t, r.Start(0, false))
	defer func() {
		r.Stop()
		r.Join()
	}()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))

	clientPipe := pipe.New(fds[0], pipe.KindUnix, r)
	serverPipe := pipe.New(fds[1], pipe.KindUnix, r)

	cert := generateTestCert(t)
	serverDone := make(chan error, 1)
	var serverConn *Conn
	go func() {
		var err error
		serverConn, err = Server(context.Background(), serverPipe, &tls.Config{
			Certificates: []tls.Certificate{cert},
		}, Options{})
		serverDone <- err
	}()

	pool := x509.NewCertPool()
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	pool.AddCert(leaf)

	clientConn, err := Client(context.Background(), clientPipe, &tls.Config{
		RootCAs:    pool,
		ServerName: "example.test",
	}, Options{})
	require.NoError(t, err)
	defer clientConn.Close()

	require.NoError(t, <-serverDone)
	defer serverConn.Close()

	go func() {
		serverConn.Write([]byte("hello over tls"))
	}()

	buf := make([]byte, 64)
	n, err := clientConn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello over tls", string(buf[:n]))
}

func TestMatchHostname(t *testing.T) {
	cases := []struct {
		pattern, host string
		want          bool
	}{
		{"example.com", "example.com", true},
		{"example.com", "EXAMPLE.COM", true},
		{"*.example.com", "foo.example.com", true},
		{"*.example.com", "foo.bar.example.com", false},
		{"*.example.com", "example.com", false},
		{"example.com", "other.com", false},
	}
	for _, c := range cases {
		got := matchHostname(c.pattern, c.host)
		if got != c.want {
			t.Errorf("matchHostname(%q, %q) = %v, want %v", c.pattern, c.host, got, c.want)
		}
	}
}
