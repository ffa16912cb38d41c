// SPDX-License-Identifier: GPL-3.0-or-later

package tlspipe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/bassosimone/corenet"
	"github.com/bassosimone/corenet/pipe"
	"github.com/bassosimone/safeconn"
)

// Conn is a TLS session layered over a [*pipe.Pipe]. It implements
// [net.Conn]; every Read/Write parks the calling task on the underlying
// pipe exactly as a raw [*pipe.Pipe] would.
type Conn struct {
	tls *tls.Conn
	pc  *pipeConn
}

var _ net.Conn = (*Conn)(nil)

// Read implements [net.Conn]. If the underlying pipe raised a [pipe.ErrIO]
// or [pipe.ErrTimeout], that category survives the TLS layer unchanged
// (spec.md §4.4: "the TLS wrapper records that and rethrows the same
// category after the TLS call unwinds").
func (c *Conn) Read(b []byte) (int, error) { return reclass(c.tls.Read(b)) }

// Write implements [net.Conn].
func (c *Conn) Write(b []byte) (int, error) { return reclass(c.tls.Write(b)) }

func reclass[T any](n T, err error) (T, error) {
	if err == nil {
		return n, nil
	}
	var ioErr *pipe.ErrIO
	if errors.As(err, &ioErr) {
		return n, ioErr
	}
	var timeoutErr *pipe.ErrTimeout
	if errors.As(err, &timeoutErr) {
		return n, timeoutErr
	}
	return n, err
}

// Close implements [net.Conn]. It quiet-closes the TLS session (best-effort
// close_notify, errors discarded, matching spec.md §4.4's "destructor
// suppresses any further protocol traffic") and always closes the
// underlying pipe.
func (c *Conn) Close() error {
	_ = c.tls.Close()
	return c.pc.Close()
}

func (c *Conn) LocalAddr() net.Addr                { return c.tls.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr               { return c.tls.RemoteAddr() }
func (c *Conn) SetDeadline(t time.Time) error       { return c.tls.SetDeadline(t) }
func (c *Conn) SetReadDeadline(t time.Time) error   { return c.tls.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error  { return c.tls.SetWriteDeadline(t) }
func (c *Conn) ConnectionState() tls.ConnectionState { return c.tls.ConnectionState() }

// SetHibernating forwards to the underlying [*pipe.Pipe.SetHibernating].
func (c *Conn) SetHibernating(v bool) { c.pc.p.SetHibernating(v) }

// Options configures [Client] and [Server].
type Options struct {
	// Config carries the shared logger/error classifier/clock. A nil
	// Config uses [corenet.NewConfig]'s defaults.
	Config *corenet.Config

	// LocalAddr/RemoteAddr label the connection for logging; both may be
	// nil.
	LocalAddr, RemoteAddr net.Addr

	// VerifyHostname, when non-empty and InsecureSkipVerify is false,
	// enables spec.md §4.4's server-side verify rule: the peer
	// certificate's SAN DNS entries are checked first, then its Common
	// Name, with a leading "*" label matching any single leftmost label.
	VerifyHostname string
}

func (o *Options) cfg() *corenet.Config {
	if o.Config == nil {
		return corenet.NewConfig()
	}
	return o.Config
}

// Client performs a client-side TLS handshake over p using cfg, returning a
// [*Conn] on success. On failure p is closed and the error is returned;
// never both a non-nil *Conn and a non-nil error.
func Client(ctx context.Context, p *pipe.Pipe, cfg *tls.Config, opts Options) (*Conn, error) {
	return handshake(ctx, p, cfg, opts, true)
}

// Server performs a server-side TLS handshake over p using cfg.
func Server(ctx context.Context, p *pipe.Pipe, cfg *tls.Config, opts Options) (*Conn, error) {
	return handshake(ctx, p, cfg, opts, false)
}

func handshake(ctx context.Context, p *pipe.Pipe, cfg *tls.Config, opts Options, client bool) (*Conn, error) {
	rcfg := opts.cfg()
	cfg = cfg.Clone()
	cfg.Time = rcfg.TimeNow
	if opts.VerifyHostname != "" && !cfg.InsecureSkipVerify {
		cfg.InsecureSkipVerify = true // we verify ourselves below
		hostname := opts.VerifyHostname
		cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyHostname(rawCerts, hostname)
		}
	}

	pc := newPipeConn(ctx, p, opts.LocalAddr, opts.RemoteAddr)

	var tconn *tls.Conn
	if client {
		tconn = tls.Client(pc, cfg)
	} else {
		tconn = tls.Server(pc, cfg)
	}

	t0 := rcfg.TimeNow()
	deadline, _ := ctx.Deadline()
	logHandshakeStart(rcfg, pc, t0, deadline, cfg, client)
	err := tconn.HandshakeContext(ctx)
	state := tconn.ConnectionState()
	logHandshakeDone(rcfg, pc, t0, deadline, cfg, err, state, client)

	if err != nil {
		tconn.Close()
		return nil, err
	}
	return &Conn{tls: tconn, pc: pc}, nil
}

// verifyHostname implements spec.md §4.4's server-side verify rule: SAN DNS
// entries first, then Common Name, with "*" accepted as a wildcard
// leftmost label.
func verifyHostname(rawCerts [][]byte, hostname string) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("tlspipe: no peer certificate presented")
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("tlspipe: parsing peer certificate: %w", err)
	}

	for _, name := range cert.DNSNames {
		if matchHostname(name, hostname) {
			return nil
		}
	}
	if matchHostname(cert.Subject.CommonName, hostname) {
		return nil
	}
	return fmt.Errorf("tlspipe: peer certificate does not match hostname %q", hostname)
}

// matchHostname implements the wildcard-prefix rule: pattern may start with
// "*." to match exactly one leftmost label of host.
func matchHostname(pattern, host string) bool {
	pattern = strings.ToLower(strings.TrimSuffix(pattern, "."))
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if pattern == host {
		return true
	}
	if !strings.HasPrefix(pattern, "*.") {
		return false
	}
	patternRest := pattern[2:]
	i := strings.IndexByte(host, '.')
	if i < 0 {
		return false
	}
	return host[i+1:] == patternRest
}

func logHandshakeStart(cfg *corenet.Config, conn net.Conn, t0, deadline time.Time, tcfg *tls.Config, client bool) {
	cfg.Logger.Info("tlsHandshakeStart",
		slog.Bool("client", client),
		slog.Time("deadline", deadline),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.Time("t", t0),
		slog.Any("tlsOfferedProtocols", tcfg.NextProtos),
		slog.String("tlsServerName", tcfg.ServerName),
		slog.Bool("tlsSkipVerify", tcfg.InsecureSkipVerify),
	)
}

func logHandshakeDone(cfg *corenet.Config, conn net.Conn, t0, deadline time.Time, tcfg *tls.Config, err error, state tls.ConnectionState, client bool) {
	cfg.Logger.Info("tlsHandshakeDone",
		slog.Bool("client", client),
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", cfg.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.Time("t0", t0),
		slog.Time("t", cfg.TimeNow()),
		slog.String("tlsCipherSuite", tls.CipherSuiteName(state.CipherSuite)),
		slog.String("tlsNegotiatedProtocol", state.NegotiatedProtocol),
		slog.Any("tlsOfferedProtocols", tcfg.NextProtos),
		slog.String("tlsServerName", tcfg.ServerName),
		slog.Bool("tlsSkipVerify", tcfg.InsecureSkipVerify),
		slog.String("tlsVersion", tls.VersionName(state.Version)),
	)
}
