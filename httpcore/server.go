package httpcore

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"

	"github.com/bassosimone/corenet"
	"github.com/bassosimone/corenet/errclass"
	"github.com/bassosimone/corenet/pipe"
	"github.com/bassosimone/corenet/reactor"
	"github.com/bassosimone/corenet/task"
	"github.com/bassosimone/corenet/tlspipe"
	"github.com/bassosimone/safeconn"
)

// UpgradeHandler takes over conn after a successful protocol upgrade
// (e.g. WebSocket). It is responsible for the connection's entire
// remaining lifetime, including closing it.
type UpgradeHandler func(ctx context.Context, conn net.Conn, req *http.Request)

// Server parses HTTP/1.1 requests off an accepted connection and
// dispatches them to Handler, matching spec.md §4.7. Construct with
// [NewServer]; set Upgrades before serving any connection to support the
// `Upgrade:` header.
type Server struct {
	cfg     *Config
	corenet *corenet.Config
	rt      *task.Runtime

	// Handler dispatches parsed requests. Required.
	Handler http.Handler

	// Upgrades maps an `Upgrade:` header value to the handler that takes
	// over the connection. A request naming an upgrade protocol with no
	// matching entry gets the connection closed, per spec.md §4.7.
	Upgrades map[string]UpgradeHandler
}

// NewServer creates a [*Server] dispatching to handler.
func NewServer(cfg *Config, handler http.Handler) *Server {
	cn := cfg.corenet()
	return &Server{
		cfg:     cfg,
		corenet: cn,
		rt:      task.NewRuntime(cn),
		Handler: handler,
	}
}

// TCPServerFunc implements [corenet.Func], accepting connections off a
// listening [*pipe.Pipe] and spawning a task per connection to run
// [*Server.HandleConn]. This is spec.md §4.7's "TCP server factory",
// concretized: one [*TCPServerFunc] per listening socket, composed the
// same way the teacher composes its dial/handshake Funcs.
type TCPServerFunc struct {
	Server *Server
	React  *reactor.Reactor

	// TLSConfig, if set, runs a TLS handshake (via corenet/tlspipe) on
	// every accepted connection before HTTP parsing begins.
	TLSConfig *tls.Config
}

var _ corenet.Func[*pipe.Pipe, corenet.Unit] = &TCPServerFunc{}

// Call implements [corenet.Func]. It accepts connections off ln until ctx
// is done or the listener is closed, spawning one task per connection.
// The returned error is ctx.Err() or the listener's terminal accept
// error; per-connection errors are logged, never returned here.
func (f *TCPServerFunc) Call(ctx context.Context, ln *pipe.Pipe) (corenet.Unit, error) {
	for {
		fd, _, err := ln.Accept(ctx)
		if err != nil {
			if errors.Is(err, pipe.ErrClosed) || errors.Is(err, context.Canceled) {
				return corenet.Unit{}, nil
			}
			if errclass.IsResourceExhaustion(err) {
				// out of descriptors: reclaim idle keep-alive connections
				// eagerly instead of waiting for the next accept attempt
				// to fail the same way.
				f.Server.corenet.Logger.Info("httpServerAcceptResourceExhausted")
				pipe.SweepHibernating(f.React)
				continue
			}
			return corenet.Unit{}, err
		}

		connPipe := pipe.New(fd, pipe.KindNetwork, f.React)
		f.Server.rt.Spawn(ctx, func(ctx context.Context) {
			f.serveAccepted(ctx, connPipe)
		}, task.WithName("httpcore.conn"))
	}
}

func (f *TCPServerFunc) serveAccepted(ctx context.Context, p *pipe.Pipe) {
	var conn net.Conn
	if f.TLSConfig != nil {
		tconn, err := tlspipeServer(ctx, p, f.TLSConfig, f.Server.corenet)
		if err != nil {
			f.Server.corenet.Logger.Info("httpServerTLSHandshakeFailed",
				slog.String("err", err.Error()))
			p.Close()
			return
		}
		conn = tconn
	} else {
		conn = pipe.NewNetConn(ctx, p, nil, nil)
	}
	f.Server.HandleConn(ctx, conn)
}

// HandleConn serves HTTP/1.1 requests off conn until the connection
// closes, a request declines keep-alive, or an upgrade handshake takes
// over. The caller must not use conn after HandleConn returns.
func (s *Server) HandleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	spanID := corenet.NewSpanID()
	s.corenet.Logger.Debug("httpServerConnStart",
		slog.String("spanId", spanID),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)))
	defer s.corenet.Logger.Debug("httpServerConnDone", slog.String("spanId", spanID))

	// lr caps how many bytes a single header block may pull off conn; the
	// extra 4096 leaves room for what bufio reads ahead past the headers.
	lr := &io.LimitedReader{R: conn, N: math.MaxInt64}
	br := bufio.NewReaderSize(lr, 4096)
	first := true
	for {
		timeout := s.cfg.idleTimeout()
		if first {
			timeout = s.cfg.readHeaderTimeout()
			first = false
		} else {
			// waiting for the next keep-alive request: this connection is
			// idle, so it's eligible for eager reclaim under fd pressure
			// (spec.md §7 item 2).
			setHibernating(conn, true)
		}
		conn.SetReadDeadline(s.corenet.TimeNow().Add(timeout))

		lr.N = s.cfg.maxHeaderBytes() + 4096
		req, err := http.ReadRequest(br)
		lr.N = math.MaxInt64
		setHibernating(conn, false)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.corenet.Logger.Debug("httpServerReadRequestFailed",
					slog.String("err", err.Error()),
					slog.String("remoteAddr", safeconn.RemoteAddr(conn)))
			}
			return
		}
		req = req.WithContext(ctx)

		if upgrade := req.Header.Get("Upgrade"); upgrade != "" {
			handler, ok := s.Upgrades[upgrade]
			if !ok {
				s.corenet.Logger.Info("httpServerUpgradeRejected",
					slog.String("upgrade", upgrade))
				return
			}
			handler(ctx, conn, req)
			return
		}

		keepAlive := s.dispatch(ctx, conn, req)
		io.Copy(io.Discard, io.LimitReader(req.Body, s.cfg.maxBodyBytes()))
		req.Body.Close()
		if !keepAlive {
			return
		}
	}
}

// hibernator is implemented by [pipe.NetConn] and [*tlspipe.Conn]; conns
// produced any other way (e.g. in tests, over [net.Pipe]) simply don't
// participate in hibernation sweeps.
type hibernator interface {
	SetHibernating(bool)
}

func setHibernating(conn net.Conn, v bool) {
	if h, ok := conn.(hibernator); ok {
		h.SetHibernating(v)
	}
}

// dispatch runs Handler over req and writes its response to conn,
// reporting whether the connection should stay open for another request.
func (s *Server) dispatch(ctx context.Context, conn net.Conn, req *http.Request) (keepAlive bool) {
	w := newResponseWriter(s.cfg.maxBodyBytes())

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.corenet.Logger.Info("httpServerHandlerPanic", slog.Any("recovered", r))
				w.status = http.StatusInternalServerError
			}
		}()
		s.Handler.ServeHTTP(w, req)
	}()

	resp := w.response(req)
	if werr := resp.Write(conn); werr != nil {
		s.corenet.Logger.Debug("httpServerWriteResponseFailed", slog.String("err", werr.Error()))
		return false
	}
	return !resp.Close
}

func tlspipeServer(ctx context.Context, p *pipe.Pipe, cfg *tls.Config, cn *corenet.Config) (net.Conn, error) {
	return tlspipe.Server(ctx, p, cfg, tlspipe.Options{Config: cn})
}
