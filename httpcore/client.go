package httpcore

import (
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bassosimone/corenet"
	"github.com/bassosimone/safeconn"
	"github.com/bassosimone/sud"
	"golang.org/x/net/http2"
)

// Client is an HTTP "connection" — a configured [http.RoundTripper] bound
// to a single already-established transport, generalized from the
// teacher's HTTPConn to accept any [net.Conn], which both
// [*pipe.NetConn] and [*tlspipe.Conn] satisfy. The caller must call
// [*Client.Close] when done.
//
// Like the teacher's HTTPConn, every round trip emits
// httpRoundTripStart/httpRoundTripDone structured log events, and the
// response body is wrapped to lazily emit httpBodyStreamStart/
// httpBodyStreamDone around its own lifetime.
type Client struct {
	conn          net.Conn
	txp           http.RoundTripper
	closeIdleFunc func()

	corenet *corenet.Config
}

var _ http.RoundTripper = (*Client)(nil)

// NewClient wraps conn into a [*Client], selecting an HTTP/1.1 or HTTP/2
// transport based on the connection's negotiated ALPN protocol (h2 vs.
// anything else), exactly as the teacher's HTTPConnFunc does via
// [sud.NewSingleUseDialer].
func NewClient(cfg *Config, conn net.Conn) *Client {
	cn := cfg.corenet()

	var alpn string
	if csp, ok := conn.(interface{ ConnectionState() tls.ConnectionState }); ok {
		alpn = csp.ConnectionState().NegotiatedProtocol
	}

	dialer := sud.NewSingleUseDialer(conn)

	var txp http.RoundTripper
	var closeIdleFunc func()
	switch alpn {
	case "h2":
		h2txp := &http2.Transport{
			DialTLSContext:     dialer.DialTLSContext,
			DisableCompression: false,
		}
		txp = h2txp
		closeIdleFunc = h2txp.CloseIdleConnections
	default:
		h1txp := &http.Transport{
			DialContext:        dialer.DialContext,
			DialTLSContext:     dialer.DialContext,
			DisableKeepAlives:  true,
			DisableCompression: false,
		}
		txp = h1txp
		closeIdleFunc = h1txp.CloseIdleConnections
	}

	return &Client{
		conn:          conn,
		txp:           txp,
		closeIdleFunc: closeIdleFunc,
		corenet:       cn,
	}
}

// RoundTrip implements [http.RoundTripper].
func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	t0 := c.corenet.TimeNow()
	deadline, _ := req.Context().Deadline()
	c.logRoundTripStart(req, t0, deadline)

	resp, err := c.txp.RoundTrip(req)

	c.logRoundTripDone(req, t0, deadline, resp, err)
	if err != nil {
		return nil, err
	}

	resp.Body = wrapBody(
		resp.Body,
		c.corenet.ErrClassifier,
		safeconn.LocalAddr(c.conn),
		c.corenet.Logger,
		safeconn.Network(c.conn),
		safeconn.RemoteAddr(c.conn),
		c.corenet.TimeNow,
	)
	return resp, nil
}

// Close cleans up the transport and closes the underlying connection.
func (c *Client) Close() error {
	c.closeIdleFunc()
	return c.conn.Close()
}

// Conn returns the underlying [net.Conn], for logging metadata.
func (c *Client) Conn() net.Conn { return c.conn }

func (c *Client) logRoundTripStart(req *http.Request, t0, deadline time.Time) {
	c.corenet.Logger.Info(
		"httpRoundTripStart",
		slog.Time("deadline", deadline),
		slog.String("httpMethod", req.Method),
		slog.String("httpUrl", req.URL.String()),
		slog.Any("httpRequestHeaders", req.Header),
		slog.String("localAddr", safeconn.LocalAddr(c.conn)),
		slog.String("protocol", safeconn.Network(c.conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(c.conn)),
		slog.Time("t", t0),
	)
}

func (c *Client) logRoundTripDone(req *http.Request, t0, deadline time.Time, resp *http.Response, err error) {
	var (
		statusCode int
		headers    http.Header
	)
	if resp != nil {
		statusCode = resp.StatusCode
		headers = resp.Header
	}
	c.corenet.Logger.Info(
		"httpRoundTripDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", c.corenet.ErrClassifier.Classify(err)),
		slog.String("httpMethod", req.Method),
		slog.String("httpUrl", req.URL.String()),
		slog.Any("httpRequestHeaders", req.Header),
		slog.Any("httpResponseHeaders", headers),
		slog.Int("httpResponseStatusCode", statusCode),
		slog.String("localAddr", safeconn.LocalAddr(c.conn)),
		slog.String("protocol", safeconn.Network(c.conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(c.conn)),
		slog.Time("t0", t0),
		slog.Time("t", c.corenet.TimeNow()),
	)
}
