package httpcore

import (
	"bytes"
	"io"
	"net/http"
)

// responseWriter implements [http.ResponseWriter] by buffering the body
// (spec.md's non-goal excludes streaming responses) and assembling an
// [*http.Response] on demand, which [*Server.dispatch] then writes with
// [*http.Response.Write] — the same request/response framing the
// teacher's own round-tripper reads on the client side.
type responseWriter struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        *bytes.Buffer
	maxBody     int64
}

func newResponseWriter(maxBody int64) *responseWriter {
	return &responseWriter{
		header:  make(http.Header),
		status:  http.StatusOK,
		body:    new(bytes.Buffer),
		maxBody: maxBody,
	}
}

var _ http.ResponseWriter = (*responseWriter)(nil)

func (w *responseWriter) Header() http.Header { return w.header }

func (w *responseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = status
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if int64(w.body.Len()+len(b)) > w.maxBody {
		return 0, io.ErrShortWrite
	}
	return w.body.Write(b)
}

// response builds the [*http.Response] to send back for req, deciding
// keep-alive the way net/http itself would: HTTP/1.1 defaults to
// keep-alive unless the client or handler said otherwise.
func (w *responseWriter) response(req *http.Request) *http.Response {
	close := req.Close || w.header.Get("Connection") == "close"
	return &http.Response{
		StatusCode:    w.status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        w.header,
		Body:          io.NopCloser(w.body),
		ContentLength: int64(w.body.Len()),
		Close:         close,
		Request:       req,
	}
}
