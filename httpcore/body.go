package httpcore

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/corenet"
)

// wrapBody wraps an HTTP response body so [*Client] emits structured log
// events lazily: httpBodyStreamStart on the first Read, httpBodyStreamDone
// on Close (only if at least one Read happened). Adapted nearly verbatim
// from the teacher's httpBodyWrap.
func wrapBody(
	body io.ReadCloser,
	errClass corenet.ErrClassifier,
	laddr string,
	logger corenet.SLogger,
	protocol string,
	raddr string,
	timeNow func() time.Time,
) io.ReadCloser {
	return &bodyWrapper{
		body:     body,
		errClass: errClass,
		laddr:    laddr,
		logger:   logger,
		protocol: protocol,
		raddr:    raddr,
		timeNow:  timeNow,
	}
}

type bodyWrapper struct {
	body      io.ReadCloser
	didRead   atomic.Bool
	errClass  corenet.ErrClassifier
	laddr     string
	logger    corenet.SLogger
	closeOnce sync.Once
	protocol  string
	raddr     string
	readOnce  sync.Once
	t0        time.Time
	timeNow   func() time.Time
}

var _ io.ReadCloser = &bodyWrapper{}

func (b *bodyWrapper) Close() (err error) {
	b.closeOnce.Do(func() {
		err = b.body.Close()
		if b.didRead.Load() {
			b.logger.Info(
				"httpBodyStreamDone",
				slog.Any("err", err),
				slog.String("errClass", b.errClass.Classify(err)),
				slog.String("localAddr", b.laddr),
				slog.String("protocol", b.protocol),
				slog.String("remoteAddr", b.raddr),
				slog.Time("t0", b.t0),
				slog.Time("t", b.timeNow()),
			)
		}
	})
	return
}

func (b *bodyWrapper) Read(buffer []byte) (int, error) {
	b.readOnce.Do(func() {
		b.t0 = b.timeNow()
		b.didRead.Store(true)
		b.logger.Info(
			"httpBodyStreamStart",
			slog.String("localAddr", b.laddr),
			slog.String("protocol", b.protocol),
			slog.String("remoteAddr", b.raddr),
			slog.Time("t", b.t0),
		)
	})
	return b.body.Read(buffer)
}
