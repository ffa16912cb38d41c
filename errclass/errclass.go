//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/common/errclass/errclass.go
//

// Package errclass classifies network and runtime errors into short,
// platform-independent class strings suitable for structured logging and
// metrics, following the same convention the teacher package established
// for connect/TLS errors: a flat set of "EFOO" labels plus "EGENERIC" for
// anything unrecognized.
package errclass

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// Class strings. These intentionally mirror BSD errno names rather than
// inventing a new taxonomy, so they read the same in logs regardless of
// platform.
const (
	EADDRNOTAVAIL   = "EADDRNOTAVAIL"
	EADDRINUSE      = "EADDRINUSE"
	ECANCELED       = "ECANCELED"
	ECONNABORTED    = "ECONNABORTED"
	ECONNREFUSED    = "ECONNREFUSED"
	ECONNRESET      = "ECONNRESET"
	EEOF            = "EEOF"
	EHOSTUNREACH    = "EHOSTUNREACH"
	EINVAL          = "EINVAL"
	EINTR           = "EINTR"
	EMFILE          = "EMFILE"
	ENETDOWN        = "ENETDOWN"
	ENETUNREACH     = "ENETUNREACH"
	ENFILE          = "ENFILE"
	ENOBUFS         = "ENOBUFS"
	ENOTCONN        = "ENOTCONN"
	EPROTONOSUPPORT = "EPROTONOSUPPORT"
	ETIMEDOUT       = "ETIMEDOUT"
	EGENERIC        = "EGENERIC"
)

// New classifies err into one of the class strings above, or returns ""
// when err is nil. Unrecognized errors classify as [EGENERIC].
//
// This is the function the root package's DefaultErrClassifier delegates
// to; the other packages reach it through that classifier.
func New(err error) string {
	if err == nil {
		return ""
	}

	// Context-level cancellation/timeout take priority: these are the
	// most common wrapping errors and classifying them first avoids
	// depending on whatever the underlying transport wrapped them as.
	if errors.Is(err, context.DeadlineExceeded) {
		return ETIMEDOUT
	}
	if errors.Is(err, context.Canceled) {
		return ECANCELED
	}
	if errors.Is(err, io.EOF) {
		return EEOF
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ETIMEDOUT
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		if class, ok := classifyErrno(errno); ok {
			return class
		}
	}

	return EGENERIC
}

// classifyErrno maps a platform errno to a class string.
func classifyErrno(errno syscall.Errno) (string, bool) {
	switch errno {
	case errEADDRNOTAVAIL:
		return EADDRNOTAVAIL, true
	case errEADDRINUSE:
		return EADDRINUSE, true
	case errECANCELED:
		return ECANCELED, true
	case errECONNABORTED:
		return ECONNABORTED, true
	case errECONNREFUSED:
		return ECONNREFUSED, true
	case errECONNRESET:
		return ECONNRESET, true
	case errEHOSTUNREACH:
		return EHOSTUNREACH, true
	case errEINVAL:
		return EINVAL, true
	case errEINTR:
		return EINTR, true
	case errEMFILE:
		return EMFILE, true
	case errENETDOWN:
		return ENETDOWN, true
	case errENETUNREACH:
		return ENETUNREACH, true
	case errENFILE:
		return ENFILE, true
	case errENOBUFS:
		return ENOBUFS, true
	case errENOTCONN:
		return ENOTCONN, true
	case errEPROTONOSUPPORT:
		return EPROTONOSUPPORT, true
	case errETIMEDOUT:
		return ETIMEDOUT, true
	default:
		return "", false
	}
}

// IsResourceExhaustion reports whether err indicates the process is out of
// file descriptors (EMFILE) or the system is (ENFILE). The accept loop in
// httpcore's TCPServerFunc uses this to decide whether to trigger an eager hibernating-pipe
// sweep, per spec.md §7 item 2.
func IsResourceExhaustion(err error) bool {
	var pathErr *os.SyscallError
	if errors.As(err, &pathErr) {
		err = pathErr.Err
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == errEMFILE || errno == errENFILE
	}
	return false
}
