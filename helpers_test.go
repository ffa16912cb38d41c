// SPDX-License-Identifier: GPL-3.0-or-later

package corenet

import (
	"context"
	"log/slog"
)

// funcHandler adapts closures to [slog.Handler], the same stubbing idiom the
// teacher used via its private slogstub dependency, kept here as a plain
// local type now that logging fakes no longer need to cross a package
// boundary (nothing outside _test.go files constructs one).
type funcHandler struct {
	enabledFunc func(ctx context.Context, level slog.Level) bool
	handleFunc  func(ctx context.Context, record slog.Record) error
}

func (h *funcHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.enabledFunc(ctx, level)
}

func (h *funcHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.handleFunc(ctx, record)
}

func (h *funcHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }

func (h *funcHandler) WithGroup(name string) slog.Handler { return h }

// newCapturingLogger returns a logger that captures all log records into the
// returned slice. The caller can inspect the slice after exercising the code
// under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var records []slog.Record
	handler := &funcHandler{
		enabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		handleFunc: func(ctx context.Context, record slog.Record) error {
			records = append(records, record)
			return nil
		},
	}
	return slog.New(handler), &records
}
