package logging

import (
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

// DefaultTimeFormatStr is the timestamp layout used by test logs.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

type testAppender struct {
	tb     testing.TB
	fields []zapcore.Field
}

// NewTestAppender returns a logger appender that logs to the underlying `testing.TB`
// object. Writing logs with `tb.Log` correctly associates the log line with a Golang "Test*"
// function, which matters for tests that call `t.Parallel()`.
//
// Go prepends the filename/line that called `tb.Log`. All functions that call `tb.Helper` are
// skipped when walking the stack, so the reported line is the log call site rather than this file.
func NewTestAppender(tb testing.TB) Appender {
	return &testAppender{tb: tb}
}

func (tapp *testAppender) Enabled(zapcore.Level) bool {
	return true
}

func (tapp *testAppender) With(fields []zapcore.Field) zapcore.Core {
	combined := make([]zapcore.Field, 0, len(tapp.fields)+len(fields))
	combined = append(combined, tapp.fields...)
	combined = append(combined, fields...)
	return &testAppender{tb: tapp.tb, fields: combined}
}

func (tapp *testAppender) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return checked.AddCore(entry, tapp)
}

// Write outputs the log entry to the underlying test object `Log` method.
func (tapp *testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	tapp.tb.Helper()
	const maxLength = 10
	toPrint := make([]string, 0, maxLength)
	toPrint = append(toPrint, entry.Time.Format(DefaultTimeFormatStr))

	toPrint = append(toPrint, strings.ToUpper(entry.Level.String()))
	toPrint = append(toPrint, entry.LoggerName)
	if entry.Caller.Defined {
		toPrint = append(toPrint, fmt.Sprintf("%s:%d", entry.Caller.TrimmedPath(), entry.Caller.Line))
	}
	toPrint = append(toPrint, entry.Message)
	all := append(append([]zapcore.Field{}, tapp.fields...), fields...)
	if len(all) == 0 {
		tapp.tb.Log(strings.Join(toPrint, "\t"))
		return nil
	}

	// Use zap's json encoder which will encode our slice of fields in-order. As opposed to the
	// random iteration order of a map. Call it with an empty Entry object such that only the fields
	// become "map-ified".
	jsonEncoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
	buf, err := jsonEncoder.EncodeEntry(zapcore.Entry{}, all)
	if err != nil {
		// Log what we have and return the error.
		tapp.tb.Log(strings.Join(toPrint, "\t"))
		return err
	}
	toPrint = append(toPrint, buf.String())
	tapp.tb.Log(strings.Join(toPrint, "\t"))
	return nil
}

// Sync is a no-op.
func (tapp *testAppender) Sync() error {
	return nil
}
