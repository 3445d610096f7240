package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode entry %q: %v", buf.String(), err)
	}
	return entry
}

func TestErrorCarriesScopedFieldsAndStack(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Env: "prod", Output: buf})

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithHotelID(ctx, "hotel-1")
	ctx = log.WithFields(ctx, map[string]any{"channel_id": "ch-9"})
	log.Error(ctx, "sync failed", errors.New("boom"))

	entry := decodeEntry(t, buf)
	for key, want := range map[string]string{
		"request_id": "req-123",
		"hotel_id":   "hotel-1",
		"channel_id": "ch-9",
		"env":        "prod",
		"error":      "boom",
	} {
		if entry[key] != want {
			t.Fatalf("%s = %v, want %s", key, entry[key], want)
		}
	}
	stack, _ := entry["stack"].(string)
	if !strings.Contains(stack, "TestErrorCarriesScopedFieldsAndStack") {
		t.Fatalf("stack should start at the caller, got %q", stack)
	}
	if strings.Contains(stack, "logger.(*Logger).emit") {
		t.Fatalf("stack should skip logger frames, got %q", stack)
	}
}

func TestScopedFieldsDoNotLeakToParentContext(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})
	parent := context.Background()
	_ = log.WithBookingID(parent, "b-1")

	log.Info(parent, "plain")
	if _, ok := decodeEntry(t, buf)["booking_id"]; ok {
		t.Fatal("parent context must not see child fields")
	}
}

func TestWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{ServiceName: "test", Output: buf}).Warn(context.Background(), "quiet")
	if _, ok := decodeEntry(t, buf)["stack"]; ok {
		t.Fatal("warn should not carry a stack by default")
	}

	buf.Reset()
	New(Options{ServiceName: "test", Output: buf, WarnStack: true}).Warn(context.Background(), "loud")
	if _, ok := decodeEntry(t, buf)["stack"]; !ok {
		t.Fatal("expected stack when warn stack is enabled")
	}
}

func TestTraceIDsAttachedFromSpanContext(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	log.Info(ctx, "traced")
	entry := decodeEntry(t, buf)
	if entry["trace_id"] != sc.TraceID().String() || entry["span_id"] != sc.SpanID().String() {
		t.Fatalf("missing trace ids: %v", entry)
	}
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: zerolog.InfoLevel, Output: buf})
	log.Debug(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug to be suppressed at info level; entry=%s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"invalid": zerolog.InfoLevel,
		" WARN ":  zerolog.WarnLevel,
		"debug":   zerolog.DebugLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestResolveFormat(t *testing.T) {
	if resolveFormat("", "dev") != FormatConsole {
		t.Fatal("dev defaults to console")
	}
	if resolveFormat("", "prod") != FormatJSON {
		t.Fatal("non-dev defaults to json")
	}
	if resolveFormat("json", "dev") != FormatJSON {
		t.Fatal("explicit format wins")
	}

	buf := &bytes.Buffer{}
	New(Options{ServiceName: "test", Output: buf, Format: FormatConsole}).Info(context.Background(), "hello")
	if bytes.HasPrefix(bytes.TrimSpace(buf.Bytes()), []byte("{")) || !bytes.Contains(buf.Bytes(), []byte("hello")) {
		t.Fatalf("expected console output, got %s", buf.String())
	}
}
