package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataTableIsComplete(t *testing.T) {
	codes := []Code{
		CodeValidation, CodeUnauthorized, CodeForbidden, CodeNotFound, CodeConflict,
		CodeStateConflict, CodeIdempotency, CodeRateLimit, CodeInternal, CodeDependency,
		CodeInvalidTransition, CodeOversold, CodeMappingMissing, CodeAdaptor, CodeIntegrityViolation,
	}
	for _, c := range codes {
		m, ok := metadataByCode[c]
		if !ok {
			t.Errorf("%s has no metadata", c)
			continue
		}
		if m.HTTPStatus < 400 || m.PublicMessage == "" {
			t.Errorf("%s metadata incomplete: %+v", c, m)
		}
	}
}

func TestDomainCodesSurfaceAsExpected(t *testing.T) {
	if m := MetadataFor(CodeOversold); m.HTTPStatus != http.StatusConflict || m.Retryable || !m.DetailsAllowed {
		t.Fatalf("oversold: %+v", m)
	}
	if m := MetadataFor(CodeAdaptor); m.HTTPStatus != http.StatusBadGateway || !m.Retryable {
		t.Fatalf("adaptor: %+v", m)
	}
	if m := MetadataFor(CodeUnauthorized); m.DetailsAllowed {
		t.Fatal("auth failures must not leak details")
	}
	if MetadataFor("SOMETHING_UNKNOWN") != MetadataFor(CodeInternal) {
		t.Fatal("unknown codes should fall back to internal")
	}
}

func TestNewfAndWrap(t *testing.T) {
	err := Newf(CodeValidation, "invalid rule type %q", "foo")
	if err.Message() != `invalid rule type "foo"` || err.Code() != CodeValidation {
		t.Fatalf("unexpected %v", err)
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeDependency, cause, "redis")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatal("Wrap lost the cause")
	}
	if wrapped.Error() != "DEPENDENCY_ERROR: redis: boom" {
		t.Fatalf("unexpected text %q", wrapped.Error())
	}
	if Wrap(CodeConflict, nil, "cas").Error() != "CONFLICT: cas" {
		t.Fatal("nil cause should not appear in the text")
	}
}

func TestNilReceiverIsSafe(t *testing.T) {
	var e *Error
	if e.Code() != CodeInternal || e.Message() != "" || e.Details() != nil || e.Unwrap() != nil {
		t.Fatal("nil *Error accessors should return zero values")
	}
	if e.WithDetail("k", 1) != nil || e.WithDetails("x") != nil {
		t.Fatal("nil *Error builders should stay nil")
	}
}

func TestClassifiersLookThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", New(CodeOversold, "no rooms"))
	if !Is(wrapped, CodeOversold) || Is(wrapped, CodeConflict) {
		t.Fatal("Is should match only the wrapped code")
	}
	if CodeOf(wrapped) != CodeOversold || CodeOf(stdErrors.New("plain")) != CodeInternal {
		t.Fatal("CodeOf mismatch")
	}
	if StatusOf(wrapped) != http.StatusConflict {
		t.Fatalf("status %d", StatusOf(wrapped))
	}
	if As(nil) != nil {
		t.Fatal("As(nil) should be nil")
	}
}

func TestRetryable(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":        {nil, false},
		"untyped":    {stdErrors.New("io timeout"), true},
		"conflict":   {New(CodeConflict, "cas"), true},
		"validation": {New(CodeValidation, "bad"), false},
		"wrapped":    {fmt.Errorf("x: %w", New(CodeMappingMissing, "no map")), false},
	}
	for name, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Errorf("%s: got %v want %v", name, got, tc.want)
		}
	}
}

func TestWithDetailMergesAndCorrelation(t *testing.T) {
	err := New(CodeOversold, "no rooms").WithDetails(map[string]any{"date": "2025-03-10"})
	err.WithDetail("correlation_id", "abc")

	details := err.Details().(map[string]any)
	if details["date"] != "2025-03-10" || details["correlation_id"] != "abc" {
		t.Fatalf("unexpected details %+v", details)
	}
	if got := CorrelationID(fmt.Errorf("wrapped: %w", err)); got != "abc" {
		t.Fatalf("expected correlation id through wrap, got %q", got)
	}
	if CorrelationID(New(CodeConflict, "x").WithDetails("str")) != "" {
		t.Fatal("non-map details carry no correlation id")
	}

	plain := New(CodeConflict, "cas").WithDetails("row busy").WithDetail("attempts", 3)
	if plain.Details().(map[string]any)["context"] != "row busy" {
		t.Fatal("non-map details should be preserved under context")
	}
}
