package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewContextHasIDs(t *testing.T) {
	tc := New()
	if len(tc.TraceID) != 32 {
		t.Errorf("TraceID length = %d, want 32", len(tc.TraceID))
	}
	if len(tc.SpanID) != 16 {
		t.Errorf("SpanID length = %d, want 16", len(tc.SpanID))
	}
}

func TestNewChildKeepsTraceID(t *testing.T) {
	parent := New()
	child := NewChild(parent)

	if child.TraceID != parent.TraceID {
		t.Error("child should inherit parent TraceID")
	}
	if child.SpanID == parent.SpanID {
		t.Error("child should get a fresh SpanID")
	}
	if child.ParentSpanID != parent.SpanID {
		t.Error("child ParentSpanID should be parent SpanID")
	}
}

func TestWithFromContext(t *testing.T) {
	tc := New()
	ctx := WithContext(context.Background(), tc)

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("FromContext should find injected context")
	}
	if got.TraceID != tc.TraceID {
		t.Errorf("TraceID = %q, want %q", got.TraceID, tc.TraceID)
	}
}

func TestEnsureContext(t *testing.T) {
	ctx, tc := EnsureContext(context.Background())
	if tc.TraceID == "" {
		t.Error("EnsureContext should create a trace id")
	}

	ctx2, tc2 := EnsureContext(ctx)
	if tc2.TraceID != tc.TraceID {
		t.Error("EnsureContext should reuse existing context")
	}
	if ctx2 != ctx {
		t.Error("EnsureContext should not rewrap existing context")
	}
}

func TestStartSpan(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test_op")
	span.SetAttr("key", "value")
	span.End()

	if span.Name != "test_op" {
		t.Errorf("Name = %q, want test_op", span.Name)
	}
	if span.Duration() < 0 {
		t.Error("Duration should be non-negative")
	}
	if _, ok := FromContext(ctx); !ok {
		t.Error("StartSpan should inject trace context")
	}
}

func TestStartSpanChildOfParent(t *testing.T) {
	parentCtx := WithContext(context.Background(), New())
	parent, _ := FromContext(parentCtx)

	_, span := StartSpan(parentCtx, "child_op")
	if span.Ctx.TraceID != parent.TraceID {
		t.Error("span should inherit trace id from parent context")
	}
}

func TestMiddlewareCreatesContext(t *testing.T) {
	var got Context
	var ok bool
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = FromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !ok || got.TraceID == "" {
		t.Error("middleware should create trace context when headers absent")
	}
}

func TestMiddlewarePropagatesHeader(t *testing.T) {
	var got Context
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(TraceIDKey, "abc123")
	req.Header.Set(SpanIDKey, "def456")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got.TraceID != "abc123" {
		t.Errorf("TraceID = %q, want abc123", got.TraceID)
	}
	if got.ParentSpanID != "def456" {
		t.Errorf("ParentSpanID = %q, want def456", got.ParentSpanID)
	}
}

func TestExtractFromJSON(t *testing.T) {
	tc, found := ExtractFromJSON([]byte(`{"trace_id":"xyz"}`))
	if !found || tc.TraceID != "xyz" {
		t.Errorf("ExtractFromJSON = (%v, %v), want trace id xyz", tc, found)
	}

	if _, found := ExtractFromJSON([]byte(`{}`)); found {
		t.Error("ExtractFromJSON should report absent trace id")
	}
}
