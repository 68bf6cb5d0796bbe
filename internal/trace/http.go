// Package trace - HTTP/WebSocket middleware for trace extraction.
package trace

import (
	"encoding/json"
	"net/http"
)

// Middleware attaches a trace context to every request, continuing one
// advertised in the headers or minting a fresh one.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := Context{
			TraceID:      r.Header.Get(TraceIDKey),
			ParentSpanID: r.Header.Get(SpanIDKey),
			SpanID:       generateSpanID(),
		}
		if tc.TraceID == "" {
			tc.TraceID = generateTraceID()
		}
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}

// ExtractFromJSON pulls a trace_id out of an inbound frame so WebSocket
// messages join the sender's trace. Reports whether one was present.
func ExtractFromJSON(data []byte) (Context, bool) {
	var frame struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(data, &frame); err != nil || frame.TraceID == "" {
		return New(), false
	}
	return Context{TraceID: frame.TraceID, SpanID: generateSpanID()}, true
}
