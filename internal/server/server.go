// Package server provides HTTP and WebSocket handlers
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"voicerelay/internal/queue"
	"voicerelay/internal/record"
	"voicerelay/internal/trace"
	"voicerelay/internal/transcribe"
)

// Inbound frame types.
type frame struct {
	Type string `json:"type"`
}

type messageFrame struct {
	Type    string        `json:"type"`
	GroupID string        `json:"groupId"`
	Message queue.Message `json:"message"`
}

type ackFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Accepted  bool   `json:"accepted"`
}

type eventFrame struct {
	Type  string      `json:"type"`
	Event queue.Event `json:"event"`
}

type recordingFrame struct {
	Type        string  `json:"type"`
	IsRecording bool    `json:"isRecording"`
	Duration    float64 `json:"durationSeconds"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// rateLimiter tracks frame timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a frame is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}
	r.timestamps = append(r.timestamps, now)
	return true
}

// Server exposes the delivery queue, the recording arbiter and the
// transcription pipeline over HTTP and WebSocket.
type Server struct {
	queue      *queue.Queue
	arbiter    *record.Arbiter
	pipeline   *transcribe.Service
	selfUserID string

	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter
}

// New creates a server and starts broadcasting queue and recording events
// to connected clients.
func New(q *queue.Queue, arb *record.Arbiter, pipeline *transcribe.Service, selfUserID string) *Server {
	s := &Server{
		queue:      q,
		arbiter:    arb,
		pipeline:   pipeline,
		selfUserID: selfUserID,
		conns:      make(map[*websocket.Conn]struct{}),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
	}

	go s.broadcastQueueEvents()
	arb.Subscribe(func(st record.State) {
		s.broadcast(recordingFrame{
			Type:        "recording",
			IsRecording: st.IsRecording,
			Duration:    st.Duration.Seconds(),
		})
	})

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/queue/status", s.handleQueueStatus)
	mux.HandleFunc("POST /api/queue/clear", s.handleQueueClear)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	mux.HandleFunc("POST /api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("POST /api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("POST /api/recording/cancel", s.handleRecordingCancel)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		trace.Logger(r.Context()).Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
	}()

	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		var raw json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &raw); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(baseCtx, conn, errorFrame{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		var base frame
		if err := json.Unmarshal(raw, &base); err != nil {
			continue
		}

		switch base.Type {
		case "message":
			var mf messageFrame
			if err := json.Unmarshal(raw, &mf); err != nil {
				continue
			}
			ctx := baseCtx
			if tc, ok := trace.ExtractFromJSON(raw); ok {
				ctx = trace.WithContext(ctx, tc)
			}
			s.handleInbound(ctx, conn, mf)
		}
	}
}

func (s *Server) handleInbound(ctx context.Context, conn *websocket.Conn, mf messageFrame) {
	ctx, span := trace.StartSpan(ctx, "ingest_message")
	defer span.End()
	span.SetAttr("message_id", mf.Message.ID)

	groupID := mf.GroupID
	if groupID == "" {
		groupID = mf.Message.GroupID
	}

	accepted := s.queue.AddMessage(mf.Message, groupID)
	trace.Logger(ctx).Info("message ingested",
		"message_id", mf.Message.ID, "group_id", groupID, "accepted", accepted)

	_ = wsjson.Write(ctx, conn, ackFrame{
		Type:      "ack",
		MessageID: mf.Message.ID,
		Accepted:  accepted,
	})
}

func (s *Server) broadcastQueueEvents() {
	events, _ := s.queue.Events().Subscribe()
	for e := range events {
		s.broadcast(eventFrame{Type: "queue_event", Event: e})
	}
}

func (s *Server) broadcast(msg any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for conn := range s.conns {
		go func(c *websocket.Conn) {
			_ = wsjson.Write(context.Background(), c, msg)
		}(conn)
	}
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	groupID := r.URL.Query().Get("groupId")
	if groupID == "" {
		http.Error(w, "groupId required", http.StatusBadRequest)
		return
	}
	writeJSON(w, s.queue.Status(groupID))
}

func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	groupID := r.URL.Query().Get("groupId")
	if groupID == "" {
		http.Error(w, "groupId required", http.StatusBadRequest)
		return
	}
	s.queue.ClearQueue(groupID)
	writeJSON(w, map[string]string{"status": "cleared"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.queue.Metrics())
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	ok := s.arbiter.Start(r.Context())
	writeJSON(w, map[string]bool{"recording": ok})
}

// handleRecordingStop finalizes the capture and pushes it straight into the
// transcription pipeline.
func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	path, ok := s.arbiter.Stop()
	if !ok {
		writeJSON(w, map[string]bool{"recording": false})
		return
	}

	groupID := r.URL.Query().Get("groupId")
	if groupID == "" {
		groupID = DefaultGroupID
	}

	receipt, err := s.pipeline.FastTranscribe(r.Context(), path, s.selfUserID, groupID)
	if err != nil {
		trace.Logger(r.Context()).Error("transcribe after stop failed", "error", err)
		http.Error(w, "transcription busy", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, receipt)
}

func (s *Server) handleRecordingCancel(w http.ResponseWriter, _ *http.Request) {
	s.arbiter.Cancel()
	writeJSON(w, map[string]string{"status": "cancelled"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
