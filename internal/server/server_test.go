package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"voicerelay/internal/queue"
	"voicerelay/internal/record"
	"voicerelay/internal/store"
	"voicerelay/internal/transcribe"
)

type stubSource struct{}

func (stubSource) ResolveAudio(_ context.Context, id string) (string, error) {
	return "https://storage.test/" + id + ".wav", nil
}

type stubPlayer struct{}

func (stubPlayer) Play(_ context.Context, _ string) error { return nil }

type stubRecorder struct {
	path string
}

func (r *stubRecorder) Begin(_ context.Context) error { return nil }
func (r *stubRecorder) Finalize() (string, error)     { return r.path, nil }
func (r *stubRecorder) Discard() error                { return nil }

type stubJobs struct{}

func (stubJobs) Submit(_ context.Context, _ string) (string, error) { return "job-1", nil }
func (stubJobs) Poll(_ context.Context, _ string) (transcribe.JobStatus, error) {
	return transcribe.JobStatusDone, nil
}
func (stubJobs) Fetch(_ context.Context, _ string) (string, error) { return "hello", nil }

type stubUploader struct{}

func (stubUploader) Upload(_ context.Context, _, hash string) (string, error) {
	return "https://storage.test/" + hash + ".wav", nil
}

func newTestServer(t *testing.T) (*Server, *transcribe.Service) {
	t.Helper()

	q := queue.New(stubSource{}, stubPlayer{}, queue.Options{SelfUserID: "me"})
	t.Cleanup(q.Shutdown)

	wavPath := filepath.Join(t.TempDir(), "take.wav")
	if err := os.WriteFile(wavPath, []byte("captured audio bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	arb := record.NewArbiter(&stubRecorder{path: wavPath})

	svc := transcribe.NewService(transcribe.Deps{
		Store:    store.NewMemoryStore(),
		Uploader: stubUploader{},
		Jobs:     stubJobs{},
	})
	t.Cleanup(svc.Drain)

	return New(q, arb, svc, "me"), svc
}

func TestRateLimiterWindow(t *testing.T) {
	rl := &rateLimiter{}
	for i := 0; i < RateLimitMessages; i++ {
		if !rl.allow() {
			t.Fatalf("frame %d denied inside the window budget", i)
		}
	}
	if rl.allow() {
		t.Error("frame over budget should be denied")
	}
}

func TestWebSocketMessageIngest(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	err = wsjson.Write(ctx, conn, map[string]any{
		"type":     "message",
		"groupId":  "g1",
		"trace_id": "0af7651916cd43dd8448eb211c80319c",
		"message": queue.Message{
			ID:        "m1",
			SenderID:  "alice",
			Type:      "voice",
			Timestamp: time.Now(),
			AudioURL:  "https://storage.test/m1.wav",
		},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	// queue events broadcast on the same socket, skip until the ack
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			t.Fatalf("read: %v", err)
		}
		var base frame
		if err := json.Unmarshal(raw, &base); err != nil {
			t.Fatal(err)
		}
		if base.Type != "ack" {
			continue
		}
		var ack ackFrame
		if err := json.Unmarshal(raw, &ack); err != nil {
			t.Fatal(err)
		}
		if ack.MessageID != "m1" || !ack.Accepted {
			t.Errorf("ack = %+v, want accepted m1", ack)
		}
		return
	}
}

func TestQueueStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/queue/status", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing groupId status = %d, want 400", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/queue/status?groupId=g1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var st queue.Status
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var m queue.Metrics
	if err := json.NewDecoder(rr.Body).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestRecordingLifecycleEndpoints(t *testing.T) {
	s, svc := newTestServer(t)
	h := s.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/recording/start", nil))
	var started map[string]bool
	if err := json.NewDecoder(rr.Body).Decode(&started); err != nil {
		t.Fatal(err)
	}
	if !started["recording"] {
		t.Fatal("start should begin recording")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/recording/stop?groupId=g1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("stop status = %d: %s", rr.Code, rr.Body.String())
	}
	var receipt transcribe.Receipt
	if err := json.NewDecoder(rr.Body).Decode(&receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.MessageID == "" || receipt.AudioHash == "" {
		t.Errorf("receipt = %+v, want message id and hash", receipt)
	}
	svc.Drain()

	// stop while idle reports not recording
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/recording/stop", nil))
	var idle map[string]bool
	if err := json.NewDecoder(rr.Body).Decode(&idle); err != nil {
		t.Fatal(err)
	}
	if idle["recording"] {
		t.Error("stop on idle arbiter should report false")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/recording/cancel", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("cancel status = %d", rr.Code)
	}
}
