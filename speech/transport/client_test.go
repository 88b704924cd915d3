package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vocalis-ai/vocalis/speech/stream"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Logger:  log.New(io.Discard),
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Error("NewClient(empty) = nil error, want error")
	}
}

func TestStreamChat(t *testing.T) {
	var gotAuth, gotAccept string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat/stream" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"type":"text","text":"Hi"}`+"\n")
		io.WriteString(w, `data: {"type":"complete","fullResponse":"Hi","transcript":"hello"}`+"\n")
	})

	client := newTestClient(t, handler)
	scanner, err := client.StreamChat(context.Background(), ChatRequest{
		SessionID: "s-1",
		Audio:     []byte{1, 2, 3},
	})
	if err != nil {
		t.Fatalf("StreamChat() error = %v", err)
	}
	defer scanner.Close()

	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotAccept != "text/event-stream" {
		t.Errorf("Accept = %q, want text/event-stream", gotAccept)
	}

	frame, err := scanner.Next()
	if err != nil || frame.Type != stream.FrameText || frame.Text != "Hi" {
		t.Fatalf("first frame = %+v, %v, want text frame", frame, err)
	}
	frame, err = scanner.Next()
	if err != nil || frame.Type != stream.FrameComplete {
		t.Fatalf("second frame = %+v, %v, want complete frame", frame, err)
	}
	if _, err := scanner.Next(); err != io.EOF {
		t.Errorf("Next() after complete = %v, want io.EOF", err)
	}
}

func TestStreamChatBadStatus(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend on fire", http.StatusBadGateway)
	})

	client := newTestClient(t, handler)
	if _, err := client.StreamChat(context.Background(), ChatRequest{SessionID: "s"}); err == nil {
		t.Error("StreamChat() = nil error on 502, want error")
	}
}

func TestFetchChunk(t *testing.T) {
	payload := []byte("wav-bytes")
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/audio/art-1":
			w.Write(payload)
		case "/api/audio/gone":
			http.NotFound(w, r)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	})
	client := newTestClient(t, handler)

	got, err := client.FetchChunk(context.Background(), "art-1")
	if err != nil {
		t.Fatalf("FetchChunk(art-1) error = %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("FetchChunk(art-1) = %q, want %q", got, payload)
	}

	_, err = client.FetchChunk(context.Background(), "gone")
	if !errors.Is(err, ErrArtifactExpired) {
		t.Errorf("FetchChunk(gone) error = %v, want ErrArtifactExpired", err)
	}

	_, err = client.FetchChunk(context.Background(), "broken")
	if err == nil || errors.Is(err, ErrArtifactExpired) {
		t.Errorf("FetchChunk(broken) error = %v, want non-expiry error", err)
	}
}

func TestFetchChunkURL(t *testing.T) {
	artifact := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/store/a0.wav" {
			io.WriteString(w, "inline-wav")
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(artifact.Close)

	client := newTestClient(t, http.NotFoundHandler())

	got, err := client.FetchChunkURL(context.Background(), artifact.URL+"/store/a0.wav")
	if err != nil {
		t.Fatalf("FetchChunkURL() error = %v", err)
	}
	if string(got) != "inline-wav" {
		t.Errorf("FetchChunkURL() = %q, want inline-wav", got)
	}

	_, err = client.FetchChunkURL(context.Background(), artifact.URL+"/store/missing.wav")
	if !errors.Is(err, ErrArtifactExpired) {
		t.Errorf("FetchChunkURL(missing) error = %v, want ErrArtifactExpired", err)
	}
}

func TestFetchChunkTimeout(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		BaseURL:      server.URL,
		ChunkTimeout: 50 * time.Millisecond,
		Logger:       log.New(io.Discard),
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if _, err := client.FetchChunk(context.Background(), "slow"); err == nil {
		t.Error("FetchChunk(slow) = nil error, want timeout")
	}
}

func TestSynthesize(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/synthesize" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		io.WriteString(w, "synth-wav")
	})
	client := newTestClient(t, handler)

	got, err := client.Synthesize(context.Background(), "Hello world.")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(got) != "synth-wav" {
		t.Errorf("Synthesize() = %q, want synth-wav", got)
	}
}
