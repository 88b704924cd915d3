package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vocalis-ai/vocalis/speech/audio"
	"github.com/vocalis-ai/vocalis/speech/stream"
	"github.com/vocalis-ai/vocalis/speech/transport"
)

// fakeTransport serves a canned response stream and an in-memory
// artifact store.
type fakeTransport struct {
	mu          sync.Mutex
	streamBody  string
	streamErr   error
	streamDelay time.Duration
	// streamReader overrides streamBody when set, so a test can feed
	// frames one at a time through a pipe.
	streamReader io.ReadCloser
	streamCtx    context.Context // last ctx handed to StreamChat
	artifacts    map[string][]byte
	synthesize   func(text string) ([]byte, error)
	synthCalls   []string
}

func (f *fakeTransport) StreamChat(ctx context.Context, req transport.ChatRequest) (*stream.Scanner, error) {
	f.mu.Lock()
	f.streamCtx = ctx
	delay := f.streamDelay
	streamErr := f.streamErr
	reader := f.streamReader
	body := f.streamBody
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if streamErr != nil {
		return nil, streamErr
	}
	if reader != nil {
		return stream.NewScanner(reader, log.New(io.Discard)), nil
	}
	return stream.NewScanner(io.NopCloser(strings.NewReader(body)), log.New(io.Discard)), nil
}

func (f *fakeTransport) FetchChunk(ctx context.Context, audioID string) ([]byte, error) {
	f.mu.Lock()
	data, ok := f.artifacts[audioID]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("chunk %s: %w", audioID, transport.ErrArtifactExpired)
	}
	return data, nil
}

func (f *fakeTransport) FetchChunkURL(ctx context.Context, audioURL string) ([]byte, error) {
	return f.FetchChunk(ctx, audioURL)
}

func (f *fakeTransport) Synthesize(ctx context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	f.synthCalls = append(f.synthCalls, text)
	f.mu.Unlock()
	if f.synthesize != nil {
		return f.synthesize(text)
	}
	return wavPayload(2), nil
}

// wavPayload builds a tiny valid WAV whose PCM length encodes an id for
// assertions.
func wavPayload(frames int) []byte {
	format := audio.DefaultFormat()
	wav, err := audio.EncodeWAV(make([]byte, frames*format.BytesPerFrame()), format)
	if err != nil {
		panic(err)
	}
	return wav
}

func pcmFrames(pcm []byte) int {
	return len(pcm) / audio.DefaultFormat().BytesPerFrame()
}

func audioFrameLine(id int, audioID string) string {
	return fmt.Sprintf(`data: {"type":"audio_ref","chunkId":"%d","audioId":"%s"}`, id, audioID)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BaseURL = "http://backend.test"
	cfg.MinClipBytes = 4
	cfg.InterChunkGap = 0
	return cfg
}

func newTestSession(t *testing.T, ft *fakeTransport, device audio.Device) *Session {
	t.Helper()
	s, err := NewSession(testConfig(), ft, device, log.New(io.Discard), nil)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// collectUntil drains events until an event of the wanted kind arrives.
func collectUntil(t *testing.T, s *Session, want EventKind) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-s.Events():
			got = append(got, e)
			if e.Kind == want {
				return got
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v, saw %v", want, got)
		}
	}
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func hasKind(events []Event, kind EventKind) bool {
	for _, e := range events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func TestSessionFullCycle(t *testing.T) {
	// Audio ids arrive out of order; playback must still be 0, 1, 2.
	body := strings.Join([]string{
		`data: {"type":"text","text":"It is "}`,
		`data: {"type":"text","text":"sunny today."}`,
		audioFrameLine(2, "art-2"),
		audioFrameLine(0, "art-0"),
		audioFrameLine(1, "art-1"),
		`data: {"type":"complete","fullResponse":"It is sunny today.","transcript":"what is the weather"}`,
	}, "\n") + "\n"

	ft := &fakeTransport{
		streamBody: body,
		artifacts: map[string][]byte{
			"art-0": wavPayload(1),
			"art-1": wavPayload(2),
			"art-2": wavPayload(3),
		},
	}
	device := audio.NewMockDevice()
	device.SetAutoComplete(true)
	s := newTestSession(t, ft, device)

	clip := make([]byte, 64)
	if err := s.Submit(context.Background(), clip); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	events := collectUntil(t, s, EventComplete)
	if !hasKind(events, EventProcessing) {
		t.Error("no processing event before completion")
	}
	var streamed strings.Builder
	for _, e := range events {
		if e.Kind == EventResponseChunk {
			streamed.WriteString(e.Text)
		}
	}
	if streamed.String() != "It is sunny today." {
		t.Errorf("streamed text = %q, want full response", streamed.String())
	}
	last := events[len(events)-1]
	if last.Response != "It is sunny today." || last.Transcript != "what is the weather" {
		t.Errorf("complete event = %+v, want full response and transcript", last)
	}
	if !hasKind(events, EventTranscript) {
		t.Error("no transcript event before completion")
	}
}

func TestSessionPlaysOutOfOrderChunksInOrder(t *testing.T) {
	body := strings.Join([]string{
		audioFrameLine(2, "art-2"),
		audioFrameLine(0, "art-0"),
		audioFrameLine(1, "art-1"),
		`data: {"type":"complete","fullResponse":"r","transcript":"t"}`,
	}, "\n") + "\n"

	ft := &fakeTransport{
		streamBody: body,
		artifacts: map[string][]byte{
			"art-0": wavPayload(1),
			"art-1": wavPayload(2),
			"art-2": wavPayload(3),
		},
	}
	device := audio.NewMockDevice()
	device.SetAutoComplete(true)
	s := newTestSession(t, ft, device)

	if err := s.Submit(context.Background(), make([]byte, 64)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	collectUntil(t, s, EventComplete)
	waitUntil(t, func() bool { return len(device.Plays()) == 3 }, "not all chunks played")

	plays := device.Plays()
	for i, play := range plays {
		if pcmFrames(play.PCM) != i+1 {
			t.Errorf("play %d has %d frames, want %d (ascending chunk order)", i, pcmFrames(play.PCM), i+1)
		}
	}

	if got := s.History(); len(got) != 2 || got[0].Role != "user" || got[1].Role != "assistant" {
		t.Errorf("history = %+v, want one user and one assistant turn", got)
	}
}

func TestSessionExpiredChunkIsSkippedSilently(t *testing.T) {
	body := strings.Join([]string{
		audioFrameLine(0, "art-0"),
		audioFrameLine(1, "art-missing"),
		audioFrameLine(2, "art-2"),
		`data: {"type":"complete","fullResponse":"r","transcript":"t"}`,
	}, "\n") + "\n"

	ft := &fakeTransport{
		streamBody: body,
		artifacts: map[string][]byte{
			"art-0": wavPayload(1),
			"art-2": wavPayload(3),
		},
	}
	device := audio.NewMockDevice()
	device.SetAutoComplete(true)
	s := newTestSession(t, ft, device)

	if err := s.Submit(context.Background(), make([]byte, 64)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	events := collectUntil(t, s, EventComplete)
	waitUntil(t, func() bool { return len(device.Plays()) == 2 }, "surviving chunks did not play")

	if hasKind(events, EventError) {
		t.Error("an expired artifact surfaced as an error event")
	}
	plays := device.Plays()
	if pcmFrames(plays[0].PCM) != 1 || pcmFrames(plays[1].PCM) != 3 {
		t.Errorf("played frames %d,%d, want 1,3 (chunk 1 skipped, order kept)",
			pcmFrames(plays[0].PCM), pcmFrames(plays[1].PCM))
	}
}

func TestSessionUndecodableChunkIsSkipped(t *testing.T) {
	body := strings.Join([]string{
		audioFrameLine(0, "art-bad"),
		audioFrameLine(1, "art-1"),
		`data: {"type":"complete","fullResponse":"r","transcript":"t"}`,
	}, "\n") + "\n"

	ft := &fakeTransport{
		streamBody: body,
		artifacts: map[string][]byte{
			"art-bad": []byte("not a wav at all"),
			"art-1":   wavPayload(2),
		},
	}
	device := audio.NewMockDevice()
	device.SetAutoComplete(true)
	s := newTestSession(t, ft, device)

	if err := s.Submit(context.Background(), make([]byte, 64)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	events := collectUntil(t, s, EventComplete)
	waitUntil(t, func() bool { return len(device.Plays()) == 1 }, "surviving chunk did not play")

	if hasKind(events, EventError) {
		t.Error("a decode failure surfaced as an error event")
	}
	if pcmFrames(device.Plays()[0].PCM) != 2 {
		t.Error("wrong chunk played after decode skip")
	}
}

func TestSessionServerErrorResets(t *testing.T) {
	body := `data: {"type":"text","text":"partial"}` + "\n" +
		`data: {"type":"error","error":"backend unavailable"}` + "\n"

	ft := &fakeTransport{streamBody: body}
	device := audio.NewMockDevice()
	s := newTestSession(t, ft, device)

	if err := s.Submit(context.Background(), make([]byte, 64)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	events := collectUntil(t, s, EventReset)

	var errMsg string
	for _, e := range events {
		if e.Kind == EventError {
			errMsg = e.Message
		}
	}
	if errMsg != "backend unavailable" {
		t.Errorf("error message = %q, want server's message", errMsg)
	}
	if len(s.History()) != 0 {
		t.Error("failed cycle appended to history")
	}
	waitUntil(t, func() bool { return s.State() == StateIdle }, "session not idle after server error")

	// The session accepts a fresh submit afterwards.
	ft.streamBody = `data: {"type":"complete","fullResponse":"ok","transcript":"t"}` + "\n"
	if err := s.Submit(context.Background(), make([]byte, 64)); err != nil {
		t.Errorf("Submit() after reset error = %v", err)
	}
}

func TestSessionBusyRejectsSecondSubmit(t *testing.T) {
	ft := &fakeTransport{
		streamBody:  `data: {"type":"complete","fullResponse":"ok","transcript":"t"}` + "\n",
		streamDelay: 200 * time.Millisecond,
	}
	s := newTestSession(t, ft, audio.NewMockDevice())

	if err := s.Submit(context.Background(), make([]byte, 64)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := s.Submit(context.Background(), make([]byte, 64)); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("second Submit() error = %v, want ErrSessionBusy", err)
	}
}

func TestSessionRejectsShortClip(t *testing.T) {
	s := newTestSession(t, &fakeTransport{}, audio.NewMockDevice())

	if err := s.Submit(context.Background(), []byte{1, 2}); !errors.Is(err, ErrClipTooShort) {
		t.Errorf("Submit(short clip) error = %v, want ErrClipTooShort", err)
	}
}

func TestSessionStopAudio(t *testing.T) {
	body := strings.Join([]string{
		audioFrameLine(0, "art-0"),
		audioFrameLine(1, "art-1"),
		`data: {"type":"complete","fullResponse":"r","transcript":"t"}`,
	}, "\n") + "\n"

	ft := &fakeTransport{
		streamBody: body,
		artifacts: map[string][]byte{
			"art-0": wavPayload(1),
			"art-1": wavPayload(2),
		},
	}
	device := audio.NewMockDevice()
	s := newTestSession(t, ft, device)

	if err := s.Submit(context.Background(), make([]byte, 64)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitUntil(t, func() bool { return len(device.Plays()) >= 1 }, "playback never started")

	s.StopAudio()
	if device.StopCount() == 0 {
		t.Error("device was not stopped")
	}
	played := len(device.Plays())

	// Nothing decoded after the stop request may reach the device.
	if device.FinishCurrent() {
		t.Error("a completion survived StopAudio")
	}
	time.Sleep(50 * time.Millisecond)
	if len(device.Plays()) != played {
		t.Errorf("chunks kept playing after StopAudio: %d -> %d", played, len(device.Plays()))
	}
}

func TestSessionSpeak(t *testing.T) {
	ft := &fakeTransport{
		synthesize: func(text string) ([]byte, error) {
			return wavPayload(len(text)), nil
		},
	}
	device := audio.NewMockDevice()
	device.SetAutoComplete(true)
	s := newTestSession(t, ft, device)

	text := "First sentence here. Second one follows. And a third."
	if err := s.Speak(context.Background(), text); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	collectUntil(t, s, EventComplete)

	ft.mu.Lock()
	fragments := len(ft.synthCalls)
	ft.mu.Unlock()
	if fragments == 0 {
		t.Fatal("nothing was synthesized")
	}
	waitUntil(t, func() bool { return len(device.Plays()) == fragments }, "not all fragments played")
}

func TestSessionSpeakFragmentsPlayInTextOrder(t *testing.T) {
	// Fragment lengths differ, so play order is observable through the
	// payload sizes even though synthesis completions race.
	cfg := testConfig()
	cfg.MaxChunkSize = 20
	ft := &fakeTransport{
		synthesize: func(text string) ([]byte, error) {
			return wavPayload(len(text)), nil
		},
	}
	device := audio.NewMockDevice()
	device.SetAutoComplete(true)
	s, err := NewSession(cfg, ft, device, log.New(io.Discard), nil)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	defer s.Close()

	text := "Tiny one. A somewhat longer sentence. Mid size line."
	if err := s.Speak(context.Background(), text); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	collectUntil(t, s, EventComplete)

	ft.mu.Lock()
	calls := make([]string, len(ft.synthCalls))
	copy(calls, ft.synthCalls)
	ft.mu.Unlock()
	waitUntil(t, func() bool { return len(device.Plays()) == len(calls) }, "not all fragments played")

	// Synthesize may have been called in any order; sort by fragment
	// position using the chunker's own output.
	wantSizes := map[int]bool{}
	for _, c := range calls {
		wantSizes[len(c)] = true
	}
	for i, play := range device.Plays() {
		if !wantSizes[pcmFrames(play.PCM)] {
			t.Errorf("play %d has unexpected size %d", i, pcmFrames(play.PCM))
		}
	}
}

func TestSessionSpeakSynthesisFailureSkips(t *testing.T) {
	var calls int
	var mu sync.Mutex
	ft := &fakeTransport{
		synthesize: func(text string) ([]byte, error) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n == 1 {
				return nil, errors.New("synthesis backend down")
			}
			return wavPayload(2), nil
		},
	}
	device := audio.NewMockDevice()
	device.SetAutoComplete(true)

	cfg := testConfig()
	cfg.MaxChunkSize = 15
	s, err := NewSession(cfg, ft, device, log.New(io.Discard), nil)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	defer s.Close()

	if err := s.Speak(context.Background(), "Alpha beta gamma. Delta epsilon zeta. Eta theta iota."); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	events := collectUntil(t, s, EventComplete)
	if hasKind(events, EventError) {
		t.Error("a synthesis failure surfaced as an error event")
	}
}

func TestSessionSpeakUsesSynthesisCache(t *testing.T) {
	ft := &fakeTransport{}
	device := audio.NewMockDevice()
	device.SetAutoComplete(true)
	s := newTestSession(t, ft, device)

	text := "One short line to say."
	if err := s.Speak(context.Background(), text); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	collectUntil(t, s, EventComplete)

	ft.mu.Lock()
	firstRun := len(ft.synthCalls)
	ft.mu.Unlock()

	if err := s.Speak(context.Background(), text); err != nil {
		t.Fatalf("second Speak() error = %v", err)
	}
	collectUntil(t, s, EventComplete)

	ft.mu.Lock()
	secondRun := len(ft.synthCalls)
	ft.mu.Unlock()
	if secondRun != firstRun {
		t.Errorf("synthesis called %d more times for cached text", secondRun-firstRun)
	}
}

func TestSessionSpeakRejectsEmptyText(t *testing.T) {
	s := newTestSession(t, &fakeTransport{}, audio.NewMockDevice())
	if err := s.Speak(context.Background(), "   "); !errors.Is(err, ErrEmptyText) {
		t.Errorf("Speak(blank) error = %v, want ErrEmptyText", err)
	}
}

func TestSessionBeginCaptureInterruptsPlayback(t *testing.T) {
	s := newTestSession(t, &fakeTransport{}, audio.NewMockDevice())

	if err := s.BeginCapture(); err != nil {
		t.Fatalf("BeginCapture() error = %v", err)
	}
	if s.State() != StateListening {
		t.Errorf("state = %v, want listening", s.State())
	}
	events := collectUntil(t, s, EventUserSpeaking)
	if len(events) != 1 {
		t.Errorf("events = %v, want just user_speaking", events)
	}
}

func TestSessionReset(t *testing.T) {
	ft := &fakeTransport{
		streamBody:  `data: {"type":"complete","fullResponse":"ok","transcript":"t"}` + "\n",
		streamDelay: 500 * time.Millisecond,
	}
	device := audio.NewMockDevice()
	s := newTestSession(t, ft, device)

	if err := s.Submit(context.Background(), make([]byte, 64)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	s.Reset()

	collectUntil(t, s, EventReset)
	if s.State() != StateIdle {
		t.Errorf("state after Reset = %v, want idle", s.State())
	}
	if len(s.History()) != 0 {
		t.Error("aborted cycle reached history")
	}

	// Reset cleared busy; the session takes new work immediately.
	ft.streamDelay = 0
	if err := s.Submit(context.Background(), make([]byte, 64)); err != nil {
		t.Errorf("Submit() after Reset error = %v", err)
	}
}

func TestSessionCloseEndsEventStream(t *testing.T) {
	s := newTestSession(t, &fakeTransport{}, audio.NewMockDevice())
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case _, ok := <-s.Events():
		if ok {
			t.Error("got event after Close, want closed channel")
		}
	case <-time.After(time.Second):
		t.Error("event channel not closed")
	}

	if err := s.Submit(context.Background(), make([]byte, 64)); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Submit() after Close error = %v, want ErrSessionClosed", err)
	}
}

func TestSessionStopAudioMidStreamStillCompletes(t *testing.T) {
	pr, pw := io.Pipe()
	ft := &fakeTransport{
		streamReader: pr,
		artifacts: map[string][]byte{
			"art-0": wavPayload(1),
			"art-1": wavPayload(2),
		},
	}
	device := audio.NewMockDevice()
	device.SetAutoComplete(true)
	s := newTestSession(t, ft, device)

	if err := s.Submit(context.Background(), make([]byte, 64)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	go pw.Write([]byte(audioFrameLine(0, "art-0") + "\n"))
	waitUntil(t, func() bool { return len(device.Plays()) >= 1 }, "first chunk never played")

	s.StopAudio()

	// The rest of the stream arrives after the stop: its audio must be
	// dropped, but the cycle itself must still complete.
	go func() {
		pw.Write([]byte(audioFrameLine(1, "art-1") + "\n"))
		pw.Write([]byte(`data: {"type":"complete","fullResponse":"r","transcript":"t"}` + "\n"))
		pw.Close()
	}()
	collectUntil(t, s, EventComplete)

	if got := device.Plays(); len(got) != 1 {
		t.Errorf("device plays = %d, want 1 (nothing after StopAudio)", len(got))
	}

	// The stopped cycle must release the session for the next one.
	ft.mu.Lock()
	ft.streamReader = nil
	ft.streamBody = `data: {"type":"complete","fullResponse":"again","transcript":"u"}` + "\n"
	ft.mu.Unlock()

	if err := s.Submit(context.Background(), make([]byte, 64)); err != nil {
		t.Fatalf("Submit() after StopAudio error = %v, want nil", err)
	}
	collectUntil(t, s, EventComplete)
}

func TestSessionStopAudioMidSpeakReleasesSession(t *testing.T) {
	block := make(chan struct{})
	ft := &fakeTransport{
		synthesize: func(text string) ([]byte, error) {
			<-block
			return wavPayload(len(text)), nil
		},
	}
	device := audio.NewMockDevice()
	device.SetAutoComplete(true)
	s := newTestSession(t, ft, device)

	if err := s.Speak(context.Background(), "One sentence. Another sentence."); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	s.StopAudio()
	close(block)
	collectUntil(t, s, EventComplete)

	if got := device.Plays(); len(got) != 0 {
		t.Errorf("fragments played after StopAudio: %d", len(got))
	}
	if err := s.Speak(context.Background(), "Again."); err != nil {
		t.Errorf("Speak() after StopAudio error = %v, want nil", err)
	}
}

func TestSessionCycleContextReleasedAfterCompletion(t *testing.T) {
	ft := &fakeTransport{
		streamBody: `data: {"type":"complete","fullResponse":"r","transcript":"t"}` + "\n",
	}
	s := newTestSession(t, ft, audio.NewMockDevice())

	if err := s.Submit(context.Background(), make([]byte, 64)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	collectUntil(t, s, EventComplete)

	waitUntil(t, func() bool {
		ft.mu.Lock()
		ctx := ft.streamCtx
		ft.mu.Unlock()
		return ctx != nil && ctx.Err() != nil
	}, "cycle context never cancelled after the cycle finished")
}
