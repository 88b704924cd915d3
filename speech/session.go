package speech

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/vocalis-ai/vocalis/internal/cache"
	"github.com/vocalis-ai/vocalis/internal/metrics"
	"github.com/vocalis-ai/vocalis/speech/audio"
	"github.com/vocalis-ai/vocalis/speech/chunker"
	"github.com/vocalis-ai/vocalis/speech/stream"
	"github.com/vocalis-ai/vocalis/speech/transport"
)

// Session owns one conversation: capture submission, the response
// stream, ordered playback, and the conversation history. All
// notifications flow through the Events channel; the session never
// calls into UI code.
//
// Each response cycle gets its own reorder buffer and a generation
// number. Work that finishes after its cycle was stopped or superseded
// belongs to a dead generation and is discarded at the enqueue gate.
type Session struct {
	cfg       Config
	transport Transport
	scheduler *audio.Scheduler
	machine   *StateMachine
	logger    *log.Logger
	metrics   *metrics.Metrics
	// synthCache memoizes synthesized fragments for the Speak path;
	// nil when disabled.
	synthCache *cache.Cache

	// playMu serializes the enqueue gate against Stop, so no chunk
	// slips onto the device after a stop request.
	playMu sync.Mutex

	eventsMu     sync.Mutex
	events       chan Event
	eventsClosed bool

	mu        sync.Mutex
	sessionID string
	history   []transport.Turn
	// generation identifies the response cycle; playGen identifies the
	// playback run within it. StopAudio bumps only playGen, so the
	// cycle still completes (text, transcript, history) while every
	// fragment of the stopped run dies at the enqueue gate.
	generation uint64
	playGen    uint64
	cancel     context.CancelFunc
	busy       bool
	closed     bool
}

// NewSession builds a session over tr and device. m may be nil to skip
// instrumentation.
func NewSession(cfg Config, tr Transport, device audio.Device, logger *log.Logger, m *metrics.Metrics) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, errors.New("speech: transport is required")
	}
	if device == nil {
		return nil, ErrDeviceUnavailable
	}
	if logger == nil {
		logger = log.Default()
	}

	s := &Session{
		cfg:       cfg,
		transport: tr,
		machine:   NewStateMachine(),
		logger:    logger,
		metrics:   m,
		events:    make(chan Event, cfg.EventBuffer),
		sessionID: uuid.NewString(),
	}
	if cfg.SynthCacheBytes > 0 {
		s.synthCache = cache.New(cfg.SynthCacheBytes)
		logger.Debug("synthesis cache enabled", "capacity", humanize.Bytes(uint64(cfg.SynthCacheBytes)))
	}
	s.scheduler = audio.NewScheduler(device, cfg.InterChunkGap, logger)
	s.scheduler.SetCallbacks(s.onChunkStart, s.onPlaybackDrained)
	return s, nil
}

// Events returns the session's notification stream. The channel closes
// when the session is closed.
func (s *Session) Events() <-chan Event {
	return s.events
}

// ID returns the opaque session identifier sent with every request.
func (s *Session) ID() string {
	return s.sessionID
}

// State returns the session's current state.
func (s *Session) State() StateType {
	return s.machine.Current()
}

// History returns a snapshot of the conversation so far.
func (s *Session) History() []transport.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// BeginCapture marks the start of the user's clip. Any response still
// playing is cut off, since the user talking over it supersedes it.
func (s *Session) BeginCapture() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.busy {
		s.mu.Unlock()
		return ErrSessionBusy
	}
	s.generation++
	s.mu.Unlock()

	s.stopPlayback()
	if err := s.machine.Transition(StateListening); err != nil {
		return err
	}
	s.emit(Event{Kind: EventUserSpeaking})
	return nil
}

// Submit sends one captured clip and begins a response cycle. It
// returns immediately; progress arrives on the event stream. A cycle
// already in flight is not interrupted — callers get ErrSessionBusy.
func (s *Session) Submit(ctx context.Context, clip []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.busy {
		s.mu.Unlock()
		return ErrSessionBusy
	}
	if len(clip) < s.cfg.MinClipBytes {
		s.mu.Unlock()
		return ErrClipTooShort
	}

	s.generation++
	gen := s.generation
	pg := s.playGen
	s.busy = true
	history := make([]transport.Turn, len(s.history))
	copy(history, s.history)
	cycleCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	// Leftovers from a previous response never bleed into this cycle.
	s.stopPlayback()
	s.toProcessing()
	s.emit(Event{Kind: EventProcessing})
	s.metrics.ObserveCycleStart()

	go s.runCycle(cycleCtx, cancel, gen, pg, clip, history)
	return nil
}

// newReorderBuffer builds the cycle's buffer. Its release path runs the
// enqueue gate: a chunk plays only while both the cycle and its
// playback run are still current, so a buffer outliving either drains
// into nothing.
func (s *Session) newReorderBuffer(gen, pg uint64) *audio.ReorderBuffer {
	return audio.NewReorderBuffer(func(chunk *audio.Chunk) {
		s.playMu.Lock()
		defer s.playMu.Unlock()
		if !s.isCurrent(gen, pg) {
			return
		}
		s.scheduler.Enqueue(chunk)
	}, s.logger)
}

// runCycle consumes one response stream to its terminal frame. cancel
// is released once the last fetcher has finished with the context.
func (s *Session) runCycle(ctx context.Context, cancel context.CancelFunc, gen, pg uint64, clip []byte, history []transport.Turn) {
	defer cancel()
	buffer := s.newReorderBuffer(gen, pg)

	scanner, err := s.transport.StreamChat(ctx, transport.ChatRequest{
		SessionID: s.sessionID,
		Audio:     clip,
		History:   history,
	})
	if err != nil {
		s.logger.Error("chat request failed", "err", err)
		s.failCycle(gen, "could not reach the conversation backend")
		return
	}
	defer scanner.Close()

	var response strings.Builder
	var fetchers sync.WaitGroup
	completed := false

	for {
		frame, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.logger.Error("response stream broke", "err", err)
			fetchers.Wait()
			s.failCycle(gen, "response stream interrupted")
			return
		}
		s.metrics.ObserveFrame(string(frame.Type))

		switch {
		case frame.Type == stream.FrameText:
			response.WriteString(frame.Text)
			s.emit(Event{Kind: EventResponseChunk, Text: frame.Text})

		case frame.IsAudio():
			seq, err := frame.Seq()
			if err != nil {
				s.logger.Warn("dropping audio frame with bad id", "err", err)
				s.metrics.ObserveMalformedFrame()
				continue
			}
			fetchers.Add(1)
			go func(f *stream.Frame, seq int) {
				defer fetchers.Done()
				s.fetchAndSubmit(ctx, buffer, seq, f)
			}(frame, seq)

		case frame.Type == stream.FrameComplete:
			full := frame.FullResponse
			if full == "" {
				full = response.String()
			}
			completed = true
			s.completeCycle(gen, full, frame.Transcript)

		case frame.Type == stream.FrameError:
			s.logger.Error("server ended stream with error", "err", frame.Error)
			fetchers.Wait()
			s.failCycle(gen, frame.Error)
			return
		}
	}

	fetchers.Wait()
	if !completed {
		s.failCycle(gen, "response stream ended unexpectedly")
	}
}

// fetchAndSubmit resolves one audio frame into the cycle's buffer. Any
// failure, expiry included, becomes a skip so playback never stalls on
// a missing fragment.
func (s *Session) fetchAndSubmit(ctx context.Context, buffer *audio.ReorderBuffer, seq int, frame *stream.Frame) {
	start := time.Now()
	var data []byte
	var err error
	if frame.AudioURL != "" {
		data, err = s.transport.FetchChunkURL(ctx, frame.AudioURL)
	} else {
		data, err = s.transport.FetchChunk(ctx, frame.AudioID)
	}
	s.metrics.ObserveFetchSeconds(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, transport.ErrArtifactExpired) {
			// Expected when playback lags the backend's artifact TTL.
			s.logger.Debug("chunk expired, skipping", "seq", seq)
			s.metrics.ObserveArtifactExpired()
			s.metrics.ObserveChunkSkipped(metrics.SkipReasonExpired)
		} else {
			s.logger.Warn("chunk fetch failed, skipping", "seq", seq, "err", err)
			s.metrics.ObserveChunkSkipped(metrics.SkipReasonFetch)
		}
		buffer.Skip(seq)
		s.metrics.SetPendingChunks(buffer.PendingCount())
		return
	}

	pcm, format, err := audio.DecodeWAV(data)
	if err != nil {
		s.logger.Warn("chunk decode failed, skipping", "seq", seq, "err", err)
		s.metrics.ObserveChunkSkipped(metrics.SkipReasonDecode)
		buffer.Skip(seq)
		s.metrics.SetPendingChunks(buffer.PendingCount())
		return
	}

	buffer.Submit(&audio.Chunk{ID: seq, PCM: pcm, Format: format, Text: frame.Text})
	s.metrics.SetPendingChunks(buffer.PendingCount())
}

// completeCycle records the finished turn exactly once and releases the
// session for the next submit. Audio may keep playing past this point.
func (s *Session) completeCycle(gen uint64, response, transcript string) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.history = append(s.history,
		transport.Turn{Role: "user", Text: transcript},
		transport.Turn{Role: "assistant", Text: response},
	)
	s.busy = false
	s.cancel = nil
	s.mu.Unlock()

	s.emit(Event{Kind: EventTranscript, Text: transcript})
	s.emit(Event{Kind: EventComplete, Response: response, Transcript: transcript})

	if !s.scheduler.IsPlaying() {
		s.machine.ForceIdle()
	}
}

// failCycle tears the cycle down: playback stops, pending fragments are
// dropped, and the session returns to idle. Terminal server errors and
// transport failures land here; per-chunk anomalies never do.
func (s *Session) failCycle(gen uint64, message string) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.generation++
	s.busy = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.stopPlayback()
	s.machine.ForceIdle()
	s.metrics.ObserveCycleFailure()

	s.emit(Event{Kind: EventError, Message: message})
	s.emit(Event{Kind: EventReset})
}

// Speak synthesizes text locally and plays it, bypassing the chat
// stream. The text is fragmented at sentence boundaries and the
// fragments are synthesized concurrently; the reorder buffer puts the
// racing completions back in reading order.
func (s *Session) Speak(ctx context.Context, text string) error {
	spoken := chunker.StripMarkdown(text)
	if spoken == "" {
		return ErrEmptyText
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.busy {
		s.mu.Unlock()
		return ErrSessionBusy
	}
	s.generation++
	gen := s.generation
	pg := s.playGen
	s.busy = true
	cycleCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.stopPlayback()
	s.toProcessing()
	s.emit(Event{Kind: EventProcessing})
	s.metrics.ObserveCycleStart()

	fragments := chunker.Chunk(spoken, s.cfg.MaxChunkSize)
	go s.runSpeak(cycleCtx, cancel, gen, pg, text, fragments)
	return nil
}

func (s *Session) runSpeak(ctx context.Context, cancel context.CancelFunc, gen, pg uint64, text string, fragments []string) {
	defer cancel()
	buffer := s.newReorderBuffer(gen, pg)

	var wg sync.WaitGroup
	for i, fragment := range fragments {
		wg.Add(1)
		go func(seq int, fragment string) {
			defer wg.Done()

			wav, err := s.synthesizeFragment(ctx, fragment)
			if err != nil {
				s.logger.Warn("synthesis failed, skipping fragment", "seq", seq, "err", err)
				s.metrics.ObserveChunkSkipped(metrics.SkipReasonSynth)
				buffer.Skip(seq)
				return
			}
			pcm, format, err := audio.DecodeWAV(wav)
			if err != nil {
				s.logger.Warn("synthesis decode failed, skipping fragment", "seq", seq, "err", err)
				s.metrics.ObserveChunkSkipped(metrics.SkipReasonDecode)
				buffer.Skip(seq)
				return
			}
			buffer.Submit(&audio.Chunk{ID: seq, PCM: pcm, Format: format, Text: fragment})
		}(i, fragment)
	}
	wg.Wait()

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.busy = false
	s.cancel = nil
	s.mu.Unlock()

	s.emit(Event{Kind: EventComplete, Response: text})
	if !s.scheduler.IsPlaying() {
		s.machine.ForceIdle()
	}
}

// synthesizeFragment resolves one fragment to WAV, through the cache
// when enabled.
func (s *Session) synthesizeFragment(ctx context.Context, fragment string) ([]byte, error) {
	if s.synthCache != nil {
		if wav, ok := s.synthCache.Get(fragment); ok {
			return wav, nil
		}
	}
	wav, err := s.transport.Synthesize(ctx, fragment)
	if err != nil {
		return nil, err
	}
	if s.synthCache != nil {
		s.synthCache.Put(fragment, wav)
	}
	return wav, nil
}

// StopAudio cuts playback immediately and drops every fragment still in
// flight for the current response. The cycle itself keeps running: text
// streaming continues and the session frees up once it completes.
func (s *Session) StopAudio() {
	s.mu.Lock()
	s.playGen++
	busy := s.busy
	s.mu.Unlock()

	s.stopPlayback()

	if s.machine.Current() == StateSpeaking {
		if busy {
			s.machine.Transition(StateProcessing)
		} else {
			s.machine.ForceIdle()
		}
	}
}

// Reset abandons the in-flight cycle, stops playback, and returns to
// idle. Conversation history is kept; ClearHistory drops it.
func (s *Session) Reset() {
	s.mu.Lock()
	s.generation++
	s.busy = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.stopPlayback()
	s.machine.ForceIdle()
	s.emit(Event{Kind: EventReset})
}

// ClearHistory drops the conversation context.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// Close shuts the session down and closes the event stream.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.generation++
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.stopPlayback()
	s.machine.ForceIdle()

	s.eventsMu.Lock()
	s.eventsClosed = true
	close(s.events)
	s.eventsMu.Unlock()
	return nil
}

// stopPlayback halts the device under the same lock as the enqueue
// gate. Since the caller already bumped the generation, anything still
// draining from a reorder buffer is dropped at the gate.
func (s *Session) stopPlayback() {
	s.playMu.Lock()
	defer s.playMu.Unlock()
	s.scheduler.Stop()
}

func (s *Session) isCurrent(gen, pg uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.generation && pg == s.playGen
}

// toProcessing enters StateProcessing from whatever state the session
// is in; a new cycle always wins.
func (s *Session) toProcessing() {
	if err := s.machine.Transition(StateProcessing); err != nil {
		s.machine.ForceIdle()
		s.machine.Transition(StateProcessing)
	}
}

// onChunkStart runs as each chunk becomes audible.
func (s *Session) onChunkStart(chunk *audio.Chunk) {
	s.metrics.ObserveChunkPlayed()

	if s.machine.Current() != StateSpeaking {
		if err := s.machine.Transition(StateSpeaking); err == nil {
			s.emit(Event{Kind: EventAiSpeaking})
		}
	}
}

// onPlaybackDrained runs when the playback queue empties.
func (s *Session) onPlaybackDrained() {
	s.mu.Lock()
	busy := s.busy
	s.mu.Unlock()

	if !busy && s.machine.Current() == StateSpeaking {
		s.machine.ForceIdle()
	}
}

// emit publishes an event without ever blocking the pipeline. A full
// channel means the consumer stopped reading; dropping is the lesser
// evil.
func (s *Session) emit(e Event) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if s.eventsClosed {
		return
	}
	select {
	case s.events <- e:
	default:
		s.logger.Warn("event channel full, dropping", "event", e.Kind)
	}
}
