package audio

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// InterChunkGap is the pause inserted between consecutive fragments so
// adjacent sentences do not run together.
const InterChunkGap = 30 * time.Millisecond

// Device plays raw PCM. Play returns once playback has started and
// invokes done when the clip finishes naturally; done is not called
// after Stop. Implementations are in device.go and device_nocgo.go.
type Device interface {
	Play(pcm []byte, format PCMFormat, done func()) error
	Stop()
	Close() error
}

// Scheduler plays queued chunks one at a time, in queue order, with a
// small gap between them. Chunks must be enqueued in the order they
// should be heard; ordering across the network is the reorder buffer's
// job, not the scheduler's.
type Scheduler struct {
	mu         sync.Mutex
	device     Device
	queue      []*Chunk
	playing    bool
	generation uint64
	gap        time.Duration
	logger     *log.Logger

	// handoffMu serializes the device hand-off against Stop, so a stop
	// can never land between the generation check and Play.
	handoffMu sync.Mutex
	// starting marks a Play call in progress for startingGen; a
	// completion firing inside that call sets advance instead of
	// recursing into playNext.
	starting    bool
	startingGen uint64
	advance     bool

	onChunkStart func(*Chunk)
	onDrain      func()
}

// NewScheduler creates a scheduler over device. A negative gap selects
// InterChunkGap.
func NewScheduler(device Device, gap time.Duration, logger *log.Logger) *Scheduler {
	if gap < 0 {
		gap = InterChunkGap
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		device: device,
		gap:    gap,
		logger: logger,
	}
}

// SetCallbacks registers playback notifications. onChunkStart fires as
// each chunk begins; onDrain fires when the queue empties. Set before
// the first Enqueue.
func (s *Scheduler) SetCallbacks(onChunkStart func(*Chunk), onDrain func()) {
	s.onChunkStart = onChunkStart
	s.onDrain = onDrain
}

// Enqueue appends a chunk and starts the playback chain if idle.
func (s *Scheduler) Enqueue(chunk *Chunk) {
	s.mu.Lock()
	s.queue = append(s.queue, chunk)
	if s.playing {
		s.mu.Unlock()
		return
	}
	s.playing = true
	gen := s.generation
	s.mu.Unlock()

	s.playNext(gen)
}

// playNext starts the head of the queue, or goes idle. gen ties the
// call to the playback cycle that scheduled it; a Stop in between
// bumps the generation and the call becomes a no-op.
func (s *Scheduler) playNext(gen uint64) {
	for {
		s.mu.Lock()
		if gen != s.generation {
			s.mu.Unlock()
			return
		}
		if len(s.queue) == 0 {
			s.playing = false
			s.mu.Unlock()
			if s.onDrain != nil {
				s.onDrain()
			}
			return
		}
		chunk := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if s.onChunkStart != nil {
			s.onChunkStart(chunk)
		}

		started, advance, err := s.startChunk(chunk, gen)
		if !started {
			return
		}
		if err != nil {
			// An unplayable chunk must not stall the rest of the response.
			s.logger.Error("playback failed, advancing", "id", chunk.ID, "err", err)
			continue
		}
		if advance {
			// The clip completed inside its own Play call; keep the
			// chain on this stack instead of recursing.
			if s.gap > 0 {
				time.AfterFunc(s.gap, func() {
					s.playNext(gen)
				})
				return
			}
			continue
		}
		return
	}
}

// startChunk hands one dequeued chunk to the device. It shares
// handoffMu with Stop, so a chunk dequeued before a stop is discarded
// here rather than starting late.
func (s *Scheduler) startChunk(chunk *Chunk, gen uint64) (started, advance bool, err error) {
	s.handoffMu.Lock()
	defer s.handoffMu.Unlock()

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return false, false, nil
	}
	s.starting = true
	s.startingGen = gen
	s.advance = false
	s.mu.Unlock()

	err = s.device.Play(chunk.PCM, chunk.Format, func() {
		s.afterChunk(gen)
	})

	s.mu.Lock()
	s.starting = false
	advance = s.advance
	s.advance = false
	s.mu.Unlock()
	return true, advance, err
}

// afterChunk chains the next chunk once the gap has elapsed.
func (s *Scheduler) afterChunk(gen uint64) {
	s.mu.Lock()
	if s.starting && s.startingGen == gen {
		// Completed while its own Play call was still running; fold
		// the advance into that call.
		s.advance = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if s.gap == 0 {
		s.playNext(gen)
		return
	}
	time.AfterFunc(s.gap, func() {
		s.playNext(gen)
	})
}

// Stop halts the current chunk immediately and drops everything queued.
// Completions from the stopped cycle are discarded, so nothing resumes
// afterwards. Safe to call when idle.
func (s *Scheduler) Stop() {
	s.handoffMu.Lock()
	defer s.handoffMu.Unlock()

	s.mu.Lock()
	s.generation++
	s.queue = nil
	s.playing = false
	s.mu.Unlock()

	s.device.Stop()
}

// IsPlaying reports whether a playback chain is active.
func (s *Scheduler) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// QueueLen returns the number of chunks waiting behind the one playing.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
