// Package stream decodes the server's line-delimited response stream
// into typed frames.
package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
)

// FrameType discriminates the payload of a Frame.
type FrameType string

const (
	FrameText     FrameType = "text"
	FrameAudio    FrameType = "audio"
	FrameAudioRef FrameType = "audio_ref"
	FrameComplete FrameType = "complete"
	FrameError    FrameType = "error"
)

// Frame is one decoded event from the response stream. Which fields are
// populated depends on Type.
type Frame struct {
	Type         FrameType `json:"type"`
	Text         string    `json:"text,omitempty"`
	ChunkID      string    `json:"chunkId,omitempty"`
	AudioURL     string    `json:"audioUrl,omitempty"`
	AudioID      string    `json:"audioId,omitempty"`
	FullResponse string    `json:"fullResponse,omitempty"`
	Transcript   string    `json:"transcript,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// IsAudio reports whether the frame carries an audio fragment, either
// inline by URL or as a reference requiring a follow-up fetch.
func (f *Frame) IsAudio() bool {
	return f.Type == FrameAudio || f.Type == FrameAudioRef
}

// Terminal reports whether the frame logically ends the stream.
func (f *Frame) Terminal() bool {
	return f.Type == FrameComplete || f.Type == FrameError
}

// Seq parses the frame's chunk id. The wire carries ids as strings; the
// producer assigns them as a monotonically increasing sequence from 0.
func (f *Frame) Seq() (int, error) {
	id, err := strconv.Atoi(f.ChunkID)
	if err != nil {
		return 0, fmt.Errorf("chunk id %q is not an integer: %w", f.ChunkID, err)
	}
	if id < 0 {
		return 0, fmt.Errorf("chunk id %d is negative", id)
	}
	return id, nil
}

func (f *Frame) validate() error {
	switch f.Type {
	case FrameText, FrameComplete, FrameError:
		return nil
	case FrameAudio, FrameAudioRef:
		if f.ChunkID == "" {
			return errors.New("audio frame missing chunkId")
		}
		if (f.AudioURL == "") == (f.AudioID == "") {
			return errors.New("audio frame needs exactly one of audioUrl or audioId")
		}
		return nil
	default:
		return fmt.Errorf("unknown frame type %q", f.Type)
	}
}

// Scanner reads frames from a data:-prefixed event stream. It is not
// restartable; once the stream ends a new request is required.
type Scanner struct {
	reader *bufio.Reader
	body   io.Closer
	logger *log.Logger
	done   bool
}

// NewScanner wraps a response body. The scanner takes ownership of the
// body; Close releases it.
func NewScanner(body io.ReadCloser, logger *log.Logger) *Scanner {
	if logger == nil {
		logger = log.Default()
	}
	return &Scanner{
		reader: bufio.NewReader(body),
		body:   body,
		logger: logger,
	}
}

// Next returns the next well-formed frame, or io.EOF once the stream is
// exhausted or a terminal frame has been returned. Malformed lines are
// logged and skipped rather than aborting the stream, so one bad frame
// never costs the rest of the response.
func (s *Scanner) Next() (*Frame, error) {
	if s.done {
		return nil, io.EOF
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		atEOF := err == io.EOF

		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			if frame, ok := s.decodeLine(line); ok {
				if frame.Terminal() {
					s.done = true
				}
				return frame, nil
			}
			if s.done {
				return nil, io.EOF
			}
		}
		if atEOF {
			s.done = true
			return nil, io.EOF
		}
	}
}

// decodeLine parses one stream line into a frame. Lines without the
// data: prefix, unparseable payloads, and frames failing validation are
// all skipped.
func (s *Scanner) decodeLine(line string) (*Frame, bool) {
	if !strings.HasPrefix(line, "data:") {
		s.logger.Debug("skipping non-data stream line", "line", truncate(line, 80))
		return nil, false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" {
		return nil, false
	}
	if payload == "[DONE]" {
		s.done = true
		return nil, false
	}

	var frame Frame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		s.logger.Warn("skipping malformed frame", "err", err, "payload", truncate(payload, 80))
		return nil, false
	}
	if err := frame.validate(); err != nil {
		s.logger.Warn("skipping invalid frame", "err", err, "type", frame.Type)
		return nil, false
	}
	return &frame, true
}

// Close releases the underlying response body.
func (s *Scanner) Close() error {
	if s.body != nil {
		return s.body.Close()
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
