// Package speech drives one conversational voice session: it submits
// captured clips, consumes the backend's response stream, reassembles
// out-of-order audio fragments, and plays them back in order while
// publishing progress as a single event stream.
package speech

import (
	"context"

	"github.com/vocalis-ai/vocalis/speech/stream"
	"github.com/vocalis-ai/vocalis/speech/transport"
)

// Transport is the conversation backend surface the session needs. The
// production implementation is transport.Client; tests swap in fakes.
type Transport interface {
	// StreamChat posts one capture cycle and returns the response
	// event stream.
	StreamChat(ctx context.Context, req transport.ChatRequest) (*stream.Scanner, error)
	// FetchChunk retrieves an audio artifact by opaque id. Expired
	// artifacts return transport.ErrArtifactExpired.
	FetchChunk(ctx context.Context, audioID string) ([]byte, error)
	// FetchChunkURL retrieves a self-contained artifact by URL.
	FetchChunkURL(ctx context.Context, audioURL string) ([]byte, error)
	// Synthesize converts text to a WAV payload.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
