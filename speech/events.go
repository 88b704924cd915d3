package speech

import "fmt"

// EventKind tags an Event.
type EventKind int

const (
	// EventUserSpeaking signals that capture has begun.
	EventUserSpeaking EventKind = iota
	// EventProcessing signals a submitted clip is in flight.
	EventProcessing
	// EventAiSpeaking signals the first audible chunk of a response.
	EventAiSpeaking
	// EventReset signals the session returned to idle.
	EventReset
	// EventError carries a user-facing failure message.
	EventError
	// EventTranscript carries the recognized text of the user's clip.
	EventTranscript
	// EventResponseChunk carries one incremental piece of response text.
	EventResponseChunk
	// EventComplete carries the final response and transcript.
	EventComplete
)

// String returns the event kind's name.
func (k EventKind) String() string {
	switch k {
	case EventUserSpeaking:
		return "user_speaking"
	case EventProcessing:
		return "processing"
	case EventAiSpeaking:
		return "ai_speaking"
	case EventReset:
		return "reset"
	case EventError:
		return "error"
	case EventTranscript:
		return "transcript"
	case EventResponseChunk:
		return "response_chunk"
	case EventComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Event is one notification on the session's event stream. Which fields
// are set depends on Kind; events are fire-and-forget and never carry
// values the core reads back.
type Event struct {
	Kind EventKind

	// Message is set for EventError.
	Message string
	// Text is set for EventTranscript and EventResponseChunk.
	Text string
	// Response and Transcript are set for EventComplete.
	Response   string
	Transcript string
}

func (e Event) String() string {
	switch e.Kind {
	case EventError:
		return fmt.Sprintf("%s(%s)", e.Kind, e.Message)
	case EventTranscript, EventResponseChunk:
		return fmt.Sprintf("%s(%q)", e.Kind, e.Text)
	default:
		return e.Kind.String()
	}
}
