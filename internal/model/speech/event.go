package speech

// EventKind 标识语音采集事件的类型。
type EventKind string

const (
	EventListeningStarted EventKind = "listening_started"
	EventListeningEnded   EventKind = "listening_ended"
	EventError            EventKind = "error"
	EventTranscript       EventKind = "transcript"
)

// Recognition failure reasons.
const (
	ReasonNoSpeech    = "no-speech"
	ReasonUnsupported = "unsupported"
	ReasonAborted     = "aborted"
	ReasonNetwork     = "network"
)

// Event is the closed set of notifications emitted by a capture session.
// Reason is set only for EventError; Text and IsFinal only for EventTranscript.
type Event struct {
	Kind    EventKind `json:"kind"`
	Reason  string    `json:"reason,omitempty"`
	Text    string    `json:"text,omitempty"`
	IsFinal bool      `json:"isFinal,omitempty"`
}

func ListeningStarted() Event { return Event{Kind: EventListeningStarted} }

func ListeningEnded() Event { return Event{Kind: EventListeningEnded} }

func Failure(reason string) Event { return Event{Kind: EventError, Reason: reason} }

func Transcript(text string, isFinal bool) Event {
	return Event{Kind: EventTranscript, Text: text, IsFinal: isFinal}
}

// Soft reports whether the event is a recoverable no-op condition that
// should not be surfaced to the user as an error.
func (e Event) Soft() bool {
	return e.Kind == EventError && (e.Reason == ReasonNoSpeech || e.Reason == ReasonAborted)
}
