package interfaces

// StoryState is where a saga's session sits in the generation state machine.
type StoryState string

const (
	StateIdle        StoryState = "idle"
	StateEvaluating  StoryState = "evaluating"
	StateSummarizing StoryState = "summarizing"
	StateOutlining   StoryState = "outlining"
	StateNarrating   StoryState = "narrating"
)

// ProgressEvent is published while a chapter is being produced.
type ProgressEvent struct {
	SagaID string     `json:"sagaId"`
	State  StoryState `json:"state"`
	// Text is the cumulative model output for the current stage, if any.
	Text string `json:"text,omitempty"`
	// NodeID is set on the final event of a successful generation.
	NodeID string `json:"nodeId,omitempty"`
	Error  string `json:"error,omitempty"`
}

// EventSink receives progress events. Implementations must not block.
type EventSink interface {
	Publish(event ProgressEvent)
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Publish(ProgressEvent) {}
