package llmclient

// RequestEvent is emitted once when a call starts.
type RequestEvent struct {
	Endpoint    string
	Model       string
	Temperature float64
	MaxTokens   int
	Prompt      string
	Payload     any
}

// ResponseEvent is emitted once when a call ends, successfully or not
//.
type ResponseEvent struct {
	Text           string
	GenerationTime float64 // seconds
	ResponseLength int
	Success        bool
	Error          string
}

// EventSink receives the two action events the client emits. Implementations
// must not block; the client calls these synchronously.
type EventSink interface {
	LLMRequest(RequestEvent)
	LLMResponse(ResponseEvent)
}

type noopEventSink struct{}

func (noopEventSink) LLMRequest(RequestEvent)   {}
func (noopEventSink) LLMResponse(ResponseEvent) {}
