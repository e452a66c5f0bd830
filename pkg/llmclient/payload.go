package llmclient

import "github.com/inkwell-ai/fleet/pkg/settings"

// messagePayload is the wire shape for settings.PayloadMessage.
type messagePayload struct {
	Model       string           `json:"model"`
	Messages    []messageEntry   `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
	Stream      bool             `json:"stream"`
}

type messageEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// completionPayload is the wire shape for settings.PayloadCompletion.
type completionPayload struct {
	Model   string             `json:"model"`
	Prompt  string             `json:"prompt"`
	Stream  bool               `json:"stream"`
	Options completionOptions  `json:"options"`
}

type completionOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

// buildPayload constructs the request body for the configured payload_type
//.
func buildPayload(cfg settings.LLMConfig, req Request) any {
	temperature := cfg.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := cfg.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	switch cfg.PayloadType {
	case settings.PayloadCompletion:
		return completionPayload{
			Model:  cfg.Model,
			Prompt: req.Prompt,
			Stream: req.Stream,
			Options: completionOptions{
				Temperature: temperature,
				NumPredict:  maxTokens,
			},
		}
	default:
		return messagePayload{
			Model:       cfg.Model,
			Messages:    []messageEntry{{Role: "user", Content: req.Prompt}},
			Temperature: temperature,
			MaxTokens:   maxTokens,
			Stream:      req.Stream,
		}
	}
}

// streamChunk is the subset of a streamed SSE-style chunk this client reads,
// covering both payload_type shapes.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Response string `json:"response"`
}

func (c streamChunk) fragment() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return c.Response
}

// fullResponse is the subset of a non-streaming response body this client
// reads.
type fullResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Response string `json:"response"`
}

func (r fullResponse) text() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return r.Response
}
