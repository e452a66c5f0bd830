// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/inkwell-ai/fleet/pkg/httpclient"
	"github.com/inkwell-ai/fleet/pkg/settings"
)

const doneMarker = "[DONE]"

// Client makes one outbound HTTP POST per call against the configured LLM
// endpoint, with optional token-level streaming.
type Client struct {
	http   *httpclient.Client
	events EventSink

	mu    sync.Mutex
	stats Stats
}

// New builds a Client. events may be nil, in which case action events are
// dropped.
func New(events EventSink) *Client {
	if events == nil {
		events = noopEventSink{}
	}
	return &Client{
		http:   httpclient.New(httpclient.WithMaxRetries(3)),
		events: events,
	}
}

// Stats returns a copy of the accumulated success-only counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Call makes one LLM request against cfg. If req.Stream is true, fragments
// are delivered to progress as they arrive and checker is consulted after
// each delivery; otherwise the full response is read and returned in one
// piece.
func (c *Client) Call(ctx context.Context, cfg settings.LLMConfig, req Request, progress ProgressCallback, checker CancelChecker) (Result, error) {
	temperature := cfg.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := cfg.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	payload := buildPayload(cfg, req)

	c.events.LLMRequest(RequestEvent{
		Endpoint:    cfg.URL,
		Model:       cfg.Model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Prompt:      req.Prompt,
		Payload:     payload,
	})

	start := time.Now()
	var result Result
	var callErr error
	if req.Stream {
		result, callErr = c.callStreaming(ctx, cfg, payload, progress, checker)
	} else {
		result, callErr = c.callOnce(ctx, cfg, payload)
	}
	result.GenerationTime = time.Since(start)

	if callErr != nil {
		c.events.LLMResponse(ResponseEvent{Success: false, Error: callErr.Error()})
		return Result{}, callErr
	}

	result.ResponseLength = len(result.Text)
	c.events.LLMResponse(ResponseEvent{
		Text:           result.Text,
		GenerationTime: result.GenerationTime.Seconds(),
		ResponseLength: result.ResponseLength,
		Success:        true,
	})

	c.mu.Lock()
	c.stats.TotalCalls++
	c.stats.TotalTime += result.GenerationTime
	c.stats.TotalTokens += int64(approximateTokens(result.Text))
	c.mu.Unlock()

	return result, nil
}

func (c *Client) newRequest(ctx context.Context, cfg settings.LLMConfig, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &CallError{Class: FailureBadResponse, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, &CallError{Class: FailureTransport, Err: err}
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) callOnce(ctx context.Context, cfg settings.LLMConfig, payload any) (Result, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	req, err := c.newRequest(timeoutCtx, cfg, payload)
	if err != nil {
		return Result{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, classifyTransportError(timeoutCtx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &CallError{Class: FailureTransport, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, &CallError{Class: FailureTransport, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	}

	var full fullResponse
	if err := json.Unmarshal(body, &full); err != nil {
		return Result{}, &CallError{Class: FailureBadResponse, Err: err}
	}
	text := full.text()
	if text == "" {
		return Result{}, &CallError{Class: FailureBadResponse, Err: fmt.Errorf("no extractable text field in response")}
	}
	return Result{Text: text}, nil
}

func (c *Client) callStreaming(ctx context.Context, cfg settings.LLMConfig, payload any, progress ProgressCallback, checker CancelChecker) (Result, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	req, err := c.newRequest(timeoutCtx, cfg, payload)
	if err != nil {
		return Result{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, classifyTransportError(timeoutCtx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Result{}, &CallError{Class: FailureTransport, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	}

	var accumulator strings.Builder
	reader := bufio.NewReader(resp.Body)

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			frag, done, perr := parseSSELine(line)
			if perr != nil {
				continue
			}
			if done {
				break
			}
			if frag != "" {
				accumulator.WriteString(frag)
				if progress != nil {
					progress(frag)
				}
				if checker != nil && checker() {
					return Result{}, &CallError{Class: FailureCancelled, Err: fmt.Errorf("cancelled mid-stream")}
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return Result{}, classifyTransportError(timeoutCtx, err)
		}
	}

	text := accumulator.String()
	if text == "" {
		return Result{}, &CallError{Class: FailureBadResponse, Err: fmt.Errorf("no extractable text field in stream")}
	}
	return Result{Text: text}, nil
}

// parseSSELine extracts the text fragment from one "data: " line. A
// "data: [DONE]" line reports done=true. Lines that aren't "data: "-prefixed
// are ignored (blank keep-alives, comments).
func parseSSELine(line []byte) (fragment string, done bool, err error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return "", false, nil
	}
	const prefix = "data: "
	if !bytes.HasPrefix(line, []byte(prefix)) {
		return "", false, nil
	}
	payload := bytes.TrimPrefix(line, []byte(prefix))
	if string(payload) == doneMarker {
		return "", true, nil
	}

	var chunk streamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return "", false, err
	}
	return chunk.fragment(), false, nil
}

// classifyTransportError distinguishes a context-deadline timeout from a
// generic transport failure.
func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return &CallError{Class: FailureTimeout, Err: err}
	}
	return &CallError{Class: FailureTransport, Err: err}
}

// approximateTokens is a crude fallback token estimate for the stats
// counter when no tokenizer is wired into the caller; pkg/utils.TokenCounter
// is used wherever an accurate count matters.
func approximateTokens(text string) int {
	return len(strings.Fields(text))
}
