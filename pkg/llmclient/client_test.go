package llmclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/fleet/pkg/settings"
)

type recordingEvents struct {
	requests  []RequestEvent
	responses []ResponseEvent
}

func (r *recordingEvents) LLMRequest(e RequestEvent)   { r.requests = append(r.requests, e) }
func (r *recordingEvents) LLMResponse(e ResponseEvent) { r.responses = append(r.responses, e) }

func testConfig(url string) settings.LLMConfig {
	cfg := settings.LLMConfig{URL: url, Model: "m", TimeoutSeconds: 5, MaxTokens: 100}
	cfg.SetDefaults()
	return cfg
}

func TestClient_Call_NonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"hello world"}}]}`)
	}))
	defer srv.Close()

	events := &recordingEvents{}
	c := New(events)
	result, err := c.Call(context.Background(), testConfig(srv.URL), Request{Prompt: "hi"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Text)
	require.Len(t, events.responses, 1)
	assert.True(t, events.responses[0].Success)
}

func TestClient_Call_BadResponse_NoTextField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := New(nil)
	_, err := c.Call(context.Background(), testConfig(srv.URL), Request{Prompt: "hi"}, nil, nil)
	require.Error(t, err)
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, FailureBadResponse, ce.Class)
}

func TestClient_Call_Streaming_AccumulatesFragments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n")
		flusher.Flush()
	}))
	defer srv.Close()

	var fragments []string
	c := New(nil)
	result, err := c.Call(context.Background(), testConfig(srv.URL), Request{Prompt: "hi", Stream: true},
		func(f string) { fragments = append(fragments, f) }, func() bool { return false })
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Text)
	assert.Equal(t, []string{"hel", "lo"}, fragments)
}

func TestClient_Call_Streaming_CancelledMidStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n")
		flusher.Flush()
	}))
	defer srv.Close()

	calls := 0
	c := New(nil)
	_, err := c.Call(context.Background(), testConfig(srv.URL), Request{Prompt: "hi", Stream: true},
		nil, func() bool { calls++; return calls >= 1 })
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
}

func TestClient_Call_Streaming_TerminatesWithoutDoneMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n")
		flusher.Flush()
	}))
	defer srv.Close()

	c := New(nil)
	result, err := c.Call(context.Background(), testConfig(srv.URL), Request{Prompt: "hi", Stream: true}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "partial", result.Text)
}

func TestClient_Stats_UpdatedOnSuccessOnly(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":"ok"}`)
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer bad.Close()

	c := New(nil)
	_, err := c.Call(context.Background(), testConfig(ok.URL), Request{Prompt: "hi"}, nil, nil)
	require.NoError(t, err)
	_, err = c.Call(context.Background(), testConfig(bad.URL), Request{Prompt: "hi"}, nil, nil)
	require.Error(t, err)

	assert.EqualValues(t, 1, c.Stats().TotalCalls)
}
