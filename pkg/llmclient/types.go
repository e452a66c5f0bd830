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

// Package llmclient implements the outbound LLM call: one HTTP POST per
// call, token-level streaming with cooperative cancellation, and the
// action events and failure classification described by the fleet core.
package llmclient

import "time"

// Request is one LLM call's parameters. Unset optional fields fall back to
// the client's configured settings.
type Request struct {
	Prompt      string
	Temperature *float64
	MaxTokens   *int
	Stream      bool
}

// ProgressCallback receives each streamed text fragment synchronously, in
// order, as it arrives.
type ProgressCallback func(fragment string)

// CancelChecker is consulted after each fragment is delivered; returning
// true abandons the stream with FailureCancelled.
type CancelChecker func() bool

// Result is a completed call's output and accounting.
type Result struct {
	Text           string
	GenerationTime time.Duration
	ResponseLength int
}

// FailureClass names why a call failed.
type FailureClass string

const (
	FailureTimeout     FailureClass = "Timeout"
	FailureTransport   FailureClass = "Transport"
	FailureBadResponse FailureClass = "BadResponse"
	FailureCancelled   FailureClass = "Cancelled"
)

// CallError wraps a failed call with its classification.
type CallError struct {
	Class FailureClass
	Err   error
}

func (e *CallError) Error() string {
	if e.Err == nil {
		return string(e.Class)
	}
	return string(e.Class) + ": " + e.Err.Error()
}

func (e *CallError) Unwrap() error { return e.Err }

// IsCancelled reports whether err is a CallError classified as Cancelled.
func IsCancelled(err error) bool {
	ce, ok := err.(*CallError)
	return ok && ce.Class == FailureCancelled
}

// Stats accumulates success-only counters across calls.
type Stats struct {
	TotalCalls int64
	TotalTime  time.Duration
	TotalTokens int64
}
