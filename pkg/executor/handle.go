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

package executor

import (
	"context"
	"sync"
	"time"
)

// workerHandle is the transient, non-persisted object the agent store
// holds while an agent is running. It carries the worker's cancellation
// context and a single-slot channel used to signal continuation past a
// halt boundary: a blocked wait woken by a close rather than a polling
// loop.
type workerHandle struct {
	cancel context.CancelFunc

	mu       sync.Mutex
	resumeCh chan struct{}
}

func newWorkerHandle(cancel context.CancelFunc) *workerHandle {
	return &workerHandle{cancel: cancel}
}

// Cancel satisfies agentstore.Handle. It is invoked by the store's Delete
// and by Executor.Stop.
func (h *workerHandle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

// armResume prepares a fresh continuation channel before a halt boundary.
func (h *workerHandle) armResume() chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan struct{})
	h.resumeCh = ch
	return ch
}

// resume signals a waiting halt boundary to proceed. A no-op if nothing is
// waiting (e.g. continue invoked twice).
func (h *workerHandle) resume() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.resumeCh != nil {
		close(h.resumeCh)
		h.resumeCh = nil
	}
}

// awaitContinue blocks until resume is called, ctx is cancelled, or the
// 5-minute ceiling elapses.
func awaitContinue(ctx context.Context, ch <-chan struct{}, ceiling time.Duration) bool {
	timer := time.NewTimer(ceiling)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		return false
	}
}
