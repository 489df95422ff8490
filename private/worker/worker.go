// Copyright 2025 Dynatrace LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package worker contains helpers for working with long-running goroutines
// that need to be initialized and destroyed in a thread-safe manner.
package worker

import (
	"context"
	"sync"

	"github.com/dynatrace-oss/openkit-go/pkg/private/serrors"
)

// Base provides basic operations for objects designed to run as goroutines
// with the following properties:
//
//   - Run is idempotent: calling it more than once returns an error, but
//     does not start a second instance.
//   - Close can be called at any time, either before or after Run, and
//     must cause Run to terminate.
//
// Base must not be copied after first use.
type Base struct {
	mtx sync.Mutex
	// runCalled is set once Run was invoked.
	runCalled bool
	// closeCalled is set once Close was invoked.
	closeCalled bool
	// runCtx is the context governing the run; canceled by Close.
	runCtx    context.Context
	runCancel context.CancelFunc
	// doneChan is closed when the run function returns.
	doneChan chan struct{}
}

// RunWrapper guards the execution of run. The setup function, if non-nil,
// executes before run and its error aborts the start. The run function, if
// non-nil, executes until completion or until Close cancels its context.
func (b *Base) RunWrapper(ctx context.Context, setup func(ctx context.Context) error,
	run func(ctx context.Context) error) error {

	b.mtx.Lock()
	if b.runCalled {
		b.mtx.Unlock()
		return serrors.New("run called more than once")
	}
	b.runCalled = true
	if b.closeCalled {
		b.mtx.Unlock()
		return nil
	}
	b.runCtx, b.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	b.doneChan = make(chan struct{})
	b.mtx.Unlock()

	defer close(b.doneChan)
	if setup != nil {
		if err := setup(b.runCtx); err != nil {
			return err
		}
	}
	if run == nil {
		<-b.runCtx.Done()
		return nil
	}
	return run(b.runCtx)
}

// CloseWrapper guards the execution of closeF and cancels a pending run.
// It waits for the run function to return, up to the deadline of ctx.
// Multiple calls to CloseWrapper execute closeF at most once.
func (b *Base) CloseWrapper(ctx context.Context, closeF func(ctx context.Context) error) error {
	b.mtx.Lock()
	alreadyClosed := b.closeCalled
	b.closeCalled = true
	cancel := b.runCancel
	done := b.doneChan
	b.mtx.Unlock()

	if alreadyClosed {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	var err error
	if closeF != nil {
		err = closeF(ctx)
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return serrors.Join(ctx.Err(), err, "reason", "shutdown wait expired")
		}
	}
	return err
}
