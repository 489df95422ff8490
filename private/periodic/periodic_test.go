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

package periodic_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/dynatrace-oss/openkit-go/pkg/log/testlog"
	"github.com/dynatrace-oss/openkit-go/private/periodic"
)

type countingTask struct {
	runs atomic.Int32
}

func (t *countingTask) Run(context.Context) {
	t.runs.Add(1)
}

func (t *countingTask) Name() string { return "counting" }

type panickyTask struct {
	runs atomic.Int32
}

func (t *panickyTask) Run(context.Context) {
	t.runs.Add(1)
	panic("boom")
}

func (t *panickyTask) Name() string { return "panicky" }

// manualTicker fires only when the test says so.
type manualTicker struct {
	c chan time.Time
}

func newManualTicker() *manualTicker {
	return &manualTicker{c: make(chan time.Time, 1)}
}

func (t *manualTicker) Chan() <-chan time.Time { return t.c }
func (t *manualTicker) Stop()                  {}
func (t *manualTicker) tick()                  { t.c <- time.Time{} }

func TestRunnerTicks(t *testing.T) {
	defer goleak.VerifyNone(t)

	task := &countingTask{}
	ticker := newManualTicker()
	runner := periodic.Start(task, ticker, time.Second, testlog.NewLogger(t))

	ticker.tick()
	ticker.tick()
	assert.Eventually(t, func() bool { return task.runs.Load() == 2 },
		time.Second, time.Millisecond)
	runner.Stop()
}

func TestRunnerTriggerRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	task := &countingTask{}
	runner := periodic.Start(task, newManualTicker(), time.Second, testlog.NewLogger(t))

	runner.TriggerRun()
	assert.Eventually(t, func() bool { return task.runs.Load() == 1 },
		time.Second, time.Millisecond)
	runner.Stop()
}

func TestRunnerTriggerRunAfterStopIsNoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	task := &countingTask{}
	runner := periodic.Start(task, newManualTicker(), time.Second, testlog.NewLogger(t))
	runner.Stop()
	// Triggering after stop must not block or run the task.
	runner.TriggerRun()
	assert.Zero(t, task.runs.Load())
}

func TestRunnerRecoversPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	task := &panickyTask{}
	ticker := newManualTicker()
	runner := periodic.Start(task, ticker, time.Second, testlog.NewLogger(t))

	ticker.tick()
	assert.Eventually(t, func() bool { return task.runs.Load() == 1 },
		time.Second, time.Millisecond)
	// The loop survived the panic and keeps running.
	ticker.tick()
	assert.Eventually(t, func() bool { return task.runs.Load() == 2 },
		time.Second, time.Millisecond)
	runner.Stop()
}

func TestRunnerKillCancelsContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	blocker := taskFunc(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})
	ticker := newManualTicker()
	runner := periodic.Start(blocker, ticker, time.Minute, testlog.NewLogger(t))

	ticker.tick()
	<-started
	done := make(chan struct{})
	go func() {
		runner.Kill()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Kill did not cancel the running task")
	}
}

type taskFunc func(context.Context)

func (f taskFunc) Run(ctx context.Context) { f(ctx) }
func (f taskFunc) Name() string            { return "func" }
