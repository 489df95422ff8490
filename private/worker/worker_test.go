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

package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dynatrace-oss/openkit-go/private/worker"
)

// testWorker runs until its context is canceled.
type testWorker struct {
	base worker.Base
}

func (w *testWorker) Run() error {
	return w.base.RunWrapper(context.Background(), nil,
		func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})
}

func (w *testWorker) Close() error {
	return w.base.CloseWrapper(context.Background(), nil)
}

func TestWorker(t *testing.T) {
	t.Run("double run", func(t *testing.T) {
		t.Parallel()
		w := &testWorker{}

		var bg errgroup.Group
		bg.Go(w.Run)
		time.Sleep(50 * time.Millisecond)
		err := w.Run()
		assert.Error(t, err)
		assert.NoError(t, w.Close())
		assert.NoError(t, bg.Wait())
	})

	t.Run("close before run", func(t *testing.T) {
		t.Parallel()
		w := &testWorker{}

		err := w.Close()
		require.NoError(t, err)

		// Run after close returns immediately without executing.
		err = w.Run()
		assert.NoError(t, err)
	})

	t.Run("double close", func(t *testing.T) {
		t.Parallel()
		w := &testWorker{}

		require.NoError(t, w.Close())
		require.NoError(t, w.Close())
	})

	t.Run("close after run", func(t *testing.T) {
		t.Parallel()
		w := &testWorker{}

		var bg errgroup.Group
		bg.Go(w.Run)
		time.Sleep(50 * time.Millisecond)

		assert.NoError(t, w.Close())
		assert.NoError(t, bg.Wait())
	})

	t.Run("setup error aborts run", func(t *testing.T) {
		t.Parallel()
		var base worker.Base
		err := base.RunWrapper(context.Background(),
			func(ctx context.Context) error { return assert.AnError },
			func(ctx context.Context) error {
				t.Fatal("run must not execute after setup failure")
				return nil
			})
		assert.ErrorIs(t, err, assert.AnError)
	})

	t.Run("close honors context deadline", func(t *testing.T) {
		t.Parallel()
		var base worker.Base
		started := make(chan struct{})
		var bg errgroup.Group
		bg.Go(func() error {
			return base.RunWrapper(context.Background(), nil,
				func(ctx context.Context) error {
					close(started)
					// Ignore cancellation to simulate a stuck worker.
					time.Sleep(2 * time.Second)
					return nil
				})
		})
		<-started

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		err := base.CloseWrapper(ctx, nil)
		assert.Error(t, err)
		assert.NoError(t, bg.Wait())
	})
}
