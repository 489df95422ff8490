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

package serrors_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dynatrace-oss/openkit-go/pkg/private/serrors"
)

func TestNew(t *testing.T) {
	err := serrors.New("something failed", "key", "value", "count", 3)
	assert.Equal(t, "something failed {count=3; key=value}", err.Error())
}

func TestNewWithoutContext(t *testing.T) {
	err := serrors.New("plain")
	assert.Equal(t, "plain", err.Error())
}

func TestWrap(t *testing.T) {
	cause := errors.New("root cause")
	err := serrors.Wrap("operation failed", cause, "op", "send")
	assert.Equal(t, "operation failed {op=send}: root cause", err.Error())
	assert.True(t, errors.Is(err, cause))
}

func TestJoin(t *testing.T) {
	sentinel := errors.New("sentinel")
	cause := errors.New("cause")

	t.Run("both", func(t *testing.T) {
		err := serrors.Join(sentinel, cause, "k", "v")
		assert.True(t, errors.Is(err, sentinel))
		assert.True(t, errors.Is(err, cause))
		assert.Equal(t, "sentinel {k=v}: cause", err.Error())
	})

	t.Run("nil nil", func(t *testing.T) {
		assert.NoError(t, serrors.Join(nil, nil))
	})
}

func TestList(t *testing.T) {
	var l serrors.List
	assert.NoError(t, l.ToError())
	l = append(l, errors.New("one"), errors.New("two"))
	assert.Equal(t, "[ one; two ]", l.Error())
	assert.Error(t, l.ToError())
}

func TestIsTimeout(t *testing.T) {
	assert.False(t, serrors.IsTimeout(errors.New("x")))
	assert.True(t, serrors.IsTimeout(timeoutErr{}))
	assert.True(t, serrors.IsTimeout(serrors.Wrap("wrapped", timeoutErr{})))
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "timeout" }
func (timeoutErr) Timeout() bool { return true }
