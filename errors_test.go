/*
   Copyright The Dashel Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package dashel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDashelErrorIsMatchesOnKind(t *testing.T) {
	e1 := &DashelError{Kind: ConnectionLost, Reason: "peer reset"}
	e2 := &DashelError{Kind: ConnectionLost, Reason: "something else entirely"}
	e3 := &DashelError{Kind: IOError, Reason: "peer reset"}

	assert.True(t, errors.Is(e1, e2))
	assert.False(t, errors.Is(e1, e3))
}

func TestDashelErrorUnwrapExposesErrno(t *testing.T) {
	cause := errors.New("connection refused")
	e := &DashelError{Kind: ConnectionFailed, Errno: cause}
	assert.Equal(t, cause, errors.Unwrap(e))
}

func TestDashelErrorMessageIncludesTarget(t *testing.T) {
	e := &DashelError{Kind: InvalidTarget, Reason: "missing mandatory parameter", Target: "tcp:host=;port="}
	msg := e.Error()
	assert.Contains(t, msg, "InvalidTarget")
	assert.Contains(t, msg, "missing mandatory parameter")
	assert.Contains(t, msg, "tcp:host=;port=")
}

func TestKindStringCoversAllValues(t *testing.T) {
	kinds := []Kind{
		Unknown, SyncError, InvalidTarget, InvalidOperation, ConnectionLost,
		IOError, ConnectionFailed, EnumerationError, PreviousIncomingDataNotRead,
	}
	for _, k := range kinds {
		assert.NotEmpty(t, k.String())
	}
}
