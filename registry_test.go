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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryRejectsUnknownProtocol(t *testing.T) {
	r := DefaultStreamTypeRegistry()
	_, err := r.Create(nil, "bogus:whatever")
	require.Error(t, err)
	var derr *DashelError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, InvalidTarget, derr.Kind)
}

func TestRegistryCreateUnknownProtocol(t *testing.T) {
	r := NewStreamTypeRegistry()
	_, err := r.Create(nil, "nope:x=1")
	require.Error(t, err)
}

func TestRegistryCreateDispatchesToConstructor(t *testing.T) {
	r := NewStreamTypeRegistry()
	called := false
	r.Register("fake", func(h *Hub, target string) (Stream, error) {
		called = true
		assert.Equal(t, "fake:x=1", target)
		return nil, nil
	})
	_, err := r.Create(nil, "fake:x=1")
	require.NoError(t, err)
	assert.True(t, called)
}

func TestRegistryCreateMalformedTarget(t *testing.T) {
	r := NewStreamTypeRegistry()
	_, err := r.Create(nil, "no-colon-here")
	require.Error(t, err)
}
