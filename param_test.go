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

func newTemplate(t *testing.T, tmpl string) *ParameterSet {
	t.Helper()
	ps := NewParameterSet()
	require.NoError(t, ps.Add(tmpl))
	return ps
}

func TestParameterSetKeyedBinding(t *testing.T) {
	ps := newTemplate(t, "tcp:host=;port=5000")
	require.NoError(t, ps.Add("tcp:host=localhost;port=1234"))
	assert.Equal(t, "localhost", ps.Get("host"))
	assert.Equal(t, "1234", ps.Get("port"))
}

func TestParameterSetPositionalBinding(t *testing.T) {
	ps := newTemplate(t, "tcp:host=;port=5000")
	require.NoError(t, ps.Add("tcp:example.com;9999"))
	assert.Equal(t, "example.com", ps.Get("host"))
	assert.Equal(t, "9999", ps.Get("port"))
}

func TestParameterSetUnknownKeyIsInvalidTarget(t *testing.T) {
	ps := newTemplate(t, "tcp:host=;port=5000")
	err := ps.Add("tcp:bogus=1")
	require.Error(t, err)
	var derr *DashelError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, InvalidTarget, derr.Kind)
}

func TestParameterSetTooManyPositionalIsInvalidTarget(t *testing.T) {
	ps := newTemplate(t, "tcp:host=;port=5000")
	err := ps.Add("tcp:a;b;c")
	require.Error(t, err)
}

func TestParameterSetCheckMandatory(t *testing.T) {
	ps := newTemplate(t, "tcp:host=;port=")
	require.Error(t, ps.CheckMandatory("host", "port"))
	require.NoError(t, ps.Add("tcp:host=localhost;port=80"))
	require.NoError(t, ps.CheckMandatory("host", "port"))
}

func TestParameterSetGetIntAndGetBool(t *testing.T) {
	ps := newTemplate(t, "udp:broadcast=0;port=1")
	b, err := ps.GetBool("broadcast")
	require.NoError(t, err)
	assert.False(t, b)

	n, err := ps.GetInt("port")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestParameterSetSetAndErase(t *testing.T) {
	ps := newTemplate(t, "tcpin:port=0")
	ps.Set("port", "8080")
	assert.Equal(t, "8080", ps.Get("port"))
	ps.Set("connectionPort", "8080")
	assert.True(t, ps.Has("connectionPort"))
	ps.Erase("connectionPort")
	assert.False(t, ps.Has("connectionPort"))
}

func TestParameterSetStringRoundTrip(t *testing.T) {
	ps := newTemplate(t, "tcp:host=;port=5000")
	require.NoError(t, ps.Add("tcp:host=localhost;port=1234"))
	s := ps.String()
	assert.Equal(t, "tcp:host=localhost;port=1234", s)
}

func TestParameterSetClone(t *testing.T) {
	ps := newTemplate(t, "tcp:host=;port=5000")
	require.NoError(t, ps.Add("tcp:host=localhost;port=1234"))
	clone := ps.Clone()
	clone.Set("host", "otherhost")
	assert.Equal(t, "localhost", ps.Get("host"))
	assert.Equal(t, "otherhost", clone.Get("host"))
}

func TestParameterSetSetProtocol(t *testing.T) {
	ps := newTemplate(t, "tcp:host=;port=5000")
	ps.SetProtocol("tcppoll")
	assert.Equal(t, "tcppoll", ps.Protocol())
	assert.Equal(t, "tcppoll:host=;port=5000", ps.String())
}

func TestParseParameterSetRejectsPositional(t *testing.T) {
	_, err := ParseParameterSet("tcp:localhost")
	require.Error(t, err)
}

func TestAddParamKeyedOnlyExcludedFromPositional(t *testing.T) {
	ps := NewParameterSet()
	require.NoError(t, ps.Add("ser:port=1;baud=115200"))
	ps.AddParam("device", nil, true, false)
	// A positional token should still bind to "port" (the first
	// non-keyed-only name), never to the keyed-only "device".
	require.NoError(t, ps.Add("ser:3"))
	assert.Equal(t, "3", ps.Get("port"))
	assert.Equal(t, "", ps.Get("device"))
}
