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

func TestNewIPv4AddressDotted(t *testing.T) {
	a := NewIPv4Address("127.0.0.1", 1234)
	assert.Equal(t, "127.0.0.1", a.Host)
	assert.Equal(t, uint16(1234), a.Port)
	assert.False(t, a.IsAny())
}

func TestNewIPv4AddressEmptyHost(t *testing.T) {
	a := NewIPv4Address("", 80)
	assert.Equal(t, "0.0.0.0", a.Host)
	assert.Equal(t, uint16(80), a.Port)
}

func TestNewIPv4AddressUnresolvable(t *testing.T) {
	a := NewIPv4Address("this.host.does.not.exist.invalid", 80)
	assert.True(t, a.IsAny())
}

func TestIPv4AddressLess(t *testing.T) {
	a := NewIPv4Address("10.0.0.1", 100)
	b := NewIPv4Address("10.0.0.1", 200)
	c := NewIPv4Address("10.0.0.2", 1)
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.True(t, a.Less(c))
}

func TestIPv4AddressEqual(t *testing.T) {
	a := NewIPv4Address("10.0.0.1", 100)
	b := NewIPv4Address("10.0.0.1", 100)
	assert.True(t, a.Equal(b))
}

func TestIPv4AddressFormatAndParseRoundTrip(t *testing.T) {
	a := NewIPv4Address("192.168.1.1", 4242)
	s := a.Format(false)
	assert.Equal(t, "tcp:host=192.168.1.1;port=4242", s)

	parsed, err := ParseIPv4Address(s)
	require.NoError(t, err)
	assert.True(t, a.Equal(parsed))
}

func TestIPv4AddressStringUsesNonResolvingForm(t *testing.T) {
	a := NewIPv4Address("192.168.1.1", 4242)
	assert.Equal(t, a.Format(false), a.String())
}
