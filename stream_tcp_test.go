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
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPClientRoundTripThroughHub(t *testing.T) {
	rec := &recordingHandler{readSize: 5}
	h, err := NewHub(rec)
	require.NoError(t, err)
	defer h.Close()

	ln, err := h.Connect("tcpin:port=0")
	require.NoError(t, err)
	port := ln.TargetParameter("port")

	client, err := h.Connect(fmt.Sprintf("tcp:host=127.0.0.1;port=%s", port))
	require.NoError(t, err)

	more, err := h.Step(context.Background(), 2000)
	require.NoError(t, err)
	assert.True(t, more)

	require.NoError(t, client.Write([]byte("hello")))
	require.NoError(t, client.Flush())

	more, err = h.Step(context.Background(), 2000)
	require.NoError(t, err)
	assert.True(t, more)

	incoming := rec.snapshotIncoming()
	require.Len(t, incoming, 1)
	assert.Equal(t, "hello", incoming[0])
}

func TestTCPClientMissingHostIsInvalidTarget(t *testing.T) {
	_, err := newTCPClient(nil, "tcp:port=1234")
	require.Error(t, err)
	var derr *DashelError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, InvalidTarget, derr.Kind)
}

func TestTCPClientConnectFailureIsConnectionFailed(t *testing.T) {
	_, err := newTCPClient(nil, "tcp:host=127.0.0.1;port=1")
	require.Error(t, err)
	var derr *DashelError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, ConnectionFailed, derr.Kind)
}

func TestTCPListenerAssignsEphemeralPort(t *testing.T) {
	s, err := newTCPListener(nil, "tcpin:port=0")
	require.NoError(t, err)
	defer s.closeNative()
	port := s.TargetParameter("port")
	assert.NotEqual(t, "0", port)
	assert.NotEmpty(t, port)
}

func TestTCPListenerTargetNameUsesTcpinProtocol(t *testing.T) {
	s, err := newTCPListener(nil, "tcpin:port=0")
	require.NoError(t, err)
	defer s.closeNative()
	assert.Contains(t, s.TargetName(), "tcpin:")
}

func TestTCPPollTargetNameUsesTcppollProtocol(t *testing.T) {
	ln, err := newTCPListener(nil, "tcpin:port=0")
	require.NoError(t, err)
	defer ln.closeNative()
	port := ln.TargetParameter("port")

	s, err := newTCPPoll(nil, fmt.Sprintf("tcppoll:host=127.0.0.1;port=%s", port))
	require.NoError(t, err)
	defer s.closeNative()
	assert.Equal(t, "tcppoll", s.ProtocolName())
	assert.Contains(t, s.TargetName(), "tcppoll:")
	assert.NotContains(t, s.TargetName(), "tcp:")
}

func TestTCPPollReadIsDirectPassthrough(t *testing.T) {
	ln, err := newTCPListener(nil, "tcpin:port=0")
	require.NoError(t, err)
	defer ln.closeNative()
	lnS := ln.(*tcpListenerStream)
	port := ln.TargetParameter("port")

	client, err := newTCPPoll(nil, fmt.Sprintf("tcppoll:host=127.0.0.1;port=%s", port))
	require.NoError(t, err)
	defer client.closeNative()

	server, _, err := lnS.accept(false)
	require.NoError(t, err)
	defer server.closeNative()

	require.NoError(t, server.Write([]byte("poll-data")))
	require.NoError(t, server.Flush())
	buf := make([]byte, len("poll-data"))
	require.NoError(t, client.Read(buf))
	assert.Equal(t, "poll-data", string(buf))
}

func TestConnectTCPWithCustomWriteBufferCap(t *testing.T) {
	ln, err := newTCPListener(nil, "tcpin:port=0")
	require.NoError(t, err)
	defer ln.closeNative()
	port := ln.TargetParameter("port")

	h, err := NewHub(NopHandler{})
	require.NoError(t, err)
	defer h.Close()

	s, err := h.ConnectTCP(fmt.Sprintf("tcp:host=127.0.0.1;port=%s", port), WithWriteBufferCap(16))
	require.NoError(t, err)
	cs := s.(*tcpClientStream)
	assert.Equal(t, 16, cs.writeCap)
}
