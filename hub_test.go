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
	"net"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHandler consumes every incomingData chunk with a fixed-size
// Read (so it never trips PreviousIncomingDataNotRead) and records every
// callback invocation for assertions.
type recordingHandler struct {
	mu       sync.Mutex
	created  []Stream
	incoming []string
	closed   []bool
	readSize int
}

func (r *recordingHandler) ConnectionCreated(s Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, s)
}

func (r *recordingHandler) IncomingData(s Stream) {
	buf := make([]byte, r.readSize)
	if err := s.Read(buf); err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incoming = append(r.incoming, string(buf))
}

func (r *recordingHandler) ConnectionClosed(s Stream, abnormal bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, abnormal)
}

func (r *recordingHandler) snapshotCreated() []Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Stream(nil), r.created...)
}

func (r *recordingHandler) snapshotIncoming() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.incoming...)
}

func dialAndAccept(t *testing.T, h *Hub, ln Stream) net.Conn {
	t.Helper()
	port := ln.TargetParameter("port")
	conn, err := net.Dial("tcp4", "127.0.0.1:"+port)
	require.NoError(t, err)
	more, err := h.Step(context.Background(), 2000)
	require.NoError(t, err)
	assert.True(t, more)
	return conn
}

func TestHubConnectFiresConnectionCreated(t *testing.T) {
	rec := &recordingHandler{readSize: 5}
	h, err := NewHub(rec)
	require.NoError(t, err)
	defer h.Close()

	ln, err := h.Connect("tcpin:port=0")
	require.NoError(t, err)
	assert.Equal(t, "tcpin", ln.ProtocolName())
	require.Len(t, rec.snapshotCreated(), 1)
}

func TestHubAcceptAndDispatchIncomingData(t *testing.T) {
	rec := &recordingHandler{readSize: 5}
	h, err := NewHub(rec)
	require.NoError(t, err)
	defer h.Close()

	ln, err := h.Connect("tcpin:port=0")
	require.NoError(t, err)

	conn := dialAndAccept(t, h, ln)
	defer conn.Close()
	require.Len(t, rec.snapshotCreated(), 2)

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	more, err := h.Step(context.Background(), 2000)
	require.NoError(t, err)
	assert.True(t, more)

	incoming := rec.snapshotIncoming()
	require.Len(t, incoming, 1)
	assert.Equal(t, "hello", incoming[0])
}

func TestHubRemoteCloseFiresCleanClose(t *testing.T) {
	rec := &recordingHandler{readSize: 5}
	h, err := NewHub(rec)
	require.NoError(t, err)
	defer h.Close()

	ln, err := h.Connect("tcpin:port=0")
	require.NoError(t, err)
	conn := dialAndAccept(t, h, ln)
	require.NoError(t, conn.Close())

	more, err := h.Step(context.Background(), 2000)
	require.NoError(t, err)
	assert.True(t, more)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.closed, 1)
	assert.False(t, rec.closed[0])
}

// strictHandler never consumes bytes delivered to IncomingData, to exercise
// the PreviousIncomingDataNotRead enforcement.
type strictHandler struct {
	NopHandler
	mu       sync.Mutex
	closed   bool
	abnormal bool
	reason   string
}

func (h *strictHandler) ConnectionClosed(s Stream, abnormal bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.abnormal = abnormal
	h.reason = s.FailReason()
}

func TestHubPreviousIncomingDataNotReadClosesAbnormally(t *testing.T) {
	h, err := NewHub(&strictHandler{})
	require.NoError(t, err)
	defer h.Close()

	sh := h.handler.(*strictHandler)
	ln, err := h.Connect("tcpin:port=0")
	require.NoError(t, err)
	conn := dialAndAccept(t, h, ln)
	defer conn.Close()

	_, err = conn.Write([]byte("x"))
	require.NoError(t, err)

	more, err := h.Step(context.Background(), 2000)
	require.NoError(t, err)
	assert.True(t, more)

	sh.mu.Lock()
	defer sh.mu.Unlock()
	assert.True(t, sh.closed)
	assert.True(t, sh.abnormal)
	assert.Contains(t, sh.reason, "did not read")
}

// reentrantHandler calls Connect and CloseStream from inside its callbacks,
// which the Hub must tolerate without deadlocking (see the Hub doc
// comment's lock-release-around-callbacks design).
type reentrantHandler struct {
	NopHandler
	h      *Hub
	tmpDir string
	ok     bool
}

func (r *reentrantHandler) ConnectionCreated(s Stream) {
	if s.ProtocolName() != "tcpin" {
		return
	}
	extra, err := r.h.Connect("file:name=" + filepath.Join(r.tmpDir, "reentrant.txt") + ";mode=write")
	if err != nil {
		return
	}
	r.h.CloseStream(extra)
	r.ok = true
}

func TestHubHandlerMayReentrantlyConnectAndClose(t *testing.T) {
	rh := &reentrantHandler{tmpDir: t.TempDir()}
	h, err := NewHub(rh)
	require.NoError(t, err)
	defer h.Close()
	rh.h = h

	_, err = h.Connect("tcpin:port=0")
	require.NoError(t, err)
	assert.True(t, rh.ok)
}

func TestHubDataStreamsExcludesListener(t *testing.T) {
	rec := &recordingHandler{readSize: 5}
	h, err := NewHub(rec)
	require.NoError(t, err)
	defer h.Close()

	ln, err := h.Connect("tcpin:port=0")
	require.NoError(t, err)
	conn := dialAndAccept(t, h, ln)
	defer conn.Close()

	streams := h.DataStreams()
	require.Len(t, streams, 1)
	assert.NotEqual(t, "tcpin", streams[0].ProtocolName())
}

func TestHubStopEndsRun(t *testing.T) {
	h, err := NewHub(NopHandler{})
	require.NoError(t, err)
	defer h.Close()

	done := make(chan error, 1)
	go func() {
		done <- h.Run(context.Background())
	}()
	h.Stop()
	require.NoError(t, <-done)
}
