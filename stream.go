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
	"sync"
)

// recvBufSize is the size of the per-stream read-ahead buffer the Hub
// fills on readiness, per the data model's read-ahead invariant.
const recvBufSize = 4096

// Stream is the blocking read/write/flush contract every concrete stream
// type implements. All methods may be called only while the stream is
// registered with a Hub (or, for Read/Write/Flush, directly by an
// application that does not need readiness dispatch at all).
type Stream interface {
	// Write writes all of p or fails with IOError/ConnectionLost. It may
	// buffer; the write is only guaranteed visible to the peer after
	// Flush.
	Write(p []byte) error
	// Flush forces any buffered writes out to the OS.
	Flush() error
	// Read blocks until len(p) bytes have been supplied or fails. It
	// consumes any read-ahead bytes before touching the OS.
	Read(p []byte) error

	// Failed reports whether the stream has entered the failed state.
	Failed() bool
	// FailReason returns the human-readable reason the stream failed, or
	// "" if it has not failed.
	FailReason() string

	// TargetName returns the canonical target string for this stream.
	TargetName() string
	// TargetParameter returns the value of a single target parameter.
	TargetParameter(name string) string
	// ProtocolName returns the protocol tag, e.g. "tcp".
	ProtocolName() string

	// hub-internal readiness plumbing, not part of the public write/read
	// contract; implemented by streamBase and overridden by stream kinds
	// whose readiness semantics differ (listener, poll, UDP).
	receiveDataAndCheckDisconnection() (eof bool, err error)
	isDataInRecvBuffer() bool
	kind() streamKind
	fd() int
	closeNative() error
	writeOnly() bool
}

// streamKind lets the Hub distinguish the handful of dispatch paths
// (accept vs. drain vs. edge-trigger) it needs to special-case, without a
// general-purpose dynamic type switch over every concrete stream type.
type streamKind int

const (
	kindData streamKind = iota
	kindListener
	kindPoll
	kindPacket
)

// streamBase is embedded by every concrete stream and implements the parts
// of the Stream contract that are identical across kinds: failure state,
// target bookkeeping, and the read-ahead buffer.
type streamBase struct {
	mu sync.Mutex

	protocol string
	target   *ParameterSet

	failed     bool
	failReason string

	recvBuf   [recvBufSize]byte
	recvStart int
	recvEnd   int

	// allowRead/allowWrite gate Read/Write at the operation level (e.g.
	// stdin disallows Write, a file opened mode=read disallows Write).
	// They default true; constructors for asymmetric streams set one to
	// false explicitly.
	allowRead  bool
	allowWrite bool

	nativeFD int
	metrics  *hubMetrics
}

func newStreamBase(h *Hub, protocol string, target *ParameterSet) streamBase {
	var m *hubMetrics
	if h != nil {
		m = h.metrics
	}
	return streamBase{protocol: protocol, target: target, nativeFD: -1, metrics: m, allowRead: true, allowWrite: true}
}

// base implements streamBaser for every concrete stream type that embeds
// streamBase by value, so the Hub can reach fail() and the metrics handle
// without a type switch over every concrete stream kind.
func (b *streamBase) base() *streamBase {
	return b
}

// fail is the single chokepoint for entering the failed state: it sets the
// flag, records the reason, and returns a *DashelError the caller should
// return (never call fail and continue as if nothing happened).
func (b *streamBase) fail(kind Kind, errno error, reason string) *DashelError {
	b.mu.Lock()
	b.failed = true
	if b.failReason == "" {
		b.failReason = reason
	} else {
		b.failReason = b.failReason + "; " + reason
	}
	b.mu.Unlock()
	return newFailure(kind, b, errno, reason)
}

func (b *streamBase) Failed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failed
}

func (b *streamBase) FailReason() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failReason
}

func (b *streamBase) TargetName() string {
	return b.target.String()
}

func (b *streamBase) TargetParameter(name string) string {
	return b.target.Get(name)
}

func (b *streamBase) ProtocolName() string {
	return b.protocol
}

func (b *streamBase) fd() int {
	return b.nativeFD
}

// writeOnly reports whether the Hub should skip polling this stream for
// read-readiness entirely, because reading from it is not a valid
// operation (e.g. a file opened mode=write, or stdout).
func (b *streamBase) writeOnly() bool {
	return !b.allowRead
}

func (b *streamBase) kind() streamKind {
	return kindData
}

// checkRead/checkWrite are called by each concrete stream's Read/Write
// before touching the OS, to raise InvalidOperation for the read-on-stdout
// / write-on-stdin family of misuses named in §4.9.
func (b *streamBase) checkRead() *DashelError {
	if !b.allowRead {
		return b.fail(InvalidOperation, nil, "read not permitted on this stream")
	}
	return nil
}

func (b *streamBase) checkWrite() *DashelError {
	if !b.allowWrite {
		return b.fail(InvalidOperation, nil, "write not permitted on this stream")
	}
	return nil
}

// isDataInRecvBuffer reports whether Read can progress purely from the
// read-ahead buffer without touching the OS.
func (b *streamBase) isDataInRecvBuffer() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recvStart < b.recvEnd
}

// takeFromRecvBuffer copies as much of p as is available in the read-ahead
// buffer, returning how many bytes were copied.
func (b *streamBase) takeFromRecvBuffer(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := copy(p, b.recvBuf[b.recvStart:b.recvEnd])
	b.recvStart += n
	return n
}

// recvAvailable reports how many unread bytes remain in the read-ahead
// buffer, used by the Hub to detect a callback that consumed nothing.
func (b *streamBase) recvAvailable() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recvEnd - b.recvStart
}

// refillRecvBuffer is called by receiveDataAndCheckDisconnection
// implementations to stash freshly read bytes for Read to consume.
func (b *streamBase) refillRecvBuffer(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := copy(b.recvBuf[:], p)
	b.recvStart = 0
	b.recvEnd = n
}
