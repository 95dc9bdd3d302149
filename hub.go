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
	"sync"

	"github.com/containerd/log"
)

// Handler receives the Hub's lifecycle callbacks. Embed NopHandler to get
// empty defaults for the methods a particular application does not care
// about, matching the source design's "empty default overrides".
type Handler interface {
	// ConnectionCreated fires once, synchronously, for every stream the
	// Hub inserts — both streams returned directly from Connect and child
	// streams produced by accepting on a tcpin listener.
	ConnectionCreated(s Stream)
	// IncomingData fires after a readiness notification has filled the
	// stream's read-ahead buffer (at most recvBufSize bytes); for a
	// regular data stream it fires again, within the same Step, for as
	// long as the callback leaves part of that buffer unread, for a poll
	// or UDP stream it fires exactly once per readiness.
	IncomingData(s Stream)
	// ConnectionClosed fires at most once per stream, when the Hub
	// observes remote closure, a readiness error, or a failure raised
	// from within IncomingData/ConnectionCreated itself.
	ConnectionClosed(s Stream, abnormal bool)
}

// NopHandler implements Handler with empty methods, to be embedded by
// applications that only care about a subset of callbacks.
type NopHandler struct{}

func (NopHandler) ConnectionCreated(Stream)         {}
func (NopHandler) IncomingData(Stream)              {}
func (NopHandler) ConnectionClosed(Stream, bool)    {}

// Hub owns a set of streams and runs the readiness-dispatch loop that
// turns OS readiness into the three Handler callbacks.
//
// Concurrency: the Hub is single-threaded cooperative (§5). All callback
// dispatch happens on the goroutine that calls Run or Step. The mutex
// (Lock/Unlock) exists so another goroutine may inspect or mutate the
// stream set between iterations; Stop is the only method safe to call
// from a different goroutine without holding the lock.
//
// Go's sync.Mutex is not reentrant, so — unlike the source design, which
// holds its lock across the entire dispatch body including callback
// invocation — Step releases the lock for the duration of each individual
// callback call and reacquires it immediately after. This preserves every
// invariant the source design cares about (single-threaded, ordered,
// at-most-once delivery; FIFO processing of ready streams within one
// iteration) while letting a Handler safely call Connect or CloseStream
// from inside ConnectionCreated/IncomingData, which spec.md explicitly
// requires support for.
type Hub struct {
	mu sync.Mutex

	registry *StreamTypeRegistry
	handler  Handler
	logger   *log.Entry
	metrics  *hubMetrics

	streams     map[Stream]bool
	dataStreams map[Stream]bool

	resolveIncomingNames bool

	wake   *wakeup
	waiter waiter

	stopRequested bool
}

// HubOption configures a Hub at construction time.
type HubOption func(*Hub)

// WithRegistry overrides the stream-type registry, e.g. to add protocols
// beyond the eight built-ins or to sandbox a Hub to a subset of them.
func WithRegistry(r *StreamTypeRegistry) HubOption {
	return func(h *Hub) { h.registry = r }
}

// WithLogger attaches a logger; defaults to log.L (containerd/log's
// package-level logrus-backed logger).
func WithLogger(entry *log.Entry) HubOption {
	return func(h *Hub) { h.logger = entry }
}

// WithMetrics attaches a prometheus registerer that the Hub's counters and
// gauges (§11 domain stack) will be registered against. Without this
// option the metrics are created but never exposed to a scrape endpoint.
func WithMetrics(reg prometheusRegisterer) HubOption {
	return func(h *Hub) { h.metrics.register(reg) }
}

// NewHub constructs a Hub dispatching to handler. handler must not be nil;
// use NopHandler for a Hub whose application only cares about some
// callbacks.
func NewHub(handler Handler, opts ...HubOption) (*Hub, error) {
	if handler == nil {
		return nil, &DashelError{Kind: Unknown, Reason: "handler must not be nil"}
	}
	wk, err := newWakeup()
	if err != nil {
		return nil, &DashelError{Kind: Unknown, Errno: err, Reason: "failed to create wakeup primitive"}
	}
	h := &Hub{
		registry:             defaultRegistry,
		handler:              handler,
		logger:               log.L,
		metrics:              newHubMetrics(),
		streams:              map[Stream]bool{},
		dataStreams:          map[Stream]bool{},
		resolveIncomingNames: true,
		wake:                 wk,
		waiter:                newWaiter(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// SetResolveIncomingNames toggles whether accepted tcpin peers are
// reverse-resolved into their target string's host field. Default true,
// matching the source design.
func (h *Hub) SetResolveIncomingNames(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resolveIncomingNames = v
}

func (h *Hub) resolveNames() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resolveIncomingNames
}

// Lock acquires the Hub's mutex for external inspection or mutation of its
// stream set between Step iterations. Must be paired with Unlock, and must
// never be called from inside a Handler callback (the Hub already holds
// no lock at that point — see the Hub doc comment — so a callback may
// call Connect/CloseStream directly without calling Lock first).
func (h *Hub) Lock() { h.mu.Lock() }

// Unlock releases the lock acquired by Lock.
func (h *Hub) Unlock() { h.mu.Unlock() }

// Connect parses target, instantiates the matching stream type, registers
// it with the Hub, and fires ConnectionCreated before returning it.
func (h *Hub) Connect(target string) (Stream, error) {
	h.mu.Lock()
	s, err := h.connectLocked(target)
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}
	h.fireConnectionCreated(s)
	return s, nil
}

// connectLocked assumes h.mu is already held by the calling goroutine.
func (h *Hub) connectLocked(target string) (Stream, error) {
	s, err := h.registry.Create(h, target)
	if err != nil {
		h.logger.WithError(err).WithField("target", target).Debug("dashel: connect failed")
		return nil, err
	}
	h.streams[s] = true
	if s.kind() != kindListener {
		h.dataStreams[s] = true
	}
	h.metrics.streamsActive.Inc()
	h.logger.WithField("target", s.TargetName()).WithField("protocol", s.ProtocolName()).Info("dashel: stream created")
	return s, nil
}

// CloseStream removes s from the Hub and destroys it immediately. It does
// not fire ConnectionClosed — that callback is reserved for closures the
// Hub itself observes during Step. CloseStream is idempotent: closing a
// stream not currently registered leaves the Hub's bookkeeping untouched
// and only closes the stream's native handle.
func (h *Hub) CloseStream(s Stream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destroyLocked(s)
}

func (h *Hub) destroyLocked(s Stream) {
	if _, ok := h.streams[s]; !ok {
		_ = s.closeNative()
		return
	}
	delete(h.streams, s)
	delete(h.dataStreams, s)
	h.metrics.streamsActive.Dec()
	if err := s.closeNative(); err != nil {
		h.logger.WithError(err).WithField("target", s.TargetName()).Debug("dashel: close failed")
	}
}

func (h *Hub) fireConnectionCreated(s Stream) {
	h.safeCall(func() { h.handler.ConnectionCreated(s) }, "connectionCreated", s)
}

func (h *Hub) fireIncomingData(s Stream) {
	h.safeCall(func() { h.handler.IncomingData(s) }, "incomingData", s)
}

func (h *Hub) fireConnectionClosed(s Stream, abnormal bool) {
	h.metrics.connectionsClosed.WithLabelValues(boolLabel(abnormal)).Inc()
	h.safeCall(func() { h.handler.ConnectionClosed(s, abnormal) }, "connectionClosed", s)
}

// safeCall invokes fn (a Handler callback) with the Hub's lock released,
// recovering from panics so one misbehaving callback cannot wedge the
// dispatch loop for every other registered stream.
func (h *Hub) safeCall(fn func(), name string, s Stream) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.WithField("callback", name).WithField("target", s.TargetName()).
				Errorf("dashel: panic in %s callback: %v", name, r)
		}
	}()
	fn()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Run repeatedly calls Step(-1) until it returns false, i.e. until Stop is
// called from another goroutine.
func (h *Hub) Run(ctx context.Context) error {
	for {
		more, err := h.Step(ctx, -1)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// Step runs one iteration of the readiness loop: it polls every registered
// stream (plus the wakeup primitive) for at most timeoutMs milliseconds
// (-1 blocks indefinitely, 0 polls without blocking), dispatches whatever
// became ready, and reports whether the caller should keep looping.
func (h *Hub) Step(ctx context.Context, timeoutMs int) (bool, error) {
	h.mu.Lock()
	entries := h.buildPollEntries()
	h.mu.Unlock()

	woke, ready, err := h.waiter.wait(ctx, entries, h.wake.readFD(), timeoutMs)
	if err != nil {
		return false, &DashelError{Kind: SyncError, Errno: err, Reason: "readiness wait failed"}
	}

	h.mu.Lock()
	if woke {
		h.wake.drain()
		h.mu.Unlock()
		return false, nil
	}

	activity := len(ready) > 0
	for _, ev := range ready {
		s := ev.stream
		if _, stillRegistered := h.streams[s]; !stillRegistered {
			continue
		}
		switch {
		case ev.errorOrHangup:
			h.failAndClose(s, SyncError, "readiness reported error or hangup")
		case s.kind() == kindListener:
			h.acceptOn(s)
		default:
			h.dispatchData(s)
		}
	}

	h.sweepFailedLocked()
	stop := h.stopRequested
	h.mu.Unlock()
	return activity && !stop, nil
}

// failAndClose marks s failed, fires ConnectionClosed(abnormal=true), and
// destroys it. Called with h.mu held; releases/reacquires around the
// callback per the Hub's locking policy.
func (h *Hub) failAndClose(s Stream, kind Kind, reason string) {
	if b, ok := s.(streamBaser); ok {
		b.base().fail(kind, nil, reason)
	}
	h.metrics.errorsTotal.WithLabelValues(kind.String()).Inc()
	h.mu.Unlock()
	h.fireConnectionClosed(s, true)
	h.mu.Lock()
	h.destroyLocked(s)
}

// closeAndFireClean fires ConnectionClosed(abnormal=false) and destroys s,
// for the ordinary remote-close path.
func (h *Hub) closeAndFireClean(s Stream) {
	h.mu.Unlock()
	h.fireConnectionClosed(s, false)
	h.mu.Lock()
	h.destroyLocked(s)
}

func (h *Hub) acceptOn(s Stream) {
	l, ok := s.(*tcpListenerStream)
	if !ok {
		h.failAndClose(s, SyncError, "listener accept on non-listener stream")
		return
	}
	// h.mu is already held here, so read the field directly rather than
	// through resolveNames, which would lock it a second time.
	child, childTarget, err := l.accept(h.resolveIncomingNames)
	if err != nil {
		h.logger.WithError(err).WithField("target", s.TargetName()).Warn("dashel: accept failed")
		return
	}
	h.streams[child] = true
	h.dataStreams[child] = true
	h.metrics.streamsActive.Inc()
	h.metrics.acceptTotal.Inc()
	h.logger.WithField("target", childTarget).Info("dashel: accepted connection")
	h.mu.Unlock()
	h.fireConnectionCreated(child)
	h.mu.Lock()
}

func (h *Hub) dispatchData(s Stream) {
	eof, err := s.receiveDataAndCheckDisconnection()
	if err != nil {
		h.failAndClose(s, IOError, err.Error())
		return
	}
	if eof {
		h.closeAndFireClean(s)
		return
	}
	for s.isDataInRecvBuffer() {
		before := recvAvailable(s)
		h.mu.Unlock()
		h.fireIncomingData(s)
		h.metrics.incomingDataTotal.Inc()
		h.mu.Lock()
		if s.Failed() {
			h.destroyAbnormalAfterCallback(s)
			return
		}
		after := recvAvailable(s)
		if s.isDataInRecvBuffer() && after >= before {
			h.failAndClose(s, PreviousIncomingDataNotRead, "incomingData did not read any of the buffered data")
			return
		}
	}
}

// destroyAbnormalAfterCallback handles the case where a callback itself
// raised a failure on the stream (via Write/Read/Flush): the failure
// already happened, so we only need to fire the close callback and tear
// down, without calling fail again.
func (h *Hub) destroyAbnormalAfterCallback(s Stream) {
	h.mu.Unlock()
	h.fireConnectionClosed(s, true)
	h.mu.Lock()
	h.destroyLocked(s)
}

// sweepFailedLocked destroys any stream marked failed during this
// iteration's dispatch that the per-event handling above did not already
// remove (defensive backstop named explicitly in spec.md step 4).
func (h *Hub) sweepFailedLocked() {
	var failed []Stream
	for s := range h.streams {
		if s.Failed() {
			failed = append(failed, s)
		}
	}
	for _, s := range failed {
		h.mu.Unlock()
		h.fireConnectionClosed(s, true)
		h.mu.Lock()
		h.destroyLocked(s)
	}
}

// Stop interrupts a running Run/Step from another goroutine. It is the
// only Hub method safe to call without holding the lock.
func (h *Hub) Stop() {
	h.mu.Lock()
	h.stopRequested = true
	h.mu.Unlock()
	h.wake.signal()
}

// Close tears down every remaining stream and releases the wakeup
// primitive. Call after Run/Step has returned.
func (h *Hub) Close() error {
	h.mu.Lock()
	for s := range h.streams {
		_ = s.closeNative()
	}
	h.streams = map[Stream]bool{}
	h.dataStreams = map[Stream]bool{}
	h.mu.Unlock()
	return h.wake.close()
}

// DataStreams returns every currently registered non-listener stream, for
// handlers that need to broadcast to all connected peers (see the chat
// example). The returned slice is a snapshot; it is safe to call from
// inside a Handler callback.
func (h *Hub) DataStreams() []Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Stream, 0, len(h.dataStreams))
	for s := range h.dataStreams {
		out = append(out, s)
	}
	return out
}

func (h *Hub) buildPollEntries() []pollEntry {
	entries := make([]pollEntry, 0, len(h.streams))
	for s := range h.streams {
		if s.writeOnly() {
			continue
		}
		entries = append(entries, pollEntry{stream: s, fdNum: s.fd()})
	}
	return entries
}

// recvAvailable reports how many unread bytes remain in s's read-ahead
// buffer, used to detect a callback that failed to consume any data.
func recvAvailable(s Stream) int {
	if r, ok := s.(interface{ recvAvailable() int }); ok {
		return r.recvAvailable()
	}
	return 0
}

// streamBaser is implemented by every concrete stream to expose its
// embedded *streamBase for the handful of Hub operations (fail) that need
// it but are not part of the public Stream contract.
type streamBaser interface {
	base() *streamBase
}
