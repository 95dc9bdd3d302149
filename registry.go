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
	"fmt"
	"sync"
)

// StreamConstructor builds a concrete Stream from a full target string
// (including its protocol tag). h is provided so constructors that need
// hub-level state (e.g. the metrics handle newStreamBase takes from it) can
// read it; h may be nil, and constructors must not mutate it.
type StreamConstructor func(h *Hub, target string) (Stream, error)

// StreamTypeRegistry maps a protocol tag to the constructor that builds
// streams of that protocol, and is consulted by Hub.Connect.
type StreamTypeRegistry struct {
	mu     sync.RWMutex
	ctors  map[string]StreamConstructor
}

// NewStreamTypeRegistry returns an empty registry.
func NewStreamTypeRegistry() *StreamTypeRegistry {
	return &StreamTypeRegistry{ctors: map[string]StreamConstructor{}}
}

// Register associates proto with ctor, replacing any prior registration.
func (r *StreamTypeRegistry) Register(proto string, ctor StreamConstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[proto] = ctor
}

// Create parses the protocol tag out of target and invokes its registered
// constructor, failing with InvalidTarget if the protocol is unknown.
func (r *StreamTypeRegistry) Create(h *Hub, target string) (Stream, error) {
	proto, _, err := splitTarget(target)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	ctor, ok := r.ctors[proto]
	r.mu.RUnlock()
	if !ok {
		return nil, &DashelError{Kind: InvalidTarget, Reason: fmt.Sprintf("unknown protocol %q", proto), Target: target}
	}
	return ctor(h, target)
}

// defaultRegistry holds the eight built-in protocols (§4.1): file, stdin,
// stdout, ser, tcpin, tcp, tcppoll, udp. Hub uses this registry unless
// constructed with WithRegistry.
var defaultRegistry = NewStreamTypeRegistry()

func init() {
	defaultRegistry.Register("file", newFileStream)
	defaultRegistry.Register("stdin", newStdinStream)
	defaultRegistry.Register("stdout", newStdoutStream)
	defaultRegistry.Register("tcpin", newTCPListener)
	defaultRegistry.Register("tcp", newTCPClient)
	defaultRegistry.Register("tcppoll", newTCPPoll)
	defaultRegistry.Register("udp", newUDPStream)
	// ser is registered from registry_serial_linux.go: termios device
	// control is platform-specific and this module only implements it for
	// linux, see DESIGN.md.
}

// DefaultStreamTypeRegistry returns the shared registry of built-in
// protocols, so applications can Register additional protocols globally.
func DefaultStreamTypeRegistry() *StreamTypeRegistry {
	return defaultRegistry
}
