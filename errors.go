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
)

// Kind classifies a DashelError, mirroring the failure taxonomy in the
// design (§4.9): it is the axis the Hub and callers branch on, not the
// human-readable message.
type Kind int

const (
	// Unknown covers library-internal or initialization failures.
	Unknown Kind = iota
	// SyncError means the readiness-multiplexing primitive itself failed,
	// or accept failed on a ready listener.
	SyncError
	// InvalidTarget means a target-URI parse error, a missing mandatory
	// parameter, or an unknown protocol/parameter name.
	InvalidTarget
	// InvalidOperation means an operation not valid for the stream, e.g.
	// write on stdin or read on stdout.
	InvalidOperation
	// ConnectionLost means EOF, a zero-byte read on a connected stream, or
	// a remote reset observed on write.
	ConnectionLost
	// IOError means an OS read/write/flush error, or a UDP send size
	// mismatch.
	IOError
	// ConnectionFailed means DNS, socket, bind, listen, connect or
	// device-open failure.
	ConnectionFailed
	// EnumerationError means serial-port discovery failed.
	EnumerationError
	// PreviousIncomingDataNotRead means a readiness dispatch delivered
	// incomingData but the callback did not consume any bytes.
	PreviousIncomingDataNotRead
)

func (k Kind) String() string {
	switch k {
	case Unknown:
		return "Unknown"
	case SyncError:
		return "SyncError"
	case InvalidTarget:
		return "InvalidTarget"
	case InvalidOperation:
		return "InvalidOperation"
	case ConnectionLost:
		return "ConnectionLost"
	case IOError:
		return "IOError"
	case ConnectionFailed:
		return "ConnectionFailed"
	case EnumerationError:
		return "EnumerationError"
	case PreviousIncomingDataNotRead:
		return "PreviousIncomingDataNotRead"
	default:
		return "Unknown"
	}
}

// DashelError is the typed failure carried by every operation-level
// failure in this module: a kind, an optional OS error, a human-readable
// reason, and the name of the offending stream's target, if any.
//
// It deliberately does not hold a pointer back to the Stream itself (the
// original design's offending-stream reference): a struct field of type
// Stream, a pointer, would make every error keep a stream alive and
// create ownership cycles with Hub's bookkeeping. The target string is
// enough context for callers and log lines alike.
type DashelError struct {
	Kind   Kind
	Errno  error // underlying OS error, e.g. a syscall.Errno; nil if none
	Reason string
	Target string
}

func (e *DashelError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	if e.Errno != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Errno)
	}
	if e.Target != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Target)
	}
	return msg
}

// Unwrap exposes the underlying OS error for errors.Is/errors.As.
func (e *DashelError) Unwrap() error {
	return e.Errno
}

// Is reports whether target is a *DashelError with the same Kind,
// supporting errors.Is(err, &DashelError{Kind: ConnectionLost}).
func (e *DashelError) Is(target error) bool {
	other, ok := target.(*DashelError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// newFailure builds a DashelError for the given kind/reason/cause, tagged
// with the stream's current target name if known.
func newFailure(kind Kind, s namedTarget, errno error, reason string) *DashelError {
	var target string
	if s != nil {
		target = s.TargetName()
	}
	return &DashelError{Kind: kind, Errno: errno, Reason: reason, Target: target}
}

// namedTarget is satisfied by anything that can report its own target
// name; it exists purely so newFailure can be called before a Stream's
// full interface is in scope (used from constructors too).
type namedTarget interface {
	TargetName() string
}
