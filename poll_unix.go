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

//go:build unix

package dashel

import (
	"context"
	"os"

	"golang.org/x/sys/unix"
)

// pollEntry is one stream's readiness request for a single Step
// iteration.
type pollEntry struct {
	stream Stream
	fdNum  int
}

// readyEvent reports that a stream's descriptor became ready, or that it
// reported an error/hangup condition (to be distinguished from ordinary
// readability by the Hub's dispatch switch).
type readyEvent struct {
	stream        Stream
	errorOrHangup bool
}

// waiter is the platform-neutral readiness-wait primitive the Hub drives;
// unixWaiter is the only implementation built into this module, per
// spec.md's observation that a single readiness-based implementation can
// satisfy every invariant without per-platform duplication.
type waiter interface {
	wait(ctx context.Context, entries []pollEntry, wakeupFD int, timeoutMs int) (woke bool, ready []readyEvent, err error)
}

type unixWaiter struct{}

func newWaiter() waiter { return unixWaiter{} }

func (unixWaiter) wait(ctx context.Context, entries []pollEntry, wakeupFD int, timeoutMs int) (bool, []readyEvent, error) {
	fds := make([]unix.PollFd, 0, len(entries)+1)
	fds = append(fds, unix.PollFd{Fd: int32(wakeupFD), Events: unix.POLLIN})
	for _, e := range entries {
		fds = append(fds, unix.PollFd{Fd: int32(e.fdNum), Events: unix.POLLIN})
	}

	n, err := pollRetry(fds, timeoutMs)
	if err != nil {
		return false, nil, err
	}
	if n == 0 {
		return false, nil, nil
	}

	woke := fds[0].Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) != 0
	var ready []readyEvent
	for i, e := range entries {
		fd := fds[i+1]
		if fd.Revents == 0 {
			continue
		}
		ready = append(ready, readyEvent{
			stream:        e.stream,
			errorOrHangup: fd.Revents&(unix.POLLERR|unix.POLLNVAL) != 0,
		})
		// POLLHUP on a stream socket/fd is reported to the data path, not
		// as a hard error, so receiveDataAndCheckDisconnection gets a
		// chance to distinguish "peer closed cleanly" from a real error:
		// only surface POLLHUP as errorOrHangup for listeners, which have
		// no other way to learn the accept queue is broken.
		if fd.Revents&unix.POLLHUP != 0 && e.stream.kind() == kindListener {
			ready[len(ready)-1].errorOrHangup = true
		}
	}
	return woke, ready, nil
}

// pollRetry calls unix.Poll, transparently retrying on EINTR the way every
// well-behaved blocking syscall wrapper must.
func pollRetry(fds []unix.PollFd, timeoutMs int) (int, error) {
	for {
		n, err := unix.Poll(fds, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

// wakeup is a self-pipe used to interrupt a blocked unix.Poll call from
// another goroutine; Stop writes one byte to it, Step's poll set always
// includes its read end.
type wakeup struct {
	r *os.File
	w *os.File
}

func newWakeup() (*wakeup, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &wakeup{r: r, w: w}, nil
}

func (wk *wakeup) readFD() int {
	return int(wk.r.Fd())
}

func (wk *wakeup) signal() {
	_, _ = wk.w.Write([]byte{0})
}

func (wk *wakeup) drain() {
	var buf [64]byte
	for {
		n, err := wk.r.Read(buf[:])
		if n < len(buf) || err != nil {
			return
		}
	}
}

func (wk *wakeup) close() error {
	err1 := wk.r.Close()
	err2 := wk.w.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
