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
	"io"
	"os"
)

// fileStream implements Stream over an *os.File; it backs the file, stdin
// and stdout protocols, matching the source design's StdinStream/
// StdoutStream being thin FileStream specializations.
type fileStream struct {
	streamBase
	f *os.File
}

func newFileStream(h *Hub, targetStr string) (Stream, error) {
	ps := NewParameterSet()
	if err := ps.Add("file:name=;mode=read"); err != nil {
		return nil, err
	}
	if err := ps.Add(targetStr); err != nil {
		return nil, err
	}
	if err := ps.CheckMandatory("name"); err != nil {
		return nil, err
	}
	name := ps.Get("name")
	mode := ps.Get("mode")

	var f *os.File
	var err error
	base := newStreamBase(h, "file", ps)
	switch mode {
	case "read":
		f, err = os.OpenFile(name, os.O_RDONLY, 0)
		base.allowWrite = false
	case "write":
		f, err = os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		base.allowRead = false
	case "readwrite":
		f, err = os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	default:
		return nil, &DashelError{Kind: InvalidTarget, Reason: "invalid file mode " + mode, Target: targetStr}
	}
	if err != nil {
		return nil, &DashelError{Kind: ConnectionFailed, Errno: err, Reason: "cannot open file " + name, Target: targetStr}
	}
	base.nativeFD = int(f.Fd())
	return &fileStream{streamBase: base, f: f}, nil
}

func newStdinStream(h *Hub, targetStr string) (Stream, error) {
	ps := NewParameterSet()
	if err := ps.Add("stdin:"); err != nil {
		return nil, err
	}
	base := newStreamBase(h, "stdin", ps)
	base.allowWrite = false
	base.nativeFD = int(os.Stdin.Fd())
	return &fileStream{streamBase: base, f: os.Stdin}, nil
}

func newStdoutStream(h *Hub, targetStr string) (Stream, error) {
	ps := NewParameterSet()
	if err := ps.Add("stdout:"); err != nil {
		return nil, err
	}
	base := newStreamBase(h, "stdout", ps)
	base.allowRead = false
	base.nativeFD = int(os.Stdout.Fd())
	return &fileStream{streamBase: base, f: os.Stdout}, nil
}

func (s *fileStream) Write(p []byte) error {
	if err := s.checkWrite(); err != nil {
		return err
	}
	n, err := s.f.Write(p)
	if s.metrics != nil {
		s.metrics.bytesWritten.Add(float64(n))
	}
	if err != nil {
		return s.fail(IOError, err, "file write failed")
	}
	if n != len(p) {
		return s.fail(IOError, nil, "short write to file")
	}
	return nil
}

func (s *fileStream) Flush() error {
	if err := s.checkWrite(); err != nil {
		return err
	}
	if err := s.f.Sync(); err != nil {
		return s.fail(IOError, err, "file sync failed")
	}
	return nil
}

func (s *fileStream) Read(p []byte) error {
	if err := s.checkRead(); err != nil {
		return err
	}
	remaining := p
	for len(remaining) > 0 {
		if n := s.takeFromRecvBuffer(remaining); n > 0 {
			remaining = remaining[n:]
			continue
		}
		n, err := s.f.Read(remaining)
		if s.metrics != nil {
			s.metrics.bytesRead.Add(float64(n))
		}
		if n == 0 || err == io.EOF {
			return s.fail(ConnectionLost, err, "unexpected EOF reading file")
		}
		if err != nil {
			return s.fail(IOError, err, "file read failed")
		}
		remaining = remaining[n:]
	}
	return nil
}

func (s *fileStream) receiveDataAndCheckDisconnection() (bool, error) {
	var buf [recvBufSize]byte
	n, err := s.f.Read(buf[:])
	if err != nil && err != io.EOF {
		return false, s.fail(IOError, err, "file read failed")
	}
	if n == 0 {
		return true, nil
	}
	s.refillRecvBuffer(buf[:n])
	return false, nil
}

func (s *fileStream) closeNative() error {
	return s.f.Close()
}
