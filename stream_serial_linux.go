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

//go:build linux

package dashel

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// baudRates maps a requested integer baud rate onto the termios speed
// constant it corresponds to, following the same enumeration the original
// posix implementation switches on.
var baudRates = map[int]uint32{
	50: unix.B50, 75: unix.B75, 110: unix.B110, 134: unix.B134,
	150: unix.B150, 200: unix.B200, 300: unix.B300, 600: unix.B600,
	1200: unix.B1200, 1800: unix.B1800, 2400: unix.B2400, 4800: unix.B4800,
	9600: unix.B9600, 19200: unix.B19200, 38400: unix.B38400, 57600: unix.B57600,
	115200: unix.B115200, 230400: unix.B230400,
}

// rewriteSerialPositional resolves the ambiguity in the ser protocol's
// single positional slot: a bare numeric token names a port index (it
// binds to the "port" template parameter in registration order, as for any
// other protocol); a bare non-numeric token names a device path outright,
// so it is rewritten to a keyed device= token before the generic parser
// ever sees it.
func rewriteSerialPositional(targetStr string) string {
	proto, tokens, err := splitTarget(targetStr)
	if err != nil || len(tokens) == 0 {
		return targetStr
	}
	out := make([]string, len(tokens))
	rewrote := false
	for i, tok := range tokens {
		if rewrote || tok == "" || strings.ContainsRune(tok, '=') {
			out[i] = tok
			continue
		}
		rewrote = true
		if _, err := strconv.Atoi(tok); err == nil {
			out[i] = tok
		} else {
			out[i] = "device=" + tok
		}
	}
	return proto + ":" + strings.Join(out, ";")
}

// serialStream implements Stream over a termios-configured character
// device, backing the ser protocol.
type serialStream struct {
	streamBase
	f       *os.File
	oldtio  unix.Termios
	restore bool
}

func newSerialStream(h *Hub, targetStr string) (Stream, error) {
	ps := NewParameterSet()
	if err := ps.Add("ser:port=1;baud=115200;stop=1;parity=none;fc=none;bits=8"); err != nil {
		return nil, err
	}
	ps.AddParam("device", nil, true, false)
	ps.AddParam("name", nil, true, false)
	if err := ps.Add(rewriteSerialPositional(targetStr)); err != nil {
		return nil, err
	}

	devFileName, err := resolveSerialDevice(ps, targetStr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Open(devFileName, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, &DashelError{Kind: ConnectionFailed, Errno: err, Reason: "cannot open serial port " + devFileName, Target: targetStr}
	}
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = unix.Close(fd)
		return nil, &DashelError{Kind: ConnectionFailed, Errno: err, Reason: "serial port " + devFileName + " is already in use", Target: targetStr}
	}

	oldtio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		_ = unix.Close(fd)
		return nil, &DashelError{Kind: ConnectionFailed, Errno: err, Reason: "cannot read serial port state", Target: targetStr}
	}

	newtio, err := buildTermios(ps)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, newtio); err != nil {
		_ = unix.Close(fd)
		return nil, &DashelError{Kind: ConnectionFailed, Errno: err, Reason: "cannot configure serial port. the requested baud rate might not be supported", Target: targetStr}
	}

	ps.Set("device", devFileName)
	base := newStreamBase(h, "ser", ps)
	base.nativeFD = fd
	return &serialStream{streamBase: base, f: os.NewFile(uintptr(fd), devFileName), oldtio: *oldtio, restore: true}, nil
}

// resolveSerialDevice follows the original design's priority: an explicit
// device= path wins outright; otherwise name= picks the first enumerated
// port whose description contains it, and a bare port index looks it up by
// discovery order.
func resolveSerialDevice(ps *ParameterSet, targetStr string) (string, error) {
	if ps.IsSet("device") {
		return ps.Get("device"), nil
	}
	ports, err := ListSerialPorts()
	if err != nil {
		return "", err
	}
	if ps.IsSet("name") {
		want := ps.Get("name")
		for _, p := range ports {
			if strings.Contains(p.Name, want) {
				return p.Device, nil
			}
		}
		return "", &DashelError{Kind: ConnectionFailed, Reason: "no serial port named " + want, Target: targetStr}
	}
	portIdx, err := ps.GetInt("port")
	if err != nil {
		return "", err
	}
	for _, p := range ports {
		if p.Index == portIdx {
			return p.Device, nil
		}
	}
	return "", &DashelError{Kind: ConnectionFailed, Reason: "the specified serial port does not exist", Target: targetStr}
}

func buildTermios(ps *ParameterSet) (*unix.Termios, error) {
	var t unix.Termios
	t.Cflag |= unix.CLOCAL | unix.CREAD

	bits, err := ps.GetInt("bits")
	if err != nil {
		return nil, err
	}
	switch bits {
	case 5:
		t.Cflag |= unix.CS5
	case 6:
		t.Cflag |= unix.CS6
	case 7:
		t.Cflag |= unix.CS7
	case 8:
		t.Cflag |= unix.CS8
	default:
		return nil, &DashelError{Kind: InvalidTarget, Reason: "invalid number of bits per character, must be 5, 6, 7 or 8"}
	}

	if ps.Get("stop") == "2" {
		t.Cflag |= unix.CSTOPB
	}
	if ps.Get("fc") == "hard" {
		t.Cflag |= unix.CRTSCTS
	}
	if ps.Get("parity") != "none" {
		t.Cflag |= unix.PARENB
		if ps.Get("parity") == "odd" {
			t.Cflag |= unix.PARODD
		}
	}

	baud, err := ps.GetInt("baud")
	if err != nil {
		return nil, err
	}
	speed, ok := baudRates[baud]
	if !ok {
		return nil, &DashelError{Kind: ConnectionFailed, Reason: fmt.Sprintf("invalid baud rate %d", baud)}
	}
	t.Cflag |= speed
	t.Ispeed = speed
	t.Ospeed = speed

	t.Iflag = unix.IGNPAR
	t.Oflag = 0
	t.Lflag = 0
	t.Cc[unix.VTIME] = 0
	t.Cc[unix.VMIN] = 1
	return &t, nil
}

func (s *serialStream) Write(p []byte) error {
	if err := s.checkWrite(); err != nil {
		return err
	}
	n, err := s.f.Write(p)
	if s.metrics != nil {
		s.metrics.bytesWritten.Add(float64(n))
	}
	if err != nil {
		return s.fail(IOError, err, "serial write failed")
	}
	if n != len(p) {
		return s.fail(IOError, nil, "short write to serial port")
	}
	return nil
}

func (s *serialStream) Flush() error {
	return s.checkWrite()
}

func (s *serialStream) Read(p []byte) error {
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
			return s.fail(ConnectionLost, err, "serial port closed")
		}
		if err != nil {
			return s.fail(IOError, err, "serial read failed")
		}
		remaining = remaining[n:]
	}
	return nil
}

func (s *serialStream) receiveDataAndCheckDisconnection() (bool, error) {
	var buf [recvBufSize]byte
	n, err := s.f.Read(buf[:])
	if err != nil && err != io.EOF {
		return false, s.fail(IOError, err, "serial read failed")
	}
	if n == 0 {
		return true, nil
	}
	s.refillRecvBuffer(buf[:n])
	return false, nil
}

func (s *serialStream) closeNative() error {
	if s.restore {
		_ = unix.IoctlSetTermios(int(s.f.Fd()), unix.TCSETS, &s.oldtio)
	}
	return s.f.Close()
}
