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
	"fmt"
	"net"
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/aseba-community/dashel-go/internal/wbuf"
)

// udpStream implements PacketStream. Unlike tcp, a udp target binds a local
// port for receiving but carries no implicit peer: every outgoing datagram
// names its destination explicitly via Send. Write only accumulates bytes
// into a pending-datagram buffer; Flush sends that buffer to the most
// recently seen peer, matching the "connected datagram" convenience the
// source design offers on top of an otherwise connectionless socket.
type udpStream struct {
	streamBase
	conn      *net.UDPConn
	sendBuf   *wbuf.Buffer
	armed     bool
	broadcast bool
	lastPeer  *IPv4Address
}

func newUDPStream(h *Hub, targetStr string) (Stream, error) {
	ps := NewParameterSet()
	if err := ps.Add("udp:port=;address=0.0.0.0;sock=-1;broadcast=0"); err != nil {
		return nil, err
	}
	if err := ps.Add(targetStr); err != nil {
		return nil, err
	}

	broadcast, err := ps.GetBool("broadcast")
	if err != nil {
		return nil, err
	}

	sock, _ := ps.GetInt("sock")
	var conn *net.UDPConn
	if sock >= 0 {
		f := os.NewFile(uintptr(sock), "dashel-adopted-udp")
		c, err := net.FileConn(f)
		if err != nil {
			return nil, &DashelError{Kind: ConnectionFailed, Errno: err, Reason: "cannot adopt socket", Target: targetStr}
		}
		uc, ok := c.(*net.UDPConn)
		if !ok {
			return nil, &DashelError{Kind: ConnectionFailed, Reason: "adopted socket is not UDP", Target: targetStr}
		}
		conn = uc
	} else {
		portStr := ps.Get("port")
		if portStr == "" {
			portStr = "0"
		}
		udpAddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(ps.Get("address"), portStr))
		if err != nil {
			return nil, &DashelError{Kind: InvalidTarget, Errno: err, Reason: "bad udp address", Target: targetStr}
		}
		conn, err = net.ListenUDP("udp4", udpAddr)
		if err != nil {
			return nil, &DashelError{Kind: ConnectionFailed, Errno: err, Reason: "udp bind failed", Target: targetStr}
		}
	}

	boundPort := conn.LocalAddr().(*net.UDPAddr).Port
	ps.Set("port", strconv.Itoa(boundPort))
	ps.Erase("sock")

	fd, err := fdOf(conn)
	if err != nil {
		return nil, &DashelError{Kind: ConnectionFailed, Errno: err, Reason: "cannot inspect udp socket", Target: targetStr}
	}
	if broadcast {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
			return nil, &DashelError{Kind: ConnectionFailed, Errno: err, Reason: "cannot enable broadcast", Target: targetStr}
		}
	}

	base := newStreamBase(h, "udp", ps)
	base.nativeFD = fd
	return &udpStream{
		streamBase: base,
		conn:       conn,
		sendBuf:    wbuf.New(defaultWriteBufferCap),
		broadcast:  broadcast,
	}, nil
}

func (s *udpStream) kind() streamKind { return kindPacket }

// Write only accumulates; nothing reaches the wire until Flush or Send.
func (s *udpStream) Write(p []byte) error {
	if err := s.checkWrite(); err != nil {
		return err
	}
	s.sendBuf.Append(p)
	return nil
}

// Flush sends the accumulated datagram to the most recent peer seen via
// Receive. There is no such peer for a udp stream that has never
// received anything, so Flush fails rather than guessing a destination.
func (s *udpStream) Flush() error {
	if err := s.checkWrite(); err != nil {
		return err
	}
	if s.lastPeer == nil {
		return s.fail(IOError, nil, "no known peer to flush udp datagram to")
	}
	return s.Send(*s.lastPeer)
}

// Send transmits the accumulated datagram to dest in a single syscall and
// clears the accumulator, matching a datagram socket's all-or-nothing write
// semantics.
func (s *udpStream) Send(dest IPv4Address) error {
	if err := s.checkWrite(); err != nil {
		return err
	}
	pending := append([]byte(nil), s.sendBuf.Bytes()...)
	s.sendBuf.Reset()
	addr := &net.UDPAddr{IP: net.ParseIP(dest.Host), Port: int(dest.Port)}
	n, err := s.conn.WriteToUDP(pending, addr)
	if s.metrics != nil {
		s.metrics.bytesWritten.Add(float64(n))
	}
	if err != nil {
		return s.fail(IOError, err, "udp send failed")
	}
	if n != len(pending) {
		return s.fail(IOError, nil, "short udp send")
	}
	return nil
}

// Read never touches the socket: it only copies out of whatever datagram
// the last Receive call buffered, failing IOError if p asks for more bytes
// than remain unread from that datagram. This mirrors the source design's
// PacketStream::read, which fails with "attempt to read past available
// data" rather than blocking for a new datagram. Receive is the only
// operation that ever performs a recvfrom.
func (s *udpStream) Read(p []byte) error {
	if err := s.checkRead(); err != nil {
		return err
	}
	if s.recvAvailable() < len(p) {
		return s.fail(IOError, nil, fmt.Sprintf("attempt to read %d bytes past the %d available in the last received datagram", len(p), s.recvAvailable()))
	}
	s.takeFromRecvBuffer(p)
	return nil
}

// Receive blocks for one datagram, replacing the stream's read-ahead buffer
// with that datagram's payload and recording the sender's address into
// *source. The payload is received into a recvBufSize-byte buffer, so a
// larger datagram is truncated to its first recvBufSize bytes.
func (s *udpStream) Receive(source *IPv4Address) error {
	if err := s.checkRead(); err != nil {
		return err
	}
	var buf [recvBufSize]byte
	n, peer, err := s.recvOne(buf[:])
	if err != nil {
		return err
	}
	s.refillRecvBuffer(buf[:n])
	if source != nil {
		*source = peer
	}
	return nil
}

func (s *udpStream) recvOne(p []byte) (int, IPv4Address, error) {
	n, raddr, err := s.conn.ReadFromUDP(p)
	if s.metrics != nil {
		s.metrics.bytesRead.Add(float64(n))
	}
	if err != nil {
		return 0, IPv4Address{}, s.fail(IOError, err, "udp receive failed")
	}
	peer := NewIPv4Address(raddr.IP.String(), uint16(raddr.Port))
	s.lastPeer = &peer
	return n, peer, nil
}

// receiveDataAndCheckDisconnection only arms the one-shot readiness latch:
// per the poll/udp dispatch rule, the Hub never reads a datagram itself,
// leaving Read/Receive as the only ways to actually consume one.
func (s *udpStream) receiveDataAndCheckDisconnection() (bool, error) {
	s.mu.Lock()
	s.armed = true
	s.mu.Unlock()
	return false, nil
}

// isDataInRecvBuffer clears the latch and returns its previous value, so
// IncomingData fires exactly once per readiness notification.
func (s *udpStream) isDataInRecvBuffer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.armed
	s.armed = false
	return was
}

func (s *udpStream) closeNative() error {
	return s.conn.Close()
}
