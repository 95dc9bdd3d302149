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

// PacketStream extends Stream for datagram-oriented transports, where
// message boundaries matter and Write/Read alone cannot express them:
// Write only accumulates a pending datagram, Send transmits and clears it,
// and Receive blocks for exactly one datagram and records its source.
type PacketStream interface {
	Stream

	// Send transmits the bytes accumulated by prior Write calls as a
	// single datagram to dest, then clears the accumulator. A partial
	// send is reported as IOError.
	Send(dest IPv4Address) error
	// Receive blocks for one datagram, replaces the stream's receive
	// buffer with exactly that datagram's payload, and records the
	// sender's address into *source.
	Receive(source *IPv4Address) error
}
