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

// Package dashel unifies stream-oriented I/O over TCP, UDP, serial ports,
// files and standard streams behind one blocking read/write contract, and
// provides a readiness-based event loop (Hub) that dispatches lifecycle
// callbacks across any combination of those sources.
//
// Streams are named with a small URI-like grammar, e.g.
// "tcp:host=localhost;port=8000" or "ser:device=/dev/ttyUSB0;baud=115200",
// and are created through a Hub, which owns their lifetime end to end.
package dashel
