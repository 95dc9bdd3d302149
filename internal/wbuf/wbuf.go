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

// Package wbuf implements the amortized-doubling accumulator TCP and UDP
// streams use to batch small writes until Flush (or a size cap) forces
// them out, replacing the source design's manual buffer-resize idiom.
package wbuf

// Buffer is an expandable byte accumulator that doubles its capacity as it
// grows, up to no particular bound; callers enforce their own flush-cap
// policy by checking Len after each Append.
type Buffer struct {
	data []byte
}

// New returns an empty buffer with initial capacity hint.
func New(hint int) *Buffer {
	if hint <= 0 {
		hint = 256
	}
	return &Buffer{data: make([]byte, 0, hint)}
}

// Append adds p to the buffer, doubling capacity as needed.
func (b *Buffer) Append(p []byte) {
	needed := len(b.data) + len(p)
	if needed > cap(b.data) {
		newCap := cap(b.data)
		if newCap == 0 {
			newCap = 256
		}
		for newCap < needed {
			newCap *= 2
		}
		grown := make([]byte, len(b.data), newCap)
		copy(grown, b.data)
		b.data = grown
	}
	b.data = append(b.data, p...)
}

// Len returns the number of bytes currently buffered.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes returns the buffered bytes. The slice is only valid until the next
// Append or Reset.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Reset empties the buffer without releasing its capacity.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
}
