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
	"path/filepath"
	"sort"
)

// SerialPortInfo describes one enumerated serial device: Index is the
// 1-based discovery order ser:port= binds against, Device is the path to
// open, and Name is the human-readable description name= matches.
type SerialPortInfo struct {
	Index  int
	Device string
	Name   string
}

// serialGlobs lists the device-path patterns probed for: USB-serial
// adapters, ACM modems and on-board UARTs. ListSerialPorts sorts the
// combined matches by path, so port indices follow lexicographic path
// order, not the order of this list.
var serialGlobs = []string{
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
	"/dev/ttyS*",
}

// ListSerialPorts enumerates locally available serial devices. Unlike the
// original design's HAL/D-Bus backed enumerator, it walks the conventional
// /dev/tty{USB,ACM,S}* device-path families directly: HAL has been a dead
// project for well over a decade, and a plain glob needs nothing running
// on the host to work.
func ListSerialPorts() ([]SerialPortInfo, error) {
	var devices []string
	for _, pattern := range serialGlobs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, &DashelError{Kind: EnumerationError, Errno: err, Reason: "cannot enumerate serial ports"}
		}
		devices = append(devices, matches...)
	}
	sort.Strings(devices)

	ports := make([]SerialPortInfo, 0, len(devices))
	for i, dev := range devices {
		ports = append(ports, SerialPortInfo{
			Index:  i + 1,
			Device: dev,
			Name:   fmt.Sprintf("%s %d", filepath.Base(dev), i+1),
		})
	}
	return ports, nil
}
