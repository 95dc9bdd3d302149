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
	"strconv"
	"strings"
)

// ParameterSet holds a target's protocol tag plus an ordered set of
// recognized parameter names and their string values. The first call to Add
// is expected to register a protocol's template (names, defaults and
// positional order); subsequent calls overlay values from a concrete
// target string.
type ParameterSet struct {
	proto  string
	names  []string
	values map[string]string
	// keyedOnly tracks names that may only be bound by key, never by
	// position (used for ser's device/name parameters, see DESIGN.md).
	keyedOnly map[string]bool
}

// NewParameterSet returns an empty parameter set.
func NewParameterSet() *ParameterSet {
	return &ParameterSet{
		values:    map[string]string{},
		keyedOnly: map[string]bool{},
	}
}

// ParseParameterSet is a convenience for parsing a self-contained target
// string with no separate template: the string's own key=value tokens
// define the recognized names (all positional tokens are rejected as
// ambiguous). It is used for contexts, such as re-parsing a Format()ed
// IPv4Address, where every field is always keyed.
func ParseParameterSet(s string) (*ParameterSet, error) {
	ps := NewParameterSet()
	proto, tokens, err := splitTarget(s)
	if err != nil {
		return nil, err
	}
	ps.proto = proto
	for _, tok := range tokens {
		k, v, ok := splitToken(tok)
		if !ok {
			return nil, &DashelError{Kind: InvalidTarget, Reason: fmt.Sprintf("positional token %q not allowed here", tok)}
		}
		ps.names = append(ps.names, k)
		ps.values[k] = v
	}
	return ps, nil
}

func splitTarget(s string) (proto string, tokens []string, err error) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return "", nil, &DashelError{Kind: InvalidTarget, Reason: fmt.Sprintf("target %q has no protocol tag", s)}
	}
	proto = s[:idx]
	rest := s[idx+1:]
	if rest == "" {
		return proto, nil, nil
	}
	return proto, strings.Split(rest, ";"), nil
}

func splitToken(tok string) (key, value string, keyed bool) {
	if idx := strings.IndexByte(tok, '='); idx >= 0 {
		return tok[:idx], tok[idx+1:], true
	}
	return "", tok, false
}

// Add parses line as "proto:[k1=]v1;...;[kN=]vN" and merges it into ps.
//
// On the first call, every keyed token becomes a newly recognized name with
// its value as default, matching a protocol template like
// "ser:port=1;baud=115200;..."; a bare token in that call is InvalidTarget. On
// subsequent calls, bare tokens bind positionally to the next name, in
// registration order, that has not yet been positionally consumed during
// this call, and keyed tokens bind by name — an unrecognized name is
// InvalidTarget.
func (ps *ParameterSet) Add(line string) error {
	proto, tokens, err := splitTarget(line)
	if err != nil {
		return err
	}
	if ps.proto == "" {
		ps.proto = proto
	}
	firstCall := len(ps.names) == 0 && len(ps.values) == 0
	positionalIdx := 0
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		key, value, keyed := splitToken(tok)
		if keyed {
			if firstCall {
				ps.names = append(ps.names, key)
				ps.values[key] = value
				continue
			}
			if !ps.known(key) {
				return &DashelError{Kind: InvalidTarget, Reason: fmt.Sprintf("unknown parameter %q", key)}
			}
			ps.values[key] = value
			continue
		}
		// Bare token.
		if firstCall {
			// A bare token in a template has no name; this only occurs for
			// malformed templates.
			return &DashelError{Kind: InvalidTarget, Reason: fmt.Sprintf("template %q has unnamed parameter", line)}
		}
		name, ok := ps.nextPositional(positionalIdx)
		if !ok {
			return &DashelError{Kind: InvalidTarget, Reason: fmt.Sprintf("too many positional parameters in %q", line)}
		}
		ps.values[name] = value
		positionalIdx++
	}
	return nil
}

// nextPositional returns the name-th recognized parameter eligible for
// positional binding (skipping keyedOnly names), in registration order.
func (ps *ParameterSet) nextPositional(n int) (string, bool) {
	count := 0
	for _, name := range ps.names {
		if ps.keyedOnly[name] {
			continue
		}
		if count == n {
			return name, true
		}
		count++
	}
	return "", false
}

// AddParam registers a single additional recognized name, optionally with a
// default value, optionally keyed-only (never positionally bound) and
// optionally inserted at the front of the positional order. It is used by
// protocols, such as ser, whose recognized parameter set depends on which
// of several mutually exclusive keys the user supplied.
func (ps *ParameterSet) AddParam(name string, value *string, keyedOnly bool, atStart bool) {
	if !ps.known(name) {
		if atStart {
			ps.names = append([]string{name}, ps.names...)
		} else {
			ps.names = append(ps.names, name)
		}
	}
	if keyedOnly {
		ps.keyedOnly[name] = true
	}
	if value != nil {
		ps.values[name] = *value
	} else if _, ok := ps.values[name]; !ok {
		ps.values[name] = ""
	}
}

func (ps *ParameterSet) known(name string) bool {
	for _, n := range ps.names {
		if n == name {
			return true
		}
	}
	return false
}

// IsSet reports whether key is recognized and has a non-empty value.
func (ps *ParameterSet) IsSet(key string) bool {
	v, ok := ps.values[key]
	return ok && v != ""
}

// Has reports whether key is recognized at all, set or not.
func (ps *ParameterSet) Has(key string) bool {
	_, ok := ps.values[key]
	return ok
}

// Get returns the string value of key, or "" if unrecognized or unset.
func (ps *ParameterSet) Get(key string) string {
	return ps.values[key]
}

// GetInt parses the value of key as an int.
func (ps *ParameterSet) GetInt(key string) (int, error) {
	v := ps.values[key]
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &DashelError{Kind: InvalidTarget, Reason: fmt.Sprintf("parameter %q: %q is not an integer", key, v)}
	}
	return n, nil
}

// GetBool parses the value of key as a bool ("true"/"false").
func (ps *ParameterSet) GetBool(key string) (bool, error) {
	v := ps.values[key]
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &DashelError{Kind: InvalidTarget, Reason: fmt.Sprintf("parameter %q: %q is not a bool", key, v)}
	}
	return b, nil
}

// Set overwrites the value of a recognized (or not yet recognized) key; it
// is used by streams that write back OS-assigned values, such as a
// listener's ephemeral port.
func (ps *ParameterSet) Set(key, value string) {
	if !ps.known(key) {
		ps.names = append(ps.names, key)
	}
	ps.values[key] = value
}

// Erase removes key entirely, as when a connected-socket handle parameter
// is consumed and must not be echoed back in the public target string.
func (ps *ParameterSet) Erase(key string) {
	delete(ps.values, key)
	for i, n := range ps.names {
		if n == key {
			ps.names = append(ps.names[:i], ps.names[i+1:]...)
			break
		}
	}
}

// Protocol returns the protocol tag recorded by the first Add call.
func (ps *ParameterSet) Protocol() string {
	return ps.proto
}

// SetProtocol overrides the protocol tag rendered by String, used when a
// parameter set built from a generic "tcp:..." template is actually
// reported under a sibling protocol (tcppoll, tcpin) that shares the same
// host/port shape.
func (ps *ParameterSet) SetProtocol(proto string) {
	ps.proto = proto
}

// CheckMandatory verifies that every name in mandatory has a non-empty
// value, returning InvalidTarget naming the first missing one.
func (ps *ParameterSet) CheckMandatory(mandatory ...string) error {
	for _, name := range mandatory {
		if !ps.IsSet(name) {
			return &DashelError{Kind: InvalidTarget, Reason: fmt.Sprintf("missing mandatory parameter %q", name)}
		}
	}
	return nil
}

// String renders the parameter set as "proto:k1=v1;k2=v2;...", in
// registration order. The output already carries the protocol tag, so
// parsing ps.String() itself (e.g. with ParseParameterSet) reproduces the
// same name->value mapping.
func (ps *ParameterSet) String() string {
	var b strings.Builder
	b.WriteString(ps.proto)
	b.WriteByte(':')
	first := true
	for _, name := range ps.names {
		if !first {
			b.WriteByte(';')
		}
		first = false
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(ps.values[name])
	}
	return b.String()
}

// Clone returns a deep copy; changes to the copy do not affect ps.
func (ps *ParameterSet) Clone() *ParameterSet {
	c := NewParameterSet()
	c.proto = ps.proto
	c.names = append([]string{}, ps.names...)
	for k, v := range ps.values {
		c.values[k] = v
	}
	for k, v := range ps.keyedOnly {
		c.keyedOnly[k] = v
	}
	return c
}
