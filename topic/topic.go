// Copyright (c) 2014 The gomqtt Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package topic normalizes MQTT-5 topic filters and matches concrete
// topic paths against them.
package topic

import "strings"

// kind tags a normalized filter segment so that a literal segment with
// the text "+" or "#" can never alias the wildcard of the same name.
type kind byte

const (
	literal kind = iota
	plus
	hash
)

// Segment is one normalized element of a filter.
type Segment struct {
	kind kind
	text string
}

// Split breaks a raw filter or topic string into its path segments.
func Split(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Join reassembles path segments into their string form.
func Join(segments []string) string {
	return strings.Join(segments, "/")
}

// Normalize converts the raw segments of a filter into sentinel-tagged
// segments, so "+" and "#" can only ever match as wildcards and never as
// literal segment text.
func Normalize(rawSegments []string) []Segment {
	out := make([]Segment, len(rawSegments))
	for i, s := range rawSegments {
		switch s {
		case "+":
			out[i] = Segment{kind: plus}
		case "#":
			out[i] = Segment{kind: hash}
		default:
			out[i] = Segment{kind: literal, text: s}
		}
	}
	return out
}

// Key renders the normalized segments back into a string usable as a
// map key, keeping wildcard segments distinguishable from any literal
// segment.
func Key(segments []Segment) string {
	parts := make([]string, len(segments))
	for i, s := range segments {
		switch s.kind {
		case plus:
			parts[i] = "\x00+"
		case hash:
			parts[i] = "\x00#"
		default:
			parts[i] = s.text
		}
	}
	return strings.Join(parts, "/")
}

// Binding records what a single wildcard in a filter bound to during a
// match: Position is the zero-based index of a "+" wildcard (or -1 for
// the trailing "#"), Segment is the literal it bound to (for "+"), and
// Suffix is the remaining trailing segments (for "#").
type Binding struct {
	Position int
	Segment  string
	Suffix   []string
}

// Match reports whether the normalized filter matches the given
// concrete topic path, returning the ordered wildcard bindings per
// spec: one entry per "+", in position order, followed by a trailing
// ('#', suffix) entry if the filter ends in "#".
func Match(filter []Segment, path []string) ([]Binding, bool) {
	var bindings []Binding

	i := 0
	for ; i < len(filter); i++ {
		switch filter[i].kind {
		case hash:
			// '#' must be the last segment and matches everything from
			// here on, including zero segments.
			bindings = append(bindings, Binding{Position: -1, Suffix: append([]string(nil), path[i:]...)})
			return bindings, true
		case plus:
			if i >= len(path) {
				return nil, false
			}
			bindings = append(bindings, Binding{Position: i, Segment: path[i]})
		default:
			if i >= len(path) || path[i] != filter[i].text {
				return nil, false
			}
		}
	}

	if i != len(path) {
		return nil, false
	}

	return bindings, true
}
