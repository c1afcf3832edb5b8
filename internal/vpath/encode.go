// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package vpath resolves virtual paths (<root>/<rest>) to real filesystem
// paths and carries them over the wire in a form that survives names which
// are not valid UTF-8.
package vpath

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// prefix marks a name that has been escaped because it isn't valid UTF-8.
const prefix = "~~OSPATH~~"

// Encode converts a filesystem name to its wire form. Names that are
// already valid UTF-8 pass through unchanged; anything else is prefixed and
// every non-ASCII byte (and literal '~') is replaced by a "~HH" escape so
// the round trip through JSON and URL query strings is lossless.
func Encode(name string) string {
	if utf8.ValidString(name) {
		return name
	}
	var b strings.Builder
	b.WriteString(prefix)
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '~':
			b.WriteString("~7E")
		case c < 0x80:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "~%02X", c)
		}
	}
	return b.String()
}

// Decode reverses Encode. Strings without the escape prefix are returned
// unchanged, so callers may pass either the escaped or the raw form.
func Decode(s string) (string, error) {
	if !strings.HasPrefix(s, prefix) {
		return s, nil
	}
	s = s[len(prefix):]
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] != '~' {
			start := i
			for i < len(s) && s[i] != '~' {
				i++
			}
			b.WriteString(s[start:i])
			continue
		}
		if i+3 > len(s) {
			return "", fmt.Errorf("vpath: incomplete escape at %d: %q", i, s[i:])
		}
		hexPart := s[i+1 : i+3]
		v, err := strconv.ParseUint(hexPart, 16, 8)
		if err != nil {
			return "", fmt.Errorf("vpath: invalid escape %q at %d: %w", hexPart, i, err)
		}
		b.WriteByte(byte(v))
		i += 3
	}
	return b.String(), nil
}
