// SPDX-License-Identifier: GPL-3.0-or-later

package nanodns

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/bassosimone/runtimex"
)

// maxPointerTarget is the largest offset a 14-bit pointer can reference.
const maxPointerTarget = 0x3FFF

// encoder serializes a DNS message, reusing pointers to previously
// written name suffixes.
type encoder struct {
	// buf accumulates the serialized message.
	buf []byte

	// names maps an already-written name suffix to its offset.
	names map[string]int
}

// uint16 appends a big-endian 16-bit integer.
func (e *encoder) uint16(v uint16) {
	e.buf = binary.BigEndian.AppendUint16(e.buf, v)
}

// uint32 appends a big-endian 32-bit integer.
func (e *encoder) uint32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

// name appends a domain name in the length-prefixed label format,
// compressing suffixes already written earlier in the message.
//
// Names are validated at construction time, so encoding cannot fail:
// an overlong label here is a programming error and panics.
func (e *encoder) name(name string) {
	for name != "" {
		// 1. reuse an earlier occurrence of this suffix when possible
		if target, ok := e.names[name]; ok {
			e.uint16(0xC000 | uint16(target))
			return
		}
		if len(e.buf) <= maxPointerTarget {
			e.names[name] = len(e.buf)
		}

		// 2. otherwise write the next label in full
		label, rest, _ := strings.Cut(name, ".")
		runtimex.Assert(len(label) > 0 && len(label) <= maxLabelLength)
		e.buf = append(e.buf, byte(len(label)))
		e.buf = append(e.buf, label...)
		name = rest
	}
	e.buf = append(e.buf, 0)
}

// question appends one entry of the question section.
func (e *encoder) question(q Question) {
	e.name(q.Name)
	e.uint16(q.Type)
	e.uint16(q.Class)
}

// record appends one resource record.
func (e *encoder) record(rr ResourceRecord) {
	runtimex.Assert(len(rr.Data) <= math.MaxUint16)
	e.name(rr.Name)
	e.uint16(rr.Type)
	e.uint16(rr.Class)
	e.uint32(rr.TTL)
	e.uint16(uint16(len(rr.Data)))
	e.buf = append(e.buf, rr.Data...)
}

// flags packs the header flag bits into the 16-bit flags word.
func (h *Header) flags() uint16 {
	var flags uint16
	if h.Response {
		flags |= flagResponse
	}
	flags |= uint16(h.Opcode&opcodeMask) << opcodeShift
	if h.Authoritative {
		flags |= flagAuthoritative
	}
	if h.Truncated {
		flags |= flagTruncated
	}
	if h.RecursionDesired {
		flags |= flagRecursionDesired
	}
	if h.RecursionAvailable {
		flags |= flagRecursionAvailable
	}
	flags |= uint16(h.Rcode & rcodeMask)
	return flags
}

// Pack serializes the message to wire format.
//
// The section counts in the emitted header always reflect the length
// of the corresponding section slices. Packing never fails for
// messages whose names satisfy the construction-time limits.
func (m *Message) Pack() []byte {
	e := &encoder{names: make(map[string]int)}

	// 1. serialize the header with the derived counts
	e.uint16(m.Header.ID)
	e.uint16(m.Header.flags())
	runtimex.Assert(len(m.Questions) <= math.MaxUint16)
	runtimex.Assert(len(m.Answers) <= math.MaxUint16)
	runtimex.Assert(len(m.Authorities) <= math.MaxUint16)
	runtimex.Assert(len(m.Additionals) <= math.MaxUint16)
	e.uint16(uint16(len(m.Questions)))
	e.uint16(uint16(len(m.Answers)))
	e.uint16(uint16(len(m.Authorities)))
	e.uint16(uint16(len(m.Additionals)))

	// 2. serialize the sections in order
	for _, q := range m.Questions {
		e.question(q)
	}
	for _, rr := range m.Answers {
		e.record(rr)
	}
	for _, rr := range m.Authorities {
		e.record(rr)
	}
	for _, rr := range m.Additionals {
		e.record(rr)
	}
	return e.buf
}
