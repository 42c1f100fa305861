// SPDX-License-Identifier: GPL-3.0-or-later

package nanodns

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
)

// Errors returned by [DecodeMessage].
var (
	// ErrTruncated means fewer bytes remain than a field declares.
	ErrTruncated = errors.New("dns: truncated message")

	// ErrMalformedName means a name has an out-of-range length byte,
	// contains a dot inside a label, exceeds the maximum name length,
	// or follows too many compression pointers.
	ErrMalformedName = errors.New("dns: malformed name")

	// ErrInvalidCompressionPointer means a compression pointer does
	// not reference a strictly earlier offset in the message.
	ErrInvalidCompressionPointer = errors.New("dns: invalid compression pointer")

	// ErrCountMismatch means a declared section count exceeds the
	// number of records actually present in the message.
	ErrCountMismatch = errors.New("dns: count mismatch")
)

const (
	// headerSize is the size of the fixed DNS header.
	headerSize = 12

	// maxCompressionPointers bounds the number of compression
	// pointers a single name may chain through. Backward-only
	// pointers already guarantee termination; the budget keeps the
	// work bounded on adversarial input.
	maxCompressionPointers = 16
)

// Header flag bits and shifts within the 16-bit flags word.
const (
	flagResponse           = 0x8000
	flagAuthoritative      = 0x0400
	flagTruncated          = 0x0200
	flagRecursionDesired   = 0x0100
	flagRecursionAvailable = 0x0080
	opcodeShift            = 11
	opcodeMask             = 0x0F
	rcodeMask              = 0x0F
)

// decoder is a cursor over a raw DNS message. The buffer itself is the
// arena: names reference earlier offsets into it.
type decoder struct {
	// buf is the raw message.
	buf []byte

	// off is the current read offset.
	off int
}

// uint16 reads a big-endian 16-bit integer.
func (d *decoder) uint16() (uint16, error) {
	if d.off+2 > len(d.buf) {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint16(d.buf[d.off:])
	d.off += 2
	return v, nil
}

// uint32 reads a big-endian 32-bit integer.
func (d *decoder) uint32() (uint32, error) {
	if d.off+4 > len(d.buf) {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

// bytes reads n raw bytes into a fresh slice.
func (d *decoder) bytes(n int) ([]byte, error) {
	if d.off+n > len(d.buf) {
		return nil, ErrTruncated
	}
	v := bytes.Clone(d.buf[d.off : d.off+n])
	d.off += n
	return v, nil
}

// name reads a possibly-compressed domain name.
//
// A compression pointer must reference a strictly earlier offset than
// its own position, which rules out forward and self references and
// guarantees that pointer chains terminate.
func (d *decoder) name() (string, error) {
	var (
		labels   []string
		nameLen  = 1 // the root label
		resumeAt = -1
		jumps    = 0
	)
	off := d.off
	for {
		if off >= len(d.buf) {
			return "", ErrTruncated
		}
		b := d.buf[off]
		switch {
		// 1. the zero length byte terminates the name
		case b == 0:
			if resumeAt < 0 {
				resumeAt = off + 1
			}
			d.off = resumeAt
			return strings.Join(labels, "."), nil

		// 2. the top two bits set mark a two-byte pointer
		case b&0xC0 == 0xC0:
			if off+2 > len(d.buf) {
				return "", ErrTruncated
			}
			target := int(binary.BigEndian.Uint16(d.buf[off:]) & 0x3FFF)
			if target >= off {
				return "", ErrInvalidCompressionPointer
			}
			if jumps++; jumps > maxCompressionPointers {
				return "", ErrMalformedName
			}
			if resumeAt < 0 {
				resumeAt = off + 2
			}
			off = target

		// 3. the prefixes 01 and 10 are reserved
		case b&0xC0 != 0:
			return "", ErrMalformedName

		// 4. otherwise this is a plain label of length b
		default:
			length := int(b)
			if off+1+length > len(d.buf) {
				return "", ErrTruncated
			}
			if nameLen += length + 1; nameLen > maxNameLength {
				return "", ErrMalformedName
			}
			label := d.buf[off+1 : off+1+length]
			// a dot inside a label would alias a label boundary in
			// the dotted representation used by [Question.Name]
			if bytes.IndexByte(label, '.') >= 0 {
				return "", ErrMalformedName
			}
			labels = append(labels, string(label))
			off += 1 + length
		}
	}
}

// sectionStart returns [ErrCountMismatch] when the buffer is exhausted
// right where the header declared another record should begin.
func (d *decoder) sectionStart() error {
	if d.off >= len(d.buf) {
		return ErrCountMismatch
	}
	return nil
}

// question reads one entry of the question section.
func (d *decoder) question() (Question, error) {
	var q Question
	if err := d.sectionStart(); err != nil {
		return q, err
	}
	name, err := d.name()
	if err != nil {
		return q, err
	}
	qtype, err := d.uint16()
	if err != nil {
		return q, err
	}
	qclass, err := d.uint16()
	if err != nil {
		return q, err
	}
	return Question{Name: name, Type: qtype, Class: qclass}, nil
}

// record reads one resource record.
func (d *decoder) record() (ResourceRecord, error) {
	var rr ResourceRecord
	if err := d.sectionStart(); err != nil {
		return rr, err
	}
	name, err := d.name()
	if err != nil {
		return rr, err
	}
	rtype, err := d.uint16()
	if err != nil {
		return rr, err
	}
	rclass, err := d.uint16()
	if err != nil {
		return rr, err
	}
	ttl, err := d.uint32()
	if err != nil {
		return rr, err
	}
	rdlength, err := d.uint16()
	if err != nil {
		return rr, err
	}
	data, err := d.bytes(int(rdlength))
	if err != nil {
		return rr, err
	}
	return ResourceRecord{Name: name, Type: rtype, Class: rclass, TTL: ttl, Data: data}, nil
}

// records reads count resource records.
func (d *decoder) records(count uint16) ([]ResourceRecord, error) {
	var out []ResourceRecord
	for i := 0; i < int(count); i++ {
		rr, err := d.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rr)
	}
	return out, nil
}

// DecodeMessage parses a raw DNS message.
//
// All multi-byte integers are big-endian. The authority and additional
// sections are parsed like the answer section and retained with opaque
// RDATA so that the declared counts stay aligned with the records.
// Bytes following the last declared record are ignored.
func DecodeMessage(buf []byte) (*Message, error) {
	d := &decoder{buf: buf}

	// 1. parse the fixed-size header
	if len(buf) < headerSize {
		return nil, ErrTruncated
	}
	id, _ := d.uint16()
	flags, _ := d.uint16()
	qdcount, _ := d.uint16()
	ancount, _ := d.uint16()
	nscount, _ := d.uint16()
	arcount, _ := d.uint16()
	msg := &Message{
		Header: Header{
			ID:                 id,
			Response:           flags&flagResponse != 0,
			Opcode:             uint8(flags>>opcodeShift) & opcodeMask,
			Authoritative:      flags&flagAuthoritative != 0,
			Truncated:          flags&flagTruncated != 0,
			RecursionDesired:   flags&flagRecursionDesired != 0,
			RecursionAvailable: flags&flagRecursionAvailable != 0,
			Rcode:              uint8(flags) & rcodeMask,
		},
	}

	// 2. parse the question section
	for i := 0; i < int(qdcount); i++ {
		q, err := d.question()
		if err != nil {
			return nil, err
		}
		msg.Questions = append(msg.Questions, q)
	}

	// 3. parse the answer, authority, and additional sections
	var err error
	if msg.Answers, err = d.records(ancount); err != nil {
		return nil, err
	}
	if msg.Authorities, err = d.records(nscount); err != nil {
		return nil, err
	}
	if msg.Additionals, err = d.records(arcount); err != nil {
		return nil, err
	}
	return msg, nil
}
