// SPDX-License-Identifier: GPL-3.0-or-later

package nanodns

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/bassosimone/runtimex"
	"golang.org/x/net/idna"
)

// Record types for which this package has dedicated support. Records of
// any other type are carried through with opaque RDATA.
const (
	// TypeA identifies an IPv4 address record.
	TypeA uint16 = 1

	// TypeNS identifies a name server record.
	TypeNS uint16 = 2

	// TypeCNAME identifies a canonical name record.
	TypeCNAME uint16 = 5

	// TypeAAAA identifies an IPv6 address record.
	TypeAAAA uint16 = 28
)

// ClassINET is the Internet class.
const ClassINET uint16 = 1

// Opcodes defined by RFC 1035. Only [OpcodeQuery] is implemented; any
// other opcode is answered with [RcodeNotImplemented].
const (
	// OpcodeQuery is a standard query.
	OpcodeQuery uint8 = 0

	// OpcodeIQuery is an inverse query.
	OpcodeIQuery uint8 = 1

	// OpcodeStatus is a server status request.
	OpcodeStatus uint8 = 2
)

// Response codes defined by RFC 1035.
const (
	// RcodeNoError means no error condition.
	RcodeNoError uint8 = 0

	// RcodeFormatError means the server could not interpret the query.
	RcodeFormatError uint8 = 1

	// RcodeServerFailure means the server could not process the query.
	RcodeServerFailure uint8 = 2

	// RcodeNameError means the queried domain does not exist.
	RcodeNameError uint8 = 3

	// RcodeNotImplemented means the query kind is not supported.
	RcodeNotImplemented uint8 = 4

	// RcodeRefused means the server refuses to answer for policy reasons.
	RcodeRefused uint8 = 5
)

const (
	// maxLabelLength is the maximum length of a single name label.
	maxLabelLength = 63

	// maxNameLength is the maximum length of a name in wire form,
	// including length bytes and the root label.
	maxNameLength = 255
)

// Header is the fixed 12-byte DNS message header.
//
// The four section counts are not represented here: they are derived
// from the section slices of the enclosing [*Message] when packing and
// validated against the actual records when decoding.
type Header struct {
	// ID is the identifier chosen by the requester and copied
	// into the corresponding reply.
	ID uint16

	// Response is false for queries and true for responses.
	Response bool

	// Opcode is the four-bit kind of query.
	Opcode uint8

	// Authoritative marks a response from an authoritative server.
	Authoritative bool

	// Truncated marks a message cut short by the transport limit.
	Truncated bool

	// RecursionDesired is set by the requester and copied into
	// the response.
	RecursionDesired bool

	// RecursionAvailable is set in responses by servers that
	// support recursive resolution.
	RecursionAvailable bool

	// Rcode is the four-bit response code.
	Rcode uint8
}

// Question is a single entry of the question section.
//
// Construct using [NewQuestion], which validates and normalizes the
// name, or set the fields directly with an already-valid name.
type Question struct {
	// Name is the domain name, dot-separated, without trailing dot.
	Name string

	// Type is the query type, for instance [TypeA].
	Type uint16

	// Class is the query class, almost always [ClassINET].
	Class uint16
}

// ResourceRecord is a single entry of the answer, authority, or
// additional section.
type ResourceRecord struct {
	// Name is the domain name the record refers to.
	Name string

	// Type is the record type, for instance [TypeA].
	Type uint16

	// Class is the record class, almost always [ClassINET].
	Class uint16

	// TTL is the time to live in seconds.
	TTL uint32

	// Data is the type-specific RDATA payload.
	Data []byte
}

// Message is a complete DNS message.
type Message struct {
	// Header is the fixed-size message header.
	Header Header

	// Questions is the question section.
	Questions []Question

	// Answers is the answer section.
	Answers []ResourceRecord

	// Authorities is the authority section.
	Authorities []ResourceRecord

	// Additionals is the additional section.
	Additionals []ResourceRecord
}

// ErrInvalidName means a domain name failed construction-time validation.
var ErrInvalidName = errors.New("dns: invalid domain name")

// validateName checks the wire-form constraints for a dot-separated name.
func validateName(name string) error {
	if name == "" {
		return nil // the root name
	}
	wireLength := 1 // the root label
	for _, label := range strings.Split(name, ".") {
		if label == "" {
			return fmt.Errorf("%w: empty label in %q", ErrInvalidName, name)
		}
		if len(label) > maxLabelLength {
			return fmt.Errorf("%w: label too long in %q", ErrInvalidName, name)
		}
		wireLength += len(label) + 1
	}
	if wireLength > maxNameLength {
		return fmt.Errorf("%w: name too long: %q", ErrInvalidName, name)
	}
	return nil
}

// NewQuestion constructs a [Question] for the [ClassINET] class.
//
// The name is IDNA encoded and validated against the wire-form length
// limits, so packing a message containing the question cannot fail.
func NewQuestion(name string, qtype uint16) (Question, error) {
	// IDNA encode the domain name.
	punyName, err := idna.Lookup.ToASCII(name)
	if err != nil {
		return Question{}, err
	}

	// The codec stores names without the trailing dot.
	punyName = strings.TrimSuffix(punyName, ".")

	// Reject names that cannot be encoded.
	if err := validateName(punyName); err != nil {
		return Question{}, err
	}

	return Question{Name: punyName, Type: qtype, Class: ClassINET}, nil
}

// NewARecord constructs an A [ResourceRecord] for the given name.
//
// The address MUST be an IPv4 address and the name MUST be valid in
// wire form, otherwise this function panics.
func NewARecord(name string, addr netip.Addr, ttl uint32) ResourceRecord {
	addr = addr.Unmap()
	runtimex.Assert(addr.Is4())
	runtimex.Assert(validateName(name) == nil)
	data := addr.As4()
	return ResourceRecord{
		Name:  name,
		Type:  TypeA,
		Class: ClassINET,
		TTL:   ttl,
		Data:  data[:],
	}
}

// IPv4 returns the address carried by an A record in the Internet
// class, or false when the record is not a well-formed A record.
func (rr *ResourceRecord) IPv4() (netip.Addr, bool) {
	if rr.Type != TypeA || rr.Class != ClassINET || len(rr.Data) != 4 {
		return netip.Addr{}, false
	}
	return netip.AddrFrom4([4]byte(rr.Data)), true
}
