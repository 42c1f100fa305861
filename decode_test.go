// SPDX-License-Identifier: GPL-3.0-or-later

package nanodns

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// rawHeader builds a raw 12-byte header with the given identifier,
// flags word, and section counts.
func rawHeader(id, flags, qdcount, ancount, nscount, arcount uint16) []byte {
	raw := make([]byte, 0, headerSize)
	for _, v := range []uint16{id, flags, qdcount, ancount, nscount, arcount} {
		raw = binary.BigEndian.AppendUint16(raw, v)
	}
	return raw
}

// rawName builds a raw uncompressed name.
func rawName(name string) []byte {
	var raw []byte
	if name != "" {
		for _, label := range strings.Split(name, ".") {
			raw = append(raw, byte(len(label)))
			raw = append(raw, label...)
		}
	}
	return append(raw, 0)
}

// rawQuestion builds a raw question entry with an uncompressed name.
func rawQuestion(name string, qtype, qclass uint16) []byte {
	raw := rawName(name)
	raw = binary.BigEndian.AppendUint16(raw, qtype)
	raw = binary.BigEndian.AppendUint16(raw, qclass)
	return raw
}

func TestDecodeMessageHeader(t *testing.T) {
	raw := rawHeader(0x1234, 0x8583, 0, 0, 0, 0)

	msg, err := DecodeMessage(raw)

	require.NoError(t, err)
	require.Equal(t, Header{
		ID:                 0x1234,
		Response:           true,
		Opcode:             OpcodeQuery,
		Authoritative:      true,
		Truncated:          false,
		RecursionDesired:   true,
		RecursionAvailable: true,
		Rcode:              RcodeNameError,
	}, msg.Header)
	require.Empty(t, msg.Questions)
	require.Empty(t, msg.Answers)
}

func TestDecodeMessageCompressedName(t *testing.T) {
	// A response whose answer name is a pointer back to the name
	// inside the question section.
	raw := rawHeader(0x0001, 0x8000, 1, 1, 0, 0)
	raw = append(raw, rawQuestion("example.com", TypeA, ClassINET)...)
	raw = append(raw, 0xC0, 0x0C)                        // pointer to offset 12
	raw = binary.BigEndian.AppendUint16(raw, TypeA)      // TYPE
	raw = binary.BigEndian.AppendUint16(raw, ClassINET)  // CLASS
	raw = binary.BigEndian.AppendUint32(raw, 300)        // TTL
	raw = binary.BigEndian.AppendUint16(raw, 4)          // RDLENGTH
	raw = append(raw, 93, 184, 216, 34)                  // RDATA

	msg, err := DecodeMessage(raw)

	require.NoError(t, err)
	require.Len(t, msg.Answers, 1)
	require.Equal(t, "example.com", msg.Answers[0].Name)
	require.Equal(t, []byte{93, 184, 216, 34}, msg.Answers[0].Data)
}

func TestDecodeMessageCompressionEquivalence(t *testing.T) {
	// The same name, encoded once with a compression pointer and
	// once in full, decodes to the identical label sequence.
	compressed := rawHeader(0x0001, 0, 2, 0, 0, 0)
	compressed = append(compressed, rawQuestion("www.example.com", TypeA, ClassINET)...)
	compressed = append(compressed, 3, 'f', 't', 'p', 0xC0, 0x10) // ftp + pointer to example.com
	compressed = binary.BigEndian.AppendUint16(compressed, TypeA)
	compressed = binary.BigEndian.AppendUint16(compressed, ClassINET)

	expanded := rawHeader(0x0001, 0, 2, 0, 0, 0)
	expanded = append(expanded, rawQuestion("www.example.com", TypeA, ClassINET)...)
	expanded = append(expanded, rawQuestion("ftp.example.com", TypeA, ClassINET)...)

	msgCompressed, err := DecodeMessage(compressed)
	require.NoError(t, err)
	msgExpanded, err := DecodeMessage(expanded)
	require.NoError(t, err)

	require.Equal(t, msgExpanded.Questions, msgCompressed.Questions)
	require.Equal(t, "ftp.example.com", msgCompressed.Questions[1].Name)
}

func TestDecodeMessagePointerLoopSafety(t *testing.T) {
	type testCase struct {
		// name is the subtest name.
		name string

		// raw is the crafted message.
		raw []byte

		// wantErr is the error to match.
		wantErr error
	}

	selfPointer := rawHeader(0x0001, 0, 1, 0, 0, 0)
	selfPointer = append(selfPointer, 0xC0, 0x0C) // points to itself

	forwardPointer := rawHeader(0x0001, 0, 1, 0, 0, 0)
	forwardPointer = append(forwardPointer, 0xC0, 0x20) // points forward
	forwardPointer = append(forwardPointer, make([]byte, 40)...)

	// A chain of questions where each name is a pointer to the name
	// of the previous question: decoding question k follows k-1
	// pointers, so the last question exceeds the jump budget while
	// every single pointer is strictly backward.
	const chainLength = maxCompressionPointers + 2
	chain := rawHeader(0x0001, 0, chainLength+1, 0, 0, 0)
	chain = append(chain, rawQuestion("a", TypeA, ClassINET)...)
	target := headerSize
	for i := 0; i < chainLength; i++ {
		nameOffset := len(chain)
		chain = append(chain, 0xC0|byte(target>>8), byte(target))
		chain = binary.BigEndian.AppendUint16(chain, TypeA)
		chain = binary.BigEndian.AppendUint16(chain, ClassINET)
		target = nameOffset
	}

	tests := []testCase{
		{
			name:    "self pointer",
			raw:     selfPointer,
			wantErr: ErrInvalidCompressionPointer,
		},

		{
			name:    "forward pointer",
			raw:     forwardPointer,
			wantErr: ErrInvalidCompressionPointer,
		},

		{
			name:    "pointer chain exceeding the jump budget",
			raw:     chain,
			wantErr: ErrMalformedName,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeMessage(tc.raw)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestDecodeMessageTruncated(t *testing.T) {
	type testCase struct {
		// name is the subtest name.
		name string

		// raw is the crafted message.
		raw []byte
	}

	cutName := rawHeader(0x0001, 0, 1, 0, 0, 0)
	cutName = append(cutName, 7, 'e', 'x', 'a') // label declares 7 bytes

	unterminatedName := rawHeader(0x0001, 0, 1, 0, 0, 0)
	unterminatedName = append(unterminatedName, 1, 'a') // no terminator

	cutQuestion := rawHeader(0x0001, 0, 1, 0, 0, 0)
	cutQuestion = append(cutQuestion, rawName("example.com")...)
	cutQuestion = append(cutQuestion, 0x00) // only one byte of TYPE

	cutRdata := rawHeader(0x0001, 0, 0, 1, 0, 0)
	cutRdata = append(cutRdata, rawName("example.com")...)
	cutRdata = binary.BigEndian.AppendUint16(cutRdata, TypeA)
	cutRdata = binary.BigEndian.AppendUint16(cutRdata, ClassINET)
	cutRdata = binary.BigEndian.AppendUint32(cutRdata, 300)
	cutRdata = binary.BigEndian.AppendUint16(cutRdata, 4)
	cutRdata = append(cutRdata, 93, 184) // RDLENGTH declares 4 bytes

	tests := []testCase{
		{name: "short header", raw: []byte{0x12, 0x34, 0x00}},
		{name: "label cut short", raw: cutName},
		{name: "unterminated name", raw: unterminatedName},
		{name: "question cut short", raw: cutQuestion},
		{name: "rdata cut short", raw: cutRdata},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeMessage(tc.raw)
			require.ErrorIs(t, err, ErrTruncated)
		})
	}
}

func TestDecodeMessageCountMismatch(t *testing.T) {
	type testCase struct {
		// name is the subtest name.
		name string

		// raw is the crafted message.
		raw []byte
	}

	missingQuestion := rawHeader(0x0001, 0, 2, 0, 0, 0)
	missingQuestion = append(missingQuestion, rawQuestion("example.com", TypeA, ClassINET)...)

	missingAnswer := rawHeader(0x0001, 0x8000, 1, 1, 0, 0)
	missingAnswer = append(missingAnswer, rawQuestion("example.com", TypeA, ClassINET)...)

	missingAdditional := rawHeader(0x0001, 0x8000, 1, 0, 0, 1)
	missingAdditional = append(missingAdditional, rawQuestion("example.com", TypeA, ClassINET)...)

	tests := []testCase{
		{name: "declared question missing", raw: missingQuestion},
		{name: "declared answer missing", raw: missingAnswer},
		{name: "declared additional missing", raw: missingAdditional},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeMessage(tc.raw)
			require.ErrorIs(t, err, ErrCountMismatch)
		})
	}
}

func TestDecodeMessageMalformedName(t *testing.T) {
	type testCase struct {
		// name is the subtest name.
		name string

		// raw is the crafted message.
		raw []byte
	}

	reservedPrefix := rawHeader(0x0001, 0, 1, 0, 0, 0)
	reservedPrefix = append(reservedPrefix, 0x40, 'a', 0)

	overlongName := rawHeader(0x0001, 0, 1, 0, 0, 0)
	for i := 0; i < 5; i++ {
		overlongName = append(overlongName, maxLabelLength)
		overlongName = append(overlongName, strings.Repeat("a", maxLabelLength)...)
	}
	overlongName = append(overlongName, 0)

	// A label whose bytes contain a literal dot would decode to a name
	// indistinguishable from one with different label boundaries.
	dotLabel := rawHeader(0x0001, 0, 1, 0, 0, 0)
	dotLabel = append(dotLabel, 1, '.', 0)
	dotLabel = binary.BigEndian.AppendUint16(dotLabel, TypeA)
	dotLabel = binary.BigEndian.AppendUint16(dotLabel, ClassINET)

	embeddedDot := rawHeader(0x0001, 0, 1, 0, 0, 0)
	embeddedDot = append(embeddedDot, 3, 'a', '.', 'b', 3, 'c', 'o', 'm', 0)
	embeddedDot = binary.BigEndian.AppendUint16(embeddedDot, TypeA)
	embeddedDot = binary.BigEndian.AppendUint16(embeddedDot, ClassINET)

	tests := []testCase{
		{name: "reserved length prefix", raw: reservedPrefix},
		{name: "name longer than 255 bytes", raw: overlongName},
		{name: "label consisting of a dot", raw: dotLabel},
		{name: "label containing a dot", raw: embeddedDot},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeMessage(tc.raw)
			require.ErrorIs(t, err, ErrMalformedName)
		})
	}
}

func TestDecodeMessageIgnoresTrailingBytes(t *testing.T) {
	// Bytes beyond the last declared record do not fail the parse:
	// a datagram may be padded by the sender or the transport.
	raw := rawHeader(0x0001, 0, 1, 0, 0, 0)
	raw = append(raw, rawQuestion("example.com", TypeA, ClassINET)...)
	raw = append(raw, 0xDE, 0xAD, 0xBE, 0xEF)

	msg, err := DecodeMessage(raw)

	require.NoError(t, err)
	require.Len(t, msg.Questions, 1)
	require.Equal(t, "example.com", msg.Questions[0].Name)
}

func TestDecodeMessageInteropMiekg(t *testing.T) {
	// A compressed response packed by miekg/dns must decode to the
	// same observable fields with our decoder.
	queryMsg := new(dns.Msg)
	queryMsg.SetQuestion("www.example.com.", dns.TypeA)
	queryMsg.Id = 0xBEEF

	respMsg := new(dns.Msg)
	respMsg.SetReply(queryMsg)
	respMsg.Compress = true
	respMsg.Answer = append(respMsg.Answer, &dns.A{
		Hdr: dns.RR_Header{
			Name:   "www.example.com.",
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET,
			Ttl:    42,
		},
		A: []byte{192, 0, 2, 7},
	})
	raw, err := respMsg.Pack()
	require.NoError(t, err)

	msg, err := DecodeMessage(raw)

	require.NoError(t, err)
	require.Equal(t, uint16(0xBEEF), msg.Header.ID)
	require.True(t, msg.Header.Response)
	require.Len(t, msg.Questions, 1)
	require.Equal(t, "www.example.com", msg.Questions[0].Name)
	require.Len(t, msg.Answers, 1)
	require.Equal(t, "www.example.com", msg.Answers[0].Name)
	require.Equal(t, uint32(42), msg.Answers[0].TTL)
	addr, ok := msg.Answers[0].IPv4()
	require.True(t, ok)
	require.Equal(t, "192.0.2.7", addr.String())
}
