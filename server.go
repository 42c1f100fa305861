// SPDX-License-Identifier: GPL-3.0-or-later

package nanodns

import (
	"context"
	"encoding/binary"
	"log"
	"net"
)

// serverBufferSize is the inbound datagram buffer size, matching the
// classic DNS-over-UDP message limit.
const serverBufferSize = 512

// Server owns the listening socket and hands each inbound datagram to
// the configured [*Resolver].
//
// Construct using [NewServer].
type Server struct {
	// Addr is the UDP address to listen on, for instance "127.0.0.1:2053".
	//
	// Set by [NewServer] to the user-provided value.
	Addr string

	// Resolver answers decoded queries.
	//
	// Set by [NewServer] to the user-provided value.
	Resolver *Resolver

	// Logger optionally logs server events. A nil Logger disables logging.
	Logger *log.Logger

	// pc is the listening socket, valid after Start.
	pc net.PacketConn
}

// NewServer creates a new [*Server] instance.
func NewServer(addr string, resolver *Resolver) *Server {
	return &Server{
		Addr:     addr,
		Resolver: resolver,
	}
}

// Start binds the listening socket and starts serving in the background.
func (s *Server) Start() error {
	pc, err := net.ListenPacket("udp", s.Addr)
	if err != nil {
		return err
	}
	s.pc = pc
	go s.serve()
	return nil
}

// Address returns the address the server is listening on.
//
// This method MUST be called after a successful Start.
func (s *Server) Address() string {
	return s.pc.LocalAddr().String()
}

// Close closes the listening socket, terminating the serve loop. It is
// a no-op on a server that never started.
func (s *Server) Close() error {
	if s.pc == nil {
		return nil
	}
	return s.pc.Close()
}

// serve reads inbound datagrams and handles each one concurrently.
func (s *Server) serve() {
	for {
		buffer := make([]byte, serverBufferSize)
		count, source, err := s.pc.ReadFrom(buffer)
		if err != nil {
			// the socket has been closed
			return
		}
		go s.handle(buffer[:count], source)
	}
}

// handle processes a single inbound datagram.
func (s *Server) handle(rawQuery []byte, source net.Addr) {
	// 1. decode the query; a datagram we cannot parse gets at most a
	// best-effort FORMAT_ERROR reply
	query, err := DecodeMessage(rawQuery)
	if err != nil {
		s.logf("cannot decode query from %s: %s", source, err)
		if rawReply := formatErrorReply(rawQuery); rawReply != nil {
			_, _ = s.pc.WriteTo(rawReply, source)
		}
		return
	}

	// 2. resolve and send back the response
	resp := s.Resolver.Resolve(context.Background(), query)
	if _, err := s.pc.WriteTo(resp.Pack(), source); err != nil {
		s.logf("cannot send response to %s: %s", source, err)
	}
}

// formatErrorReply builds a minimal FORMAT_ERROR response from an
// unparseable datagram, echoing whatever header fields were readable.
// It returns nil when not even the identifier could be recovered, in
// which case the datagram is silently dropped.
func formatErrorReply(rawQuery []byte) []byte {
	if len(rawQuery) < 2 {
		return nil
	}
	resp := &Message{
		Header: Header{
			ID:       binary.BigEndian.Uint16(rawQuery),
			Response: true,
			Rcode:    RcodeFormatError,
		},
	}
	if len(rawQuery) >= 4 {
		flags := binary.BigEndian.Uint16(rawQuery[2:])
		resp.Header.Opcode = uint8(flags>>opcodeShift) & opcodeMask
		resp.Header.RecursionDesired = flags&flagRecursionDesired != 0
	}
	return resp.Pack()
}

// logf logs a formatted message when a [log.Logger] is configured.
func (s *Server) logf(format string, v ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, v...)
	}
}
