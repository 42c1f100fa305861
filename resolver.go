// SPDX-License-Identifier: GPL-3.0-or-later

package nanodns

import (
	"context"
	"net/netip"
	"slices"

	"github.com/bassosimone/runtimex"
)

// Mode selects how the [*Resolver] answers questions.
type Mode int

const (
	// ModeFixedAnswer answers every question with a configured
	// A record and performs no network I/O.
	ModeFixedAnswer = Mode(iota)

	// ModeForwarding delegates every question to the upstream
	// resolver through the [*Forwarder].
	ModeForwarding
)

// BatchResolver resolves an ordered batch of questions.
//
// The returned slice is aligned index-for-index with the input; a nil
// element marks a question that could not be answered.
//
// The [*Forwarder] implements this interface.
type BatchResolver interface {
	Resolve(ctx context.Context, questions []Question) []*ResourceRecord
}

// Resolver decides per-question how to answer a decoded query.
//
// Construct using [NewFixedAnswerResolver] or [NewForwardingResolver].
type Resolver struct {
	// Mode selects the answering policy.
	//
	// Set by the constructors to the corresponding [Mode].
	Mode Mode

	// FixedAddr is the IPv4 address synthesized in [ModeFixedAnswer].
	//
	// Set by [NewFixedAnswerResolver] to the user-provided value.
	FixedAddr netip.Addr

	// FixedTTL is the TTL of synthesized answers in [ModeFixedAnswer].
	//
	// Set by [NewFixedAnswerResolver] to the user-provided value.
	FixedTTL uint32

	// Forwarder resolves questions in [ModeForwarding].
	//
	// Set by [NewForwardingResolver] to the user-provided value.
	Forwarder BatchResolver
}

// NewFixedAnswerResolver creates a [*Resolver] that answers every
// question with an A record carrying the given address and TTL.
//
// The address MUST be an IPv4 address, otherwise this function panics.
func NewFixedAnswerResolver(addr netip.Addr, ttl uint32) *Resolver {
	addr = addr.Unmap()
	runtimex.Assert(addr.Is4())
	return &Resolver{
		Mode:      ModeFixedAnswer,
		FixedAddr: addr,
		FixedTTL:  ttl,
	}
}

// NewForwardingResolver creates a [*Resolver] that delegates every
// question to the given [BatchResolver].
func NewForwardingResolver(forwarder BatchResolver) *Resolver {
	return &Resolver{
		Mode:      ModeForwarding,
		Forwarder: forwarder,
	}
}

// Resolve builds the response for a decoded query.
//
// The response echoes the query identifier, opcode, recursion-desired
// flag, and question section, and its answer count always reflects the
// answers actually produced. Resolve never fails: failures surface as
// the response code of an otherwise well-formed response.
func (r *Resolver) Resolve(ctx context.Context, query *Message) *Message {
	// 1. the response header mirrors the query
	resp := &Message{
		Header: Header{
			ID:               query.Header.ID,
			Response:         true,
			Opcode:           query.Header.Opcode,
			RecursionDesired: query.Header.RecursionDesired,
			Rcode:            RcodeNoError,
		},
		Questions: slices.Clone(query.Questions),
	}

	// 2. refuse query kinds we do not implement
	if query.Header.Opcode != OpcodeQuery {
		resp.Header.Rcode = RcodeNotImplemented
		return resp
	}

	// 3. a query without questions cannot be answered
	if len(query.Questions) == 0 {
		resp.Header.Rcode = RcodeFormatError
		return resp
	}

	// 4. answer each question according to the configured mode
	switch r.Mode {
	case ModeForwarding:
		results := r.Forwarder.Resolve(ctx, query.Questions)
		runtimex.Assert(len(results) == len(query.Questions))
		for _, rr := range results {
			if rr != nil {
				resp.Answers = append(resp.Answers, *rr)
			}
		}
		// failed questions are simply omitted from the answer
		// section; only a fully failed batch escalates
		if len(resp.Answers) == 0 {
			resp.Header.Rcode = RcodeServerFailure
		}

	default:
		for _, q := range query.Questions {
			resp.Answers = append(resp.Answers, NewARecord(q.Name, r.FixedAddr, r.FixedTTL))
		}
	}
	return resp
}
