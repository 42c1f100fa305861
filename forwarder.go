// SPDX-License-Identifier: GPL-3.0-or-later

package nanodns

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/bassosimone/runtimex"
)

// DefaultForwarderTimeout is the default per-sub-query timeout used
// by the [*Forwarder].
const DefaultForwarderTimeout = 5 * time.Second

// Exchanger performs a DNS message exchange with the upstream resolver.
//
// The [*DNSOverUDPTransport] implements this interface.
type Exchanger interface {
	Exchange(ctx context.Context, query *Message) (*Message, error)
}

// Forwarder resolves a batch of questions by dispatching one
// single-question sub-query per question to the upstream resolver.
//
// Construct using [NewForwarder].
type Forwarder struct {
	// Transport is the [Exchanger] used for each sub-query.
	//
	// Set by [NewForwarder] to the user-provided value.
	Transport Exchanger

	// Timeout bounds each sub-query independently.
	//
	// Set by [NewForwarder] to [DefaultForwarderTimeout].
	Timeout time.Duration
}

// NewForwarder creates a new [*Forwarder] instance.
func NewForwarder(transport Exchanger) *Forwarder {
	return &Forwarder{
		Transport: transport,
		Timeout:   DefaultForwarderTimeout,
	}
}

// Ensure that [*Forwarder] implements [BatchResolver].
var _ BatchResolver = &Forwarder{}

// newBatchIDs allocates n sub-query identifiers unique within the
// batch: a random base plus a sequential offset. Scoping the allocator
// to one batch avoids cross-batch coordination entirely.
func newBatchIDs(n int) []uint16 {
	runtimex.Assert(n <= math.MaxUint16)
	base := uint16(rand.Uint32())
	ids := make([]uint16, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, base+uint16(i))
	}
	return ids
}

// forwardResult is the outcome of one sub-query.
type forwardResult struct {
	// index is the position of the question in the input batch.
	index int

	// record is the answer, or nil when the sub-query failed.
	record *ResourceRecord
}

// Resolve implements [BatchResolver].
//
// Sub-queries are dispatched concurrently: a slow or lost upstream
// reply for one question does not delay its siblings. The output is
// assembled strictly in input order regardless of the order in which
// replies arrive.
func (f *Forwarder) Resolve(ctx context.Context, questions []Question) []*ResourceRecord {
	// 1. allocate the batch-scoped identifiers
	ids := newBatchIDs(len(questions))

	// 2. fan out one concurrent sub-query per question
	resch := make(chan forwardResult, len(questions))
	wg := &sync.WaitGroup{}
	for idx, question := range questions {
		wg.Go(func() {
			resch <- forwardResult{
				index:  idx,
				record: f.resolveOne(ctx, ids[idx], question),
			}
		})
	}

	// 3. be patient
	wg.Wait()
	close(resch)

	// 4. restore the original question order
	results := make([]*ResourceRecord, len(questions))
	for res := range resch {
		results[res.index] = res.record
	}
	return results
}

// resolveOne performs a single sub-query exchange. Every failure mode,
// whether a transport error, a timeout, a malformed reply, or an error
// response code, folds into a nil result local to this sub-query.
func (f *Forwarder) resolveOne(ctx context.Context, id uint16, question Question) *ResourceRecord {
	// 1. each sub-query runs on its own timeout clock
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	// 2. build a standalone single-question query
	query := &Message{
		Header: Header{
			ID:               id,
			Opcode:           OpcodeQuery,
			RecursionDesired: true,
		},
		Questions: []Question{question},
	}

	// 3. exchange with the upstream resolver
	reply, err := f.Transport.Exchange(ctx, query)
	if err != nil {
		return nil
	}

	// 4. discard replies that do not answer this sub-query
	if !reply.Header.Response || reply.Header.ID != id {
		return nil
	}
	if reply.Header.Rcode != RcodeNoError {
		return nil
	}

	// 5. take the first answer of the type we asked for
	for _, rr := range reply.Answers {
		if rr.Type == question.Type && rr.Class == question.Class {
			return &rr
		}
	}
	return nil
}
