// SPDX-License-Identifier: GPL-3.0-or-later

package nanodns

import (
	"bytes"
	"context"
	"net"
	"net/netip"
	"time"
)

// maxResponseSizeUDP is the maximum response size when using UDP and
// is consistent with what the standard library uses.
const maxResponseSizeUDP = 1232

// NetDialer abstracts over [*net.Dialer].
type NetDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DNSOverUDPTransport implements [Exchanger] for DNS over UDP.
//
// Construct using [NewDNSOverUDPTransport].
type DNSOverUDPTransport struct {
	// Dialer is the [NetDialer] to use to create connections.
	//
	// Set by [NewDNSOverUDPTransport] to the user-provided value.
	Dialer NetDialer

	// Endpoint is the upstream resolver endpoint.
	//
	// Set by [NewDNSOverUDPTransport] to the user-provided value.
	Endpoint netip.AddrPort

	// ObserveRawQuery is an optional hook called with a copy of the raw DNS query.
	ObserveRawQuery func([]byte)

	// ObserveRawResponse is an optional hook called with a copy of each raw datagram received.
	ObserveRawResponse func([]byte)
}

// NewDNSOverUDPTransport creates a new [*DNSOverUDPTransport].
func NewDNSOverUDPTransport(dialer NetDialer, endpoint netip.AddrPort) *DNSOverUDPTransport {
	return &DNSOverUDPTransport{
		Dialer:   dialer,
		Endpoint: endpoint,
	}
}

// Ensure that [*DNSOverUDPTransport] implements [Exchanger].
var _ Exchanger = &DNSOverUDPTransport{}

// Exchange implements [Exchanger].
func (dt *DNSOverUDPTransport) Exchange(ctx context.Context, query *Message) (*Message, error) {
	// 1. create the connection
	conn, err := dt.Dialer.DialContext(ctx, "udp", dt.Endpoint.String())
	if err != nil {
		return nil, err
	}

	// 2. Use a single connection per exchange, which is what the
	// standard library does as well.
	//
	// Make sure we react to context being canceled early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer conn.Close()
		<-ctx.Done()
	}()

	// 3. defer to ExchangeWithConn.
	return dt.ExchangeWithConn(ctx, conn, query)
}

// SendQuery sends a query using a [net.Conn].
//
// We only honor deadlines from the context; canceling the context
// without a deadline does not interrupt I/O.
func (dt *DNSOverUDPTransport) SendQuery(ctx context.Context, conn net.Conn, query *Message) error {
	// 1. Use the context deadline to limit the lifetime.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	// 2. Serialize the query.
	rawQuery := query.Pack()
	if dt.ObserveRawQuery != nil {
		dt.ObserveRawQuery(bytes.Clone(rawQuery))
	}

	// 3. Send the query.
	_, err := conn.Write(rawQuery)
	return err
}

// RecvResponse receives the response to the given query using a [net.Conn].
//
// Datagrams that do not parse or whose identifier does not match the
// query are discarded and reading continues, so a reply is correlated
// with its query by identifier rather than by arrival order. The
// deadline derived from the context bounds the overall wait.
func (dt *DNSOverUDPTransport) RecvResponse(
	ctx context.Context, conn net.Conn, query *Message) (*Message, error) {
	// 1. Use the context deadline to limit the lifetime.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	// 2. Read datagrams until one correlates with the query.
	for {
		buff := make([]byte, maxResponseSizeUDP)
		count, err := conn.Read(buff)
		if err != nil {
			return nil, err
		}
		rawResp := buff[:count]
		if dt.ObserveRawResponse != nil {
			dt.ObserveRawResponse(bytes.Clone(rawResp))
		}

		// 3. Discard garbage and mismatched identifiers.
		resp, err := DecodeMessage(rawResp)
		if err != nil || resp.Header.ID != query.Header.ID {
			continue
		}
		return resp, nil
	}
}

// ExchangeWithConn sends a query and receives the correlated response.
//
// This method allows reusing a long-lived connection across multiple exchanges.
func (dt *DNSOverUDPTransport) ExchangeWithConn(
	ctx context.Context, conn net.Conn, query *Message) (*Message, error) {
	if err := dt.SendQuery(ctx, conn, query); err != nil {
		return nil, err
	}
	return dt.RecvResponse(ctx, conn, query)
}
