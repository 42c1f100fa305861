// SPDX-License-Identifier: GPL-3.0-or-later

// Package nanodns implements a minimal DNS server over UDP.
//
// The package contains a self-contained DNS wire-format codec along with
// the machinery to answer queries either locally or by forwarding them
// to an upstream recursive resolver.
//
// The main pieces are:
//
//  1. [DecodeMessage] and [*Message.Pack]: parsing and serializing the
//     DNS binary message format, including name compression.
//
//  2. the [*Resolver]: given a decoded query, decides per-question how
//     to answer, either synthesizing a fixed A record ([ModeFixedAnswer])
//     or delegating to the [*Forwarder] ([ModeForwarding]).
//
//  3. the [*Forwarder]: splits a multi-question query into independent
//     single-question sub-queries, dispatches them concurrently to the
//     upstream resolver, and recombines the replies preserving the
//     original question order.
//
//  4. the [*DNSOverUDPTransport]: exchanges a single query with the
//     upstream resolver over UDP, correlating the reply by identifier.
//
//  5. the [*Server]: owns the listening socket and hands each inbound
//     datagram to the [*Resolver].
//
// For example, to run a forwarding server:
//
//	transport := nanodns.NewDNSOverUDPTransport(&net.Dialer{}, netip.MustParseAddrPort("8.8.8.8:53"))
//	server := nanodns.NewServer("127.0.0.1:2053", nanodns.NewForwardingResolver(nanodns.NewForwarder(transport)))
//	err := server.Start()
//
// The wire format is bit-compatible with standard DNS, so generic DNS
// client tools can be used to query the server.
package nanodns
