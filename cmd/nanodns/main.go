// SPDX-License-Identifier: GPL-3.0-or-later

// Command nanodns runs a minimal DNS server over UDP.
//
// In fixed mode the server answers every question with a configured A
// record. In forward mode it relays each question to an upstream
// resolver and merges the replies.
package main

import (
	"flag"
	"log"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/nanodns/nanodns"
)

func main() {
	listen := flag.String("listen", "127.0.0.1:2053", "UDP address to listen on")
	mode := flag.String("mode", "fixed", "answering mode: fixed or forward")
	upstream := flag.String("upstream", "", "upstream resolver address (ip:port) for forward mode")
	address := flag.String("address", "127.0.0.1", "IPv4 address returned in fixed mode")
	ttl := flag.Uint("ttl", 60, "TTL in seconds of answers returned in fixed mode")
	timeout := flag.Duration("timeout", nanodns.DefaultForwarderTimeout, "per-sub-query upstream timeout")
	flag.Parse()

	logger := log.New(os.Stderr, "nanodns: ", log.LstdFlags)

	var resolver *nanodns.Resolver
	switch *mode {
	case "fixed":
		addr, err := netip.ParseAddr(*address)
		if err != nil || !addr.Unmap().Is4() {
			logger.Fatalf("invalid -address value: %s", *address)
		}
		resolver = nanodns.NewFixedAnswerResolver(addr, uint32(*ttl))

	case "forward":
		endpoint, err := netip.ParseAddrPort(*upstream)
		if err != nil {
			logger.Fatalf("invalid -upstream value: %s", *upstream)
		}
		forwarder := nanodns.NewForwarder(nanodns.NewDNSOverUDPTransport(&net.Dialer{}, endpoint))
		forwarder.Timeout = *timeout
		resolver = nanodns.NewForwardingResolver(forwarder)

	default:
		logger.Fatalf("unknown -mode value: %s", *mode)
	}

	server := nanodns.NewServer(*listen, resolver)
	server.Logger = logger
	if err := server.Start(); err != nil {
		logger.Fatalf("cannot start server: %s", err)
	}
	logger.Printf("listening on %s in %s mode", server.Address(), *mode)

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	<-sigch

	logger.Printf("shutting down")
	server.Close()
}
