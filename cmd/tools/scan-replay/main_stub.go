//go:build !pcap
// +build !pcap

// Command scan-replay resends captured observation traffic to a mapper.
// This build lacks pcap support; rebuild with -tags=pcap.
package main

import "log"

func main() {
	log.Fatal("PCAP support not enabled: rebuild scan-replay with -tags=pcap")
}
