//go:build !pcap
// +build !pcap

package ingest

import (
	"context"
	"strings"
	"testing"
)

func TestReplayPCAPFileStub(t *testing.T) {
	err := ReplayPCAPFile(context.Background(), "capture.pcap", DEFAULT_UDP_PORT, &mockScanHandler{}, nil)
	if err == nil {
		t.Fatal("Expected stub to return an error")
	}
	if !strings.Contains(err.Error(), "-tags=pcap") {
		t.Errorf("Expected rebuild hint in stub error, got: %v", err)
	}
}
