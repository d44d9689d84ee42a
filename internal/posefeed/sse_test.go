package posefeed

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// TestAttachAdminRoutes_PoseTailSSE exercises the SSE handler happy path:
// subscribe, receive data, then client disconnects.
func TestAttachAdminRoutes_PoseTailSSE(t *testing.T) {
	feed := NewPoseFeed(newTestPosePort())

	httpMux := http.NewServeMux()
	feed.AttachAdminRoutes(httpMux)

	// Use httptest.Server so we get real HTTP with client-side context control.
	ts := httptest.NewServer(httpMux)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/debug/pose-tail", nil)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Errorf("expected text/event-stream, got %s", ct)
	}

	// Read the initial ping comment
	scanner := bufio.NewScanner(resp.Body)
	if scanner.Scan() {
		if line := scanner.Text(); !strings.HasPrefix(line, ": ping") {
			t.Errorf("expected initial ping, got %q", line)
		}
	}

	// Push a sentence through the subscriber system
	feed.subscriberMu.Lock()
	for _, ch := range feed.subscribers {
		select {
		case ch <- "$POSE,1,0,0,0,good":
		default:
		}
	}
	feed.subscriberMu.Unlock()

	gotData := false
	for i := 0; i < 5 && scanner.Scan(); i++ {
		if strings.Contains(scanner.Text(), "$POSE,1,0,0,0,good") {
			gotData = true
			break
		}
	}
	if !gotData {
		t.Error("did not receive SSE data event")
	}

	cancel()
}

// TestAttachAdminRoutes_PoseTailMethodNotAllowed verifies non-GET requests
// are rejected.
func TestAttachAdminRoutes_PoseTailMethodNotAllowed(t *testing.T) {
	feed := NewPoseFeed(newTestPosePort())

	httpMux := http.NewServeMux()
	feed.AttachAdminRoutes(httpMux)

	req := httptest.NewRequest(http.MethodPost, "/debug/pose-tail", nil)
	req.RemoteAddr = "127.0.0.1:4242"
	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for POST, got %d", rec.Code)
	}
}
