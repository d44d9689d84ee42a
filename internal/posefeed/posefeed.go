// Package posefeed provides an abstraction over a serial pose source with
// the ability for multiple clients to subscribe to pose sentences from the
// port and send configuration commands to the device.
package posefeed

import (
	"bufio"
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"

	"tailscale.com/tsweb"
)

var ErrWriteFailed = fmt.Errorf("failed to write to pose port")

// PoseFeed is a generic pose source multiplexer that allows multiple
// clients to subscribe to sentences read from a single port.
type PoseFeed[T PosePorter] struct {
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex

	statsMu     sync.Mutex
	lineCount   int64
	parseErrors int64
}

// FeedStats is a point-in-time snapshot of feed counters.
type FeedStats struct {
	Lines       int64 `json:"lines"`
	ParseErrors int64 `json:"parse_errors"`
}

// PoseFeedInterface defines the interface for the PoseFeed type.
type PoseFeedInterface interface {
	// Subscribe creates a new channel for receiving sentence events from
	// the pose port. The channel ID is used to identify the unique
	// channel when unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided command to the pose port.
	SendCommand(string) error
	// Monitor reads sentences from the pose port and sends them to the
	// appropriate channels.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the pose port.
	Close() error

	// Stats returns the feed's line and parse-error counters.
	Stats() FeedStats
	// NoteParseError records a sentence that a consumer failed to parse.
	NoteParseError()

	// AttachAdminRoutes attaches admin debugging endpoints to the given
	// HTTP mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

var _ PoseFeedInterface = (*PoseFeed[*MockPosePort])(nil)

// NewPoseFeed creates a PoseFeed instance backed by the given port.
func NewPoseFeed[T PosePorter](port T) *PoseFeed[T] {
	return &PoseFeed[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *PoseFeed[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the feed.
func (s *PoseFeed[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendCommand sends a command to the pose port.
func (s *PoseFeed[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !bytes.HasSuffix([]byte(command), []byte("\n")) {
		command += "\n" // ensure command ends with a newline
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Stats returns a snapshot of the feed counters.
func (s *PoseFeed[T]) Stats() FeedStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return FeedStats{Lines: s.lineCount, ParseErrors: s.parseErrors}
}

// NoteParseError records a sentence a consumer could not parse.
func (s *PoseFeed[T]) NoteParseError() {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.parseErrors++
}

func (s *PoseFeed[T]) noteLine() {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.lineCount++
}

// Monitor monitors the pose port for sentences and sends them to
// subscribers.
func (s *PoseFeed[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// start a goroutine to read from the pose port & send any lines that
	// are scanned to lineChan, and any errors to the scanErrChan
	//
	// the blocking scan.Scan will not interfere with our outer loop
	// awaiting lines & context cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			// if the channel is closed, we're done reading from the port
			if !ok {
				if err := scan.Err(); err != nil {
					return err
				}
				return nil
			}
			s.closingMu.Lock()
			if s.closing {
				s.closingMu.Unlock()
				return nil
			}
			s.closingMu.Unlock()

			s.noteLine()

			s.subscriberMu.Lock()
			for _, ch := range s.subscribers {
				select {
				case ch <- line:
				default:
					// if the channel is full/blocking skip so as not to block the outer loop
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

func (s *PoseFeed[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return s.port.Close()
}

func (s *PoseFeed[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// Server-Sent Events endpoint streaming raw pose sentences as they
	// arrive from the port.
	debug.HandleFunc("pose-tail", "live tail of pose sentences (SSE)", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					// Channel closed, exit gracefully
					return
				}
				_, err := w.Write([]byte(fmt.Sprintf("data: %s\n\n", payload)))
				if err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
