// Package serialmux provides an abstraction over a serial port with the
// ability for multiple clients to subscribe to lines read from the port and
// send commands to the single spectrometer attached to it.
package serialmux

import (
	"bufio"
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/spectrometer/internal/protocol"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// subscriberBuffer is the number of lines a subscriber may fall behind
// before lines are dropped for it.
const subscriberBuffer = 256

// commandSettleDelay gives the firmware time to apply a setting before the
// next command arrives.
var commandSettleDelay = 50 * time.Millisecond

// SerialMux is a generic serial port multiplexer that allows multiple clients to
// subscribe to lines from a single serial port.
type SerialMux[T SerialPorter] struct {
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex

	readOnce sync.Once
	lineChan chan string
	readDone chan struct{}
	readErr  error
	closed   chan struct{}
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving line events from the serial
	// port. The channel ID is used to identify the unique channel when
	// unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided command to the serial port.
	SendCommand(string) error
	// Monitor reads lines from the serial port and sends them to the
	// appropriate channels.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error
	// Initialise pushes the acquisition settings to the device.
	Initialise(protocol.DeviceSettings) error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux instance backed by the given port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
		lineChan:    make(chan string),
		readDone:    make(chan struct{}),
		closed:      make(chan struct{}),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Initialise sends the gain, ADC rate and sample count to the firmware. The
// device echoes each setting back as GAIN=/FADC=/COUNT= lines.
func (s *SerialMux[T]) Initialise(settings protocol.DeviceSettings) error {
	for _, command := range settings.Commands() {
		if err := s.SendCommand(command); err != nil {
			return fmt.Errorf("failed to send setting %q: %w", command, err)
		}
		time.Sleep(commandSettleDelay)
	}
	return nil
}

// SendCommand sends a command to the serial port.
func (s *SerialMux[T]) SendCommand(command string) error {
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

// startReader launches the single goroutine that scans the port. It is
// shared by successive Monitor calls so a restarted monitor never races a
// stale scanner for the next line.
func (s *SerialMux[T]) startReader() {
	s.readOnce.Do(func() {
		go func() {
			defer close(s.readDone)
			scan := bufio.NewScanner(s.port)
			for scan.Scan() {
				select {
				case s.lineChan <- scan.Text():
				case <-s.closed:
					return
				}
			}
			s.readErr = scan.Err()
		}()
	})
}

// Monitor reads lines from the serial port and fans them out to subscribers.
// It returns when ctx is cancelled, the port reaches end of stream (nil), or a
// read fails (the read error). Monitor may be called again after ctx
// cancellation; lines read while no monitor is running wait for the next one.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	s.startReader()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-s.readDone:
			return s.readErr

		case line := <-s.lineChan:
			s.closingMu.Lock()
			if s.closing {
				s.closingMu.Unlock()
				return nil
			}
			s.closingMu.Unlock()

			s.subscriberMu.Lock()
			for _, ch := range s.subscribers {
				select {
				case ch <- line:
				default:
					// subscriber is full; skip so as not to block the port
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	if s.closing {
		s.closingMu.Unlock()
		return nil
	}
	s.closing = true
	close(s.closed)
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachSerialDebugRoutes(mux, s)
}

func attachSerialDebugRoutes(mux *http.ServeMux, s SerialMuxInterface) {
	debug := tsweb.Debugger(mux)

	// API endpoint to write a raw firmware command to the serial port
	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to serial port", command))
	})

	// Server-Sent Events stream of raw lines coming from the serial port.
	debug.HandleFunc("tail", "live tail of raw serial lines", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
