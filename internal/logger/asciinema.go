// Package logger records terminal session output in Asciinema v2
// JSON-Lines format so sessions can be replayed after the fact.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// header is the Asciinema v2 recording header.
type header struct {
	Version   int   `json:"version"`
	Width     int   `json:"width"`
	Height    int   `json:"height"`
	Timestamp int64 `json:"timestamp"`
}

// event is a single recording event: [time_offset, event_type, data].
type event struct {
	TimeOffset float64
	EventType  string // "o" for output, "i" for input
	Data       string
}

func (e event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.TimeOffset, e.EventType, e.Data})
}

// AsciinemaLogger appends recording events to a .cast file.
type AsciinemaLogger struct {
	writer    io.Writer
	file      *os.File // only set if we own the file
	startTime time.Time
	mu        sync.Mutex
}

// New creates a logger writing to the given file path.
func New(filePath string) (*AsciinemaLogger, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}
	return &AsciinemaLogger{
		writer:    file,
		file:      file,
		startTime: time.Now(),
	}, nil
}

// NewWithWriter creates a logger writing to w. This is useful for testing.
func NewWithWriter(w io.Writer) *AsciinemaLogger {
	return &AsciinemaLogger{
		writer:    w,
		startTime: time.Now(),
	}
}

// WriteHeader writes the recording header. Call once, before any event.
func (l *AsciinemaLogger) WriteHeader(cols, rows int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(header{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: l.startTime.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// WriteOutput records an output ("o") event.
func (l *AsciinemaLogger) WriteOutput(data []byte) error {
	return l.writeEvent("o", data)
}

// WriteInput records an input ("i") event.
func (l *AsciinemaLogger) WriteInput(data []byte) error {
	return l.writeEvent("i", data)
}

func (l *AsciinemaLogger) writeEvent(eventType string, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	eventData, err := json.Marshal(event{
		TimeOffset: time.Since(l.startTime).Seconds(),
		EventType:  eventType,
		Data:       string(data),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := l.writer.Write(append(eventData, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Close closes the recording file.
func (l *AsciinemaLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
