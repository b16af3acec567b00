package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/muurk/sensorhub/internal/logging"
	"github.com/muurk/sensorhub/internal/protocol"
	"go.uber.org/zap"
)

// Frame directions recorded in capture files
const (
	DirectionInbound  = "device->hub"
	DirectionOutbound = "hub->device"
)

// CaptureRecord is one line of a capture file
type CaptureRecord struct {
	Timestamp  time.Time        `json:"timestamp"`
	ClientID   string           `json:"client_id"`
	ModuleID   string           `json:"module_id"`
	RemoteAddr string           `json:"remote_addr"`
	Direction  string           `json:"direction"`
	Type       string           `json:"type,omitempty"`
	FrameLen   int              `json:"frame_length"`
	Message    protocol.Message `json:"message,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Capture appends every frame to a JSON Lines file for protocol analysis.
// A nil *Capture records nothing.
type Capture struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewCapture returns a capture writing into dir, or nil when dir is empty.
func NewCapture(dir string) (*Capture, error) {
	if dir == "" {
		return nil, nil
	}

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("capture directory does not exist: %s", dir)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot access capture directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("capture path is not a directory: %s", dir)
	}

	return &Capture{dir: dir, now: time.Now}, nil
}

// Record captures a well-formed frame
func (c *Capture) Record(sess *Session, direction string, msg protocol.Message, frameLen int) {
	if c == nil {
		return
	}
	c.append(CaptureRecord{
		ClientID:   sess.ID(),
		ModuleID:   sess.ModuleID(),
		RemoteAddr: sess.RemoteAddr(),
		Direction:  direction,
		Type:       msg.Type(),
		FrameLen:   frameLen,
		Message:    msg,
	})
}

// RecordMalformed captures an inbound frame that failed to parse
func (c *Capture) RecordMalformed(sess *Session, frameLen int, cause error) {
	if c == nil {
		return
	}
	c.append(CaptureRecord{
		ClientID:   sess.ID(),
		ModuleID:   sess.ModuleID(),
		RemoteAddr: sess.RemoteAddr(),
		Direction:  DirectionInbound,
		FrameLen:   frameLen,
		Error:      cause.Error(),
	})
}

// Path returns the file records for t are appended to
func (c *Capture) Path(t time.Time) string {
	return filepath.Join(c.dir, fmt.Sprintf("capture-%s.jsonl", t.Format("20060102")))
}

func (c *Capture) append(rec CaptureRecord) {
	rec.Timestamp = c.now()

	data, err := json.Marshal(rec)
	if err != nil {
		logging.Error("Failed to marshal capture record", zap.Error(err))
		return
	}

	filename := c.Path(rec.Timestamp)

	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logging.Error("Failed to open capture file",
			zap.String("filename", filename),
			zap.Error(err),
		)
		return
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(data, '\n')); err != nil {
		logging.Error("Failed to write capture file",
			zap.String("filename", filename),
			zap.Error(err),
		)
	}
}
