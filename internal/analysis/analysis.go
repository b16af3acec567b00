// Package analysis summarizes frame capture files written by the hub.
package analysis

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/muurk/sensorhub/internal/server"
)

// maxLineSize bounds one capture line; frames are at most 1 MiB plus the
// record envelope
const maxLineSize = 4 << 20

// ClientSummary aggregates the records of one client session
type ClientSummary struct {
	ClientID   string
	ModuleID   string
	RemoteAddr string
	Inbound    int
	Outbound   int
	Malformed  int
	First      time.Time
	Last       time.Time
}

// Count is a label with its number of occurrences
type Count struct {
	Label string
	Count int
}

// Summary aggregates a capture file
type Summary struct {
	Records   int
	Skipped   int // lines that were not valid capture records
	Inbound   int
	Outbound  int
	Malformed int
	Bytes     int64
	First     time.Time
	Last      time.Time

	byType   map[string]int
	byClient map[string]*ClientSummary
}

// Duration is the time between the first and last record
func (s *Summary) Duration() time.Duration {
	if s.First.IsZero() {
		return 0
	}
	return s.Last.Sub(s.First)
}

// ByType returns message type counts, most frequent first
func (s *Summary) ByType() []Count {
	counts := make([]Count, 0, len(s.byType))
	for label, n := range s.byType {
		counts = append(counts, Count{Label: label, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Label < counts[j].Label
	})
	return counts
}

// Clients returns per-session summaries ordered by first appearance
func (s *Summary) Clients() []*ClientSummary {
	clients := make([]*ClientSummary, 0, len(s.byClient))
	for _, c := range s.byClient {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool {
		if !clients[i].First.Equal(clients[j].First) {
			return clients[i].First.Before(clients[j].First)
		}
		return clients[i].ClientID < clients[j].ClientID
	})
	return clients
}

// Analyze reads capture records from r, one JSON object per line. Lines
// that do not parse are counted in Skipped.
func Analyze(r io.Reader) (*Summary, error) {
	s := &Summary{
		byType:   make(map[string]int),
		byClient: make(map[string]*ClientSummary),
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec server.CaptureRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.Direction == "" {
			s.Skipped++
			continue
		}
		s.add(rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read capture: %w", err)
	}

	return s, nil
}

// AnalyzeFile summarizes the capture file at path
func AnalyzeFile(path string) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Analyze(f)
}

func (s *Summary) add(rec server.CaptureRecord) {
	s.Records++
	s.Bytes += int64(rec.FrameLen)
	if s.First.IsZero() || rec.Timestamp.Before(s.First) {
		s.First = rec.Timestamp
	}
	if rec.Timestamp.After(s.Last) {
		s.Last = rec.Timestamp
	}

	c, ok := s.byClient[rec.ClientID]
	if !ok {
		c = &ClientSummary{ClientID: rec.ClientID, RemoteAddr: rec.RemoteAddr, First: rec.Timestamp}
		s.byClient[rec.ClientID] = c
	}
	if rec.ModuleID != "" && rec.ModuleID != "unknown" {
		c.ModuleID = rec.ModuleID
	}
	if rec.Timestamp.Before(c.First) {
		c.First = rec.Timestamp
	}
	if rec.Timestamp.After(c.Last) {
		c.Last = rec.Timestamp
	}

	switch {
	case rec.Error != "":
		s.Malformed++
		c.Malformed++
	case rec.Direction == server.DirectionInbound:
		s.Inbound++
		c.Inbound++
		s.byType[rec.Type]++
	case rec.Direction == server.DirectionOutbound:
		s.Outbound++
		c.Outbound++
		s.byType[rec.Type]++
	}
}
