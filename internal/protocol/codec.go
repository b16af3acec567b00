package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// HeaderSize is the length prefix in front of every payload
	HeaderSize = 4

	// DefaultMaxFrameSize bounds a single payload (1 MiB)
	DefaultMaxFrameSize uint32 = 1 << 20
)

var (
	// ErrMalformed marks a frame whose payload is not a JSON object with a
	// string "type". The payload has been consumed; the stream is still usable.
	ErrMalformed = errors.New("protocol: malformed message")

	// ErrFrameTooLarge marks a length prefix above the configured limit. The
	// payload was not read, so the stream can no longer be trusted.
	ErrFrameTooLarge = errors.New("protocol: frame too large")
)

// Encode serializes msg as JSON and prefixes it with its big-endian length.
func Encode(msg Message) ([]byte, error) {
	if msg.Type() == "" {
		return nil, fmt.Errorf("%w: missing type field", ErrMalformed)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[:HeaderSize], uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// Decode reads exactly one frame from r.
//
// A stream that ends before the length prefix or before the payload is
// complete yields io.EOF in both cases; the caller treats it as "peer gone".
// A payload that is not a JSON object with a non-empty string "type" yields
// an error wrapping ErrMalformed. The int result is the number of bytes
// consumed from r, including the prefix.
func Decode(r io.Reader, maxSize uint32) (Message, int, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, 0, eofOrErr(err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if maxSize > 0 && length > maxSize {
		return nil, HeaderSize, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, length, maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, HeaderSize, eofOrErr(err)
	}

	n := HeaderSize + int(length)
	msg, err := Unmarshal(payload)
	if err != nil {
		return nil, n, err
	}
	return msg, n, nil
}

// maxExactFloat is the largest magnitude below which every integer has an
// exact float64 representation (2^53).
const maxExactFloat = 1 << 53

// Unmarshal parses a frame payload into a Message.
//
// Numbers decode to float64 unless they are integers too large for float64
// to hold exactly; those become int64 or uint64, and json.Number past that.
func Unmarshal(payload []byte) (Message, error) {
	if !utf8.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformed)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrMalformed, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: invalid JSON: trailing data after object", ErrMalformed)
	}

	obj, ok := normalizeNumbers(v).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrMalformed)
	}

	msg := Message(obj)
	if _, present := msg[FieldType]; !present {
		return nil, fmt.Errorf("%w: missing type field", ErrMalformed)
	}
	if msg.Type() == "" {
		return nil, fmt.Errorf("%w: type must be a non-empty string", ErrMalformed)
	}
	return msg, nil
}

func normalizeNumbers(v any) any {
	switch v := v.(type) {
	case map[string]any:
		for k, item := range v {
			v[k] = normalizeNumbers(item)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = normalizeNumbers(item)
		}
		return v
	case json.Number:
		return numberValue(v)
	default:
		return v
	}
}

func numberValue(n json.Number) any {
	lit := n.String()
	if !strings.ContainsAny(lit, ".eE") {
		if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
			if i > maxExactFloat || i < -maxExactFloat {
				return i
			}
			return float64(i)
		}
		if u, err := strconv.ParseUint(lit, 10, 64); err == nil {
			return u
		}
		return n
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n
}

// WriteFrame encodes msg and writes it to w in one call.
func WriteFrame(w io.Writer, msg Message) (int, error) {
	frame, err := Encode(msg)
	if err != nil {
		return 0, err
	}
	return w.Write(frame)
}

// ReadFrame reads one frame with the default size limit.
func ReadFrame(r io.Reader) (Message, error) {
	msg, _, err := Decode(r, DefaultMaxFrameSize)
	return msg, err
}

func eofOrErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}
