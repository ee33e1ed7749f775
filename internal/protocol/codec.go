package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxLineSize bounds a single message line.
const MaxLineSize = 1 << 20

// ErrInvalidMessage wraps every per-line decode or validation failure. The
// stream stays usable after it.
var ErrInvalidMessage = errors.New("invalid trainer message")

// EncodeRequest serializes a Request as one line and writes it to w.
func EncodeRequest(w io.Writer, req *Request) error {
	if req.Protocol != Version {
		return fmt.Errorf("unsupported protocol version: %d", req.Protocol)
	}
	if req.Type != TypeRun {
		return fmt.Errorf("request type must be %q, got %q", TypeRun, req.Type)
	}
	if len(req.LabelMap) == 0 {
		return fmt.Errorf("request missing label_map")
	}

	if err := json.NewEncoder(w).Encode(req); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return nil
}

// EncodeStop writes a stop control line.
func EncodeStop(w io.Writer) error {
	if err := json.NewEncoder(w).Encode(Control{Protocol: Version, Type: TypeStop}); err != nil {
		return fmt.Errorf("failed to encode stop: %w", err)
	}
	return nil
}

// DecodeMessage parses and validates one line.
func DecodeMessage(line []byte) (*Message, error) {
	var msg Message
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := validate(&msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return &msg, nil
}

func validate(msg *Message) error {
	switch msg.Type {
	case "":
		return fmt.Errorf("message missing required field: type")
	case TypeProgress:
		if msg.Step < 0 || msg.Epoch < 0 {
			return fmt.Errorf("progress step and epoch must not be negative")
		}
	case TypeCheckpoint:
		if msg.Checkpoint == "" {
			return fmt.Errorf("checkpoint message missing checkpoint")
		}
	case TypeLog:
	case TypeResult:
		switch msg.Status {
		case StatusCompleted:
			if msg.ArtifactDir == "" {
				return fmt.Errorf("completed result missing artifact_dir")
			}
		case StatusStopped:
		case StatusError:
			if msg.Error == "" {
				return fmt.Errorf("result has status=error but no error message")
			}
		default:
			return fmt.Errorf("invalid result status %q (must be completed, stopped or error)", msg.Status)
		}
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	return nil
}

// Decoder reads messages line by line.
type Decoder struct {
	sc *bufio.Scanner
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), MaxLineSize)
	return &Decoder{sc: sc}
}

// Next returns the next message and its raw line. Blank lines are skipped.
// A line that fails to decode returns an error wrapping ErrInvalidMessage
// together with the raw bytes; the caller may keep reading. io.EOF marks
// the end of the stream.
func (d *Decoder) Next() (*Message, []byte, error) {
	for d.sc.Scan() {
		line := bytes.TrimSpace(d.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		raw := append([]byte(nil), line...)
		msg, err := DecodeMessage(raw)
		return msg, raw, err
	}
	if err := d.sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("read trainer output: %w", err)
	}
	return nil, nil, io.EOF
}
