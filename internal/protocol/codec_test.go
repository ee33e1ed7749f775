package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestEncodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     *Request
		wantErr bool
		checkFn func(t *testing.T, output string)
	}{
		{
			name: "valid run request",
			req: &Request{
				Protocol:      1,
				Type:          TypeRun,
				RunID:         "run-123",
				Samples:       []Sample{{Text: "What is venue?", Label: "question"}},
				LabelMap:      map[string]string{"0": "answer", "1": "ignore", "2": "question"},
				CheckpointDir: "/data/training_checkpoints",
				OutputDir:     "/data/staging",
				Epochs:        3,
			},
			checkFn: func(t *testing.T, output string) {
				for _, want := range []string{`"protocol":1`, `"type":"run"`, `"run_id":"run-123"`, `"label_map":{"0":"answer"`} {
					if !strings.Contains(output, want) {
						t.Errorf("missing %s in %s", want, output)
					}
				}
				if strings.Contains(output, "resume_from") {
					t.Error("resume_from should be omitted when empty")
				}
				if !strings.HasSuffix(output, "\n") {
					t.Error("request must be newline terminated")
				}
			},
		},
		{
			name:    "unsupported protocol version",
			req:     &Request{Protocol: 2, Type: TypeRun, LabelMap: map[string]string{"0": "a"}},
			wantErr: true,
		},
		{
			name:    "wrong type",
			req:     &Request{Protocol: 1, Type: TypeStop, LabelMap: map[string]string{"0": "a"}},
			wantErr: true,
		},
		{
			name:    "missing label map",
			req:     &Request{Protocol: 1, Type: TypeRun},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := EncodeRequest(&buf, tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EncodeRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, buf.String())
			}
		})
	}
}

func TestEncodeStop(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeStop(&buf); err != nil {
		t.Fatalf("EncodeStop() error = %v", err)
	}
	if got := buf.String(); got != `{"protocol":1,"type":"stop"}`+"\n" {
		t.Errorf("unexpected stop line %q", got)
	}
}

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		check   func(t *testing.T, m *Message)
	}{
		{
			name:  "progress",
			input: `{"type":"progress","step":12,"epoch":0.5}`,
			check: func(t *testing.T, m *Message) {
				if m.Step != 12 || m.Epoch != 0.5 {
					t.Errorf("got step=%d epoch=%v", m.Step, m.Epoch)
				}
			},
		},
		{
			name:  "checkpoint",
			input: `{"type":"checkpoint","step":50,"epoch":1.0,"checkpoint":"/c/checkpoint-50"}`,
			check: func(t *testing.T, m *Message) {
				if m.Checkpoint != "/c/checkpoint-50" {
					t.Errorf("got checkpoint %q", m.Checkpoint)
				}
			},
		},
		{name: "checkpoint without handle", input: `{"type":"checkpoint","step":50}`, wantErr: true},
		{name: "log", input: `{"type":"log","level":"info","message":"tokenizing"}`},
		{
			name:  "completed result",
			input: `{"type":"result","status":"completed","artifact_dir":"/out","metrics":{"loss":0.12}}`,
			check: func(t *testing.T, m *Message) {
				if m.Metrics["loss"] != 0.12 {
					t.Errorf("metrics not decoded: %v", m.Metrics)
				}
			},
		},
		{name: "completed without artifact", input: `{"type":"result","status":"completed"}`, wantErr: true},
		{name: "stopped result", input: `{"type":"result","status":"stopped"}`},
		{name: "error result without message", input: `{"type":"result","status":"error"}`, wantErr: true},
		{name: "bad status", input: `{"type":"result","status":"maybe"}`, wantErr: true},
		{name: "missing type", input: `{"step":1}`, wantErr: true},
		{name: "unknown type", input: `{"type":"banana"}`, wantErr: true},
		{name: "unknown field", input: `{"type":"log","surprise":true}`, wantErr: true},
		{name: "not json", input: `Epoch 1: 100%|####|`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := DecodeMessage([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("error %v should wrap ErrInvalidMessage", err)
			}
			if tt.check != nil && m != nil {
				tt.check(t, m)
			}
		})
	}
}

func TestDecoderStream(t *testing.T) {
	stream := strings.Join([]string{
		`{"type":"log","level":"info","message":"starting"}`,
		``,
		`not a message`,
		`{"type":"progress","step":1,"epoch":0.1}`,
		`{"type":"result","status":"stopped"}`,
	}, "\n")

	d := NewDecoder(strings.NewReader(stream))

	var types []string
	var invalid int
	for {
		m, raw, err := d.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, ErrInvalidMessage) {
			invalid++
			if string(raw) != "not a message" {
				t.Errorf("raw line not returned: %q", raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		types = append(types, m.Type)
	}

	if invalid != 1 {
		t.Errorf("expected 1 invalid line, got %d", invalid)
	}
	want := []string{TypeLog, TypeProgress, TypeResult}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("got types %v, want %v", types, want)
	}
}
