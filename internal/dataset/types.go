package dataset

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role is the label a training example carries.
type Role string

const (
	RoleQuestion Role = "question"
	RoleAnswer   Role = "answer"
	RoleIgnore   Role = "ignore"
)

// Roles lists every role in on-disk order.
var Roles = []Role{RoleQuestion, RoleAnswer, RoleIgnore}

// ParseRole accepts a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Roles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: unknown role %q (want question, answer or ignore)", ErrValidation, s)
}

// Source records where an example came from.
type Source string

const (
	SourceUserCorrection Source = "user_correction"
	SourceDocument       Source = "document"
	SourceInitial        Source = "initial"
)

// ParseSource accepts a known source name. Empty means SourceUserCorrection.
func ParseSource(s string) (Source, error) {
	switch src := Source(strings.TrimSpace(s)); src {
	case "":
		return SourceUserCorrection, nil
	case SourceUserCorrection, SourceDocument, SourceInitial:
		return src, nil
	default:
		return "", fmt.Errorf("%w: unknown source %q", ErrValidation, s)
	}
}

// Example is a single labeled text. The role is implied by the list it lives in.
type Example struct {
	Text      string    `json:"text"`
	Source    Source    `json:"source"`
	Timestamp Timestamp `json:"timestamp"`
}

// Sample is the read-only view of an example handed to a trainer.
type Sample struct {
	Text string `json:"text"`
	Role Role   `json:"role"`
}

// Stats reports per-role and total example counts.
type Stats struct {
	Total  int          `json:"total_examples"`
	ByRole map[Role]int `json:"by_class"`
}

// LabeledItem is one unit offered to Collect. An empty Role means the item
// has not been classified yet and is skipped.
type LabeledItem struct {
	Text string `json:"text"`
	Role Role   `json:"role,omitempty"`
}

// CollectResult summarizes a Collect call.
type CollectResult struct {
	Added               int `json:"added"`
	SkippedUndetermined int `json:"skipped_undetermined"`
	SkippedShort        int `json:"skipped_short"`
	SkippedDuplicate    int `json:"skipped_duplicate"`
}

// Timestamp serializes as RFC 3339 and also accepts the zone-less ISO 8601
// form written by earlier releases.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized format %q", s)
}

// document is the on-disk shape. Field order fixes key order in the file.
type document struct {
	Question []Example `json:"question"`
	Answer   []Example `json:"answer"`
	Ignore   []Example `json:"ignore"`
}
