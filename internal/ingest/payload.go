// Package ingest absorbs signed bulk content updates: the submitting client,
// the durable job queue, the worker that drains it and the processor that
// applies a batch to the item store.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PayloadVersion is the payload layout this build writes and understands
const PayloadVersion = 1

var (
	ErrInvalidPayload = errors.New("invalid payload")
	ErrJobNotFound    = errors.New("sync job not found")
)

// Payload is one submitted batch
type Payload struct {
	RequestID      string  `json:"requestId"`
	Source         string  `json:"source"`
	PayloadVersion int     `json:"payloadVersion"`
	Lang           string  `json:"lang"`
	ActorUsername  string  `json:"actorUsername,omitempty"`
	Entries        []Entry `json:"entries"`
}

// Entry is the flat representation of one item. Deleted entries remove the
// item and its derived rows.
type Entry struct {
	ID            string   `json:"id"`
	Lang          string   `json:"lang,omitempty"`
	Kind          string   `json:"kind,omitempty"`
	Lemma         string   `json:"lemma,omitempty"`
	Level         string   `json:"level,omitempty"`
	FrequencyRank *int     `json:"frequencyRank,omitempty"`
	Register      string   `json:"register,omitempty"`
	Transcription string   `json:"transcription,omitempty"`
	Forms         []Form   `json:"forms,omitempty"`
	Collections   []string `json:"collections,omitempty"`
	Deleted       bool     `json:"deleted,omitempty"`

	raw json.RawMessage
}

// Form is an inflected form of an entry
type Form struct {
	Form      string `json:"form"`
	Irregular bool   `json:"irregular,omitempty"`
}

// UnmarshalJSON keeps the raw bytes of the entry; they are stored as the
// item's flat payload
func (e *Entry) UnmarshalJSON(data []byte) error {
	type plain Entry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Entry(p)
	e.raw = append(json.RawMessage(nil), data...)
	return nil
}

// Raw returns the entry as received, or its encoding when built in code
func (e Entry) Raw() json.RawMessage {
	if len(e.raw) > 0 {
		return e.raw
	}
	b, _ := json.Marshal(e)
	return b
}

// ParsePayload decodes and validates a request body
func ParsePayload(body []byte) (*Payload, error) {
	var p Payload
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate rejects payloads that can't be queued. Problems with single
// entries are content errors and are left to the processor.
func (p *Payload) Validate() error {
	switch {
	case strings.TrimSpace(p.RequestID) == "":
		return fmt.Errorf("%w: requestId is required", ErrInvalidPayload)
	case strings.TrimSpace(p.Source) == "":
		return fmt.Errorf("%w: source is required", ErrInvalidPayload)
	case len(p.Entries) == 0:
		return fmt.Errorf("%w: entries must not be empty", ErrInvalidPayload)
	case p.PayloadVersion > PayloadVersion:
		return fmt.Errorf("%w: unsupported payloadVersion %d", ErrInvalidPayload, p.PayloadVersion)
	}
	return nil
}
