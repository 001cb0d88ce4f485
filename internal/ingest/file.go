package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodePayloadFile reads a JSON payload file. The file may hold a full
// payload object or a bare array of entries; fields missing from the file
// are taken from defaults.
func DecodePayloadFile(data []byte, defaults Payload) (*Payload, error) {
	trimmed := bytes.TrimSpace(data)
	p := defaults
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &p.Entries); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return &p, nil
	}

	var file Payload
	if err := json.Unmarshal(trimmed, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	p.Entries = file.Entries
	if file.RequestID != "" && defaults.RequestID == "" {
		p.RequestID = file.RequestID
	}
	if file.Source != "" && defaults.Source == "" {
		p.Source = file.Source
	}
	if file.Lang != "" && defaults.Lang == "" {
		p.Lang = file.Lang
	}
	if file.PayloadVersion != 0 {
		p.PayloadVersion = file.PayloadVersion
	}
	if file.ActorUsername != "" {
		p.ActorUsername = file.ActorUsername
	}
	return &p, nil
}
