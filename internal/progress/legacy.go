package progress

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/example/lexisync/pkg/models"
)

// LegacyProgress is a progress value as found in the flat pre-tracker lists:
// either a single scalar (Legacy) or an object with one value per track
// (PerTrack). Normalize turns both into the structured form.
type LegacyProgress interface {
	Normalize(username, senseID string, now time.Time) models.ItemProgress
}

// Legacy is a scalar progress value; it counts towards the beginner track
type Legacy struct {
	Value int
}

// PerTrack is a progress value already split by track
type PerTrack struct {
	Beginner    int
	Experienced int
	Expert      int
}

func (l Legacy) Normalize(username, senseID string, now time.Time) models.ItemProgress {
	return models.ItemProgress{
		Username:  username,
		SenseID:   senseID,
		Beginner:  clampScore(l.Value),
		UpdatedAt: now,
	}
}

func (p PerTrack) Normalize(username, senseID string, now time.Time) models.ItemProgress {
	return models.ItemProgress{
		Username:    username,
		SenseID:     senseID,
		Beginner:    clampScore(p.Beginner),
		Experienced: clampScore(p.Experienced),
		Expert:      clampScore(p.Expert),
		UpdatedAt:   now,
	}
}

// DecodeLegacyProgress reads one raw JSON progress value. Objects become
// PerTrack, anything else Legacy. Values that aren't numbers decode as 0.
func DecodeLegacyProgress(raw json.RawMessage) LegacyProgress {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return PerTrack{}
		}
		return PerTrack{
			Beginner:    legacyNumber(fields[string(models.TrackBeginner)]),
			Experienced: legacyNumber(fields[string(models.TrackExperienced)]),
			Expert:      legacyNumber(fields[string(models.TrackExpert)]),
		}
	}
	return Legacy{Value: legacyNumber(trimmed)}
}

// legacyNumber accepts JSON numbers and numeric strings
func legacyNumber(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return 0
	}
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	default:
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	// keep far-out values from overflowing int before clamping
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	if f < math.MinInt32 {
		return math.MinInt32
	}
	return int(f)
}

// decodeLegacyIDs reads the saved-id array; ids may be strings or numbers
func decodeLegacyIDs(raw string) []string {
	var values []interface{}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&values); err != nil {
		return nil
	}
	ids := make([]string, 0, len(values))
	for _, v := range values {
		switch t := v.(type) {
		case string:
			ids = append(ids, strings.TrimSpace(t))
		case json.Number:
			ids = append(ids, t.String())
		}
	}
	return ids
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > models.MaxTrackScore {
		return models.MaxTrackScore
	}
	return v
}
