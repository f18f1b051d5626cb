package model

import (
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Dialogue is one raw utterance waiting in the pending buffer.
// Location, Persons, Entities and Topic are optional hints forwarded to the
// extraction engine.
type Dialogue struct {
	Speaker   string   `json:"speaker"`
	Content   string   `json:"content"`
	Timestamp string   `json:"timestamp,omitempty"`
	Location  string   `json:"location,omitempty"`
	Persons   []string `json:"persons,omitempty"`
	Entities  []string `json:"entities,omitempty"`
	Topic     string   `json:"topic,omitempty"`
}

// timestampLayouts are accepted ISO-8601 renderings, most specific first
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 timestamp in one of the accepted layouts
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, goerr.Wrap(ErrInvalidInput, "malformed timestamp", goerr.V(TimestampKey, s))
}

// Validate rejects dialogues that must never reach the buffer
func (d *Dialogue) Validate() error {
	if d == nil {
		return goerr.Wrap(ErrInvalidInput, "dialogue is nil")
	}
	if strings.TrimSpace(d.Content) == "" {
		return goerr.Wrap(ErrInvalidInput, "dialogue content is empty", goerr.V(SpeakerKey, d.Speaker))
	}
	if d.Timestamp != "" {
		if _, err := ParseTimestamp(d.Timestamp); err != nil {
			return err
		}
	}
	return nil
}

// Normalize returns a detached copy with the timestamp filled and the
// person/entity hints deduplicated.
func (d *Dialogue) Normalize(now time.Time) *Dialogue {
	copied := *d
	if copied.Timestamp == "" {
		copied.Timestamp = now.UTC().Format(time.RFC3339)
	}
	copied.Persons = UniqueStrings(d.Persons)
	copied.Entities = UniqueStrings(d.Entities)
	return &copied
}

// UniqueStrings drops empty and duplicate values while keeping first-seen order
func UniqueStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
