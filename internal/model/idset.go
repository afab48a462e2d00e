package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// IDSet is a set of location IDs with JSON serialization as a sorted array.
// Used for merge_ignore_ids, where membership checks and dedup matter more
// than order; sorting on marshal keeps the stored column diff-stable.
type IDSet map[string]struct{}

// NewIDSet builds a set from the given IDs.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts an ID. Adding an existing ID is a no-op.
func (s IDSet) Add(id string) {
	s[id] = struct{}{}
}

// Contains reports membership.
func (s IDSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Values returns the IDs in sorted order.
func (s IDSet) Values() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MarshalJSON encodes the set as a sorted JSON array.
func (s IDSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

// UnmarshalJSON decodes a JSON array, dropping duplicates.
func (s *IDSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("failed to decode id set: %w", err)
	}
	*s = NewIDSet(ids...)
	return nil
}

// EncodeIDSet serializes a set for storage. A nil or empty set encodes
// as "[]" so the column never holds SQL NULL.
func EncodeIDSet(s IDSet) (string, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode id set: %w", err)
	}
	return string(data), nil
}

// DecodeIDSet parses a stored id set column. Empty or "null" text yields
// an empty, usable set.
func DecodeIDSet(raw string) (IDSet, error) {
	if raw == "" || raw == "null" {
		return IDSet{}, nil
	}
	var s IDSet
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("failed to decode id set: %w", err)
	}
	return s, nil
}
