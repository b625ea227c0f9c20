package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// VisitCount is one entry of the visit-count mapping.
type VisitCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// VisitCounts is an ordered mapping from domain key to visit count.
// Order is insertion order and survives a JSON round trip, which is the
// iteration order used by fuzzy usage lookups.
type VisitCounts []VisitCount

// Get returns the count stored under key.
func (vc VisitCounts) Get(key string) (int, bool) {
	for _, e := range vc {
		if e.Key == key {
			return e.Count, true
		}
	}
	return 0, false
}

// Increment adds one to key, appending it if absent, and returns the new count.
func (vc *VisitCounts) Increment(key string) int {
	for i := range *vc {
		if (*vc)[i].Key == key {
			(*vc)[i].Count++
			return (*vc)[i].Count
		}
	}
	*vc = append(*vc, VisitCount{Key: key, Count: 1})
	return 1
}

// Total sums all counts.
func (vc VisitCounts) Total() int {
	n := 0
	for _, e := range vc {
		n += e.Count
	}
	return n
}

// MarshalJSON encodes the entries as a JSON object in slice order.
func (vc VisitCounts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range vc {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		fmt.Fprintf(&buf, ":%d", e.Count)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping document key order.
// A repeated key updates the earlier entry in place.
func (vc *VisitCounts) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*vc = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("visit counts: expected object, got %v", tok)
	}

	out := VisitCounts{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("visit counts: expected key, got %v", tok)
		}
		var n float64
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("visit counts: value for %q: %w", key, err)
		}
		replaced := false
		for i := range out {
			if out[i].Key == key {
				out[i].Count = int(n)
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, VisitCount{Key: key, Count: int(n)})
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*vc = out
	return nil
}
