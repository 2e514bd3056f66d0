package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// scanJSON unmarshals a TEXT column's JSON into dst, tolerating NULL and
// empty values; the Value side of each column type below is the inverse.
func scanJSON(value interface{}, dst interface{}) error {
	if value == nil {
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("unsupported type for JSON column")
	}
	if len(bytes) == 0 {
		return nil
	}
	return json.Unmarshal(bytes, dst)
}

// StringList is a JSON-encoded []string column, used for Job.Notes.
type StringList []string

func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	return string(b), err
}

func (s *StringList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var out []string
	if err := scanJSON(value, &out); err != nil {
		return err
	}
	*s = out
	return nil
}

// Segments is the JSON-encoded ordered segment list carried by a Transcript.
type Segments []Segment

func (s Segments) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]Segment(s))
	return string(b), err
}

func (s *Segments) Scan(value interface{}) error {
	var out []Segment
	if err := scanJSON(value, &out); err != nil {
		return err
	}
	*s = out
	return nil
}

// SpeakerList is the JSON-encoded ordered list of canonical speaker labels
// carried by a Transcript.
type SpeakerList []SpeakerLabel

func (s SpeakerList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]SpeakerLabel(s))
	return string(b), err
}

func (s *SpeakerList) Scan(value interface{}) error {
	var out []SpeakerLabel
	if err := scanJSON(value, &out); err != nil {
		return err
	}
	*s = out
	return nil
}
