package models

import (
	"encoding/json"
	"fmt"
)

// Status is a tri-state verification outcome.
type Status int8

const (
	StatusUnknown Status = iota
	StatusPassed
	StatusFailed
)

// StatusFromBool maps a definite verification result to a Status.
func StatusFromBool(ok bool) Status {
	if ok {
		return StatusPassed
	}
	return StatusFailed
}

// Known reports whether the status is a definite answer.
func (s Status) Known() bool {
	return s == StatusPassed || s == StatusFailed
}

func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "true"
	case StatusFailed:
		return "false"
	default:
		return "unknown"
	}
}

// Label is the human readable form shown in the manifest menu.
func (s Status) Label() string {
	switch s {
	case StatusPassed:
		return "Passed"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// MarshalJSON encodes definite statuses as booleans and unknown as "unknown".
func (s Status) MarshalJSON() ([]byte, error) {
	switch s {
	case StatusPassed:
		return []byte("true"), nil
	case StatusFailed:
		return []byte("false"), nil
	default:
		return []byte(`"unknown"`), nil
	}
}

// UnmarshalJSON accepts true, false, "true", "false" and "unknown".
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case bool:
		*s = StatusFromBool(v)
	case string:
		switch v {
		case "true":
			*s = StatusPassed
		case "false":
			*s = StatusFailed
		case "unknown", "":
			*s = StatusUnknown
		default:
			return fmt.Errorf("invalid status %q", v)
		}
	case nil:
		*s = StatusUnknown
	default:
		return fmt.Errorf("invalid status %v", v)
	}
	return nil
}
