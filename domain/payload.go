package domain

import (
	"encoding/json"
	"strings"

	rserrors "go.pilab.hu/radsync/errors"
)

// EventPayload is the typed payload carried by a SessionEvent. Each event
// type has its own payload shape; payloads validate their own required
// fields and encode to JSON for storage at rest.
type EventPayload interface {
	EventType() EventType
	Validate() error
}

// OpenStudyPayload identifies the study being opened. Patient ID and
// accession number are required for open_study events.
type OpenStudyPayload struct {
	PatientID        string `json:"patient_id"`
	PatientName      string `json:"patient_name,omitempty"`
	PatientDOB       string `json:"patient_dob,omitempty"`
	AccessionNumber  string `json:"accession_number"`
	StudyDescription string `json:"study_description,omitempty"`
}

func (p OpenStudyPayload) EventType() EventType { return EventOpenStudy }

func (p OpenStudyPayload) Validate() error {
	if strings.TrimSpace(p.PatientID) == "" {
		return rserrors.NewInvalidEvent("patient_id", "patient id is required for open_study")
	}
	if strings.TrimSpace(p.AccessionNumber) == "" {
		return rserrors.NewInvalidEvent("accession_number", "accession number is required for open_study")
	}
	return nil
}

// CloseStudyPayload carries optional context for a close_study event.
type CloseStudyPayload struct {
	Reason string `json:"reason,omitempty"`
}

func (p CloseStudyPayload) EventType() EventType { return EventCloseStudy }

func (p CloseStudyPayload) Validate() error { return nil }

// EncodePayload serializes a payload for storage at rest. A nil payload
// encodes to nil.
func EncodePayload(p EventPayload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// DecodePayload decodes an event's stored payload blob according to its
// event type. Unknown event types return the raw blob decoded into a
// generic map so forward-compatible consumers can still inspect it.
func DecodePayload(t EventType, blob []byte) (any, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	switch t {
	case EventOpenStudy:
		var p OpenStudyPayload
		if err := json.Unmarshal(blob, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventCloseStudy:
		var p CloseStudyPayload
		if err := json.Unmarshal(blob, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		var m map[string]any
		if err := json.Unmarshal(blob, &m); err != nil {
			return nil, err
		}
		return m, nil
	}
}
