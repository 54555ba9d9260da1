// Package schema validates outbound persistence events before they are
// handed to the Kafka publisher, so a malformed event never silently
// reaches a downstream analytics consumer.
package schema

import (
	"fmt"

	"ai-speech-translate-core/internal/models"
)

// Validator checks that a persisted event carries the fields downstream
// consumers key on. It has no notion of JSON Schema or an external
// schema registry; every event shape it validates is one of the two
// fixed structs the pipeline ever persists.
type Validator struct{}

// New creates a new Validator instance.
func New() *Validator {
	return &Validator{}
}

// Validate checks that event conforms to one of the known persisted
// event shapes. Unknown event types are rejected rather than silently
// allowed through, since the publisher only ever hands this two types.
func (v *Validator) Validate(event any) error {
	switch e := event.(type) {
	case models.PersistedPartial:
		return validatePartial(e)
	case models.PersistedFinal:
		return validateFinal(e)
	default:
		return fmt.Errorf("schema: unrecognized event type %T", event)
	}
}

func validatePartial(e models.PersistedPartial) error {
	if e.SessionID == "" {
		return fmt.Errorf("schema: partial event missing session_id")
	}
	if e.EventType == "" {
		return fmt.Errorf("schema: partial event missing event_type")
	}
	if e.Timestamp <= 0 {
		return fmt.Errorf("schema: partial event %s has a non-positive timestamp", e.SessionID)
	}
	return nil
}

func validateFinal(e models.PersistedFinal) error {
	if e.SessionID == "" {
		return fmt.Errorf("schema: final event missing session_id")
	}
	if e.EventType == "" {
		return fmt.Errorf("schema: final event missing event_type")
	}
	if e.SourceLang == "" {
		return fmt.Errorf("schema: final event %s missing source_lang", e.SessionID)
	}
	if e.Timestamp <= 0 {
		return fmt.Errorf("schema: final event %s has a non-positive timestamp", e.SessionID)
	}
	return nil
}
