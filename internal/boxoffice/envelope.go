package boxoffice

import (
	"encoding/json"
	"fmt"

	"cloud.google.com/go/civil"
)

// EventType names an event carried on the notification bus.
type EventType string

// Event types. The wire strings match what the deployed triggers already send.
const (
	EventReset            EventType = "RESET"
	EventDebug            EventType = "DEBUG"
	EventPrepareNewDate   EventType = "prepare_new_date"
	EventPrepareRanking   EventType = "prepare_ranking"
	EventCrawlRanking     EventType = "crawl_ranking"
	EventValidateRanking  EventType = "validate_ranking"
	EventCrawlMovieDetail EventType = "crawl_movie_detail"
)

// Envelope is the JSON message exchanged between components.
type Envelope struct {
	EventType EventType    `json:"event_type"`
	Dates     []civil.Date `json:"dates,omitempty"`
	ID        string       `json:"id,omitempty"`
}

// Validate checks that the event type is known and carries the fields it needs.
func (e Envelope) Validate() error {
	switch e.EventType {
	case EventReset, EventDebug, EventPrepareNewDate, EventPrepareRanking:
		if len(e.Dates) > 0 || e.ID != "" {
			return fmt.Errorf("%w: %s takes no dates or id", ErrMalformedRecord, e.EventType)
		}
	case EventCrawlRanking, EventValidateRanking:
		if len(e.Dates) == 0 {
			return fmt.Errorf("%w: %s requires dates", ErrMalformedRecord, e.EventType)
		}
		for _, d := range e.Dates {
			if !d.IsValid() {
				return fmt.Errorf("%w: invalid date %s", ErrMalformedRecord, d)
			}
		}
	case EventCrawlMovieDetail:
		if e.ID == "" {
			return fmt.Errorf("%w: %s requires id", ErrMalformedRecord, e.EventType)
		}
	default:
		return fmt.Errorf("%w: unknown event_type %q", ErrMalformedRecord, e.EventType)
	}
	return nil
}

// EncodeEnvelope validates and marshals an envelope.
func EncodeEnvelope(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses an envelope, rejecting unknown fields and event types.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := strictUnmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: envelope: %v", ErrMalformedRecord, err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// EncodePayload marshals a bus payload. Envelopes are validated first.
func EncodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case Envelope:
		return EncodeEnvelope(p)
	case *Envelope:
		return EncodeEnvelope(*p)
	case []byte:
		return p, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}
