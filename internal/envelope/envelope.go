// Package envelope implements the message codec described in spec.md §4.C:
// it turns a domain payload into the wire envelope (JSON body, headers,
// app_id, correlation id) and back, and knows how to rebuild an envelope
// for retry reinjection while preserving everything but x-attempt.
//
// Grounded on original_source/lib/event_driven/message/creation.py's
// base_message/event_message/notify_event_message and processing.py's
// re-publish-on-retry field list.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AttemptHeader is the header key carrying the current retry attempt.
const AttemptHeader = "x-attempt"

// Envelope is the substrate's wire-level message: everything the broker
// needs to deliver and everything the retry engine needs to rebuild it.
type Envelope struct {
	Body          []byte
	AppID         string
	CorrelationID string
	Attempt       int
	Headers       map[string]any

	RoutingKey string

	// Preserved verbatim across retry reinjection, per spec.md §4.F.
	ContentType     string
	ContentEncoding string
	DeliveryMode    uint8
	Priority        uint8
	MessageID       string
	Timestamp       time.Time
	Type            string
	UserID          string
	ReplyTo         string
	Expiration      string
}

// New builds a fresh envelope for a first publish: attempt is always 0 and
// a correlation id is generated if the caller didn't supply one.
func New(payload map[string]any, appID, correlationID string, additionalHeaders map[string]any) (*Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode payload: %w", err)
	}

	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	headers := map[string]any{AttemptHeader: int32(0)}
	for k, v := range additionalHeaders {
		headers[k] = v
	}

	return &Envelope{
		Body:          body,
		AppID:         appID,
		CorrelationID: correlationID,
		Attempt:       0,
		Headers:       headers,
		ContentType:   "application/json",
		DeliveryMode:  2, // persistent
		Timestamp:     time.Now().UTC(),
	}, nil
}

// NewNotify injects event_name into payload before encoding, per spec.md
// §4.C: "notify events MUST inject event_name into the payload".
func NewNotify(eventName string, payload map[string]any, appID, correlationID string, additionalHeaders map[string]any) (*Envelope, error) {
	withName := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		withName[k] = v
	}
	withName["event_name"] = eventName
	return New(withName, appID, correlationID, additionalHeaders)
}

// Decode parses Body as UTF-8 JSON into a map, the shape entity.Validate
// expects. A decode failure is always a model error at the caller.
func Decode(e *Envelope) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(e.Body, &out); err != nil {
		return nil, fmt.Errorf("envelope: decode body: %w", err)
	}
	return out, nil
}

// NextAttempt returns a new *Envelope identical to e except Attempt and
// Headers[x-attempt], which are incremented by one. Body, correlation id,
// and every preserved AMQP property are copied unchanged, per spec.md
// §4.F's re-injection semantics and the §8 retry law
// (new.body==old.body, new.correlation_id==old.correlation_id,
// new.x-attempt==old.x-attempt+1).
func (e *Envelope) NextAttempt(routingKey string) *Envelope {
	next := *e
	next.Attempt = e.Attempt + 1
	next.RoutingKey = routingKey

	headers := make(map[string]any, len(e.Headers))
	for k, v := range e.Headers {
		headers[k] = v
	}
	headers[AttemptHeader] = int32(next.Attempt)
	next.Headers = headers

	body := make([]byte, len(e.Body))
	copy(body, e.Body)
	next.Body = body

	return &next
}

// AttemptFromHeaders reads x-attempt out of a raw AMQP headers table,
// tolerating the several numeric encodings it may arrive in (int32, int64,
// int, and float64, which is truncated). Missing headers or values of any
// other type are treated as 0.
func AttemptFromHeaders(headers map[string]any) int {
	raw, ok := headers[AttemptHeader]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
