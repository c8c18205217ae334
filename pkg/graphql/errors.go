package graphql

import (
	"encoding/json"
	"fmt"
)

// TransportError is a non-2xx HTTP response that does not carry a structured
// GraphQL error payload.
type TransportError struct {
	StatusCode int
	Body       string
}

func (e *TransportError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("graphql transport error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("graphql transport error: status %d: %s", e.StatusCode, e.Body)
}

// APIError is a well-formed error payload reported by the GraphQL service.
// Errors holds the raw entries of the "errors" list.
type APIError struct {
	StatusCode int
	Errors     []json.RawMessage
}

func (e *APIError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, raw := range e.Errors {
		var entry struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &entry); err == nil && entry.Message != "" {
			msgs = append(msgs, entry.Message)
		} else {
			msgs = append(msgs, string(raw))
		}
	}
	return fmt.Sprintf("graphql errors: %v", msgs)
}

// ProtocolError signals that a response violated the pagination contract,
// e.g. a page with more than one cursor field.
type ProtocolError struct {
	Cursors int
	Msg     string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("graphql protocol error: %s (%d cursor fields)", e.Msg, e.Cursors)
}
