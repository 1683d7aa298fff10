package wsx

import "encoding/json"

// Frame ops on the wire.
const (
	OpPublish     = "publish"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpMessage     = "message"
	OpError       = "error"
)

// wireFrame is the JSON text frame exchanged with the gateway.
type wireFrame struct {
	Op          string            `json:"op"`
	ID          string            `json:"id,omitempty"`
	Destination string            `json:"destination,omitempty"`
	Body        json.RawMessage   `json:"body,omitempty"`
	Header      map[string]string `json:"header,omitempty"`
	Message     string            `json:"message,omitempty"`
}

// rawBody keeps JSON bodies as-is and quotes anything else.
func rawBody(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	q, _ := json.Marshal(string(b))
	return q
}
