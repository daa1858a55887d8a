package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message discriminants.
const (
	TypeChatMessage = "chat.message" // Outbound chat text
	TypeSystem      = "system"       // Server welcome / notices
	TypeThinking    = "thinking"     // Agent is working on a reply
	TypeReply       = "reply"        // Agent reply
)

// InboundMessage is a parsed push frame. Only Type is interpreted; the whole
// decoded object is kept in Fields and forwarded as-is.
type InboundMessage struct {
	Type      string
	Content   string
	Data      map[string]any
	Timestamp string

	Fields     map[string]any  // Every key of the frame, decoded
	Raw        json.RawMessage // Frame bytes as received
	ReceivedAt time.Time       // Local time the frame was read
}

// ParseInbound decodes a frame. It fails if the frame is not a JSON object
// or has no string "type".
func ParseInbound(data []byte) (*InboundMessage, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	typ, _ := fields["type"].(string)
	if typ == "" {
		return nil, ErrMissingType
	}

	msg := &InboundMessage{
		Type:   typ,
		Fields: fields,
		Raw:    append(json.RawMessage(nil), data...),
	}
	msg.Content, _ = fields["content"].(string)
	msg.Data, _ = fields["data"].(map[string]any)
	msg.Timestamp, _ = fields["timestamp"].(string)

	return msg, nil
}

// Text returns the human-readable body: content, or the server's "message" key.
func (m *InboundMessage) Text() string {
	if m.Content != "" {
		return m.Content
	}
	s, _ := m.Fields["message"].(string)
	return s
}

// Time parses Timestamp as RFC 3339.
func (m *InboundMessage) Time() (time.Time, error) {
	if m.Timestamp == "" {
		return time.Time{}, fmt.Errorf("message %q has no timestamp", m.Type)
	}
	return time.Parse(time.RFC3339Nano, m.Timestamp)
}

// OutboundMessage is a caller-built frame, serialized as a JSON object.
type OutboundMessage map[string]any

// ChatMessage is the outbound shape for plain text.
type ChatMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	AgentType string `json:"agent_type,omitempty"` // "market", "behavior", "content"; empty lets the server route
}

// NewChatMessage wraps text as a chat.message frame.
func NewChatMessage(text string) ChatMessage {
	return ChatMessage{Type: TypeChatMessage, Message: text}
}
