// Package agentmsg parses the line-delimited structured message protocol
// spoken by JSON-mode agents over their stdout pipe.
package agentmsg

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Type values observed in the "type" field of a top-level message.
const (
	TypeSystem    = "system"
	TypeAssistant = "assistant"
	TypeUser      = "user"
	TypeResult    = "result"
)

// ContentItem is one entry of message.content[]. Only the fields relevant to
// its Type are populated; unknown item types still carry Type and Raw.
type ContentItem struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	ToolUseID  string `json:"id,omitempty"`
	ToolName   string `json:"name,omitempty"`
	ToolInput  any    `json:"input,omitempty"`
	ToolResult any    `json:"content,omitempty"`
	ImageData  string `json:"data,omitempty"`
	MediaType  string `json:"media_type,omitempty"`
}

// Usage mirrors a typical agent-reported token accounting block.
type Usage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// InnerMessage is the nested "message" object carried by assistant/user
// frames.
type InnerMessage struct {
	Role    string        `json:"role,omitempty"`
	Content []ContentItem `json:"content,omitempty"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// Message is one parsed line of agent output. Raw always holds the original
// bytes so callers that only need to re-broadcast verbatim never have to
// re-marshal.
type Message struct {
	Type      string        `json:"type"`
	SessionID string        `json:"session_id,omitempty"`
	Message   *InnerMessage `json:"message,omitempty"`
	Subtype   string        `json:"subtype,omitempty"`
	IsError   bool          `json:"is_error,omitempty"`
	Result    string        `json:"result,omitempty"`
	Raw       []byte        `json:"-"`
}

// Parse decodes one line of agent stdout into a Message. Leading bytes that
// precede the first '{' are stripped before decoding — some agents emit a
// terminal escape sequence or BOM-like prefix ahead of the JSON payload.
// Parse returns ok=false (with no error) for lines that still don't parse as
// JSON after stripping, so the caller can forward them verbatim for
// debugging instead of failing the whole stream.
func Parse(line []byte) (Message, bool) {
	trimmed := stripNonJSONPrefix(line)
	if len(trimmed) == 0 {
		return Message{}, false
	}
	var msg Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return Message{}, false
	}
	msg.Raw = line
	return msg, true
}

// stripNonJSONPrefix drops everything before the first '{', which discards
// stray terminal escape sequences some agents prepend to their stdout.
func stripNonJSONPrefix(line []byte) []byte {
	idx := strings.IndexByte(string(line), '{')
	if idx < 0 {
		return nil
	}
	return line[idx:]
}

// IsProcessingStart reports whether observing this message should flip a
// session's processing flag to true (an assistant turn has begun).
func (m Message) IsProcessingStart() bool {
	return m.Type == TypeAssistant
}

// IsProcessingEnd reports whether observing this message should flip a
// session's processing flag to false (the agent turn has concluded).
func (m Message) IsProcessingEnd() bool {
	return m.Type == TypeResult
}
