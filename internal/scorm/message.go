package scorm

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// MessageType identifies a bridge message.
type MessageType string

const (
	TypeSetValue MessageType = "scorm_set_value"
	TypeCommit   MessageType = "scorm_commit"
	TypeFinish   MessageType = "scorm_finish"
)

// Message is the wire format between content and host. Each message is
// self-contained; there is no ordering field.
type Message struct {
	Type    MessageType    `json:"type"`
	Element string         `json:"element,omitempty"`
	Value   *Text          `json:"value,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Text is a message value. Content may pass numbers and booleans straight
// through LMSSetValue, so those are kept as their JSON literal text.
type Text string

// UnmarshalJSON accepts "85", 85, 85.5, true and null.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0:
		return fmt.Errorf("empty value")
	case bytes.Equal(data, []byte("null")):
		*t = ""
		return nil
	case data[0] == '"':
		var s string
		if err := sonic.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		*t = Text(data)
		return nil
	}
	if _, err := strconv.ParseFloat(string(data), 64); err != nil {
		return fmt.Errorf("value must be a string, number or boolean: %s", data)
	}
	*t = Text(data)
	return nil
}

// SetValue builds a scorm_set_value message.
func SetValue(element, value string) Message {
	v := Text(value)
	return Message{Type: TypeSetValue, Element: element, Value: &v}
}

// Commit builds a scorm_commit message.
func Commit() Message {
	return Message{Type: TypeCommit, Data: map[string]any{}}
}

// Finish builds a scorm_finish message.
func Finish() Message {
	return Message{Type: TypeFinish, Data: map[string]any{}}
}

// ValueString returns the value or "" when absent.
func (m Message) ValueString() string {
	if m.Value == nil {
		return ""
	}
	return string(*m.Value)
}

// Known reports whether the host understands this message type.
func (m Message) Known() bool {
	switch m.Type {
	case TypeSetValue, TypeCommit, TypeFinish:
		return true
	}
	return false
}

// Encode serializes a message for posting.
func Encode(m Message) ([]byte, error) {
	return sonic.Marshal(m)
}

// Decode parses a raw payload. Non-JSON input and a missing type are
// reported as *ParseError with Kind ErrMessageParse. Unknown types decode
// successfully; the host decides what to do with them.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := sonic.Unmarshal(raw, &m); err != nil {
		return Message{}, &ParseError{Kind: ErrMessageParse, Raw: string(raw), Err: err}
	}
	if strings.TrimSpace(string(m.Type)) == "" {
		return Message{}, &ParseError{Kind: ErrMessageParse, Raw: string(raw)}
	}
	if m.Type == TypeSetValue && m.Element == "" {
		return Message{}, &ParseError{Kind: ErrMessageParse, Raw: string(raw)}
	}
	return m, nil
}
