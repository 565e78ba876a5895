package models

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// AnalysisInfo is attachment metadata carried along with a message. It is never interpreted.
type AnalysisInfo struct {
	Title     string `json:"title" yaml:"title"`
	Timestamp string `json:"timestamp" yaml:"timestamp"`
	Type      string `json:"type" yaml:"type"` // video, document or spreadsheet
}

// Message is one turn of a conversation. Timestamp is unix milliseconds.
type Message struct {
	ID            string        `json:"id" yaml:"id"`
	Role          Role          `json:"role" yaml:"role"`
	Content       string        `json:"content" yaml:"content"`
	Timestamp     int64         `json:"timestamp" yaml:"timestamp"`
	Analysis      *AnalysisInfo `json:"analysis,omitempty" yaml:"analysis,omitempty"`
	AttachmentURL string        `json:"attachmentUrl,omitempty" yaml:"attachment_url,omitempty"`
}

// Time converts the message timestamp into a time.Time.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Clone returns a copy that shares no pointers with m.
func (m Message) Clone() Message {
	if m.Analysis != nil {
		a := *m.Analysis
		m.Analysis = &a
	}
	return m
}
