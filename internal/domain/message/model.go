package message

import (
	"time"

	"github.com/hypley/hypley/internal/agent"
)

// Sender identifies which side of the conversation authored a message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// Type classifies the message body.
type Type string

const (
	TypeText   Type = "text"
	TypeAudio  Type = "audio"
	TypeImage  Type = "image"
	TypeFile   Type = "file"
	TypeScreen Type = "screen"
)

// Attachment carries user-supplied or generated binary content as text.
type Attachment struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
	Name     string `json:"name"`
}

// Source is a grounding citation attached to a generated reply.
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Message is one entry of the shared log. Messages are replaced whole on
// update; streaming replies mutate Content across upserts sharing one id.
type Message struct {
	ID          string       `json:"id"`
	Sender      Sender       `json:"sender"`
	AgentType   agent.Type   `json:"agentType,omitempty"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	Type        Type         `json:"type"`
	ImageURL    string       `json:"imageUrl,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Sources     []Source     `json:"sources,omitempty"`
}

// Partial is an upsert request. Zero-valued fields leave the existing entry
// untouched when the id already exists.
type Partial struct {
	ID          string
	Sender      Sender
	AgentType   agent.Type
	Content     *string
	Timestamp   time.Time
	Type        Type
	ImageURL    string
	Attachments []Attachment
	Sources     []Source
}

// Seed returns the single welcome message an empty log is reseeded with.
func Seed(now time.Time) Message {
	return Message{
		ID:        agent.SeedID,
		Sender:    SenderAgent,
		AgentType: agent.Default,
		Content:   agent.SeedContent,
		Timestamp: now,
		Type:      TypeText,
	}
}
