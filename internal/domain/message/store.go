package message

import (
	"strconv"
	"sync"
	"time"

	"github.com/hypley/hypley/internal/agent"
)

// Store is the in-memory ordered message log of one tab. Upserts merge by id
// keeping the position of the first occurrence; reads filter to the persona
// view and deduplicate keeping the latest version.
type Store struct {
	mu       sync.Mutex
	messages []Message
	now      func() time.Time
}

// NewStore creates a store preloaded with msgs in the given order.
func NewStore(msgs []Message) *Store {
	s := &Store{now: time.Now}
	s.messages = append(s.messages, msgs...)
	return s
}

// SetClock overrides the clock used for synthesized defaults. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Upsert reconciles a partial message into the log and returns the resolved
// full message. An existing id is merged field-wise in place; a new id is
// synthesized with defaults and appended. A colliding id is an update, not an
// error.
func (s *Store) Upsert(partial Partial) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if partial.ID != "" {
		for i := range s.messages {
			if s.messages[i].ID == partial.ID {
				merged := merge(s.messages[i], partial)
				s.messages[i] = merged
				return merged
			}
		}
	}

	now := s.now()
	msg := Message{
		ID:          partial.ID,
		Sender:      partial.Sender,
		AgentType:   partial.AgentType,
		Timestamp:   partial.Timestamp,
		Type:        partial.Type,
		ImageURL:    partial.ImageURL,
		Attachments: partial.Attachments,
		Sources:     partial.Sources,
	}
	if partial.Content != nil {
		msg.Content = *partial.Content
	}
	if msg.ID == "" {
		msg.ID = strconv.FormatInt(now.UnixMilli(), 10)
	}
	if msg.Sender == "" {
		msg.Sender = SenderUser
	}
	if msg.Type == "" {
		msg.Type = TypeText
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}

	s.messages = append(s.messages, msg)
	return msg
}

// Apply reconciles an already-resolved message, used for events arriving from
// the sync bus. Same merge semantics as Upsert.
func (s *Store) Apply(msg Message) Message {
	content := msg.Content
	return s.Upsert(Partial{
		ID:          msg.ID,
		Sender:      msg.Sender,
		AgentType:   msg.AgentType,
		Content:     &content,
		Timestamp:   msg.Timestamp,
		Type:        msg.Type,
		ImageURL:    msg.ImageURL,
		Attachments: msg.Attachments,
		Sources:     msg.Sources,
	})
}

func merge(existing Message, partial Partial) Message {
	merged := existing
	if partial.Sender != "" {
		merged.Sender = partial.Sender
	}
	if partial.AgentType != "" {
		merged.AgentType = partial.AgentType
	}
	if partial.Content != nil {
		merged.Content = *partial.Content
	}
	if !partial.Timestamp.IsZero() {
		merged.Timestamp = partial.Timestamp
	}
	if partial.Type != "" {
		merged.Type = partial.Type
	}
	if partial.ImageURL != "" {
		merged.ImageURL = partial.ImageURL
	}
	if partial.Attachments != nil {
		merged.Attachments = partial.Attachments
	}
	if partial.Sources != nil {
		merged.Sources = partial.Sources
	}
	return merged
}

// All returns a copy of the full log in insertion order.
func (s *Store) All() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Visible returns the display list for a persona: every user message plus
// the persona's own replies, deduplicated by id keeping the latest version
// in first-seen order.
func (s *Store) Visible(persona agent.Type) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := make(map[string]int)
	var out []Message
	for _, msg := range s.messages {
		if msg.Sender != SenderUser && msg.AgentType != persona {
			continue
		}
		if pos, seen := index[msg.ID]; seen {
			out[pos] = msg
			continue
		}
		index[msg.ID] = len(out)
		out = append(out, msg)
	}
	return out
}

// HasPersona reports whether any message in the log is tagged with the
// persona. Used by the dispatcher to decide whether to post a welcome.
func (s *Store) HasPersona(persona agent.Type) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.AgentType == persona {
			return true
		}
	}
	return false
}

// Len returns the number of log entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
