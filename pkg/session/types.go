package session

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleCompanion Role = "companion"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleCompanion
}

// Message is immutable once appended.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one persisted conversation thread.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Messages     []Message `json:"messages"`
	LastModified time.Time `json:"lastModified"`
	// AutoTitled is set once the first user message has had its chance to
	// name the session, so derivation never runs twice.
	AutoTitled bool `json:"autoTitled,omitempty"`
}

// LastMessage returns the newest message, or the zero value.
func (s Session) LastMessage() Message {
	if len(s.Messages) == 0 {
		return Message{}
	}
	return s.Messages[len(s.Messages)-1]
}

// Note is a free-form remembered fact.
type Note struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MediaItem references a shared picture; only the caption reaches the model.
type MediaItem struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Caption   string    `json:"caption"`
	Timestamp time.Time `json:"timestamp"`
}

// Turn is the {role, text} shape handed to the model.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}
