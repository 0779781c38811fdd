package sessions

import (
	"strings"
	"time"

	"github.com/chatppt/chatppt/internal/slides"
)

// Role identifies the author of a message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Phase is the stage of a conversation
type Phase string

const (
	PhaseOutline   Phase = "outline"
	PhaseContent   Phase = "content"
	PhaseExporting Phase = "exporting"
)

const (
	// DefaultTitle is shown until the first user message names the session
	DefaultTitle = "New Chat"
	// WelcomeMessage opens every new session
	WelcomeMessage = "Welcome to ChatPPT. Tell me a topic to begin."
	// EmptyPreview is the index preview of a session without user turns
	EmptyPreview = "Empty conversation"

	titleRunes   = 15
	previewRunes = 30
)

// Message is one turn of a conversation
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session is one conversation thread with its slide document
type Session struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Messages  []Message       `json:"messages"`
	Slides    slides.Document `json:"slides"`
	Phase     Phase           `json:"phase"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// IndexEntry is the summary of a session used for history browsing
type IndexEntry struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Time    time.Time `json:"time"`
	Preview string    `json:"preview"`
}

// New creates an unsaved session holding only the welcome message
func New(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Title:     DefaultTitle,
		Messages:  []Message{{Role: RoleSystem, Content: WelcomeMessage}},
		Slides:    slides.Document{},
		Phase:     PhaseOutline,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of the session
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = append([]Message{}, s.Messages...)
	c.Slides = s.Slides.Clone()
	return &c
}

// IsPristine reports whether the session holds nothing worth keeping. A custom
// title counts as content.
func (s *Session) IsPristine() bool {
	customTitle := s.Title != DefaultTitle && s.Title != ""
	return len(s.Messages) <= 1 && s.Slides.IsEmpty() && !customTitle
}

// Entry builds the index entry for the session
func (s *Session) Entry() IndexEntry {
	return IndexEntry{
		ID:      s.ID,
		Title:   s.Title,
		Time:    s.UpdatedAt,
		Preview: s.Preview(),
	}
}

// Preview is the start of the first non-system message
func (s *Session) Preview() string {
	for _, m := range s.Messages {
		if m.Role != RoleSystem {
			return truncateRunes(strings.TrimSpace(m.Content), previewRunes)
		}
	}
	return EmptyPreview
}

// DeriveTitle names a session that still has the default title after its first user message
func (s *Session) DeriveTitle() {
	if s.Title != DefaultTitle && s.Title != "" {
		return
	}
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			if t := truncateRunes(strings.TrimSpace(m.Content), titleRunes); t != "" {
				s.Title = t
			}
			return
		}
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
