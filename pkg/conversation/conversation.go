// Package conversation persists chat transcripts behind a pluggable Store:
// a SQLite database, one JSON file per conversation, or PostgreSQL. All
// backends share the same export format, so transcripts move freely between
// them. Token counting is delegated to a Tokenizer collaborator; a message's
// token count is computed once at creation and never changes afterwards.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/merlya/merlya/pkg/config"
)

var (
	// ErrNotFound is returned when no conversation has the requested id.
	ErrNotFound = errors.New("conversation not found")
	// ErrNoCurrent is returned by LoadCurrent when no conversation is marked current.
	ErrNoCurrent = errors.New("no current conversation")
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation. Tokens is stamped at creation and
// immutable from then on, so stored token counts stay stable even when the
// tokenizer heuristic changes between releases.
type Message struct {
	ID        string    `json:"id" db:"id"`
	Role      Role      `json:"role" db:"role"`
	Content   string    `json:"content" db:"content"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Tokens    int       `json:"tokens" db:"tokens"`
}

// Conversation is a full transcript. Current is store-local state (at most
// one conversation per store carries it) and deliberately excluded from the
// JSON form so exports stay portable between stores.
type Conversation struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Messages   []Message `json:"messages"`
	TokenCount int       `json:"token_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Compacted  bool      `json:"compacted"`
	Current    bool      `json:"-"`
}

// Summary is a message-free view of a stored conversation, as returned by
// ListAll.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	TokenCount   int       `json:"token_count"`
	Compacted    bool      `json:"compacted"`
	Current      bool      `json:"current"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Tokenizer estimates the token footprint of message content. The real
// counter lives with the LLM provider; the store only records its output.
type Tokenizer interface {
	CountTokens(text string) int
}

// TokenizerFunc adapts a plain function to the Tokenizer interface.
type TokenizerFunc func(text string) int

// CountTokens implements Tokenizer.
func (f TokenizerFunc) CountTokens(text string) int { return f(text) }

// EstimateTokens is the default tokenizer: roughly four characters per
// token, which tracks English prose within ~20% for the models in use.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// NewConversation creates an empty conversation with a fresh id.
func NewConversation(title string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewMessage stamps a message with a fresh id, the current time, and the
// token count from tok (EstimateTokens when tok is nil).
func NewMessage(role Role, content string, tok Tokenizer) Message {
	count := EstimateTokens(content)
	if tok != nil {
		count = tok.CountTokens(content)
	}
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Tokens:    count,
	}
}

// Append adds a message to the in-memory transcript and rolls the token
// count and updated-at stamp forward. It does not persist anything.
func (c *Conversation) Append(msg Message) {
	c.Messages = append(c.Messages, msg)
	c.TokenCount += msg.Tokens
	if msg.Timestamp.After(c.UpdatedAt) {
		c.UpdatedAt = msg.Timestamp
	}
}

// Store is the persistence surface for conversations. Implementations are
// safe for concurrent use.
type Store interface {
	// SaveConversation inserts or fully replaces a conversation, messages
	// included.
	SaveConversation(ctx context.Context, conv *Conversation) error
	// SaveMessage appends one message to an existing conversation and rolls
	// the conversation's token count and updated-at stamp forward.
	SaveMessage(ctx context.Context, conversationID string, msg Message) error
	// LoadConversation returns the full transcript or ErrNotFound.
	LoadConversation(ctx context.Context, id string) (*Conversation, error)
	// LoadCurrent returns the conversation marked current, or ErrNoCurrent.
	LoadCurrent(ctx context.Context) (*Conversation, error)
	// SetCurrent marks one conversation current, clearing the mark on every
	// other one in the same operation.
	SetCurrent(ctx context.Context, id string) error
	// Archive demotes a conversation from current. The transcript stays
	// stored and loadable; only the current mark is cleared.
	Archive(ctx context.Context, id string) error
	// Delete removes a conversation and its messages.
	Delete(ctx context.Context, id string) error
	// ListAll returns summaries of every stored conversation, most recently
	// updated first.
	ListAll(ctx context.Context) ([]Summary, error)
	// ExportConversation renders one conversation in the portable JSON form.
	ExportConversation(ctx context.Context, id string) ([]byte, error)
	// ImportConversation inserts a previously exported conversation and
	// returns its id in this store. When the imported id already exists the
	// conversation (and its messages) get fresh ids instead of overwriting.
	ImportConversation(ctx context.Context, data []byte) (string, error)
	// ExportAll renders every stored conversation as one portable JSON
	// document.
	ExportAll(ctx context.Context) ([]byte, error)
	// Close releases backend resources.
	Close() error
}

// NewStore builds the backend selected by cfg. SQLite and JSON backends
// place their files under paths; Postgres connects to cfg.DSN.
func NewStore(cfg config.ConversationConfig, paths *config.Paths) (Store, error) {
	switch cfg.Backend {
	case config.StoreBackendSQLite:
		return NewSQLiteStore(paths.SessionsDB())
	case config.StoreBackendJSON:
		return NewFileStore(paths.ConversationsDir())
	case config.StoreBackendPostgres:
		return NewPostgresStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported conversation backend %q", cfg.Backend)
	}
}
