package conversation

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// currentPointerFile holds the id of the current conversation. It carries no
// .json suffix so the listing glob never picks it up.
const currentPointerFile = "current"

// FileStore persists one JSON file per conversation plus a pointer file
// naming the current one. The on-disk shape is exactly the portable export
// form, so a conversation file can be copied out of the directory and
// imported anywhere.
type FileStore struct {
	mu     sync.Mutex
	dir    string
	logger *slog.Logger
}

// NewFileStore creates a store over dir, creating the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating conversations dir %s: %w", dir, err)
	}
	return &FileStore{
		dir:    dir,
		logger: slog.Default().With("component", "conversation_store"),
	}, nil
}

// Close implements Store; the file backend holds no resources.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// fileSafe rejects ids that cannot serve as a bare filename.
func fileSafe(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..")
}

// SaveConversation writes the conversation to its own file, replacing any
// previous content.
func (s *FileStore) SaveConversation(ctx context.Context, conv *Conversation) error {
	if !fileSafe(conv.ID) {
		return fmt.Errorf("conversation id %q is not usable as a filename", conv.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeConversation(conv)
}

// SaveMessage appends one message to an existing conversation file and rolls
// its token count and updated-at stamp forward.
func (s *FileStore) SaveMessage(ctx context.Context, conversationID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.readConversation(conversationID)
	if err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	conv.Append(msg)
	return s.writeConversation(conv)
}

// LoadConversation returns the full transcript or ErrNotFound.
func (s *FileStore) LoadConversation(ctx context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.readConversation(id)
	if err != nil {
		return nil, err
	}
	conv.Current = s.readCurrentID() == id
	return conv, nil
}

// LoadCurrent returns the conversation named by the pointer file. A missing
// pointer, or a pointer to a conversation deleted out of band, both mean no
// current conversation.
func (s *FileStore) LoadCurrent(ctx context.Context) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.readCurrentID()
	if id == "" {
		return nil, ErrNoCurrent
	}
	conv, err := s.readConversation(id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoCurrent
	}
	if err != nil {
		return nil, err
	}
	conv.Current = true
	return conv, nil
}

// SetCurrent points the pointer file at the given conversation.
func (s *FileStore) SetCurrent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("checking conversation %s: %w", id, err)
	}
	return s.writeCurrentID(id)
}

// Archive demotes a conversation from current by clearing the pointer when
// it names this id. The conversation file stays in place.
func (s *FileStore) Archive(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("checking conversation %s: %w", id, err)
	}
	if s.readCurrentID() == id {
		return s.clearCurrentID()
	}
	return nil
}

// Delete removes the conversation file and clears the pointer if it pointed
// here.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	if s.readCurrentID() == id {
		return s.clearCurrentID()
	}
	return nil
}

// ListAll summarizes every conversation file, most recently updated first.
// Unreadable files are logged and skipped rather than failing the listing.
func (s *FileStore) ListAll(ctx context.Context) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("listing conversations in %s: %w", s.dir, err)
	}
	currentID := s.readCurrentID()

	summaries := make([]Summary, 0, len(paths))
	for _, p := range paths {
		id := strings.TrimSuffix(filepath.Base(p), ".json")
		conv, err := s.readConversation(id)
		if err != nil {
			s.logger.Warn("skipping unreadable conversation file", "path", p, "error", err)
			continue
		}
		summaries = append(summaries, Summary{
			ID:           conv.ID,
			Title:        conv.Title,
			MessageCount: len(conv.Messages),
			TokenCount:   conv.TokenCount,
			Compacted:    conv.Compacted,
			Current:      conv.ID == currentID,
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
		})
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// ExportConversation renders one conversation in the portable JSON form.
func (s *FileStore) ExportConversation(ctx context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.readConversation(id)
	if err != nil {
		return nil, err
	}
	return marshalConversation(conv)
}

// ImportConversation writes a previously exported conversation as a new
// file. A colliding or filename-unsafe id gets reassigned (messages too)
// instead of overwriting.
func (s *FileStore) ImportConversation(ctx context.Context, data []byte) (string, error) {
	conv, err := unmarshalConversation(data)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, statErr := os.Stat(s.path(conv.ID))
	if !fileSafe(conv.ID) || statErr == nil {
		old := conv.ID
		reassignIDs(conv)
		s.logger.Info("imported conversation id collides, reassigned",
			"old_id", old, "new_id", conv.ID)
	}
	conv.Current = false
	if err := s.writeConversation(conv); err != nil {
		return "", err
	}
	return conv.ID, nil
}

// ExportAll renders every conversation as one portable JSON document, most
// recently updated first.
func (s *FileStore) ExportAll(ctx context.Context) ([]byte, error) {
	summaries, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	convs := make([]*Conversation, 0, len(summaries))
	for _, sum := range summaries {
		conv, err := s.readConversation(sum.ID)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return marshalBundle(convs)
}

// readConversation loads and parses one conversation file. Callers hold the
// mutex.
func (s *FileStore) readConversation(id string) (*Conversation, error) {
	if !fileSafe(id) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("reading conversation %s: %w", id, err)
	}
	conv, err := unmarshalConversation(data)
	if err != nil {
		return nil, fmt.Errorf("conversation %s: %w", id, err)
	}
	return conv, nil
}

// writeConversation writes atomically (temp file + rename). Callers hold
// the mutex.
func (s *FileStore) writeConversation(conv *Conversation) error {
	data, err := marshalConversation(conv)
	if err != nil {
		return err
	}
	path := s.path(conv.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

func (s *FileStore) readCurrentID() string {
	data, err := os.ReadFile(filepath.Join(s.dir, currentPointerFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (s *FileStore) writeCurrentID(id string) error {
	path := filepath.Join(s.dir, currentPointerFile)
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing current pointer: %w", err)
	}
	return nil
}

func (s *FileStore) clearCurrentID() error {
	err := os.Remove(filepath.Join(s.dir, currentPointerFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clearing current pointer: %w", err)
	}
	return nil
}
