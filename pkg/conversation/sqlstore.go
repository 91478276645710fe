package conversation

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // register sqlite3 driver for database/sql
)

//go:embed migrations
var migrationsFS embed.FS

// SQLStore implements Store over a relational database through sqlx. One
// implementation serves both SQLite and PostgreSQL: the schema sticks to
// types the two dialects share and sqlx rebinding papers over the
// placeholder difference.
type SQLStore struct {
	db     *sqlx.DB
	driver string
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the SQLite database at path and
// applies pending migrations. The foreign_keys pragma rides in the DSN so it
// applies to every pooled connection, not just the first one.
func NewSQLiteStore(path string) (*SQLStore, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store %s: %w", path, err)
	}
	// SQLite allows one writer at a time; a single pooled connection turns
	// lock contention into queueing instead of SQLITE_BUSY errors.
	db.SetMaxOpenConns(1)

	s := &SQLStore{
		db:     db,
		driver: "sqlite3",
		logger: slog.Default().With("component", "conversation_store"),
	}
	if err := s.migrateUp("sessions"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore connects to the database named by dsn and applies
// pending migrations.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres store: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres store: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLStore{
		db:     db,
		driver: "pgx",
		logger: slog.Default().With("component", "conversation_store"),
	}
	if err := s.migrateUp("conversations"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrateUp applies embedded migrations. Only the source driver is closed
// afterwards: closing the migrate instance would also close the shared
// *sql.DB underneath the store.
func (s *SQLStore) migrateUp(dbName string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}
	var driver database.Driver
	switch s.driver {
	case "sqlite3":
		driver, err = migratesqlite.WithInstance(s.db.DB, &migratesqlite.Config{})
	case "pgx":
		driver, err = migratepg.WithInstance(s.db.DB, &migratepg.Config{})
	default:
		err = fmt.Errorf("unsupported driver %q", s.driver)
	}
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, dbName, driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}
	if err := src.Close(); err != nil {
		return fmt.Errorf("closing migration source: %w", err)
	}
	s.logger.Debug("conversation schema up to date", "driver", s.driver)
	return nil
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type conversationRow struct {
	ID         string    `db:"id"`
	Title      string    `db:"title"`
	TokenCount int       `db:"token_count"`
	Compacted  bool      `db:"compacted"`
	Current    bool      `db:"is_current"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

type messageRow struct {
	ID             string    `db:"id"`
	ConversationID string    `db:"conversation_id"`
	Role           string    `db:"role"`
	Content        string    `db:"content"`
	Timestamp      time.Time `db:"timestamp"`
	Tokens         int       `db:"tokens"`
}

func (r conversationRow) toConversation() *Conversation {
	return &Conversation{
		ID:         r.ID,
		Title:      r.Title,
		TokenCount: r.TokenCount,
		Compacted:  r.Compacted,
		Current:    r.Current,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func (r messageRow) toMessage() Message {
	return Message{
		ID:        r.ID,
		Role:      Role(r.Role),
		Content:   r.Content,
		Timestamp: r.Timestamp,
		Tokens:    r.Tokens,
	}
}

func rowFromConversation(c *Conversation) conversationRow {
	return conversationRow{
		ID:         c.ID,
		Title:      c.Title,
		TokenCount: c.TokenCount,
		Compacted:  c.Compacted,
		Current:    c.Current,
		CreatedAt:  c.CreatedAt.UTC(),
		UpdatedAt:  c.UpdatedAt.UTC(),
	}
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// SaveConversation inserts the conversation or fully replaces it, messages
// included. The is_current flag on an existing row is left alone; currency
// only changes through SetCurrent and Archive.
func (s *SQLStore) SaveConversation(ctx context.Context, conv *Conversation) error {
	if conv.ID == "" {
		return errors.New("conversation id is empty")
	}
	row := rowFromConversation(conv)
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO conversations (id, title, token_count, compacted, is_current, created_at, updated_at)
			VALUES (:id, :title, :token_count, :compacted, :is_current, :created_at, :updated_at)
			ON CONFLICT (id) DO UPDATE SET
				title = excluded.title,
				token_count = excluded.token_count,
				compacted = excluded.compacted,
				updated_at = excluded.updated_at`, row)
		if err != nil {
			return fmt.Errorf("upserting conversation %s: %w", conv.ID, err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM messages WHERE conversation_id = ?`), conv.ID); err != nil {
			return fmt.Errorf("clearing messages for %s: %w", conv.ID, err)
		}
		for _, msg := range conv.Messages {
			if err := insertMessage(ctx, tx, conv.ID, msg); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveMessage appends one message to an existing conversation and rolls the
// token count and updated-at stamp forward in the same transaction.
func (s *SQLStore) SaveMessage(ctx context.Context, conversationID string, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE conversations SET token_count = token_count + ?, updated_at = ? WHERE id = ?`),
			msg.Tokens, msg.Timestamp.UTC(), conversationID)
		if err != nil {
			return fmt.Errorf("updating conversation %s: %w", conversationID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("updating conversation %s: %w", conversationID, err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, conversationID)
		}
		return insertMessage(ctx, tx, conversationID, msg)
	})
}

func insertMessage(ctx context.Context, tx *sqlx.Tx, conversationID string, msg Message) error {
	row := messageRow{
		ID:             msg.ID,
		ConversationID: conversationID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		Timestamp:      msg.Timestamp.UTC(),
		Tokens:         msg.Tokens,
	}
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, timestamp, tokens)
		VALUES (:id, :conversation_id, :role, :content, :timestamp, :tokens)`, row)
	if err != nil {
		return fmt.Errorf("inserting message %s: %w", msg.ID, err)
	}
	return nil
}

// LoadConversation returns the full transcript. Messages come back in
// timestamp order with the id as a deterministic tiebreak.
func (s *SQLStore) LoadConversation(ctx context.Context, id string) (*Conversation, error) {
	var row conversationRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT * FROM conversations WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", id, err)
	}
	return s.attachMessages(ctx, row)
}

// LoadCurrent returns the conversation marked current, or ErrNoCurrent.
func (s *SQLStore) LoadCurrent(ctx context.Context) (*Conversation, error) {
	var row conversationRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT * FROM conversations WHERE is_current = ?`), true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCurrent
	}
	if err != nil {
		return nil, fmt.Errorf("loading current conversation: %w", err)
	}
	return s.attachMessages(ctx, row)
}

func (s *SQLStore) attachMessages(ctx context.Context, row conversationRow) (*Conversation, error) {
	var msgRows []messageRow
	err := s.db.SelectContext(ctx, &msgRows,
		s.db.Rebind(`SELECT * FROM messages WHERE conversation_id = ? ORDER BY timestamp, id`), row.ID)
	if err != nil {
		return nil, fmt.Errorf("loading messages for %s: %w", row.ID, err)
	}
	conv := row.toConversation()
	conv.Messages = make([]Message, len(msgRows))
	for i, m := range msgRows {
		conv.Messages[i] = m.toMessage()
	}
	return conv, nil
}

// SetCurrent clears the current mark on every conversation and sets it on
// the chosen one, all in one transaction.
func (s *SQLStore) SetCurrent(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE conversations SET is_current = ? WHERE is_current = ?`), false, true); err != nil {
			return fmt.Errorf("clearing current flag: %w", err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE conversations SET is_current = ? WHERE id = ?`), true, id)
		if err != nil {
			return fmt.Errorf("setting current conversation %s: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("setting current conversation %s: %w", id, err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil
	})
}

// Archive demotes a conversation from current. The transcript stays stored.
func (s *SQLStore) Archive(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE conversations SET is_current = ? WHERE id = ?`), false, id)
	if err != nil {
		return fmt.Errorf("archiving conversation %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("archiving conversation %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Delete removes a conversation; messages go with it through the cascade.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM conversations WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// ListAll returns a summary per stored conversation, most recently updated
// first.
func (s *SQLStore) ListAll(ctx context.Context) ([]Summary, error) {
	var rows []struct {
		conversationRow
		MessageCount int `db:"message_count"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT c.id, c.title, c.token_count, c.compacted, c.is_current, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id) AS message_count
		FROM conversations c
		ORDER BY c.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	summaries := make([]Summary, len(rows))
	for i, r := range rows {
		summaries[i] = Summary{
			ID:           r.ID,
			Title:        r.Title,
			MessageCount: r.MessageCount,
			TokenCount:   r.TokenCount,
			Compacted:    r.Compacted,
			Current:      r.Current,
			CreatedAt:    r.CreatedAt,
			UpdatedAt:    r.UpdatedAt,
		}
	}
	return summaries, nil
}

// ExportConversation renders one conversation in the portable JSON form.
func (s *SQLStore) ExportConversation(ctx context.Context, id string) ([]byte, error) {
	conv, err := s.LoadConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	return marshalConversation(conv)
}

// ImportConversation inserts a previously exported conversation. A colliding
// id gets reassigned (conversation and messages both) instead of
// overwriting the stored transcript.
func (s *SQLStore) ImportConversation(ctx context.Context, data []byte) (string, error) {
	conv, err := unmarshalConversation(data)
	if err != nil {
		return "", err
	}
	var exists bool
	err = s.db.GetContext(ctx, &exists,
		s.db.Rebind(`SELECT EXISTS (SELECT 1 FROM conversations WHERE id = ?)`), conv.ID)
	if err != nil {
		return "", fmt.Errorf("checking for id collision: %w", err)
	}
	if exists {
		old := conv.ID
		reassignIDs(conv)
		s.logger.Info("imported conversation id collides, reassigned",
			"old_id", old, "new_id", conv.ID)
	}
	conv.Current = false
	if err := s.SaveConversation(ctx, conv); err != nil {
		return "", err
	}
	return conv.ID, nil
}

// ExportAll renders every stored conversation as one portable JSON document.
func (s *SQLStore) ExportAll(ctx context.Context) ([]byte, error) {
	summaries, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	convs := make([]*Conversation, 0, len(summaries))
	for _, sum := range summaries {
		conv, err := s.LoadConversation(ctx, sum.ID)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return marshalBundle(convs)
}
