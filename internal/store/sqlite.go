// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is the storage format for timestamps. Nanoseconds are
// zero-padded to a fixed width so that lexical order on the TEXT column
// matches chronological order; RFC3339Nano trims trailing zeros and
// breaks that equivalence.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys so conversation deletes cascade to messages
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id              TEXT PRIMARY KEY,
			pet_id          TEXT NOT NULL,
			adopter_id      TEXT NOT NULL,
			owner_id        TEXT NOT NULL,
			title           TEXT NOT NULL,
			last_message_at TEXT NOT NULL,
			created_at      TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_triple
			ON conversations(pet_id, adopter_id, owner_id);

		CREATE INDEX IF NOT EXISTS idx_conversations_pet
			ON conversations(pet_id);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id       TEXT NOT NULL,
			content         TEXT NOT NULL,
			is_read         INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateConversation creates a conversation for a (pet, adopter, owner)
// triple. Creation is idempotent: if a conversation already exists for the
// triple, the existing one is returned. The insert/lookup race with a
// concurrent creator is resolved by retrying the lookup on a UNIQUE
// constraint violation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) (*Conversation, error) {
	if existing, err := s.GetConversationByTriple(ctx, conv.PetID, conv.AdopterID, conv.OwnerID); err == nil {
		return existing, nil
	} else if err != ErrNotFound {
		return nil, err
	}

	now := time.Now().UTC()
	created := &Conversation{
		ID:            conv.ID,
		PetID:         conv.PetID,
		AdopterID:     conv.AdopterID,
		OwnerID:       conv.OwnerID,
		Title:         conv.Title,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	if created.ID == "" {
		created.ID = uuid.New().String()
	}

	query := `
		INSERT INTO conversations (id, pet_id, adopter_id, owner_id, title, last_message_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		created.ID,
		created.PetID,
		created.AdopterID,
		created.OwnerID,
		created.Title,
		created.LastMessageAt.Format(timeLayout),
		created.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		if isConstraintViolation(err) {
			// Another request created the conversation between our lookup
			// and insert. The existing row wins.
			existing, lookupErr := s.GetConversationByTriple(ctx, conv.PetID, conv.AdopterID, conv.OwnerID)
			if lookupErr == nil {
				s.logger.Debug("found existing conversation after race", "id", existing.ID)
				return existing, nil
			}
			return nil, fmt.Errorf("%w: retry lookup failed: %v", ErrDuplicateConversation, lookupErr)
		}
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation",
		"id", created.ID,
		"pet_id", created.PetID,
		"adopter_id", created.AdopterID,
		"owner_id", created.OwnerID)
	return created, nil
}

// GetConversation retrieves a conversation by its ID
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, pet_id, adopter_id, owner_id, title, last_message_at, created_at
		FROM conversations
		WHERE id = ?
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, id))
}

// GetConversationByTriple retrieves the unique conversation for a
// (pet, adopter, owner) triple
func (s *SQLiteStore) GetConversationByTriple(ctx context.Context, petID, adopterID, ownerID string) (*Conversation, error) {
	query := `
		SELECT id, pet_id, adopter_id, owner_id, title, last_message_at, created_at
		FROM conversations
		WHERE pet_id = ? AND adopter_id = ? AND owner_id = ?
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, petID, adopterID, ownerID))
}

// ListConversations returns all conversations the user participates in,
// most recently active first
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	query := `
		SELECT id, pet_id, adopter_id, owner_id, title, last_message_at, created_at
		FROM conversations
		WHERE adopter_id = ? OR owner_id = ?
		ORDER BY last_message_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		conv, err := s.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// DeletePetConversations removes all conversations referencing the pet,
// cascading to their messages. Invoked when a pet listing is deleted.
// ownerID must match the owner on the pet's conversations; ErrNotOwner is
// returned otherwise and nothing is deleted.
func (s *SQLiteStore) DeletePetConversations(ctx context.Context, petID, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var foreign int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE pet_id = ? AND owner_id != ?`,
		petID, ownerID,
	).Scan(&foreign)
	if err != nil {
		return fmt.Errorf("checking pet ownership: %w", err)
	}
	if foreign > 0 {
		return ErrNotOwner
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM conversations WHERE pet_id = ? AND owner_id = ?`,
		petID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("deleting conversations for pet: %w", err)
	}
	n, _ := result.RowsAffected()

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cascade delete: %w", err)
	}
	if n > 0 {
		s.logger.Info("deleted conversations for pet", "pet_id", petID, "owner_id", ownerID, "count", n)
	}
	return nil
}

// CreateMessage persists a new message and advances the conversation's
// last_message_at in the same transaction. The assigned created_at is
// strictly greater than any earlier message in the conversation so that
// chronological ordering is total.
func (s *SQLiteStore) CreateMessage(ctx context.Context, conversationID, senderID, content string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, ErrNotParticipant
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := time.Now().UTC()

	// Keep created_at strictly monotonic per conversation even when two
	// messages land within the clock's resolution.
	var lastStr sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM messages WHERE conversation_id = ?`,
		conversationID,
	).Scan(&lastStr)
	if err != nil {
		return nil, fmt.Errorf("querying last message time: %w", err)
	}
	if lastStr.Valid {
		last, parseErr := time.Parse(timeLayout, lastStr.String)
		if parseErr == nil && !createdAt.After(last) {
			createdAt = last.Add(time.Microsecond)
		}
	}

	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		IsRead:         false,
		CreatedAt:      createdAt,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, is_read, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.Content,
		msg.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = ? WHERE id = ?`,
		msg.CreatedAt.Format(timeLayout),
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("touching last_message_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("created message",
		"id", msg.ID,
		"conversation_id", conversationID,
		"sender_id", senderID)
	return msg, nil
}

// ListMessages returns all messages in a conversation ordered by created_at
// ascending (ties broken by id for a stable order)
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, is_read, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var isRead int
		var createdAtStr string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &isRead, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.IsRead = isRead != 0
		msg.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// MarkMessagesRead flips is_read to true for the given message ids.
// Only messages belonging to conversationID are considered; ids from other
// conversations are silently skipped, so a caller can never flip state it
// was not authorized against. Messages sent by the reader are also skipped:
// a sender never marks their own messages read. Returns the ids that
// actually transitioned.
func (s *SQLiteStore) MarkMessagesRead(ctx context.Context, conversationID string, messageIDs []string, readerID string) ([]string, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(messageIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(messageIDs)+2)
	for _, id := range messageIDs {
		args = append(args, id)
	}
	args = append(args, conversationID, readerID)

	// Select first so we can report exactly which ids flipped
	selectQuery := fmt.Sprintf(`
		SELECT id FROM messages
		WHERE id IN (%s) AND conversation_id = ? AND sender_id != ? AND is_read = 0
	`, placeholders)

	rows, err := s.db.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("querying unread messages: %w", err)
	}
	var updated []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning message id: %w", err)
		}
		updated = append(updated, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(updated) == 0 {
		return nil, nil
	}

	updateQuery := fmt.Sprintf(`
		UPDATE messages SET is_read = 1
		WHERE id IN (%s) AND conversation_id = ? AND sender_id != ? AND is_read = 0
	`, placeholders)
	if _, err := s.db.ExecContext(ctx, updateQuery, args...); err != nil {
		return nil, fmt.Errorf("marking messages read: %w", err)
	}

	s.logger.Debug("marked messages read",
		"conversation_id", conversationID,
		"reader_id", readerID,
		"count", len(updated))
	return updated, nil
}

// rowScanner abstracts sql.Row and sql.Rows for shared scanning
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var lastMessageAtStr, createdAtStr string

	err := row.Scan(
		&conv.ID,
		&conv.PetID,
		&conv.AdopterID,
		&conv.OwnerID,
		&conv.Title,
		&lastMessageAtStr,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	conv.LastMessageAt, err = time.Parse(timeLayout, lastMessageAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_message_at: %w", err)
	}
	conv.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &conv, nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}
