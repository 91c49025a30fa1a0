package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository is the append-only message log for conversations.
type MessageRepository interface {
	AppendMessage(ctx context.Context, conversationID, senderID, receiverID, content string) (models.Message, error)
	ListMessages(ctx context.Context, conversationID string, sinceSeq int64) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, readerID string) ([]models.Message, error)
	CountUnread(ctx context.Context, conversationID, userID string) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, seq, conversation_id, sender_id, receiver_id, content, status, created_at`

// AppendMessage stores a message. The store assigns seq and created_at, so
// concurrent appends simply interleave; they never conflict.
func (r *MessageRepo) AppendMessage(ctx context.Context, conversationID, senderID, receiverID, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, status)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING `+messageColumns,
		uuid.NewString(), conversationID, senderID, receiverID, content, models.StatusDelivered).
		StructScan(&msg)
	return msg, err
}

// ListMessages returns the conversation's messages in (created_at, seq)
// order. A non-zero sinceSeq restricts the read to rows after that cursor,
// which is how clients catch up after a dropped stream.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID string, sinceSeq int64) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
        WHERE conversation_id=$1 AND seq > $2
        ORDER BY created_at ASC, seq ASC`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, conversationID, sinceSeq)
	return msgs, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// MarkConversationRead marks everything the reader received as read and
// returns the rows that changed. The predicate only ever moves a status
// forward, keeping the sent -> delivered -> read progression monotonic.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, conversationID, readerID string) ([]models.Message, error) {
	query := `UPDATE messages SET status=$3
        WHERE conversation_id=$1 AND sender_id <> $2 AND status <> $3
        RETURNING ` + messageColumns
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, conversationID, readerID, models.StatusRead)
	return msgs, err
}

// CountUnread counts messages the user has not read in a conversation.
func (r *MessageRepo) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE conversation_id=$1 AND sender_id <> $2 AND status <> $3`,
		conversationID, userID, models.StatusRead)
	return count, err
}
