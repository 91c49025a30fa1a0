package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrSelfConversation     = errors.New("cannot start a conversation with yourself")
)

// ConversationRepository is the conversation directory: it resolves the
// single conversation for a participant pair and serves per-viewer listings.
type ConversationRepository interface {
	GetOrCreateConversation(ctx context.Context, clientID, freelancerID string) (models.Conversation, bool, error)
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	TouchLastMessage(ctx context.Context, conversationID, preview string, at time.Time) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `id, client_id, freelancer_id, pair_key, status, last_message, created_at, updated_at`

// GetOrCreateConversation returns the conversation between the two users,
// creating it on first contact. The pair key's uniqueness constraint
// serializes concurrent first contact: the losing insert is a no-op and both
// callers resolve to the same row.
func (r *ConversationRepo) GetOrCreateConversation(ctx context.Context, clientID, freelancerID string) (models.Conversation, bool, error) {
	if clientID == freelancerID {
		return models.Conversation{}, false, ErrSelfConversation
	}
	pairKey := models.PairKey(clientID, freelancerID)

	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE pair_key=$1`, pairKey)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, false, err
	}

	res, err := r.db.ExecContext(ctx, `INSERT INTO conversations (id, client_id, freelancer_id, pair_key, status, last_message)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (pair_key) DO NOTHING`,
		uuid.NewString(), clientID, freelancerID, pairKey, models.PresenceOnline, models.LastMessagePlaceholder)
	if err != nil {
		return models.Conversation{}, false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return models.Conversation{}, false, err
	}

	// Re-select either way: on a lost race the surviving row is the peer's.
	if err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE pair_key=$1`, pairKey); err != nil {
		return models.Conversation{}, false, err
	}
	return conv, inserted == 1, nil
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// IsParticipant checks whether a user belongs to the conversation.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id=$1 AND (client_id=$2 OR freelancer_id=$2))`, conversationID, userID)
	return exists, err
}

// ListConversationsForUser returns the user's conversations most recent
// first, each annotated with the other participant and the count of messages
// the user has not read yet.
func (r *ConversationRepo) ListConversationsForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	query := `SELECT c.id, c.client_id, c.freelancer_id, c.pair_key, c.status, c.last_message, c.created_at, c.updated_at,
            (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id AND m.sender_id <> $1 AND m.status <> $2) AS unread_count
        FROM conversations c
        WHERE c.client_id=$1 OR c.freelancer_id=$1
        ORDER BY c.updated_at DESC`
	rows, err := r.db.QueryxContext(ctx, query, userID, models.StatusRead)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.ConversationSummary
	for rows.Next() {
		var row struct {
			models.Conversation
			UnreadCount int `db:"unread_count"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		result = append(result, models.ConversationSummary{
			ConversationID: row.ID,
			ParticipantID:  row.OtherParticipant(userID),
			LastMessage:    row.LastMessage,
			UnreadCount:    row.UnreadCount,
			UpdatedAt:      row.UpdatedAt,
		})
	}
	return result, rows.Err()
}

// TouchLastMessage refreshes the denormalized preview. The guard keeps the
// newest write: concurrent appends race on a display cache, not on the log,
// so last-writer-by-timestamp is enough.
func (r *ConversationRepo) TouchLastMessage(ctx context.Context, conversationID, preview string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE conversations SET last_message=$2, updated_at=$3 WHERE id=$1 AND updated_at < $3`, conversationID, preview, at)
	return err
}
