package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository is the marketplace's user directory. Profiles are synced in
// from the identity provider and resolved here to annotate conversations.
type UserRepository interface {
	GetProfile(ctx context.Context, userID string) (models.UserProfile, error)
	BulkProfiles(ctx context.Context, userIDs []string) ([]models.UserProfile, error)
	UpsertProfile(ctx context.Context, profile models.UserProfile) (models.UserProfile, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetProfile fetches one profile by id.
func (r *UserRepo) GetProfile(ctx context.Context, userID string) (models.UserProfile, error) {
	var profile models.UserProfile
	err := r.db.GetContext(ctx, &profile, `SELECT id, display_name, role, created_at FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserProfile{}, ErrUserNotFound
	}
	return profile, err
}

// BulkProfiles fetches several profiles in one query. Missing ids are simply
// absent from the result.
func (r *UserRepo) BulkProfiles(ctx context.Context, userIDs []string) ([]models.UserProfile, error) {
	if len(userIDs) == 0 {
		return []models.UserProfile{}, nil
	}
	query, args, err := sqlx.In(`SELECT id, display_name, role, created_at FROM users WHERE id IN (?)`, userIDs)
	if err != nil {
		return nil, err
	}
	query = r.db.Rebind(query)
	var profiles []models.UserProfile
	err = r.db.SelectContext(ctx, &profiles, query, args...)
	return profiles, err
}

// UpsertProfile creates or refreshes the directory record for a user.
func (r *UserRepo) UpsertProfile(ctx context.Context, profile models.UserProfile) (models.UserProfile, error) {
	var saved models.UserProfile
	err := r.db.QueryRowxContext(ctx, `INSERT INTO users (id, display_name, role)
        VALUES ($1, $2, $3)
        ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, role = EXCLUDED.role
        RETURNING id, display_name, role, created_at`,
		profile.ID, profile.DisplayName, profile.Role).
		StructScan(&saved)
	return saved, err
}
