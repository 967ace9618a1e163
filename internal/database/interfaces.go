package database

import (
	"context"

	"collab-app/internal/models"
)

// The sync core keeps authoritative room/document state in memory; the
// database only backs user accounts and chat history.

type UserRepository interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, req *models.RegisterRequest) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

type MessageRepository interface {
	SaveMessage(ctx context.Context, userID, roomID, content string) error
	LoadRecentMessages(ctx context.Context, roomID string, limit int) ([]*models.Message, error)
}

type Database interface {
	UserRepository
	MessageRepository
	Close() error
}
