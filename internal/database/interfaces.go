package database

import (
	"context"
	"errors"

	"chat-relay/internal/models"
)

// ErrNotFound is returned when a lookup resolves to no record.
var ErrNotFound = errors.New("record not found")

type UserRepository interface {
	UpsertUserByExternalID(ctx context.Context, profile *models.ExternalProfile) (*models.User, error)
	GetUserByID(ctx context.Context, id int) (*models.User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error)
	SetUserPresence(ctx context.Context, id int, online bool) error
	ListUsersExcept(ctx context.Context, id int) ([]*models.User, error)
}

type MessageRepository interface {
	CreateMessage(ctx context.Context, senderID, receiverID int, content string) (*models.Message, error)
	GetMessageByID(ctx context.Context, id int) (*models.Message, error)
	// MarkMessageRead flips the read flag and reports whether this call
	// performed the transition. A message that was already read returns false.
	MarkMessageRead(ctx context.Context, id int) (bool, error)
	FindConversation(ctx context.Context, userA, userB, page, pageSize int) ([]*models.Message, int, error)
}

type Database interface {
	UserRepository
	MessageRepository
	Close() error
}
