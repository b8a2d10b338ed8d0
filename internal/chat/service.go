package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"chat-relay/internal/cache"
	"chat-relay/internal/config"
	"chat-relay/internal/database"
	"chat-relay/internal/kvstore"
	"chat-relay/internal/models"
	"chat-relay/internal/presence"
	"chat-relay/pkg/logger"
)

// ErrValidation marks a rejected operation: empty content or an unknown
// receiver. Nothing was persisted when this is returned.
var ErrValidation = errors.New("validation failed")

const maxPageSize = 100

func typingKey(toID, fromID int) string {
	return fmt.Sprintf("typing:%d:%d", toID, fromID)
}

// Service routes messages: it validates, persists, invalidates caches, and
// delivers to live connections. The durable write is authoritative and
// always completes before any acknowledgement or cache invalidation;
// ephemeral follow-ups degrade without failing the operation.
type Service struct {
	db       database.Database
	cache    *cache.Cache
	registry *presence.Registry
	store    kvstore.Store
	cfg      config.ChatConfig
}

func NewService(db database.Database, c *cache.Cache, registry *presence.Registry, store kvstore.Store, cfg config.ChatConfig) *Service {
	return &Service{
		db:       db,
		cache:    c,
		registry: registry,
		store:    store,
		cfg:      cfg,
	}
}

// Send persists a message and attempts real-time delivery. origin is the
// connection the send came in on; it receives the message_sent
// acknowledgement, and may be nil for the HTTP path where the response
// body is the acknowledgement. Self-messages are permitted.
func (s *Service) Send(ctx context.Context, senderID, receiverID int, content string, origin presence.Conn) (*models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: message content is required", ErrValidation)
	}
	if _, err := s.db.GetUserByID(ctx, receiverID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: receiver %d does not exist", ErrValidation, receiverID)
		}
		return nil, fmt.Errorf("failed to resolve receiver: %w", err)
	}

	msg, err := s.db.CreateMessage(ctx, senderID, receiverID, content)
	if err != nil {
		// Nothing was committed; no cache entry may be touched.
		return nil, err
	}

	// Invalidate before acknowledging so a history query issued after the
	// ack cannot hit a page that predates this message.
	s.invalidateConversation(ctx, senderID, receiverID)

	if conn := s.registry.RouteTo(receiverID); conn != nil {
		conn.Enqueue(&models.Event{Type: models.EventReceiveMessage, Message: msg})
	}
	if origin != nil {
		origin.Enqueue(&models.Event{Type: models.EventMessageSent, Message: msg})
	}

	return msg, nil
}

// MarkRead flips a message to read. Idempotent: re-marking an already-read
// message is a no-op, and the read receipt reaches the sender at most once.
func (s *Service) MarkRead(ctx context.Context, messageID, readerID int) error {
	msg, err := s.db.GetMessageByID(ctx, messageID)
	if err != nil {
		return err
	}

	transitioned, err := s.db.MarkMessageRead(ctx, messageID)
	if err != nil {
		return err
	}
	if !transitioned {
		return nil
	}

	s.invalidateConversation(ctx, msg.SenderID, msg.ReceiverID)

	if conn := s.registry.RouteTo(msg.SenderID); conn != nil {
		conn.Enqueue(&models.Event{
			Type:      models.EventMessageReadReceipt,
			MessageID: messageID,
			ReadBy:    readerID,
		})
	}
	return nil
}

// SetTyping records or clears typing state for the (recipient, sender)
// pair and notifies the recipient's live connection. Typing state expires
// on its own, so a lost stop event cannot leave the indicator stuck. The
// ephemeral store failing only loses the auto-expiry backstop; the event
// is still delivered.
func (s *Service) SetTyping(ctx context.Context, fromID, toID int, typing bool, displayName string) {
	key := typingKey(toID, fromID)

	var event *models.Event
	if typing {
		if err := s.store.Set(ctx, key, displayName, s.cfg.TypingTTL); err != nil {
			logger.Warn("Failed to record typing state %s: %v", key, err)
		}
		event = &models.Event{Type: models.EventUserTyping, UserID: fromID, UserName: displayName}
	} else {
		if err := s.store.Delete(ctx, key); err != nil {
			logger.Warn("Failed to clear typing state %s: %v", key, err)
		}
		event = &models.Event{Type: models.EventUserStoppedTyping, UserID: fromID}
	}

	if conn := s.registry.RouteTo(toID); conn != nil {
		conn.Enqueue(event)
	}
}

// History returns one ascending-time page of the conversation between two
// users, served read-through from the cache.
func (s *Service) History(ctx context.Context, userID, otherID, page, pageSize int) (*models.ConversationPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = s.cfg.DefaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	key := cache.Key(cache.KindChatHistory, userID, fmt.Sprintf("%d:%d:%d", otherID, page, pageSize))
	data, _, err := s.cache.ReadThrough(ctx, key, s.cfg.CacheTTL, func() ([]byte, error) {
		messages, total, err := s.db.FindConversation(ctx, userID, otherID, page, pageSize)
		if err != nil {
			return nil, err
		}
		result := &models.ConversationPage{
			Messages: messages,
			Pagination: models.Pagination{
				Page:       page,
				PageSize:   pageSize,
				Total:      total,
				TotalPages: (total + pageSize - 1) / pageSize,
			},
		}
		return json.Marshal(result)
	})
	if err != nil {
		return nil, err
	}

	result := &models.ConversationPage{}
	if err := json.Unmarshal(data, result); err != nil {
		return nil, fmt.Errorf("failed to decode cached conversation: %w", err)
	}
	return result, nil
}

// Contacts returns every user except the requester, sorted by display
// name, served read-through from the cache.
func (s *Service) Contacts(ctx context.Context, userID int) ([]*models.User, error) {
	key := cache.Key(cache.KindUsersList, userID, "all")
	data, _, err := s.cache.ReadThrough(ctx, key, s.cfg.CacheTTL, func() ([]byte, error) {
		users, err := s.db.ListUsersExcept(ctx, userID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(users)
	})
	if err != nil {
		return nil, err
	}

	var users []*models.User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("failed to decode cached users: %w", err)
	}
	return users, nil
}

// TypingSender reports whether from is currently marked as typing to the
// recipient, and under what display name.
func (s *Service) TypingSender(ctx context.Context, toID, fromID int) (string, bool) {
	name, ok, err := s.store.Get(ctx, typingKey(toID, fromID))
	if err != nil {
		logger.Warn("Failed to read typing state: %v", err)
		return "", false
	}
	return name, ok
}

func (s *Service) invalidateConversation(ctx context.Context, userA, userB int) {
	s.cache.Invalidate(ctx, cache.Key(cache.KindChatHistory, userA, fmt.Sprintf("%d:*", userB)))
	s.cache.Invalidate(ctx, cache.Key(cache.KindChatHistory, userB, fmt.Sprintf("%d:*", userA)))
	s.cache.Invalidate(ctx, cache.Key(cache.KindUsersList, userA, "all"))
	s.cache.Invalidate(ctx, cache.Key(cache.KindUsersList, userB, "all"))
}
