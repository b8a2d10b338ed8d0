package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chat-relay/internal/chat"
	"chat-relay/internal/models"
	"chat-relay/internal/presence"
	"chat-relay/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	pingInterval  = 54 * time.Second
)

// Client owns one admitted connection: all outbound writes go through its
// single write pump, so events enqueued for this connection are delivered
// in order. Closing the client abandons whatever is still queued; durable
// effects of operations it already triggered stand.
type Client struct {
	conn     *websocket.Conn
	send     chan *models.Event
	done     chan struct{}
	once     sync.Once
	id       string
	user     *models.User
	registry *presence.Registry
	chat     *chat.Service
}

func NewClient(conn *websocket.Conn, user *models.User, registry *presence.Registry, chatService *chat.Service) *Client {
	return &Client{
		conn:     conn,
		send:     make(chan *models.Event, 256),
		done:     make(chan struct{}),
		id:       uuid.NewString(),
		user:     user,
		registry: registry,
		chat:     chatService,
	}
}

func (c *Client) ID() string  { return c.id }
func (c *Client) UserID() int { return c.user.ID }

// Enqueue hands an event to the write pump without blocking. False means
// the connection is closed or its buffer is full; the registry drops it.
func (c *Client) Enqueue(event *models.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) ReadPump() {
	defer func() {
		c.registry.Disconnect(context.Background(), c)
		c.Close()
		c.conn.Close()
	}()

	// Read deadline and pong handler for connection health
	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		event := &models.Event{}
		if err := c.conn.ReadJSON(event); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error for user %d: %v", c.user.ID, err)
			}
			return
		}

		ctx := context.Background()
		c.registry.Touch(ctx, c.user.ID)
		c.handleEvent(ctx, event)
	}
}

func (c *Client) handleEvent(ctx context.Context, event *models.Event) {
	switch event.Type {
	case models.EventSendMessage:
		if _, err := c.chat.Send(ctx, c.user.ID, event.ReceiverID, event.Content, c); err != nil {
			logger.Error("Send failed for user %d: %v", c.user.ID, err)
			reason := "failed to send message"
			if errors.Is(err, chat.ErrValidation) {
				reason = err.Error()
			}
			c.Enqueue(&models.Event{Type: models.EventMessageError, Error: reason})
		}

	case models.EventTypingStart:
		c.chat.SetTyping(ctx, c.user.ID, event.ReceiverID, true, c.user.FirstName)

	case models.EventTypingStop:
		c.chat.SetTyping(ctx, c.user.ID, event.ReceiverID, false, c.user.FirstName)

	case models.EventMessageRead:
		if err := c.chat.MarkRead(ctx, event.MessageID, c.user.ID); err != nil {
			logger.Error("MarkRead failed for user %d: %v", c.user.ID, err)
		}

	case models.EventGetOnlineUsers:
		c.Enqueue(&models.Event{Type: models.EventOnlineUsers, UserIDs: c.registry.OnlineUserIDs()})

	default:
		c.Enqueue(&models.Event{
			Type:  models.EventMessageError,
			Error: fmt.Sprintf("unknown event type %q", event.Type),
		})
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case event := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteJSON(event); err != nil {
				logger.Error("Write error for user %d: %v", c.user.ID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
