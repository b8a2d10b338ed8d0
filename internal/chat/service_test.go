package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"chat-relay/internal/cache"
	"chat-relay/internal/config"
	"chat-relay/internal/database"
	"chat-relay/internal/kvstore"
	"chat-relay/internal/models"
	"chat-relay/internal/presence"
)

// fakeDB is an in-memory database.Database for exercising the router
// without Postgres.
type fakeDB struct {
	database.Database
	mu       sync.Mutex
	users    map[int]*models.User
	messages map[int]*models.Message
	nextID   int
}

func newFakeDB(users ...*models.User) *fakeDB {
	db := &fakeDB{
		users:    make(map[int]*models.User),
		messages: make(map[int]*models.Message),
	}
	for _, u := range users {
		db.users[u.ID] = u
	}
	return db
}

func (db *fakeDB) GetUserByID(_ context.Context, id int) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	user, ok := db.users[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	u := *user
	return &u, nil
}

func (db *fakeDB) ListUsersExcept(_ context.Context, id int) ([]*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var users []*models.User
	for _, u := range db.users {
		if u.ID != id {
			copied := *u
			users = append(users, &copied)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].FirstName < users[j].FirstName })
	return users, nil
}

func (db *fakeDB) SetUserPresence(_ context.Context, id int, online bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if user, ok := db.users[id]; ok {
		user.IsOnline = online
	}
	return nil
}

func (db *fakeDB) CreateMessage(_ context.Context, senderID, receiverID int, content string) (*models.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.nextID++
	msg := &models.Message{
		ID:         db.nextID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  time.Now(),
	}
	db.messages[msg.ID] = msg
	copied := *msg
	return &copied, nil
}

func (db *fakeDB) GetMessageByID(_ context.Context, id int) (*models.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	msg, ok := db.messages[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *msg
	return &copied, nil
}

func (db *fakeDB) MarkMessageRead(_ context.Context, id int) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	msg, ok := db.messages[id]
	if !ok {
		return false, nil
	}
	if msg.IsRead {
		return false, nil
	}
	msg.IsRead = true
	return true, nil
}

func (db *fakeDB) FindConversation(_ context.Context, userA, userB, page, pageSize int) ([]*models.Message, int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var all []*models.Message
	for _, m := range db.messages {
		if (m.SenderID == userA && m.ReceiverID == userB) || (m.SenderID == userB && m.ReceiverID == userA) {
			copied := *m
			all = append(all, &copied)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	total := len(all)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

type fakeConn struct {
	id     string
	userID int

	mu     sync.Mutex
	events []*models.Event
}

func (c *fakeConn) ID() string  { return c.id }
func (c *fakeConn) UserID() int { return c.userID }
func (c *fakeConn) Close()      {}

func (c *fakeConn) Enqueue(event *models.Event) bool {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
	return true
}

func (c *fakeConn) eventsOfType(t models.EventType) []*models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*models.Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type env struct {
	svc      *Service
	db       *fakeDB
	registry *presence.Registry
	store    kvstore.Store
}

func setupService(t *testing.T, cfg config.ChatConfig, users ...*models.User) *env {
	t.Helper()
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Minute
	}
	if cfg.TypingTTL == 0 {
		cfg.TypingTTL = 5 * time.Second
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = time.Minute
	}
	if cfg.DefaultPageSize == 0 {
		cfg.DefaultPageSize = 50
	}

	db := newFakeDB(users...)
	store := kvstore.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	registry := presence.NewRegistry(db, store, cfg.SessionTTL)
	return &env{
		svc:      NewService(db, cache.New(store), registry, store, cfg),
		db:       db,
		registry: registry,
		store:    store,
	}
}

func connect(e *env, user *models.User, connID string) *fakeConn {
	conn := &fakeConn{id: connID, userID: user.ID}
	e.registry.Connect(context.Background(), user, conn)
	return conn
}

func twoUsers() (*models.User, *models.User) {
	return &models.User{ID: 1, FirstName: "Alice"}, &models.User{ID: 2, FirstName: "Bob"}
}

func TestSendDeliversToConnectedReceiver(t *testing.T) {
	alice, bob := twoUsers()
	e := setupService(t, config.ChatConfig{}, alice, bob)
	ctx := context.Background()

	aliceConn := connect(e, alice, "conn-a")
	bobConn := connect(e, bob, "conn-b")

	before := time.Now()
	msg, err := e.svc.Send(ctx, 1, 2, "hi", aliceConn)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if msg.ID == 0 {
		t.Error("Expected persisted message to carry an id")
	}
	if msg.CreatedAt.Before(before) {
		t.Error("Expected server-assigned timestamp >= send time")
	}

	received := bobConn.eventsOfType(models.EventReceiveMessage)
	if len(received) != 1 {
		t.Fatalf("Expected 1 receive_message at receiver, got %d", len(received))
	}
	got := received[0].Message
	if got.Content != "hi" || got.SenderID != 1 || got.IsRead {
		t.Errorf("Unexpected delivered message: %+v", got)
	}

	acks := aliceConn.eventsOfType(models.EventMessageSent)
	if len(acks) != 1 {
		t.Fatalf("Expected 1 message_sent ack at sender, got %d", len(acks))
	}
	if acks[0].Message.ID != msg.ID {
		t.Errorf("Ack id %d does not match persisted id %d", acks[0].Message.ID, msg.ID)
	}
}

func TestSendToOfflineReceiverPersistsOnly(t *testing.T) {
	alice, bob := twoUsers()
	e := setupService(t, config.ChatConfig{}, alice, bob)
	ctx := context.Background()

	aliceConn := connect(e, alice, "conn-a")

	msg, err := e.svc.Send(ctx, 1, 2, "are you there?", aliceConn)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// No live connection, no real-time delivery.
	if got := aliceConn.eventsOfType(models.EventReceiveMessage); len(got) != 0 {
		t.Errorf("Expected no receive_message anywhere, got %d", len(got))
	}
	if got := aliceConn.eventsOfType(models.EventMessageSent); len(got) != 1 {
		t.Errorf("Expected message_sent ack at sender, got %d", len(got))
	}

	// Later, the receiver loads history and finds the message unread.
	page, err := e.svc.History(ctx, 2, 1, 1, 50)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].ID != msg.ID || page.Messages[0].IsRead {
		t.Errorf("Expected unread persisted message in history, got %+v", page.Messages)
	}
}

func TestSendValidation(t *testing.T) {
	alice, bob := twoUsers()
	e := setupService(t, config.ChatConfig{}, alice, bob)
	ctx := context.Background()

	if _, err := e.svc.Send(ctx, 1, 2, "   ", nil); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for empty content, got %v", err)
	}
	if _, err := e.svc.Send(ctx, 1, 42, "hello", nil); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for unknown receiver, got %v", err)
	}

	// Rejected sends persist nothing.
	page, err := e.svc.History(ctx, 1, 2, 1, 50)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(page.Messages) != 0 {
		t.Errorf("Expected empty history after rejected sends, got %d messages", len(page.Messages))
	}
}

func TestSendSelfMessagePermitted(t *testing.T) {
	alice, _ := twoUsers()
	e := setupService(t, config.ChatConfig{}, alice)
	ctx := context.Background()

	conn := connect(e, alice, "conn-a")
	if _, err := e.svc.Send(ctx, 1, 1, "note to self", conn); err != nil {
		t.Fatalf("Self-message rejected: %v", err)
	}
	if got := conn.eventsOfType(models.EventReceiveMessage); len(got) != 1 {
		t.Errorf("Expected self-message delivery, got %d events", len(got))
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	alice, bob := twoUsers()
	e := setupService(t, config.ChatConfig{}, alice, bob)
	ctx := context.Background()

	aliceConn := connect(e, alice, "conn-a")

	msg, err := e.svc.Send(ctx, 1, 2, "hi", aliceConn)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if err := e.svc.MarkRead(ctx, msg.ID, 2); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if err := e.svc.MarkRead(ctx, msg.ID, 2); err != nil {
		t.Fatalf("Second MarkRead failed: %v", err)
	}

	stored, err := e.db.GetMessageByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessageByID failed: %v", err)
	}
	if !stored.IsRead {
		t.Error("Expected message to be read")
	}

	receipts := aliceConn.eventsOfType(models.EventMessageReadReceipt)
	if len(receipts) != 1 {
		t.Fatalf("Expected exactly 1 read receipt at sender, got %d", len(receipts))
	}
	if receipts[0].MessageID != msg.ID || receipts[0].ReadBy != 2 {
		t.Errorf("Unexpected receipt payload: %+v", receipts[0])
	}
}

func TestMarkReadUnknownMessage(t *testing.T) {
	alice, bob := twoUsers()
	e := setupService(t, config.ChatConfig{}, alice, bob)

	err := e.svc.MarkRead(context.Background(), 999, 2)
	if !errors.Is(err, database.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestHistoryReflectsSendImmediately(t *testing.T) {
	alice, bob := twoUsers()
	e := setupService(t, config.ChatConfig{}, alice, bob)
	ctx := context.Background()

	if _, err := e.svc.Send(ctx, 1, 2, "first", nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// Prime the cache for both directions of the pair.
	if _, err := e.svc.History(ctx, 1, 2, 1, 50); err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if _, err := e.svc.History(ctx, 2, 1, 1, 50); err != nil {
		t.Fatalf("History failed: %v", err)
	}

	if _, err := e.svc.Send(ctx, 1, 2, "second", nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// Invalidation-before-return: no stale cache hit on either side.
	for _, pair := range [][2]int{{1, 2}, {2, 1}} {
		page, err := e.svc.History(ctx, pair[0], pair[1], 1, 50)
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(page.Messages) != 2 {
			t.Fatalf("Expected 2 messages for %v, got %d", pair, len(page.Messages))
		}
		if page.Messages[1].Content != "second" {
			t.Errorf("Expected newest message last, got %q", page.Messages[1].Content)
		}
	}
}

func TestHistoryPagination(t *testing.T) {
	alice, bob := twoUsers()
	e := setupService(t, config.ChatConfig{}, alice, bob)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := e.svc.Send(ctx, 1, 2, fmt.Sprintf("msg %d", i), nil); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	page, err := e.svc.History(ctx, 1, 2, 2, 2)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if page.Pagination.Total != 5 || page.Pagination.TotalPages != 3 {
		t.Errorf("Unexpected pagination: %+v", page.Pagination)
	}
	if len(page.Messages) != 2 {
		t.Fatalf("Expected 2 messages on page 2, got %d", len(page.Messages))
	}
	if page.Messages[0].Content != "msg 2" {
		t.Errorf("Expected page 2 to start at msg 2, got %q", page.Messages[0].Content)
	}
}

func TestTypingAutoExpiry(t *testing.T) {
	alice, bob := twoUsers()
	e := setupService(t, config.ChatConfig{TypingTTL: 30 * time.Millisecond}, alice, bob)
	ctx := context.Background()

	bobConn := connect(e, bob, "conn-b")

	e.svc.SetTyping(ctx, 1, 2, true, "Alice")

	if name, ok := e.svc.TypingSender(ctx, 2, 1); !ok || name != "Alice" {
		t.Errorf("Expected typing state (Alice, true), got (%q, %v)", name, ok)
	}
	if got := bobConn.eventsOfType(models.EventUserTyping); len(got) != 1 || got[0].UserName != "Alice" {
		t.Errorf("Expected user_typing event at recipient, got %v", got)
	}

	// No stop event: the indicator clears on its own.
	time.Sleep(60 * time.Millisecond)
	if _, ok := e.svc.TypingSender(ctx, 2, 1); ok {
		t.Error("Expected typing state to expire without a stop event")
	}
}

func TestTypingStop(t *testing.T) {
	alice, bob := twoUsers()
	e := setupService(t, config.ChatConfig{}, alice, bob)
	ctx := context.Background()

	bobConn := connect(e, bob, "conn-b")

	e.svc.SetTyping(ctx, 1, 2, true, "Alice")
	e.svc.SetTyping(ctx, 1, 2, false, "Alice")

	if _, ok := e.svc.TypingSender(ctx, 2, 1); ok {
		t.Error("Expected typing state cleared after stop")
	}
	if got := bobConn.eventsOfType(models.EventUserStoppedTyping); len(got) != 1 || got[0].UserID != 1 {
		t.Errorf("Expected user_stopped_typing event, got %v", got)
	}
}

func TestContactsSortedAndCached(t *testing.T) {
	alice := &models.User{ID: 1, FirstName: "Alice"}
	bob := &models.User{ID: 2, FirstName: "Bob"}
	carol := &models.User{ID: 3, FirstName: "Carol"}
	e := setupService(t, config.ChatConfig{}, alice, bob, carol)
	ctx := context.Background()

	users, err := e.svc.Contacts(ctx, 2)
	if err != nil {
		t.Fatalf("Contacts failed: %v", err)
	}
	if len(users) != 2 || users[0].FirstName != "Alice" || users[1].FirstName != "Carol" {
		t.Errorf("Unexpected contact list: %v", users)
	}
}
