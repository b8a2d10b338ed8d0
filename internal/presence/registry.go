package presence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chat-relay/internal/database"
	"chat-relay/internal/kvstore"
	"chat-relay/internal/models"
	"chat-relay/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Conn is a live, admitted connection. Enqueue must not block: it reports
// false when the connection's outbound buffer is full, and the registry
// treats that connection as dead.
type Conn interface {
	ID() string
	UserID() int
	Enqueue(event *models.Event) bool
	Close()
}

func sessionKey(userID int) string {
	return fmt.Sprintf("session:%d", userID)
}

// Registry maps users to their live connections and owns online/offline
// transitions. Presence is reference-counted: a user with two open
// connections stays online until both close. Routing is last-connect-wins:
// targeted events go to the most recently admitted connection.
type Registry struct {
	db         database.Database
	store      kvstore.Store
	sessionTTL time.Duration

	mu     sync.Mutex
	conns  map[string]Conn
	byUser map[int][]string // connection ids in admit order, newest last
	users  map[int]*models.User
}

func NewRegistry(db database.Database, store kvstore.Store, sessionTTL time.Duration) *Registry {
	return &Registry{
		db:         db,
		store:      store,
		sessionTTL: sessionTTL,
		conns:      make(map[string]Conn),
		byUser:     make(map[int][]string),
		users:      make(map[int]*models.User),
	}
}

// Connect admits a connection. The first connection for a user marks them
// online durably and broadcasts the transition; the new connection always
// becomes the routing target and receives an online-users snapshot.
func (r *Registry) Connect(ctx context.Context, user *models.User, conn Conn) {
	u := *user
	u.IsOnline = true

	r.mu.Lock()
	r.conns[conn.ID()] = conn
	r.byUser[u.ID] = append(r.byUser[u.ID], conn.ID())
	wentOnline := len(r.byUser[u.ID]) == 1
	r.users[u.ID] = &u
	online := r.onlineIDsLocked()
	r.mu.Unlock()

	// Routing mirror and durable flag are independent of each other: the
	// ephemeral write may fail without affecting admission.
	if err := r.store.Set(ctx, sessionKey(u.ID), conn.ID(), r.sessionTTL); err != nil {
		logger.Warn("Failed to mirror session for user %d: %v", u.ID, err)
	}

	conn.Enqueue(&models.Event{Type: models.EventOnlineUsers, UserIDs: online})

	if wentOnline {
		if err := r.db.SetUserPresence(ctx, u.ID, true); err != nil {
			logger.Error("Failed to persist online flag for user %d: %v", u.ID, err)
		}
		r.Broadcast(&models.Event{
			Type:   models.EventPresenceChanged,
			UserID: u.ID,
			User:   &u,
			Status: models.StatusOnline,
		})
		logger.Info("User %d is online (%s)", u.ID, conn.ID())
	}
}

// Disconnect removes a connection. Safe to call more than once for the
// same connection; only the first call has any effect. The last connection
// for a user marks them offline, stamps last-seen, and broadcasts the
// transition exactly once.
func (r *Registry) Disconnect(ctx context.Context, conn Conn) {
	userID := conn.UserID()

	r.mu.Lock()
	if _, ok := r.conns[conn.ID()]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, conn.ID())

	ids := r.byUser[userID]
	wasCurrent := len(ids) > 0 && ids[len(ids)-1] == conn.ID()
	remaining := ids[:0]
	for _, id := range ids {
		if id != conn.ID() {
			remaining = append(remaining, id)
		}
	}

	var user *models.User
	wentOffline := len(remaining) == 0
	if wentOffline {
		delete(r.byUser, userID)
		user = r.users[userID]
		delete(r.users, userID)
	} else {
		r.byUser[userID] = remaining
	}

	var repointTo string
	if !wentOffline && wasCurrent {
		repointTo = remaining[len(remaining)-1]
	}
	r.mu.Unlock()

	if !wentOffline {
		if repointTo != "" {
			if err := r.store.Set(ctx, sessionKey(userID), repointTo, r.sessionTTL); err != nil {
				logger.Warn("Failed to repoint session for user %d: %v", userID, err)
			}
		}
		return
	}

	if err := r.store.Delete(ctx, sessionKey(userID)); err != nil {
		logger.Warn("Failed to clear session for user %d: %v", userID, err)
	}
	if err := r.db.SetUserPresence(ctx, userID, false); err != nil {
		logger.Error("Failed to persist offline flag for user %d: %v", userID, err)
	}

	event := &models.Event{
		Type:   models.EventPresenceChanged,
		UserID: userID,
		Status: models.StatusOffline,
	}
	if user != nil {
		u := *user
		u.IsOnline = false
		now := time.Now()
		u.LastSeen = &now
		event.User = &u
	}
	r.Broadcast(event)
	logger.Info("User %d is offline", userID)
}

// RouteTo resolves the connection targeted events for a user should go to,
// or nil when the user has no live connection.
func (r *Registry) RouteTo(userID int) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.byUser[userID]
	if len(ids) == 0 {
		return nil
	}
	return r.conns[ids[len(ids)-1]]
}

// Broadcast fans an event out to every admitted connection. Deliveries are
// independent: a connection that cannot accept the event is dropped rather
// than stalling the rest.
func (r *Registry) Broadcast(event *models.Event) {
	r.mu.Lock()
	targets := make([]Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		targets = append(targets, conn)
	}
	r.mu.Unlock()

	g := new(errgroup.Group)
	for _, conn := range targets {
		conn := conn
		g.Go(func() error {
			if !conn.Enqueue(event) {
				logger.Warn("Dropping stalled connection %s for user %d", conn.ID(), conn.UserID())
				r.Disconnect(context.Background(), conn)
				conn.Close()
			}
			return nil
		})
	}
	g.Wait()
}

// Touch refreshes the ephemeral session mirror on connection activity.
func (r *Registry) Touch(ctx context.Context, userID int) {
	r.mu.Lock()
	ids := r.byUser[userID]
	var current string
	if len(ids) > 0 {
		current = ids[len(ids)-1]
	}
	r.mu.Unlock()

	if current == "" {
		return
	}
	if err := r.store.Set(ctx, sessionKey(userID), current, r.sessionTTL); err != nil {
		logger.Warn("Failed to refresh session for user %d: %v", userID, err)
	}
}

// OnlineUserIDs returns the ids of every user with at least one live
// connection.
func (r *Registry) OnlineUserIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onlineIDsLocked()
}

func (r *Registry) onlineIDsLocked() []int {
	ids := make([]int, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
