package database

import (
	"context"
	"errors"
	"fmt"

	"chat-relay/internal/models"
	"chat-relay/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

const userColumns = `id, external_id, first_name, last_name, email, profile_picture, is_online, last_seen, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID, &user.ExternalID, &user.FirstName, &user.LastName,
		&user.Email, &user.ProfilePicture, &user.IsOnline, &user.LastSeen, &user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// User Repository Implementation
func (db *PostgresDB) UpsertUserByExternalID(ctx context.Context, profile *models.ExternalProfile) (*models.User, error) {
	query := `
		INSERT INTO users (external_id, first_name, last_name, email, profile_picture, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (external_id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			email = EXCLUDED.email,
			profile_picture = EXCLUDED.profile_picture
		RETURNING ` + userColumns

	row := db.pool.QueryRow(ctx, query,
		profile.ExternalID, profile.FirstName, profile.LastName, profile.Email, profile.ProfilePicture,
	)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return user, nil
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id int) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(db.pool.QueryRow(ctx, query, id))
}

func (db *PostgresDB) GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE external_id = $1`
	return scanUser(db.pool.QueryRow(ctx, query, externalID))
}

func (db *PostgresDB) SetUserPresence(ctx context.Context, id int, online bool) error {
	var query string
	if online {
		query = `UPDATE users SET is_online = true WHERE id = $1`
	} else {
		query = `UPDATE users SET is_online = false, last_seen = NOW() WHERE id = $1`
	}
	_, err := db.pool.Exec(ctx, query, id)
	return err
}

func (db *PostgresDB) ListUsersExcept(ctx context.Context, id int) ([]*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id != $1
		ORDER BY first_name, last_name`

	rows, err := db.pool.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// Message Repository Implementation
func (db *PostgresDB) CreateMessage(ctx context.Context, senderID, receiverID int, content string) (*models.Message, error) {
	query := `
		INSERT INTO messages (sender_id, receiver_id, content, is_read, created_at)
		VALUES ($1, $2, $3, false, NOW())
		RETURNING id, sender_id, receiver_id, content, is_read, created_at`

	msg := &models.Message{}
	err := db.pool.QueryRow(ctx, query, senderID, receiverID, content).Scan(
		&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.IsRead, &msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	return msg, nil
}

func (db *PostgresDB) GetMessageByID(ctx context.Context, id int) (*models.Message, error) {
	query := `SELECT id, sender_id, receiver_id, content, is_read, created_at FROM messages WHERE id = $1`

	msg := &models.Message{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.IsRead, &msg.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return msg, nil
}

func (db *PostgresDB) MarkMessageRead(ctx context.Context, id int) (bool, error) {
	query := `UPDATE messages SET is_read = true WHERE id = $1 AND is_read = false`
	tag, err := db.pool.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (db *PostgresDB) FindConversation(ctx context.Context, userA, userB, page, pageSize int) ([]*models.Message, int, error) {
	countQuery := `
		SELECT COUNT(*)
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)`

	var total int
	if err := db.pool.QueryRow(ctx, countQuery, userA, userB).Scan(&total); err != nil {
		return nil, 0, err
	}

	// Order by commit time with id as the tiebreaker so a page is stable
	// across reads even when two messages share a timestamp.
	query := `
		SELECT id, sender_id, receiver_id, content, is_read, created_at
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at ASC, id ASC
		LIMIT $3 OFFSET $4`

	offset := (page - 1) * pageSize
	rows, err := db.pool.Query(ctx, query, userA, userB, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.IsRead, &msg.CreatedAt); err != nil {
			return nil, 0, err
		}
		messages = append(messages, msg)
	}

	return messages, total, rows.Err()
}
