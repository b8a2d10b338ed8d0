package models

import "time"

type User struct {
	ID             int        `json:"id"`
	ExternalID     string     `json:"external_id"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Email          string     `json:"email,omitempty"`
	ProfilePicture string     `json:"profile_picture,omitempty"`
	IsOnline       bool       `json:"is_online"`
	LastSeen       *time.Time `json:"last_seen,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type Message struct {
	ID         int       `json:"id"`
	SenderID   int       `json:"sender_id"`
	ReceiverID int       `json:"receiver_id"`
	Content    string    `json:"content"`
	IsRead     bool      `json:"is_read"`
	CreatedAt  time.Time `json:"created_at"`
}

// ExternalProfile is the identity handed over by the provider-exchange
// layer after it verified the user with the third party. The exchange
// itself (OAuth code flow) happens outside this service.
type ExternalProfile struct {
	ExternalID     string `json:"external_id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Email          string `json:"email"`
	ProfilePicture string `json:"profile_picture"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type ConversationPage struct {
	Messages   []*Message `json:"messages"`
	Pagination Pagination `json:"pagination"`
}

type SendMessageRequest struct {
	ReceiverID int    `json:"receiver_id"`
	Content    string `json:"content"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
