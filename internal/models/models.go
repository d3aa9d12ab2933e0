package models

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")

	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidRecipient   = errors.New("invalid recipient")
	ErrPersistenceFailure = errors.New("persistence failure")
	ErrDeliveryFailure    = errors.New("delivery failure")
	ErrMalformedFrame     = errors.New("malformed frame")
	ErrInvalidMessage     = errors.New("invalid message")
	ErrForbidden          = errors.New("forbidden")
	ErrRateLimited        = errors.New("rate limited")
)

// ErrorCode maps an error to the code string sent to clients in error frames.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRecipient):
		return "invalid_recipient"
	case errors.Is(err, ErrPersistenceFailure):
		return "persistence_failure"
	case errors.Is(err, ErrInvalidMessage):
		return "invalid_message"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrMalformedFrame):
		return "malformed_frame"
	default:
		return "internal_error"
	}
}

// User represents a user in the system.
type User struct {
	ID        string `json:"id"`
	UserName  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
	CreatedAt int64  `json:"created_at"`
	LastSeen  int64  `json:"last_seen,omitempty"` // Unix timestamp (seconds)
	IsOnline  bool   `json:"is_online"`
}

// Identity is the resolved owner of a token or a connection.
type Identity struct {
	UserID   string
	UserName string
}

// Message is a persisted direct message.
type Message struct {
	ID         string `json:"id"`
	Seq        int64  `json:"seq"`
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"` // Unix millis
}

// Pair is the unordered {a, b} conversation key. Low <= High.
type Pair struct {
	Low  string
	High string
}

func NewPair(a, b string) Pair {
	ids := []string{a, b}
	sort.Strings(ids)
	return Pair{Low: ids[0], High: ids[1]}
}

func (p Pair) Key() string {
	return p.Low + ":" + p.High
}

// Other returns the other party of the pair.
func (p Pair) Other(userID string) string {
	if p.Low == userID {
		return p.High
	}
	return p.Low
}

func ParsePairKey(key string) (Pair, bool) {
	low, high, ok := strings.Cut(key, ":")
	if !ok || low == "" || high == "" {
		return Pair{}, false
	}
	return Pair{Low: low, High: high}, true
}

type FriendStatus string

const (
	FriendStatusPending  FriendStatus = "pending"
	FriendStatusAccepted FriendStatus = "accepted"
	FriendStatusRejected FriendStatus = "rejected"
)

// Friendship is a directed request from RequesterID to AddresseeID.
type Friendship struct {
	RequesterID string       `json:"requester_id"`
	AddresseeID string       `json:"addressee_id"`
	Status      FriendStatus `json:"status"`
	CreatedAt   int64        `json:"created_at"`
	UpdatedAt   int64        `json:"updated_at"`
}

// Conversation summarizes a DM thread for the conversations list.
type Conversation struct {
	UserID        string `json:"user_id"`
	Username      string `json:"username"`
	IsOnline      bool   `json:"is_online"`
	LastMessage   string `json:"last_message"`
	LastMessageAt int64  `json:"last_message_at"`
	UnreadCount   int    `json:"unread_count"`
}

// PushSubscription is a browser web push endpoint registered by a user.
type PushSubscription struct {
	UserID   string `json:"user_id,omitempty"`
	Endpoint string `json:"endpoint"`
	Auth     string `json:"auth"`
	P256dh   string `json:"p256dh"`
}

type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
