package models

import (
	"encoding/json"
	"fmt"
)

type ClientMessageType string

const (
	ClientMessageTypeJoin      ClientMessageType = "join"
	ClientMessageTypeLeave     ClientMessageType = "leave"
	ClientMessageTypeMessage   ClientMessageType = "message"
	ClientMessageTypeHeartbeat ClientMessageType = "heartbeat"
	ClientMessageTypeActive    ClientMessageType = "active"
)

// ClientMessage represents a frame sent from the client to the server.
type ClientMessage struct {
	Type       ClientMessageType `json:"type"`
	User       string            `json:"user,omitempty"`
	FromUserID string            `json:"from_user_id,omitempty"`
	ToUserID   string            `json:"to_user_id,omitempty"`
	Text       string            `json:"text,omitempty"`
	PeerID     string            `json:"peer_id,omitempty"`
}

type ServerMessageType string

const (
	ServerMessageTypeMessage             ServerMessageType = "message"
	ServerMessageTypeUserStatus          ServerMessageType = "user_status"
	ServerMessageTypeHeartbeatAck        ServerMessageType = "heartbeat_ack"
	ServerMessageTypeConversationUpdated ServerMessageType = "conversation_updated"
	ServerMessageTypeError               ServerMessageType = "error"
)

// ServerMessage represents a frame sent to the client. Only the fields relevant to Type are set.
type ServerMessage struct {
	Type ServerMessageType `json:"type"`

	// message
	ID         string `json:"id,omitempty"`
	Seq        int64  `json:"seq,omitempty"`
	From       string `json:"from,omitempty"`
	FromUserID string `json:"from_user_id,omitempty"`
	ToUserID   string `json:"to_user_id,omitempty"`
	Text       string `json:"text,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`

	// user_status
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	IsOnline *bool  `json:"is_online,omitempty"`

	// conversation_updated
	UnreadCount *int `json:"unread_count,omitempty"`

	// error
	Code string `json:"code,omitempty"`
}

// DecodeClientMessage parses one inbound frame. Any decode or validation problem is
// reported as ErrMalformedFrame.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch msg.Type {
	case ClientMessageTypeJoin, ClientMessageTypeLeave, ClientMessageTypeHeartbeat, ClientMessageTypeActive:
	case ClientMessageTypeMessage:
		if msg.ToUserID == "" {
			return ClientMessage{}, fmt.Errorf("%w: message without to_user_id", ErrMalformedFrame)
		}
	case "":
		return ClientMessage{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return ClientMessage{}, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, msg.Type)
	}
	return msg, nil
}

func NewMessageFrame(m Message, fromName string) ServerMessage {
	return ServerMessage{
		Type:       ServerMessageTypeMessage,
		ID:         m.ID,
		Seq:        m.Seq,
		From:       fromName,
		FromUserID: m.FromUserID,
		ToUserID:   m.ToUserID,
		Text:       m.Text,
		Timestamp:  m.Timestamp,
	}
}

func NewUserStatusFrame(userID, username string, online bool) ServerMessage {
	return ServerMessage{
		Type:     ServerMessageTypeUserStatus,
		UserID:   userID,
		Username: username,
		IsOnline: &online,
	}
}

func NewConversationUpdatedFrame(m Message, fromName string, unread int) ServerMessage {
	return ServerMessage{
		Type:        ServerMessageTypeConversationUpdated,
		From:        fromName,
		FromUserID:  m.FromUserID,
		ToUserID:    m.ToUserID,
		Timestamp:   m.Timestamp,
		UnreadCount: &unread,
	}
}

func NewErrorFrame(err error) ServerMessage {
	return ServerMessage{
		Type: ServerMessageTypeError,
		Code: ErrorCode(err),
		Text: err.Error(),
	}
}

func NewHeartbeatAck() ServerMessage {
	return ServerMessage{Type: ServerMessageTypeHeartbeatAck}
}
