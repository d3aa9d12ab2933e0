package storage

import (
	"encoding"
	"encoding/binary"
	"strings"

	"duet/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID           string `msgpack:"id"`
	UserName     string `msgpack:"userName"`
	AvatarURL    string `msgpack:"avatarUrl"`
	CreatedAt    int64  `msgpack:"createdAt"`
	LastSeen     int64  `msgpack:"lastSeen"`
	PasswordHash string `msgpack:"passwordHash"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

// NameKey is the case-insensitive username index key.
func (u *DBUser) NameKey() []byte {
	return usernameKey(u.UserName)
}

func usernameKey(name string) []byte {
	return []byte(strings.ToLower(name))
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

func (u *DBUser) toModel() models.User {
	return models.User{
		ID:        u.ID,
		UserName:  u.UserName,
		AvatarURL: u.AvatarURL,
		CreatedAt: u.CreatedAt,
		LastSeen:  u.LastSeen,
	}
}

// DBConversation tracks the tail of one pair's message log.
type DBConversation struct {
	Low           string `msgpack:"low"`
	High          string `msgpack:"high"`
	LastSeq       int64  `msgpack:"lastSeq"`
	LastTimestamp int64  `msgpack:"lastTimestamp"`
	LastMessageID string `msgpack:"lastMessageId"`
	LastFrom      string `msgpack:"lastFrom"`
	LastText      string `msgpack:"lastText"`
}

func (c *DBConversation) Key() []byte {
	return []byte(models.Pair{Low: c.Low, High: c.High}.Key())
}

func (c *DBConversation) MarshalBinary() (data []byte, err error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}

func (c *DBConversation) lastMessage() models.Message {
	pair := models.Pair{Low: c.Low, High: c.High}
	return models.Message{
		ID:         c.LastMessageID,
		Seq:        c.LastSeq,
		FromUserID: c.LastFrom,
		ToUserID:   pair.Other(c.LastFrom),
		Text:       c.LastText,
		Timestamp:  c.LastTimestamp,
	}
}

type DBMessage struct {
	ID         string `msgpack:"id"`
	Seq        int64  `msgpack:"seq"`
	Timestamp  int64  `msgpack:"timestamp"`
	FromUserID string `msgpack:"fromUserId"`
	ToUserID   string `msgpack:"toUserId"`
	Text       string `msgpack:"text"`
}

func (m *DBMessage) Key() []byte {
	return seqKey(m.Seq)
}

func seqKey(seq int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(seq))
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

func (m *DBMessage) toModel() models.Message {
	return models.Message{
		ID:         m.ID,
		Seq:        m.Seq,
		FromUserID: m.FromUserID,
		ToUserID:   m.ToUserID,
		Text:       m.Text,
		Timestamp:  m.Timestamp,
	}
}

// DBFriendship is stored once under each party.
type DBFriendship struct {
	RequesterID string `msgpack:"requesterId"`
	AddresseeID string `msgpack:"addresseeId"`
	Status      string `msgpack:"status"`
	CreatedAt   int64  `msgpack:"createdAt"`
	UpdatedAt   int64  `msgpack:"updatedAt"`
}

func (f *DBFriendship) MarshalBinary() (data []byte, err error) {
	type alias DBFriendship
	return msgpack.Marshal((*alias)(f))
}

func (f *DBFriendship) UnmarshalBinary(data []byte) error {
	type alias DBFriendship
	return msgpack.Unmarshal(data, (*alias)(f))
}

func (f *DBFriendship) toModel() models.Friendship {
	return models.Friendship{
		RequesterID: f.RequesterID,
		AddresseeID: f.AddresseeID,
		Status:      models.FriendStatus(f.Status),
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}
}

type DBPushSubscription struct {
	Endpoint string `msgpack:"endpoint"`
	Auth     string `msgpack:"auth"`
	P256dh   string `msgpack:"p256dh"`
}

func (p *DBPushSubscription) Key() []byte {
	return []byte(p.Endpoint)
}

func (p *DBPushSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(p))
}

func (p *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(p))
}
