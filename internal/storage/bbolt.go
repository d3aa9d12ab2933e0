package storage

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"duet/internal/auth"
	"duet/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers         = []byte("users")
	bucketUsernames     = []byte("usernames")
	bucketConversations = []byte("conversations")
	bucketMessages      = []byte("messages")
	bucketFriendships   = []byte("friendships")
	bucketPush          = []byte("push_subscriptions")

	// user id -> nested bucket of the conversation keys the user takes part in
	bucketUserConversations = []byte("user_conversations")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketUsers,
			bucketUsernames,
			bucketConversations,
			bucketUserConversations,
			bucketMessages,
			bucketFriendships,
			bucketPush,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return backfillConversationIndex(tx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

// backfillConversationIndex indexes conversations of databases created before
// the index existed.
func backfillConversationIndex(tx *bbolt.Tx) error {
	if k, _ := tx.Bucket(bucketUserConversations).Cursor().First(); k != nil {
		return nil
	}
	return tx.Bucket(bucketConversations).ForEach(func(k, _ []byte) error {
		pair, ok := models.ParsePairKey(string(k))
		if !ok {
			return nil
		}
		return indexConversation(tx, pair)
	})
}

func indexConversation(tx *bbolt.Tx, pair models.Pair) error {
	index := tx.Bucket(bucketUserConversations)
	for _, userID := range []string{pair.Low, pair.High} {
		userBucket, err := index.CreateBucketIfNotExists([]byte(userID))
		if err != nil {
			return fmt.Errorf("failed to create conversation index: %w", err)
		}
		if err := userBucket.Put([]byte(pair.Key()), nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// CreateUser stores a new user. Usernames are unique case-insensitively.
func (s *BboltStorage) CreateUser(ctx context.Context, creds auth.UserCredentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbUser := &DBUser{
			ID:           creds.ID,
			UserName:     creds.UserName,
			AvatarURL:    creds.AvatarURL,
			CreatedAt:    creds.CreatedAt,
			LastSeen:     creds.LastSeen,
			PasswordHash: creds.PasswordHash,
		}

		names := tx.Bucket(bucketUsernames)
		if names.Get(dbUser.NameKey()) != nil {
			return auth.ErrUserExists
		}

		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketUsers).Put(dbUser.Key(), data); err != nil {
			return err
		}
		return names.Put(dbUser.NameKey(), dbUser.Key())
	})
}

func getUser(tx *bbolt.Tx, userID string) (*DBUser, error) {
	data := tx.Bucket(bucketUsers).Get([]byte(userID))
	if data == nil {
		return nil, fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}
	var dbUser DBUser
	if err := dbUser.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &dbUser, nil
}

func (s *BboltStorage) GetUser(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbUser, err := getUser(tx, userID)
		if err != nil {
			return err
		}
		user = dbUser.toModel()
		return nil
	})
	return user, err
}

func (s *BboltStorage) GetCredentials(ctx context.Context, username string) (auth.UserCredentials, error) {
	var creds auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketUsernames).Get(usernameKey(username))
		if id == nil {
			return fmt.Errorf("user %s: %w", username, models.ErrNotFound)
		}
		dbUser, err := getUser(tx, string(id))
		if err != nil {
			return err
		}
		creds = auth.UserCredentials{
			User:         dbUser.toModel(),
			PasswordHash: dbUser.PasswordHash,
		}
		return nil
	})
	return creds, err
}

// SearchUsers returns users whose name starts with prefix, in name order.
func (s *BboltStorage) SearchUsers(ctx context.Context, prefix string, limit int) ([]models.User, error) {
	var users []models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		p := usernameKey(prefix)
		c := tx.Bucket(bucketUsernames).Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p) && len(users) < limit; k, v = c.Next() {
			dbUser, err := getUser(tx, string(v))
			if err != nil {
				return err
			}
			users = append(users, dbUser.toModel())
		}
		return nil
	})
	return users, err
}

func (s *BboltStorage) UpdateLastSeen(ctx context.Context, userID string, ts int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbUser, err := getUser(tx, userID)
		if err != nil {
			return err
		}
		dbUser.LastSeen = ts
		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketUsers).Put(dbUser.Key(), data)
	})
}

// AppendMessage assigns the next sequence number of the pair and stores the message.
// Timestamps never go backwards within a pair, so seq order is also time order.
func (s *BboltStorage) AppendMessage(ctx context.Context, message models.Message) (models.Message, error) {
	pair := models.NewPair(message.FromUserID, message.ToUserID)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketConversations)
		conv := DBConversation{Low: pair.Low, High: pair.High}
		if data := convBucket.Get(conv.Key()); data != nil {
			if err := conv.UnmarshalBinary(data); err != nil {
				return fmt.Errorf("failed to unmarshal conversation: %w", err)
			}
		} else if err := indexConversation(tx, pair); err != nil {
			return err
		}

		message.Seq = conv.LastSeq + 1
		message.Timestamp = max(message.Timestamp, conv.LastTimestamp)

		pairBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists(conv.Key())
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		dbMessage := DBMessage{
			ID:         message.ID,
			Seq:        message.Seq,
			Timestamp:  message.Timestamp,
			FromUserID: message.FromUserID,
			ToUserID:   message.ToUserID,
			Text:       message.Text,
		}
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := pairBucket.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		conv.LastSeq = message.Seq
		conv.LastTimestamp = message.Timestamp
		conv.LastMessageID = message.ID
		conv.LastFrom = message.FromUserID
		conv.LastText = message.Text
		convData, err := conv.MarshalBinary()
		if err != nil {
			return err
		}
		return convBucket.Put(conv.Key(), convData)
	})
	if err != nil {
		return models.Message{}, err
	}
	return message, nil
}

// ListMessages returns up to limit newest messages of the pair with seq < before,
// oldest first. before <= 0 means from the latest message.
func (s *BboltStorage) ListMessages(ctx context.Context, pair models.Pair, before int64, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		pairBucket := tx.Bucket(bucketMessages).Bucket([]byte(pair.Key()))
		if pairBucket == nil {
			return nil // No messages for this pair
		}

		c := pairBucket.Cursor()
		var k, v []byte
		if before <= 0 {
			k, v = c.Last()
		} else if k, _ = c.Seek(seqKey(before)); k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}

		for ; k != nil && len(messages) < limit; k, v = c.Prev() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, dbMsg.toModel())
		}
		return nil
	})
	slices.Reverse(messages)
	return messages, err
}

// LastMessages returns the latest message of every conversation userID takes part in,
// newest conversation first.
func (s *BboltStorage) LastMessages(ctx context.Context, userID string) ([]models.Message, error) {
	var last []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketUserConversations).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		convBucket := tx.Bucket(bucketConversations)
		return userBucket.ForEach(func(k, _ []byte) error {
			data := convBucket.Get(k)
			if data == nil {
				return nil
			}
			var conv DBConversation
			if err := conv.UnmarshalBinary(data); err != nil {
				return err
			}
			last = append(last, conv.lastMessage())
			return nil
		})
	})
	slices.SortFunc(last, func(a, b models.Message) int {
		return cmp.Compare(b.Timestamp, a.Timestamp)
	})
	return last, err
}
