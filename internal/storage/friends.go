package storage

import (
	"context"
	"fmt"

	"duet/internal/models"

	"go.etcd.io/bbolt"
)

// friendships/<userID>/<peerID> holds the same record under both parties.

func (s *BboltStorage) UpsertFriendship(ctx context.Context, f models.Friendship) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbFriendship := DBFriendship{
			RequesterID: f.RequesterID,
			AddresseeID: f.AddresseeID,
			Status:      string(f.Status),
			CreatedAt:   f.CreatedAt,
			UpdatedAt:   f.UpdatedAt,
		}
		data, err := dbFriendship.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal friendship: %w", err)
		}

		root := tx.Bucket(bucketFriendships)
		for _, side := range [][2]string{
			{f.RequesterID, f.AddresseeID},
			{f.AddresseeID, f.RequesterID},
		} {
			b, err := root.CreateBucketIfNotExists([]byte(side[0]))
			if err != nil {
				return err
			}
			if err := b.Put([]byte(side[1]), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BboltStorage) GetFriendship(ctx context.Context, userID, peerID string) (models.Friendship, error) {
	var f models.Friendship
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFriendships).Bucket([]byte(userID))
		if b == nil {
			return fmt.Errorf("friendship %s/%s: %w", userID, peerID, models.ErrNotFound)
		}
		data := b.Get([]byte(peerID))
		if data == nil {
			return fmt.Errorf("friendship %s/%s: %w", userID, peerID, models.ErrNotFound)
		}
		var dbFriendship DBFriendship
		if err := dbFriendship.UnmarshalBinary(data); err != nil {
			return err
		}
		f = dbFriendship.toModel()
		return nil
	})
	return f, err
}

func (s *BboltStorage) ListFriendships(ctx context.Context, userID string) ([]models.Friendship, error) {
	var list []models.Friendship
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFriendships).Bucket([]byte(userID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var dbFriendship DBFriendship
			if err := dbFriendship.UnmarshalBinary(v); err != nil {
				return err
			}
			list = append(list, dbFriendship.toModel())
			return nil
		})
	})
	return list, err
}

// ListContacts returns ids of users with an accepted friendship with userID.
func (s *BboltStorage) ListContacts(ctx context.Context, userID string) ([]string, error) {
	friendships, err := s.ListFriendships(ctx, userID)
	if err != nil {
		return nil, err
	}
	var contacts []string
	for _, f := range friendships {
		if f.Status != models.FriendStatusAccepted {
			continue
		}
		if f.RequesterID == userID {
			contacts = append(contacts, f.AddresseeID)
		} else {
			contacts = append(contacts, f.RequesterID)
		}
	}
	return contacts, nil
}
