package storage

import (
	"context"
	"fmt"

	"duet/internal/models"

	"go.etcd.io/bbolt"
)

func (s *BboltStorage) AddPushSubscription(ctx context.Context, sub models.PushSubscription) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketPush).CreateBucketIfNotExists([]byte(sub.UserID))
		if err != nil {
			return err
		}
		dbSub := DBPushSubscription{
			Endpoint: sub.Endpoint,
			Auth:     sub.Auth,
			P256dh:   sub.P256dh,
		}
		data, err := dbSub.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal push subscription: %w", err)
		}
		return b.Put(dbSub.Key(), data)
	})
}

func (s *BboltStorage) ListPushSubscriptions(ctx context.Context, userID string) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPush).Bucket([]byte(userID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var dbSub DBPushSubscription
			if err := dbSub.UnmarshalBinary(v); err != nil {
				return err
			}
			subs = append(subs, models.PushSubscription{
				UserID:   userID,
				Endpoint: dbSub.Endpoint,
				Auth:     dbSub.Auth,
				P256dh:   dbSub.P256dh,
			})
			return nil
		})
	})
	return subs, err
}

func (s *BboltStorage) DeletePushSubscription(ctx context.Context, userID, endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPush).Bucket([]byte(userID))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(endpoint))
	})
}
